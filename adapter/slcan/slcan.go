// Package slcan drives Lawicel/SLCAN compatible serial adapters (CANable,
// CANUSB and clones). The controller status flags are polled with the F
// command and reported as alerts. The protocol has no bus-off indication, so
// the driver never enters bus-off on its own.
package slcan

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/canecho"
	"go.bug.st/serial"
)

const (
	defaultBaudrate = 115200
	statusInterval  = 100 * time.Millisecond
)

// Codes carried by canecho.TransmitError.
const (
	CodeInvalidArg   = 0x102
	CodeInvalidState = 0x103
	CodeWriteFailed  = -1
)

func init() {
	if err := canecho.RegisterDriver(&canecho.DriverInfo{
		Name:         "slcan",
		Description:  "Lawicel/SLCAN serial adapter, port is the serial device",
		RequiresPort: true,
		New: func(opts *canecho.DriverOptions) (canecho.Driver, error) {
			return New(opts.Port, opts.PortBaudrate, opts.Debug), nil
		},
	}); err != nil {
		panic(err)
	}
}

type SLCan struct {
	portName string
	baudrate int
	debug    bool

	mu         sync.Mutex
	port       serial.Port
	cfg        canecho.DriverConfig
	installed  bool
	state      canecho.BusState
	rx         chan canecho.Frame
	alerts     *canecho.AlertLatch
	closed     chan struct{}
	wg         sync.WaitGroup
	lastStatus time.Time
	outBuf     []byte

	txFailed, rxMissed, rxOverrun, arbLost, busErr uint32
}

func New(port string, baudrate int, debug bool) *SLCan {
	if baudrate <= 0 {
		baudrate = defaultBaudrate
	}
	return &SLCan{
		portName: port,
		baudrate: baudrate,
		debug:    debug,
		alerts:   canecho.NewAlertLatch(canecho.AlertNone),
		outBuf:   make([]byte, 0, 32),
	}
}

func (sl *SLCan) Name() string {
	return "slcan " + sl.portName
}

func (sl *SLCan) Install(cfg *canecho.DriverConfig) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.installed {
		return canecho.ErrAlreadyInstalled
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rateCmd, err := bitrateCommand(cfg.Timing.Bitrate())
	if err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: sl.baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", sl.portName, err)
	}
	if err := p.SetReadTimeout(5 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	// Close the channel in case it was left open, then set the bitrate.
	for _, cmd := range []string{"C", rateCmd} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write to com port: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	sl.port = p
	sl.cfg = *cfg
	sl.rx = make(chan canecho.Frame, cfg.RxQueueLen)
	sl.alerts.SetEnabled(cfg.AlertsEnabled)
	sl.alerts.Clear()
	sl.closed = make(chan struct{})
	sl.state = canecho.StateStopped
	sl.installed = true

	sl.wg.Add(1)
	go sl.recvManager(p, sl.closed)
	return nil
}

func (sl *SLCan) Uninstall() error {
	sl.mu.Lock()
	if !sl.installed {
		sl.mu.Unlock()
		return canecho.ErrNotInstalled
	}
	if sl.state == canecho.StateRunning {
		sl.mu.Unlock()
		return canecho.ErrInvalidState
	}
	sl.installed = false
	close(sl.closed)
	p := sl.port
	sl.mu.Unlock()

	sl.wg.Wait()
	return p.Close()
}

func (sl *SLCan) Start() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.installed {
		return canecho.ErrNotInstalled
	}
	if sl.state != canecho.StateStopped {
		return canecho.ErrInvalidState
	}
	if err := sl.write("O"); err != nil {
		return err
	}
	sl.state = canecho.StateRunning
	return nil
}

func (sl *SLCan) Stop() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.installed {
		return canecho.ErrNotInstalled
	}
	if sl.state != canecho.StateRunning {
		return canecho.ErrInvalidState
	}
	sl.state = canecho.StateStopped
	return sl.write("C")
}

// write sends a command. Caller holds mu.
func (sl *SLCan) write(cmd string) error {
	if sl.debug {
		log.Println(">> " + cmd)
	}
	if _, err := sl.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	return nil
}

// Transmit writes the frame to the adapter. The adapter acknowledges with z/Z
// or rejects with a bell, both reported asynchronously as alerts. Serial
// writes have no queue to wait on, so timeout is unused.
func (sl *SLCan) Transmit(f canecho.Frame, _ time.Duration) error {
	if err := f.Validate(); err != nil {
		return &canecho.TransmitError{Code: CodeInvalidArg, Err: err}
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.installed || sl.state != canecho.StateRunning {
		return &canecho.TransmitError{Code: CodeInvalidState, Err: canecho.ErrInvalidState}
	}
	sl.outBuf = encodeFrame(sl.outBuf[:0], f)
	if sl.debug {
		log.Printf(">> %s", sl.outBuf[:len(sl.outBuf)-1])
	}
	if _, err := sl.port.Write(sl.outBuf); err != nil {
		return &canecho.TransmitError{Code: CodeWriteFailed, Err: err}
	}
	return nil
}

func (sl *SLCan) Receive(timeout time.Duration) (canecho.Frame, error) {
	sl.mu.Lock()
	installed, rx := sl.installed, sl.rx
	sl.mu.Unlock()
	if !installed {
		return canecho.Frame{}, canecho.ErrNotInstalled
	}
	select {
	case f := <-rx:
		return f, nil
	default:
	}
	if timeout <= 0 {
		return canecho.Frame{}, canecho.ErrTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-rx:
		return f, nil
	case <-t.C:
		return canecho.Frame{}, canecho.ErrTimeout
	}
}

// ReadAlerts also requests a fresh status flag reply at most every statusInterval.
func (sl *SLCan) ReadAlerts(timeout time.Duration) (canecho.Alert, error) {
	sl.mu.Lock()
	if !sl.installed {
		sl.mu.Unlock()
		return canecho.AlertNone, canecho.ErrNotInstalled
	}
	if sl.state == canecho.StateRunning && time.Since(sl.lastStatus) >= statusInterval {
		sl.lastStatus = time.Now()
		if err := sl.write("F"); err != nil {
			log.Printf("[slcan] status request: %v", err)
		}
	}
	sl.mu.Unlock()
	return sl.alerts.Read(timeout)
}

func (sl *SLCan) Status() (canecho.StatusInfo, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.installed {
		return canecho.StatusInfo{}, canecho.ErrNotInstalled
	}
	return canecho.StatusInfo{
		State:          sl.state,
		MsgsToRx:       uint32(len(sl.rx)),
		TxFailedCount:  sl.txFailed,
		RxMissedCount:  sl.rxMissed,
		RxOverrunCount: sl.rxOverrun,
		ArbLostCount:   sl.arbLost,
		BusErrorCount:  sl.busErr,
	}, nil
}

// InitiateRecovery closes and reopens the channel.
func (sl *SLCan) InitiateRecovery() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.installed {
		return canecho.ErrNotInstalled
	}
	if sl.state != canecho.StateBusOff {
		return canecho.ErrInvalidState
	}
	if err := sl.write("C"); err != nil {
		return err
	}
	sl.state = canecho.StateStopped
	sl.alerts.Raise(canecho.AlertBusRecovered)
	return nil
}

func (sl *SLCan) recvManager(p serial.Port, closed <-chan struct{}) {
	defer sl.wg.Done()
	buf := make([]byte, 0, 64)
	readBuf := make([]byte, 32)
	for {
		select {
		case <-closed:
			return
		default:
		}
		n, err := p.Read(readBuf)
		if err != nil {
			select {
			case <-closed:
			default:
				log.Printf("[slcan] failed to read com port: %v", err)
			}
			return
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case bell:
			sl.mu.Lock()
			sl.txFailed++
			sl.mu.Unlock()
			sl.alerts.Raise(canecho.AlertTxFailed)
			buf = buf[:0]
		case cr:
			if len(buf) > 0 {
				sl.handleMessage(buf)
			}
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func (sl *SLCan) handleMessage(msg []byte) {
	if sl.debug {
		log.Printf("<< %s", msg)
	}
	switch msg[0] {
	case 't', 'T', 'r', 'R':
		f, err := decodeFrame(msg)
		if err != nil {
			log.Printf("[slcan] %v: %X", err, msg)
			return
		}
		if !sl.cfg.Filter.Match(f) {
			return
		}
		select {
		case sl.rx <- f:
			sl.alerts.Raise(canecho.AlertRxData)
		default:
			sl.mu.Lock()
			sl.rxMissed++
			sl.mu.Unlock()
			sl.alerts.Raise(canecho.AlertRxQueueFull)
		}
	case 'z', 'Z':
		sl.alerts.Raise(canecho.AlertTxSuccess)
	case 'F':
		_, a, err := decodeStatus(msg)
		if err != nil {
			log.Printf("[slcan] %v", err)
			return
		}
		sl.mu.Lock()
		if a&canecho.AlertBusError != 0 {
			sl.busErr++
		}
		if a&canecho.AlertArbLost != 0 {
			sl.arbLost++
		}
		if a&canecho.AlertRxFIFOOverrun != 0 {
			sl.rxOverrun++
		}
		sl.mu.Unlock()
		sl.alerts.Raise(a)
	default:
		if sl.debug {
			log.Printf("[slcan] unknown message: %q", msg)
		}
	}
}

var _ canecho.Driver = (*SLCan)(nil)
