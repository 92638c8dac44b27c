//go:build linux

package socketcan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/roffe/canecho"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := canecho.RegisterDriver(&canecho.DriverInfo{
		Name:         "socketcan",
		Description:  "Linux SocketCAN interface, port is the interface name",
		RequiresPort: true,
		New: func(opts *canecho.DriverOptions) (canecho.Driver, error) {
			return New(opts.Port, opts.Debug), nil
		},
	}); err != nil {
		panic(err)
	}
}

// FindDevices lists network interfaces that look like CAN devices.
func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}

type SocketCAN struct {
	iface string
	debug bool

	mu        sync.Mutex
	cfg       canecho.DriverConfig
	installed bool
	state     canecho.BusState
	dev       *candevice.Device
	conn      net.Conn
	tx        *socketcan.Transmitter
	rx        chan canecho.Frame
	alerts    *canecho.AlertLatch
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	tec, rec                                       uint32
	txFailed, rxMissed, rxOverrun, arbLost, busErr uint32
}

func New(iface string, debug bool) *SocketCAN {
	return &SocketCAN{
		iface:  iface,
		debug:  debug,
		alerts: canecho.NewAlertLatch(canecho.AlertNone),
	}
}

func (s *SocketCAN) Name() string {
	return "socketcan " + s.iface
}

func (s *SocketCAN) Install(cfg *canecho.DriverConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return canecho.ErrAlreadyInstalled
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d, err := candevice.New(s.iface)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.iface, err)
	}
	// The bitrate can only be changed while the link is down.
	if up, err := d.IsUp(); err == nil && up {
		if err := d.SetDown(); err != nil {
			s.logf("set %s down: %v (keeping current bitrate)", s.iface, err)
		}
	}
	if err := d.SetBitrate(cfg.Timing.Bitrate()); err != nil {
		s.logf("set bitrate %d on %s: %v (keeping current bitrate)", cfg.Timing.Bitrate(), s.iface, err)
	}
	s.dev = d
	s.cfg = *cfg
	s.rx = make(chan canecho.Frame, cfg.RxQueueLen)
	s.alerts.SetEnabled(cfg.AlertsEnabled)
	s.alerts.Clear()
	s.state = canecho.StateStopped
	s.installed = true
	return nil
}

func (s *SocketCAN) Uninstall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.installed {
		return canecho.ErrNotInstalled
	}
	if s.state == canecho.StateRunning || s.state == canecho.StateRecovering {
		return canecho.ErrInvalidState
	}
	s.installed = false
	s.dev = nil
	return nil
}

func (s *SocketCAN) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.installed {
		return canecho.ErrNotInstalled
	}
	if s.state != canecho.StateStopped {
		return canecho.ErrInvalidState
	}
	if up, err := s.dev.IsUp(); err != nil || !up {
		if err := s.dev.SetUp(); err != nil {
			return fmt.Errorf("set %s up: %w", s.iface, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := socketcan.DialContext(ctx, "can", s.iface)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", s.iface, err)
	}
	s.conn = conn
	s.cancel = cancel
	s.tx = socketcan.NewTransmitter(conn)
	s.state = canecho.StateRunning

	s.wg.Add(1)
	go s.recvManager(socketcan.NewReceiver(conn), s.rx)
	return nil
}

func (s *SocketCAN) Stop() error {
	s.mu.Lock()
	if !s.installed {
		s.mu.Unlock()
		return canecho.ErrNotInstalled
	}
	if s.state != canecho.StateRunning && s.state != canecho.StateBusOff {
		s.mu.Unlock()
		return canecho.ErrInvalidState
	}
	s.state = canecho.StateStopped
	conn, cancel := s.conn, s.cancel
	s.conn, s.tx, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

func (s *SocketCAN) Transmit(f canecho.Frame, timeout time.Duration) error {
	if err := f.Validate(); err != nil {
		return &canecho.TransmitError{Code: int(syscall.EINVAL), Err: err}
	}
	s.mu.Lock()
	if !s.installed || s.state != canecho.StateRunning {
		s.mu.Unlock()
		return &canecho.TransmitError{Code: int(syscall.ENETDOWN), Err: canecho.ErrInvalidState}
	}
	tx := s.tx
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := tx.TransmitFrame(ctx, toCAN(f)); err != nil {
		var errno syscall.Errno
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.EAGAIN):
			return canecho.ErrTimeout
		case errors.As(err, &errno):
			return &canecho.TransmitError{Code: int(errno), Err: err}
		default:
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return canecho.ErrTimeout
			}
			return &canecho.TransmitError{Code: -1, Err: err}
		}
	}
	if s.debug {
		s.logf(">> %s", f)
	}
	s.alerts.Raise(canecho.AlertTxSuccess)
	return nil
}

func (s *SocketCAN) Receive(timeout time.Duration) (canecho.Frame, error) {
	s.mu.Lock()
	installed, rx := s.installed, s.rx
	s.mu.Unlock()
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

func (s *SocketCAN) ReadAlerts(timeout time.Duration) (canecho.Alert, error) {
	return s.alerts.Read(timeout)
}

func (s *SocketCAN) Status() (canecho.StatusInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.installed {
		return canecho.StatusInfo{}, canecho.ErrNotInstalled
	}
	return canecho.StatusInfo{
		State:          s.state,
		MsgsToRx:       uint32(len(s.rx)),
		TxErrorCounter: s.tec,
		RxErrorCounter: s.rec,
		TxFailedCount:  s.txFailed,
		RxMissedCount:  s.rxMissed,
		RxOverrunCount: s.rxOverrun,
		ArbLostCount:   s.arbLost,
		BusErrorCount:  s.busErr,
	}, nil
}

// InitiateRecovery restarts the link. The kernel may also restart it on its
// own when restart-ms is configured; both end in a bus-recovered alert.
func (s *SocketCAN) InitiateRecovery() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.installed {
		return canecho.ErrNotInstalled
	}
	if s.state != canecho.StateBusOff {
		return canecho.ErrInvalidState
	}
	s.state = canecho.StateRecovering
	dev := s.dev
	go func() {
		if err := dev.SetDown(); err != nil {
			s.logf("recovery: set %s down: %v", s.iface, err)
		}
		if err := dev.SetUp(); err != nil {
			s.logf("recovery: set %s up: %v", s.iface, err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == canecho.StateRecovering {
			s.state = canecho.StateRunning
			s.tec, s.rec = 0, 0
			s.alerts.Raise(canecho.AlertBusRecovered)
		}
	}()
	return nil
}

func (s *SocketCAN) recvManager(rx *socketcan.Receiver, out chan canecho.Frame) {
	defer s.wg.Done()
	for rx.Receive() {
		if rx.HasErrorFrame() {
			s.handleErrorFrame(rx.ErrorFrame())
			continue
		}
		f := fromCAN(rx.Frame())
		if !s.cfg.Filter.Match(f) {
			continue
		}
		select {
		case out <- f:
			s.alerts.Raise(canecho.AlertRxData)
		default:
			s.mu.Lock()
			s.rxMissed++
			s.mu.Unlock()
			s.alerts.Raise(canecho.AlertRxQueueFull)
		}
	}
	if err := rx.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logf("receive %s: %v", s.iface, err)
	}
}

func (s *SocketCAN) handleErrorFrame(ef socketcan.ErrorFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a canecho.Alert
	if ef.ErrorClass&socketcan.ErrorClassLostArbitration != 0 {
		s.arbLost++
		a |= canecho.AlertArbLost
	}
	if ef.ErrorClass&(socketcan.ErrorClassTxTimeout|socketcan.ErrorClassNoAck) != 0 {
		s.txFailed++
		a |= canecho.AlertTxFailed
	}
	if ef.ErrorClass&(socketcan.ErrorClassProtocolViolation|socketcan.ErrorClassBusError) != 0 {
		s.busErr++
		a |= canecho.AlertBusError
	}
	if ef.ErrorClass&socketcan.ErrorClassController != 0 {
		ce := ef.ControllerError
		if ce&socketcan.ControllerErrorRxBufferOverflow != 0 {
			s.rxOverrun++
			a |= canecho.AlertRxFIFOOverrun
		}
		if ce&(socketcan.ControllerErrorRxPassive|socketcan.ControllerErrorTxPassive) != 0 {
			a |= canecho.AlertErrPass
		}
		if ce&(socketcan.ControllerErrorRxWarning|socketcan.ControllerErrorTxWarning) != 0 {
			a |= canecho.AlertAboveErrWarn
		}
		if ce&socketcan.ControllerErrorActive != 0 {
			a |= canecho.AlertErrActive
		}
		s.tec = uint32(ef.ControllerSpecificInformation[1])
		s.rec = uint32(ef.ControllerSpecificInformation[2])
	}
	if ef.ErrorClass&socketcan.ErrorClassBusOff != 0 && s.state == canecho.StateRunning {
		s.state = canecho.StateBusOff
		a |= canecho.AlertBusOff
	}
	if ef.ErrorClass&socketcan.ErrorClassRestarted != 0 &&
		(s.state == canecho.StateBusOff || s.state == canecho.StateRecovering) {
		s.state = canecho.StateRunning
		s.tec, s.rec = 0, 0
		a |= canecho.AlertBusRecovered
	}
	s.alerts.Raise(a)
}

func (s *SocketCAN) logf(format string, v ...any) {
	log.Printf("[socketcan] "+format, v...)
}

func toCAN(f canecho.Frame) can.Frame {
	return can.Frame{
		ID:         f.ID,
		Length:     f.Len,
		Data:       can.Data(f.Data),
		IsRemote:   f.RTR,
		IsExtended: f.Extended,
	}
}

func fromCAN(f can.Frame) canecho.Frame {
	return canecho.Frame{
		ID:       f.ID,
		Extended: f.IsExtended,
		RTR:      f.IsRemote,
		Len:      f.Length,
		Data:     [canecho.MaxDataLength]byte(f.Data),
	}
}
