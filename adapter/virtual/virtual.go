// Package virtual implements an in-memory TWAI style controller. It keeps
// bounded queues, transmit/receive error counters and the bus-off/recovery
// state machine so the node can be exercised without hardware.
package virtual

import (
	"sync"
	"time"

	"github.com/roffe/canecho"
)

// Error counter limits of the CAN fault confinement rules.
const (
	errorWarningLimit = 96
	errorPassiveLimit = 128
	busOffLimit       = 256
)

// Codes carried by canecho.TransmitError.
const (
	CodeInvalidArg   = 0x102
	CodeInvalidState = 0x103
)

func init() {
	if err := canecho.RegisterDriver(&canecho.DriverInfo{
		Name:         "virtual",
		Description:  "In-memory controller",
		RequiresPort: false,
		New: func(*canecho.DriverOptions) (canecho.Driver, error) {
			return New(), nil
		},
	}); err != nil {
		panic(err)
	}
}

// Calls counts driver operations.
type Calls struct {
	Install, Uninstall, Start, Stop int
	Transmit, Receive, Recovery     int
}

type Option func(*Virtual)

// WithInstallError makes Install fail with err.
func WithInstallError(err error) Option {
	return func(v *Virtual) { v.installErr = err }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) Option {
	return func(v *Virtual) { v.startErr = err }
}

// WithRecoveryDelay sets how long bus-off recovery takes once initiated.
func WithRecoveryDelay(d time.Duration) Option {
	return func(v *Virtual) { v.recoveryDelay = d }
}

// WithStalledRecovery makes recovery never complete.
func WithStalledRecovery() Option {
	return func(v *Virtual) { v.stallRecovery = true }
}

type Virtual struct {
	mu        sync.Mutex
	cfg       canecho.DriverConfig
	installed bool
	state     canecho.BusState

	rx     chan canecho.Frame
	tx     chan canecho.Frame
	alerts *canecho.AlertLatch

	tec, rec                                    uint32
	txFailed, rxMissed, rxOverrun, arbLost, bec uint32

	sent   []canecho.Frame
	noAck  bool
	txHold bool

	recoveryDelay time.Duration
	stallRecovery bool
	recoveryTimer *time.Timer

	installErr, startErr error
	calls                Calls
}

func New(opts ...Option) *Virtual {
	v := &Virtual{
		alerts: canecho.NewAlertLatch(canecho.AlertNone),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Virtual) Name() string {
	return "virtual"
}

func (v *Virtual) Install(cfg *canecho.DriverConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls.Install++
	if v.installed {
		return canecho.ErrAlreadyInstalled
	}
	if v.installErr != nil {
		return v.installErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	v.cfg = *cfg
	v.rx = make(chan canecho.Frame, cfg.RxQueueLen)
	v.tx = make(chan canecho.Frame, cfg.TxQueueLen)
	v.alerts.SetEnabled(cfg.AlertsEnabled)
	v.alerts.Clear()
	v.state = canecho.StateStopped
	v.installed = true
	return nil
}

func (v *Virtual) Uninstall() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls.Uninstall++
	if !v.installed {
		return canecho.ErrNotInstalled
	}
	if v.state == canecho.StateRunning || v.state == canecho.StateRecovering {
		return canecho.ErrInvalidState
	}
	if v.recoveryTimer != nil {
		v.recoveryTimer.Stop()
	}
	v.installed = false
	return nil
}

func (v *Virtual) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls.Start++
	if !v.installed {
		return canecho.ErrNotInstalled
	}
	if v.state != canecho.StateStopped {
		return canecho.ErrInvalidState
	}
	if v.startErr != nil {
		return v.startErr
	}
	v.state = canecho.StateRunning
	return nil
}

func (v *Virtual) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls.Stop++
	if !v.installed {
		return canecho.ErrNotInstalled
	}
	if v.state != canecho.StateRunning && v.state != canecho.StateBusOff {
		return canecho.ErrInvalidState
	}
	v.state = canecho.StateStopped
	drain(v.tx)
	return nil
}

func (v *Virtual) Transmit(f canecho.Frame, timeout time.Duration) error {
	v.mu.Lock()
	v.calls.Transmit++
	if !v.installed {
		v.mu.Unlock()
		return &canecho.TransmitError{Code: CodeInvalidState, Err: canecho.ErrNotInstalled}
	}
	if err := f.Validate(); err != nil {
		v.mu.Unlock()
		return &canecho.TransmitError{Code: CodeInvalidArg, Err: err}
	}
	if v.state != canecho.StateRunning {
		v.mu.Unlock()
		return &canecho.TransmitError{Code: CodeInvalidState, Err: canecho.ErrInvalidState}
	}
	if !v.txHold {
		v.complete(f)
		v.mu.Unlock()
		return nil
	}
	tx := v.tx
	v.mu.Unlock()

	select {
	case tx <- f:
		return nil
	default:
	}
	if timeout <= 0 {
		return canecho.ErrTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case tx <- f:
		return nil
	case <-t.C:
		return canecho.ErrTimeout
	}
}

// complete puts f on the wire. Caller holds mu.
func (v *Virtual) complete(f canecho.Frame) {
	if v.noAck {
		v.txFailed++
		v.bec++
		v.tec += 8
		v.alerts.Raise(canecho.AlertTxFailed | canecho.AlertBusError)
		v.checkErrorState()
		return
	}
	if v.tec > 0 {
		v.tec--
	}
	v.sent = append(v.sent, f)
	v.alerts.Raise(canecho.AlertTxSuccess)
}

// checkErrorState applies the fault confinement thresholds. Caller holds mu.
func (v *Virtual) checkErrorState() {
	switch {
	case v.tec >= busOffLimit:
		v.enterBusOff()
	case v.tec >= errorPassiveLimit || v.rec >= errorPassiveLimit:
		v.alerts.Raise(canecho.AlertErrPass)
	case v.tec >= errorWarningLimit || v.rec >= errorWarningLimit:
		v.alerts.Raise(canecho.AlertAboveErrWarn)
	}
}

func (v *Virtual) enterBusOff() {
	v.state = canecho.StateBusOff
	v.tec = busOffLimit
	drain(v.tx)
	v.alerts.Raise(canecho.AlertBusOff)
}

func (v *Virtual) Receive(timeout time.Duration) (canecho.Frame, error) {
	v.mu.Lock()
	v.calls.Receive++
	installed, rx := v.installed, v.rx
	v.mu.Unlock()
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

func (v *Virtual) ReadAlerts(timeout time.Duration) (canecho.Alert, error) {
	v.mu.Lock()
	installed := v.installed
	v.mu.Unlock()
	if !installed {
		return canecho.AlertNone, canecho.ErrNotInstalled
	}
	return v.alerts.Read(timeout)
}

func (v *Virtual) Status() (canecho.StatusInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.installed {
		return canecho.StatusInfo{}, canecho.ErrNotInstalled
	}
	return canecho.StatusInfo{
		State:          v.state,
		MsgsToTx:       uint32(len(v.tx)),
		MsgsToRx:       uint32(len(v.rx)),
		TxErrorCounter: v.tec,
		RxErrorCounter: v.rec,
		TxFailedCount:  v.txFailed,
		RxMissedCount:  v.rxMissed,
		RxOverrunCount: v.rxOverrun,
		ArbLostCount:   v.arbLost,
		BusErrorCount:  v.bec,
	}, nil
}

func (v *Virtual) InitiateRecovery() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls.Recovery++
	if !v.installed {
		return canecho.ErrNotInstalled
	}
	if v.state != canecho.StateBusOff {
		return canecho.ErrInvalidState
	}
	v.state = canecho.StateRecovering
	switch {
	case v.stallRecovery:
	case v.recoveryDelay <= 0:
		v.finishRecovery()
	default:
		v.recoveryTimer = time.AfterFunc(v.recoveryDelay, func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.finishRecovery()
		})
	}
	return nil
}

// finishRecovery leaves the controller stopped, as TWAI does. Caller holds mu.
func (v *Virtual) finishRecovery() {
	if v.state != canecho.StateRecovering {
		return
	}
	v.state = canecho.StateStopped
	v.tec, v.rec = 0, 0
	v.alerts.Raise(canecho.AlertBusRecovered)
}

func drain(ch chan canecho.Frame) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
