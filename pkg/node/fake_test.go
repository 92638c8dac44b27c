package node

import (
	"bytes"
	"io"
	"log"
	"time"

	"github.com/roffe/canecho"
)

// fakeDriver is a scripted driver. Alerts and frames are handed out in order;
// an empty alert script behaves like a bounded wait that times out.
type fakeDriver struct {
	installErr, startErr error
	txErr                error

	state  canecho.BusState
	alerts []canecho.Alert
	rx     []canecho.Frame
	sent   []canecho.Frame

	// recovery is appended to alerts when recovery is initiated.
	recovery []canecho.Alert
	// recoveredState is the state entered on initiate.
	recoveredState canecho.BusState

	calls map[string]int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{calls: make(map[string]int), recoveredState: canecho.StateStopped}
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Install(*canecho.DriverConfig) error {
	f.calls["install"]++
	return f.installErr
}

func (f *fakeDriver) Uninstall() error {
	f.calls["uninstall"]++
	return nil
}

func (f *fakeDriver) Start() error {
	f.calls["start"]++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = canecho.StateRunning
	return nil
}

func (f *fakeDriver) Stop() error {
	f.calls["stop"]++
	f.state = canecho.StateStopped
	return nil
}

func (f *fakeDriver) Transmit(fr canecho.Frame, _ time.Duration) error {
	f.calls["transmit"]++
	if f.txErr != nil {
		return f.txErr
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeDriver) Receive(time.Duration) (canecho.Frame, error) {
	f.calls["receive"]++
	if len(f.rx) == 0 {
		return canecho.Frame{}, canecho.ErrTimeout
	}
	fr := f.rx[0]
	f.rx = f.rx[1:]
	return fr, nil
}

func (f *fakeDriver) ReadAlerts(timeout time.Duration) (canecho.Alert, error) {
	f.calls["alerts"]++
	if len(f.alerts) == 0 {
		time.Sleep(timeout)
		return canecho.AlertNone, canecho.ErrTimeout
	}
	a := f.alerts[0]
	f.alerts = f.alerts[1:]
	return a, nil
}

func (f *fakeDriver) Status() (canecho.StatusInfo, error) {
	f.calls["status"]++
	return canecho.StatusInfo{State: f.state}, nil
}

func (f *fakeDriver) InitiateRecovery() error {
	f.calls["recovery"]++
	if f.state != canecho.StateBusOff {
		return canecho.ErrInvalidState
	}
	f.state = f.recoveredState
	f.alerts = append(f.alerts, f.recovery...)
	return nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func bufferLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&buf, "", 0), &buf
}
