package virtual

import (
	"github.com/roffe/canecho"
)

// The methods in this file act as the rest of the bus.

// Deliver puts f on the bus towards the controller. Frames rejected by the
// acceptance filter are silently ignored. It returns ErrInvalidState unless
// the controller is running.
func (v *Virtual) Deliver(f canecho.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.installed || v.state != canecho.StateRunning {
		return canecho.ErrInvalidState
	}
	if !v.cfg.Filter.Match(f) {
		return nil
	}
	if v.rec > 0 {
		v.rec--
	}
	select {
	case v.rx <- f:
		v.alerts.Raise(canecho.AlertRxData)
	default:
		v.rxMissed++
		v.alerts.Raise(canecho.AlertRxQueueFull)
	}
	return nil
}

// Raise reports arbitrary conditions, as if the controller had detected them.
// Bus errors, arbitration loss and FIFO overruns also bump the status counters.
func (v *Virtual) Raise(a canecho.Alert) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if a&canecho.AlertBusError != 0 {
		v.bec++
		v.rec++
	}
	if a&canecho.AlertArbLost != 0 {
		v.arbLost++
	}
	if a&canecho.AlertRxFIFOOverrun != 0 {
		v.rxOverrun++
	}
	v.alerts.Raise(a)
}

// ForceBusOff drives the transmit error counter over the bus-off limit.
func (v *Virtual) ForceBusOff() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.installed {
		return
	}
	v.enterBusOff()
}

// SetAck controls whether other nodes acknowledge transmitted frames.
func (v *Virtual) SetAck(ack bool) {
	v.mu.Lock()
	v.noAck = !ack
	v.mu.Unlock()
}

// SetTxHold keeps transmitted frames in the queue while hold is true, as on a
// saturated bus. Releasing the hold sends everything queued.
func (v *Virtual) SetTxHold(hold bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txHold = hold
	if hold || v.tx == nil {
		return
	}
	for {
		select {
		case f := <-v.tx:
			if v.state == canecho.StateRunning {
				v.complete(f)
			}
		default:
			return
		}
	}
}

// Sent returns a copy of every frame acknowledged on the bus.
func (v *Virtual) Sent() []canecho.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]canecho.Frame, len(v.sent))
	copy(out, v.sent)
	return out
}

// Calls returns the operation counts.
func (v *Virtual) Calls() Calls {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}
