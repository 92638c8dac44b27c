package canecho

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Alert is a bitmask of driver reported conditions. Bit values follow the
// TWAI driver alert layout.
type Alert uint32

const (
	AlertTxSuccess     Alert = 0x0002
	AlertRxData        Alert = 0x0004
	AlertErrActive     Alert = 0x0010
	AlertBusRecovered  Alert = 0x0040
	AlertArbLost       Alert = 0x0080
	AlertAboveErrWarn  Alert = 0x0100
	AlertBusError      Alert = 0x0200
	AlertTxFailed      Alert = 0x0400
	AlertRxQueueFull   Alert = 0x0800
	AlertErrPass       Alert = 0x1000
	AlertBusOff        Alert = 0x2000
	AlertRxFIFOOverrun Alert = 0x4000

	AlertNone Alert = 0
	AlertAll        = AlertRxData | AlertTxSuccess | AlertTxFailed | AlertBusOff | AlertBusRecovered |
		AlertErrActive | AlertErrPass | AlertBusError | AlertRxQueueFull | AlertRxFIFOOverrun |
		AlertArbLost | AlertAboveErrWarn
)

// alertNames is ordered the way conditions are printed.
var alertNames = []struct {
	a    Alert
	name string
}{
	{AlertRxData, "RX_DATA"},
	{AlertTxSuccess, "TX_SUCCESS"},
	{AlertTxFailed, "TX_FAILED"},
	{AlertBusOff, "BUS_OFF"},
	{AlertBusRecovered, "BUS_RECOVERED"},
	{AlertErrActive, "ERR_ACTIVE"},
	{AlertErrPass, "ERR_PASS"},
	{AlertAboveErrWarn, "ABOVE_ERR_WARN"},
	{AlertBusError, "BUS_ERROR"},
	{AlertRxQueueFull, "RX_Q_FULL"},
	{AlertRxFIFOOverrun, "RX_FIFO_OVR"},
	{AlertArbLost, "ARB_LOST"},
}

// Has reports whether all bits of b are set in a.
func (a Alert) Has(b Alert) bool {
	return b != 0 && a&b == b
}

// Names returns the names of the set conditions in print order.
func (a Alert) Names() []string {
	var out []string
	for _, n := range alertNames {
		if a&n.a != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (a Alert) String() string {
	if a == 0 {
		return "NONE"
	}
	return strings.Join(a.Names(), " ")
}

// ParseAlert parses a single alert name, case insensitive. "ALL" selects every alert.
func ParseAlert(name string) (Alert, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "ALL" {
		return AlertAll, nil
	}
	for _, an := range alertNames {
		if an.name == n {
			return an.a, nil
		}
	}
	return AlertNone, fmt.Errorf("unknown alert %q", name)
}

// ParseAlerts ORs together a list of alert names.
func ParseAlerts(names []string) (Alert, error) {
	var out Alert
	for _, name := range names {
		a, err := ParseAlert(name)
		if err != nil {
			return AlertNone, err
		}
		out |= a
	}
	return out, nil
}

// AlertLatch accumulates raised alerts until they are read. Only enabled
// alerts are latched. Safe for concurrent use.
type AlertLatch struct {
	mu      sync.Mutex
	enabled Alert
	pending Alert
	signal  chan struct{}
}

func NewAlertLatch(enabled Alert) *AlertLatch {
	return &AlertLatch{
		enabled: enabled,
		signal:  make(chan struct{}, 1),
	}
}

// SetEnabled replaces the enabled set. Pending alerts outside the new set are discarded.
func (l *AlertLatch) SetEnabled(enabled Alert) {
	l.mu.Lock()
	l.enabled = enabled
	l.pending &= enabled
	l.mu.Unlock()
}

// Raise latches the enabled subset of a and wakes a waiting reader.
func (l *AlertLatch) Raise(a Alert) {
	l.mu.Lock()
	a &= l.enabled
	l.pending |= a
	l.mu.Unlock()
	if a == 0 {
		return
	}
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Clear drops every pending alert.
func (l *AlertLatch) Clear() {
	l.mu.Lock()
	l.pending = 0
	l.mu.Unlock()
}

func (l *AlertLatch) take() Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.pending
	l.pending = 0
	return a
}

// Read returns and clears the pending alerts, waiting up to timeout for one
// to be raised. It returns ErrTimeout if nothing was raised in time.
func (l *AlertLatch) Read(timeout time.Duration) (Alert, error) {
	if a := l.take(); a != 0 {
		return a, nil
	}
	if timeout <= 0 {
		return AlertNone, ErrTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-l.signal:
			if a := l.take(); a != 0 {
				return a, nil
			}
		case <-t.C:
			if a := l.take(); a != 0 {
				return a, nil
			}
			return AlertNone, ErrTimeout
		}
	}
}
