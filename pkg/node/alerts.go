package node

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/roffe/canecho"
)

// Recoverer is invoked when a bus-off or bus-recovered alert is observed.
type Recoverer interface {
	Recover(ctx context.Context)
	Resume()
}

// AlertProcessor decodes alert snapshots into counter updates and diagnostics.
type AlertProcessor struct {
	drv       canecho.Driver
	counters  *Counters
	recoverer Recoverer
	logger    *log.Logger
}

func NewAlertProcessor(drv canecho.Driver, counters *Counters, recoverer Recoverer, logger *log.Logger) *AlertProcessor {
	if logger == nil {
		logger = log.Default()
	}
	return &AlertProcessor{
		drv:       drv,
		counters:  counters,
		recoverer: recoverer,
		logger:    logger,
	}
}

// Poll reads pending alerts, waiting at most timeout, and dispatches them.
// It returns the observed mask, empty if nothing was pending.
func (p *AlertProcessor) Poll(ctx context.Context, timeout time.Duration) canecho.Alert {
	a, err := p.drv.ReadAlerts(timeout)
	if err != nil {
		if !errors.Is(err, canecho.ErrTimeout) {
			p.logger.Printf("[ALERT] read failed: %v", err)
		}
		return canecho.AlertNone
	}
	p.Dispatch(ctx, a)
	return a
}

// Dispatch observes a, resumes a recovery that finished late and runs
// recovery once if the bus went off.
func (p *AlertProcessor) Dispatch(ctx context.Context, a canecho.Alert) {
	p.Observe(a)
	if p.recoverer == nil {
		return
	}
	if a&canecho.AlertBusRecovered != 0 {
		p.recoverer.Resume()
	}
	if a&canecho.AlertBusOff != 0 {
		p.recoverer.Recover(ctx)
	}
}

// Observe counts and logs every set condition of a. Each bit is handled on its own.
func (p *AlertProcessor) Observe(a canecho.Alert) {
	if a == canecho.AlertNone {
		return
	}
	if a&canecho.AlertTxSuccess != 0 {
		p.counters.Acknowledged++
	}
	if a&canecho.AlertTxFailed != 0 {
		p.counters.TxFailed++
	}
	if a&canecho.AlertBusOff != 0 {
		p.counters.BusOff++
	}
	if a&canecho.AlertBusError != 0 {
		p.counters.BusErrors++
	}
	p.logger.Printf("[ALERT] %s", a)
}
