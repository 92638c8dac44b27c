package node

import (
	"log"
	"time"

	"github.com/roffe/canecho"
)

const DefaultHealthInterval = 5 * time.Second

// Reporter prints counters and the driver status at most once per interval.
type Reporter struct {
	drv      canecho.Driver
	counters *Counters
	logger   *log.Logger
	metrics  *Metrics
	next     time.Time
}

func NewReporter(drv canecho.Driver, counters *Counters, metrics *Metrics, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{
		drv:      drv,
		counters: counters,
		logger:   logger,
		metrics:  metrics,
	}
}

// ReportIfDue emits a report when now has reached the next due time and
// schedules the following one interval ahead. Before that it does nothing.
func (r *Reporter) ReportIfDue(now time.Time, interval time.Duration) bool {
	if now.Before(r.next) {
		return false
	}
	r.next = now.Add(interval)

	r.logger.Printf("[HEALTH] %s", r.counters)
	st, err := r.drv.Status()
	if err == nil {
		r.logger.Printf("[STATUS] periodic: %s", st)
	}
	if r.metrics != nil {
		r.metrics.Publish(*r.counters, st, err == nil)
	}
	return true
}

// Next returns the next due time.
func (r *Reporter) Next() time.Time {
	return r.next
}
