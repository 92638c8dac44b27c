// Package node implements the echo node: the bus lifecycle/recovery
// controller, the alert processor, the echo responder and the health reporter,
// tied together by a single cooperative loop.
package node

import (
	"context"
	"errors"
	"log"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roffe/canecho"
)

const DefaultAlertPoll = 10 * time.Millisecond

type Config struct {
	Driver         *canecho.DriverConfig
	Echo           EchoConfig
	AlertPoll      time.Duration
	HealthInterval time.Duration
	RecoveryWindow time.Duration
	RecoveryPoll   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Driver:         canecho.DefaultDriverConfig(),
		Echo:           DefaultEchoConfig(),
		AlertPoll:      DefaultAlertPoll,
		HealthInterval: DefaultHealthInterval,
		RecoveryWindow: DefaultRecoveryWindow,
		RecoveryPoll:   DefaultRecoveryPoll,
	}
}

type Option func(*Node)

func WithLogger(l *log.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithClock replaces time.Now for the health timer.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithMetrics registers the node gauges on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(n *Node) { n.reg = reg }
}

// Node owns the counters and drives every component from one goroutine.
type Node struct {
	drv    canecho.Driver
	cfg    Config
	logger *log.Logger
	now    func() time.Time
	reg    prometheus.Registerer

	counters   Counters
	controller *Controller
	alerts     *AlertProcessor
	responder  *Responder
	reporter   *Reporter
	running    bool
}

func New(drv canecho.Driver, cfg Config, opts ...Option) *Node {
	n := &Node{
		drv:    drv,
		cfg:    cfg,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	if n.cfg.Driver == nil {
		n.cfg.Driver = canecho.DefaultDriverConfig()
	}
	if n.cfg.AlertPoll <= 0 {
		n.cfg.AlertPoll = DefaultAlertPoll
	}
	if n.cfg.HealthInterval <= 0 {
		n.cfg.HealthInterval = DefaultHealthInterval
	}

	n.controller = NewController(drv, n.logger)
	if cfg.RecoveryWindow > 0 {
		n.controller.RecoveryWindow = cfg.RecoveryWindow
	}
	if cfg.RecoveryPoll > 0 {
		n.controller.RecoveryPoll = cfg.RecoveryPoll
	}
	n.alerts = NewAlertProcessor(drv, &n.counters, n.controller, n.logger)
	n.controller.OnAlert = n.alerts.Observe
	n.responder = NewResponder(drv, &n.counters, n.cfg.Echo, n.logger)

	var metrics *Metrics
	if n.reg != nil {
		metrics = NewMetrics(n.reg)
	}
	n.reporter = NewReporter(drv, &n.counters, metrics, n.logger)
	return n
}

// Start initializes the bus. Its error is unrecoverable: the node must not
// process frames afterwards.
func (n *Node) Start(ctx context.Context) error {
	if err := n.controller.Initialize(ctx, n.cfg.Driver); err != nil {
		return err
	}
	n.running = true
	return nil
}

// Step runs one loop iteration: alerts, receive drain with echo replies, health.
// It does nothing until Start has succeeded.
func (n *Node) Step(ctx context.Context) {
	if !n.running {
		return
	}
	n.alerts.Poll(ctx, n.cfg.AlertPoll)
	n.drain()
	n.reporter.ReportIfDue(n.now(), n.cfg.HealthInterval)
	runtime.Gosched()
}

func (n *Node) drain() {
	for {
		f, err := n.drv.Receive(0)
		if err != nil {
			if !errors.Is(err, canecho.ErrTimeout) {
				n.logger.Printf("[RX] receive failed: %v", err)
			}
			return
		}
		n.counters.Received++
		n.logger.Printf("[RX] %s", n.frameString(f))
		if f.RTR {
			continue
		}
		n.responder.Reply(f) //nolint:errcheck // logged and dropped by the responder
	}
}

func (n *Node) frameString(f canecho.Frame) string {
	if n.cfg.Echo.Color {
		return f.ColorString()
	}
	return f.String()
}

// Run starts the node and loops until ctx is done, then stops the bus.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Close()
	for ctx.Err() == nil {
		n.Step(ctx)
	}
	return nil
}

// Close stops and uninstalls the driver.
func (n *Node) Close() error {
	if !n.running {
		return nil
	}
	n.running = false
	if err := n.drv.Stop(); err != nil && !errors.Is(err, canecho.ErrInvalidState) {
		n.logger.Printf("[TWAI] stop: %v", err)
	}
	return n.drv.Uninstall()
}

// Counters returns a copy of the node counters. Only call from the loop
// goroutine or after Run has returned.
func (n *Node) Counters() Counters {
	return n.counters
}

// Controller exposes the lifecycle controller.
func (n *Node) Controller() *Controller {
	return n.controller
}
