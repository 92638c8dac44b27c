package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canecho"
)

// Recovery defaults.
const (
	DefaultRecoveryWindow = 1500 * time.Millisecond
	DefaultRecoveryPoll   = 50 * time.Millisecond
)

const recoveryRetryDelay = time.Millisecond

var errNotRecovered = errors.New("bus not recovered")

// Controller drives the STOPPED -> RUNNING -> BUS_OFF -> RUNNING lifecycle.
// The driver owns the state; the controller only queries it and requests transitions.
type Controller struct {
	drv    canecho.Driver
	logger *log.Logger

	// RecoveryWindow bounds how long Recover waits for the bus to come back.
	RecoveryWindow time.Duration
	// RecoveryPoll is the alert wait used per recovery attempt.
	RecoveryPoll time.Duration
	// OnAlert receives every alert read while recovering.
	OnAlert func(canecho.Alert)

	// recovering is set from InitiateRecovery until the bus is running again.
	recovering bool
}

func NewController(drv canecho.Driver, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		drv:            drv,
		logger:         logger,
		RecoveryWindow: DefaultRecoveryWindow,
		RecoveryPoll:   DefaultRecoveryPoll,
	}
}

// Initialize installs and starts the driver. A failed start uninstalls the
// driver again. Both failures are unrecoverable for the node.
func (c *Controller) Initialize(ctx context.Context, cfg *canecho.DriverConfig) error {
	c.logger.Printf("[TWAI] Install RX/Echo - driver=%s TX=%d RX=%d bitrate=%s",
		c.drv.Name(), cfg.TxPin, cfg.RxPin, cfg.Timing)
	if err := c.drv.Install(cfg); err != nil {
		c.logger.Printf("[TWAI] install FAIL: %v", err)
		return canecho.Unrecoverable(fmt.Errorf("install: %w", err))
	}
	if err := c.drv.Start(); err != nil {
		c.logger.Printf("[TWAI] start FAIL: %v", err)
		if uerr := c.drv.Uninstall(); uerr != nil {
			c.logger.Printf("[TWAI] uninstall after failed start: %v", uerr)
		}
		return canecho.Unrecoverable(fmt.Errorf("start: %w", err))
	}
	c.logger.Println("[TWAI] started (NORMAL)")
	c.Recover(ctx)
	c.PrintStatus("start")
	return nil
}

// State returns the current driver state, StateStopped if it cannot be read.
func (c *Controller) State() canecho.BusState {
	st, err := c.drv.Status()
	if err != nil {
		return canecho.StateStopped
	}
	return st.State
}

// Recover runs bus-off recovery if the driver reports bus-off. It waits until
// RecoveryWindow has passed for a bus-recovered alert and returns silently on
// timeout; a bus-recovered alert seen later by the loop goes through Resume.
func (c *Controller) Recover(ctx context.Context) {
	st, err := c.drv.Status()
	if err != nil || st.State != canecho.StateBusOff {
		return
	}
	c.logger.Println("[RECOVERY] BUS_OFF -> initiating")
	if err := c.drv.InitiateRecovery(); err != nil {
		c.logger.Printf("[RECOVERY] initiate failed: %v", err)
		return
	}
	c.recovering = true

	window := c.RecoveryWindow
	if window <= 0 {
		window = DefaultRecoveryWindow
	}
	poll := c.RecoveryPoll
	if poll <= 0 {
		poll = DefaultRecoveryPoll
	}
	rctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	deadline, _ := rctx.Deadline()

	// Every attempt costs at least one retry delay, so the deadline ends the
	// loop before the attempt count does, however many alerts arrive.
	attempts := uint(window/recoveryRetryDelay) + 1
	err = retry.Do(func() error {
		if rctx.Err() != nil {
			return rctx.Err()
		}
		wait := poll
		if left := time.Until(deadline); left < wait {
			wait = left
		}
		a, err := c.drv.ReadAlerts(wait)
		if err != nil || a == canecho.AlertNone {
			return errNotRecovered
		}
		if c.OnAlert != nil {
			c.OnAlert(a)
		}
		if a&canecho.AlertBusRecovered == 0 {
			return errNotRecovered
		}
		return nil
	},
		retry.Context(rctx),
		retry.Attempts(attempts),
		retry.Delay(recoveryRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		c.logger.Printf("[RECOVERY] not recovered within %s", window)
		return
	}
	c.logger.Println("[RECOVERY] Recovered")
	c.restart()
}

// Resume finishes a recovery that completed after Recover stopped waiting.
// It does nothing unless a recovery was initiated and not yet restarted.
func (c *Controller) Resume() {
	if !c.recovering {
		return
	}
	c.logger.Println("[RECOVERY] Recovered late")
	c.restart()
}

// restart brings the bus back to RUNNING when the driver left it stopped.
func (c *Controller) restart() {
	switch c.State() {
	case canecho.StateStopped:
		if err := c.drv.Start(); err != nil {
			c.logger.Printf("[RECOVERY] restart failed: %v", err)
			return
		}
	case canecho.StateRecovering:
		return
	}
	c.recovering = false
}

// PrintStatus logs the driver status snapshot with tag.
func (c *Controller) PrintStatus(tag string) {
	st, err := c.drv.Status()
	if err != nil {
		return
	}
	c.logger.Printf("[STATUS] %s: %s", tag, st)
}
