package config

import (
	"fmt"

	"github.com/roffe/canecho"
)

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg.Adapter == "" {
		return fmt.Errorf("adapter is required")
	}
	if cfg.Pins.TX < 0 || cfg.Pins.RX < 0 || cfg.Pins.TX == cfg.Pins.RX {
		return fmt.Errorf("pins: tx=%d rx=%d must be distinct and non-negative", cfg.Pins.TX, cfg.Pins.RX)
	}
	if _, err := canecho.TimingFor(cfg.Bitrate); err != nil {
		return fmt.Errorf("bitrate: %w", err)
	}
	if _, err := canecho.ParseAlerts(cfg.Alerts); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if cfg.Queues.TX <= 0 || cfg.Queues.RX <= 0 {
		return fmt.Errorf("queues: tx=%d rx=%d must be > 0", cfg.Queues.TX, cfg.Queues.RX)
	}

	if len(cfg.Echo.Marker) != 4 {
		return fmt.Errorf("echo.marker %q must be exactly 4 bytes", cfg.Echo.Marker)
	}
	if cfg.Echo.FixedID > canecho.MaxExtendedID {
		return fmt.Errorf("echo.fixed_id 0x%X out of range", cfg.Echo.FixedID)
	}
	if cfg.Echo.TxTimeoutMs <= 0 {
		return fmt.Errorf("echo.tx_timeout_ms must be > 0")
	}

	if cfg.Loop.AlertPollMs <= 0 {
		return fmt.Errorf("loop.alert_poll_ms must be > 0")
	}
	if cfg.Recovery.WindowMs <= 0 || cfg.Recovery.PollMs <= 0 {
		return fmt.Errorf("recovery: window_ms and poll_ms must be > 0")
	}
	if cfg.Recovery.PollMs > cfg.Recovery.WindowMs {
		return fmt.Errorf("recovery.poll_ms %d exceeds window_ms %d", cfg.Recovery.PollMs, cfg.Recovery.WindowMs)
	}
	if cfg.Health.IntervalSec <= 0 {
		return fmt.Errorf("health.interval_sec must be > 0")
	}
	return nil
}
