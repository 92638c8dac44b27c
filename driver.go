package canecho

import (
	"fmt"
	"time"
)

// Default queue depths.
const (
	DefaultTxQueueLen = 32
	DefaultRxQueueLen = 64
)

// Driver is the bus controller boundary. All calls are made from a single
// goroutine; implementations may use internal goroutines.
type Driver interface {
	Name() string
	Install(cfg *DriverConfig) error
	Uninstall() error
	Start() error
	Stop() error
	// Transmit queues f, waiting up to timeout for queue space. It returns
	// ErrTimeout if the queue stayed full.
	Transmit(f Frame, timeout time.Duration) error
	// Receive returns the next queued frame. A timeout of 0 returns
	// ErrTimeout immediately when nothing is queued.
	Receive(timeout time.Duration) (Frame, error)
	// ReadAlerts returns and clears pending alerts, ErrTimeout if none arrived.
	ReadAlerts(timeout time.Duration) (Alert, error)
	Status() (StatusInfo, error)
	// InitiateRecovery starts bus-off recovery. ErrInvalidState unless bus-off.
	InitiateRecovery() error
}

// DriverConfig is passed to Install.
type DriverConfig struct {
	TxPin         int
	RxPin         int
	Timing        TimingConfig
	Filter        FilterConfig
	AlertsEnabled Alert
	TxQueueLen    int
	RxQueueLen    int
}

// DefaultDriverConfig returns the stock node configuration: TX=GPIO4, RX=GPIO5,
// 250 kbit/s, accept all, every alert enabled.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		TxPin:         4,
		RxPin:         5,
		Timing:        Timing250K(),
		Filter:        FilterAcceptAll(),
		AlertsEnabled: AlertAll,
		TxQueueLen:    DefaultTxQueueLen,
		RxQueueLen:    DefaultRxQueueLen,
	}
}

func (cfg *DriverConfig) Validate() error {
	if cfg.TxPin < 0 || cfg.RxPin < 0 {
		return fmt.Errorf("invalid pins tx=%d rx=%d", cfg.TxPin, cfg.RxPin)
	}
	if cfg.TxPin == cfg.RxPin {
		return fmt.Errorf("tx and rx pin are both %d", cfg.TxPin)
	}
	if cfg.TxQueueLen <= 0 || cfg.RxQueueLen <= 0 {
		return fmt.Errorf("invalid queue lengths tx=%d rx=%d", cfg.TxQueueLen, cfg.RxQueueLen)
	}
	return cfg.Timing.Validate()
}
