package node

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/roffe/canecho"
)

// DefaultMarker prefixes every echo payload.
var DefaultMarker = [4]byte{'E', 'C', 'H', 'O'}

const (
	DefaultFixedID   = 0x321
	DefaultTxTimeout = 200 * time.Millisecond
)

// IDPolicy selects the identifier of echo replies.
type IDPolicy int

const (
	// MirrorID replies with the received identifier.
	MirrorID IDPolicy = iota
	// FixedID replies with EchoConfig.FixedID. An identifier above the 11-bit
	// range is always sent in extended format.
	FixedID
)

func (p IDPolicy) String() string {
	switch p {
	case MirrorID:
		return "mirror"
	case FixedID:
		return "fixed"
	default:
		return "unknown"
	}
}

// EchoConfig is fixed for the lifetime of a Responder.
type EchoConfig struct {
	Policy    IDPolicy
	FixedID   uint32
	Marker    [4]byte
	TxTimeout time.Duration
	Color     bool
}

func DefaultEchoConfig() EchoConfig {
	return EchoConfig{
		Policy:    MirrorID,
		FixedID:   DefaultFixedID,
		Marker:    DefaultMarker,
		TxTimeout: DefaultTxTimeout,
	}
}

// Responder answers received data frames with an echo reply.
type Responder struct {
	drv      canecho.Driver
	counters *Counters
	cfg      EchoConfig
	logger   *log.Logger
}

func NewResponder(drv canecho.Driver, counters *Counters, cfg EchoConfig, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}
	return &Responder{
		drv:      drv,
		counters: counters,
		cfg:      cfg,
		logger:   logger,
	}
}

// BuildReply returns the echo for rx: 8 bytes, the marker followed by the
// first four received bytes, zero padded.
func (r *Responder) BuildReply(rx canecho.Frame) canecho.Frame {
	tx := canecho.Frame{
		ID:       rx.ID,
		Extended: rx.Extended,
		Len:      canecho.MaxDataLength,
	}
	if r.cfg.Policy == FixedID {
		tx.ID = r.cfg.FixedID
		if tx.ID > canecho.MaxStandardID {
			tx.Extended = true
		}
	}
	copy(tx.Data[:4], r.cfg.Marker[:])
	for i := 0; i < 4; i++ {
		if i < int(rx.Len) {
			tx.Data[4+i] = rx.Data[i]
		}
	}
	return tx
}

// Reply transmits the echo for rx once. Dropped replies are logged and never retried.
func (r *Responder) Reply(rx canecho.Frame) error {
	if rx.RTR {
		return canecho.ErrRemoteFrame
	}
	tx := r.BuildReply(rx)
	err := r.drv.Transmit(tx, r.cfg.TxTimeout)
	switch {
	case err == nil:
		r.counters.Transmitted++
		r.logger.Printf("[TX echo] %s", r.frameString(tx))
		return nil
	case errors.Is(err, canecho.ErrTimeout):
		r.logger.Println("[TX echo] queue timeout")
	default:
		r.logger.Printf("[TX echo] error=%s", errorCode(err))
	}
	return err
}

func (r *Responder) frameString(f canecho.Frame) string {
	if r.cfg.Color {
		return f.ColorString()
	}
	return f.String()
}

func errorCode(err error) string {
	var te *canecho.TransmitError
	if errors.As(err, &te) {
		return fmt.Sprintf("%d (%v)", te.Code, te.Err)
	}
	return err.Error()
}
