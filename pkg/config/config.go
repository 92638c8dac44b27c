// Package config loads the node configuration. Every field has a compiled-in
// default equal to the stock node build; a YAML file and command line flags
// may override them before the node starts. Nothing changes while it runs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/roffe/canecho"
	"github.com/roffe/canecho/pkg/node"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Adapter      string `yaml:"adapter"`
	Port         string `yaml:"port"`
	PortBaudrate int    `yaml:"port_baudrate"`
	Debug        bool   `yaml:"debug"`

	Pins     PinsConfig     `yaml:"pins"`
	Bitrate  int            `yaml:"bitrate"` // kbit/s
	Filter   FilterConfig   `yaml:"filter"`
	Alerts   []string       `yaml:"alerts"`
	Queues   QueueConfig    `yaml:"queues"`
	Echo     EchoConfig     `yaml:"echo"`
	Loop     LoopConfig     `yaml:"loop"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Health   HealthConfig   `yaml:"health"`
}

// ---- BUS ----

type PinsConfig struct {
	TX int `yaml:"tx"`
	RX int `yaml:"rx"`
}

type FilterConfig struct {
	Code   uint32 `yaml:"code"`
	Mask   uint32 `yaml:"mask"`
	Single bool   `yaml:"single"`
}

type QueueConfig struct {
	TX int `yaml:"tx"`
	RX int `yaml:"rx"`
}

// ---- ECHO ----

type EchoConfig struct {
	MirrorID    bool   `yaml:"mirror_id"`
	FixedID     uint32 `yaml:"fixed_id"`
	Marker      string `yaml:"marker"`
	TxTimeoutMs int    `yaml:"tx_timeout_ms"`
	Color       bool   `yaml:"color"`
}

// ---- LOOP ----

type LoopConfig struct {
	AlertPollMs int `yaml:"alert_poll_ms"`
}

type RecoveryConfig struct {
	WindowMs int `yaml:"window_ms"`
	PollMs   int `yaml:"poll_ms"`
}

type HealthConfig struct {
	IntervalSec int    `yaml:"interval_sec"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Adapter:      "virtual",
		PortBaudrate: 115200,
		Pins:         PinsConfig{TX: 4, RX: 5},
		Bitrate:      250,
		Filter:       FilterConfig{Code: 0, Mask: 0xFFFFFFFF, Single: true},
		Alerts:       []string{"ALL"},
		Queues:       QueueConfig{TX: canecho.DefaultTxQueueLen, RX: canecho.DefaultRxQueueLen},
		Echo: EchoConfig{
			MirrorID:    true,
			FixedID:     node.DefaultFixedID,
			Marker:      string(node.DefaultMarker[:]),
			TxTimeoutMs: int(node.DefaultTxTimeout / time.Millisecond),
		},
		Loop:     LoopConfig{AlertPollMs: int(node.DefaultAlertPoll / time.Millisecond)},
		Recovery: RecoveryConfig{WindowMs: 1500, PollMs: 50},
		Health:   HealthConfig{IntervalSec: 5},
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DriverOptions returns the options used to open the adapter.
func (c *Config) DriverOptions() *canecho.DriverOptions {
	return &canecho.DriverOptions{
		Debug:        c.Debug,
		Port:         c.Port,
		PortBaudrate: c.PortBaudrate,
	}
}

// DriverConfig builds the install configuration. The config must be valid.
func (c *Config) DriverConfig() (*canecho.DriverConfig, error) {
	timing, err := canecho.TimingFor(c.Bitrate)
	if err != nil {
		return nil, err
	}
	alerts, err := canecho.ParseAlerts(c.Alerts)
	if err != nil {
		return nil, err
	}
	return &canecho.DriverConfig{
		TxPin:  c.Pins.TX,
		RxPin:  c.Pins.RX,
		Timing: timing,
		Filter: canecho.FilterConfig{
			AcceptanceCode: c.Filter.Code,
			AcceptanceMask: c.Filter.Mask,
			SingleFilter:   c.Filter.Single,
		},
		AlertsEnabled: alerts,
		TxQueueLen:    c.Queues.TX,
		RxQueueLen:    c.Queues.RX,
	}, nil
}

// NodeConfig builds the node configuration. The config must be valid.
func (c *Config) NodeConfig() (node.Config, error) {
	dcfg, err := c.DriverConfig()
	if err != nil {
		return node.Config{}, err
	}
	echo := node.EchoConfig{
		Policy:    node.MirrorID,
		FixedID:   c.Echo.FixedID,
		TxTimeout: time.Duration(c.Echo.TxTimeoutMs) * time.Millisecond,
		Color:     c.Echo.Color,
	}
	if !c.Echo.MirrorID {
		echo.Policy = node.FixedID
	}
	copy(echo.Marker[:], c.Echo.Marker)
	return node.Config{
		Driver:         dcfg,
		Echo:           echo,
		AlertPoll:      time.Duration(c.Loop.AlertPollMs) * time.Millisecond,
		HealthInterval: time.Duration(c.Health.IntervalSec) * time.Second,
		RecoveryWindow: time.Duration(c.Recovery.WindowMs) * time.Millisecond,
		RecoveryPoll:   time.Duration(c.Recovery.PollMs) * time.Millisecond,
	}, nil
}
