package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roffe/canecho"
	"github.com/roffe/canecho/pkg/config"
	"github.com/roffe/canecho/pkg/node"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flagTxPin       = "tx-pin"
	flagRxPin       = "rx-pin"
	flagFixedID     = "fixed-id"
	flagHealth      = "health"
	flagMetricsAddr = "metrics-addr"
	flagColor       = "color"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the echo node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)
		if err := config.Validate(cfg); err != nil {
			return err
		}
		return runNode(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.Int(flagTxPin, 4, "controller TX pin")
	f.Int(flagRxPin, 5, "controller RX pin")
	f.Uint32(flagFixedID, 0, "reply with this identifier instead of the received one")
	f.Duration(flagHealth, 5*time.Second, "health report interval")
	f.String(flagMetricsAddr, "", "serve prometheus metrics on this address, e.g. :9110")
	f.Bool(flagColor, false, "colored frame dumps")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed(flagTxPin) {
		cfg.Pins.TX, _ = f.GetInt(flagTxPin)
	}
	if f.Changed(flagRxPin) {
		cfg.Pins.RX, _ = f.GetInt(flagRxPin)
	}
	if f.Changed(flagFixedID) {
		cfg.Echo.FixedID, _ = f.GetUint32(flagFixedID)
		cfg.Echo.MirrorID = false
	}
	if f.Changed(flagHealth) {
		d, _ := f.GetDuration(flagHealth)
		cfg.Health.IntervalSec = max(int(d/time.Second), 1)
	}
	if f.Changed(flagMetricsAddr) {
		cfg.Health.MetricsAddr, _ = f.GetString(flagMetricsAddr)
	}
	if f.Changed(flagColor) {
		cfg.Echo.Color, _ = f.GetBool(flagColor)
	}
}

func runNode(ctx context.Context, cfg *config.Config) error {
	drv, err := canecho.NewDriver(cfg.Adapter, cfg.DriverOptions())
	if err != nil {
		return err
	}
	ncfg, err := cfg.NodeConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	n := node.New(drv, ncfg, node.WithLogger(log.Default()), node.WithMetrics(reg))

	log.Println("TWAI RECEIVER / ECHO (NORMAL) - ACK + reply")
	log.Printf("Driver: %s, TX=%d RX=%d, Bitrate=%d kbps (match master), reply id=%s",
		drv.Name(), cfg.Pins.TX, cfg.Pins.RX, cfg.Bitrate, ncfg.Echo.Policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Run(gctx)
	})
	if addr := cfg.Health.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Printf("serving metrics on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if err != nil && !canecho.IsRecoverable(err) {
		log.Printf("FATAL: start failed: %v", err)
		// Halt without touching the bus until interrupted.
		<-ctx.Done()
	}
	return err
}
