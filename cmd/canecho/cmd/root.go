package cmd

import (
	"context"
	"log"

	"github.com/roffe/canecho/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "canecho",
	Short:        "CAN echo node",
	Long:         `Acknowledges every frame on the bus and answers each data frame with an ECHO reply.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig   = "config"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagBitrate  = "bitrate"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "yaml config file")
	pf.StringP(flagAdapter, "a", "virtual", "what driver to use")
	pf.StringP(flagPort, "p", "", "interface name or com-port")
	pf.IntP(flagBaudrate, "b", 115200, "com-port baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.IntP(flagBitrate, "r", 250, "CAN bitrate in kbit/s, must match the bus")
}

// loadConfig reads the config file, if any, and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	pf := cmd.Flags()
	if path, _ := pf.GetString(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if pf.Changed(flagAdapter) || cfg.Adapter == "" {
		cfg.Adapter, _ = pf.GetString(flagAdapter)
	}
	if pf.Changed(flagPort) {
		cfg.Port, _ = pf.GetString(flagPort)
	}
	if pf.Changed(flagBaudrate) {
		cfg.PortBaudrate, _ = pf.GetInt(flagBaudrate)
	}
	if pf.Changed(flagDebug) {
		cfg.Debug, _ = pf.GetBool(flagDebug)
	}
	if pf.Changed(flagBitrate) {
		cfg.Bitrate, _ = pf.GetInt(flagBitrate)
	}
	return cfg, nil
}
