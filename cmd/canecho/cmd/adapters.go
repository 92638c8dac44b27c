package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/roffe/canecho"
	"github.com/roffe/canecho/adapter/socketcan"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available drivers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		listDrivers(cmd.OutOrStdout(), canecho.ListDrivers(), socketcan.FindDevices())
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

// listDrivers prints every driver, with the detected interfaces under socketcan.
func listDrivers(w io.Writer, drivers []canecho.DriverInfo, canIfaces []string) {
	for i, d := range drivers {
		fmt.Fprintf(w, "#%d %s\n", i, d.String())
		if strings.EqualFold(d.Name, "socketcan") {
			if len(canIfaces) == 0 {
				fmt.Fprintln(w, "   no CAN interfaces found")
			}
			for _, dev := range canIfaces {
				fmt.Fprintf(w, "   -p %s\n", dev)
			}
		}
	}
}
