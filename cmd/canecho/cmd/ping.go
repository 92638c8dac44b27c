package cmd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/roffe/canecho"
	"github.com/spf13/cobra"
)

const (
	flagID       = "id"
	flagData     = "data"
	flagExtended = "extended"
	flagInterval = "interval"
	flagTimeout  = "timeout"
	flagCount    = "count"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "send frames to an echo node and print the replies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		id, _ := f.GetUint32(flagID)
		dataHex, _ := f.GetString(flagData)
		extended, _ := f.GetBool(flagExtended)
		interval, _ := f.GetDuration(flagInterval)
		timeout, _ := f.GetDuration(flagTimeout)
		count, _ := f.GetInt(flagCount)

		data, err := hex.DecodeString(dataHex)
		if err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}
		if len(data) > canecho.MaxDataLength {
			return fmt.Errorf("--data holds %d bytes, max is %d", len(data), canecho.MaxDataLength)
		}
		frame := canecho.NewFrame(id, data)
		frame.Extended = extended
		if err := frame.Validate(); err != nil {
			return err
		}

		drv, err := canecho.NewDriver(cfg.Adapter, cfg.DriverOptions())
		if err != nil {
			return err
		}
		dcfg, err := cfg.DriverConfig()
		if err != nil {
			return err
		}
		if err := drv.Install(dcfg); err != nil {
			return err
		}
		defer drv.Uninstall()
		if err := drv.Start(); err != nil {
			return err
		}
		defer drv.Stop()

		t := time.NewTicker(interval)
		defer t.Stop()
		ctx := cmd.Context()
		for sent := 0; count <= 0 || sent < count; sent++ {
			start := time.Now()
			if err := drv.Transmit(frame, timeout); err != nil {
				log.Printf("send: %v", err)
			} else if reply, err := awaitEcho(drv, []byte(cfg.Echo.Marker), frame, timeout); err != nil {
				log.Printf("%s: %v", frame, err)
			} else {
				log.Printf("reply in %s: %s", time.Since(start).Round(time.Microsecond), reply)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
		return nil
	},
}

func init() {
	f := pingCmd.Flags()
	f.Uint32(flagID, 0x100, "identifier to send")
	f.String(flagData, "AABB", "payload as hex")
	f.Bool(flagExtended, false, "send a 29-bit identifier")
	f.Duration(flagInterval, time.Second, "time between frames")
	f.Duration(flagTimeout, 200*time.Millisecond, "reply timeout")
	f.Int(flagCount, 0, "frames to send, 0 = until interrupted")
	rootCmd.AddCommand(pingCmd)
}

// awaitEcho waits for a frame carrying marker followed by the leading bytes
// of sent. Other traffic is skipped.
func awaitEcho(drv canecho.Driver, marker []byte, sent canecho.Frame, timeout time.Duration) (canecho.Frame, error) {
	want := make([]byte, 0, 8)
	want = append(want, marker...)
	var lead [4]byte
	copy(lead[:], sent.Payload())
	want = append(want, lead[:]...)

	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return canecho.Frame{}, canecho.ErrTimeout
		}
		f, err := drv.Receive(left)
		if err != nil {
			if errors.Is(err, canecho.ErrTimeout) {
				return canecho.Frame{}, err
			}
			return canecho.Frame{}, fmt.Errorf("receive: %w", err)
		}
		if bytes.Equal(f.Payload(), want) {
			return f, nil
		}
	}
}
