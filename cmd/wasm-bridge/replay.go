package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/capture"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
)

var replayCmd = &cobra.Command{
	Use:   "replay capture.wbcap",
	Short: "Replay a device-call capture into the headless device",
	Long: `Apply every call recorded by "run --capture" to a headless device with
the recorded capabilities and report what the device saw. The first call
the device rejects stops the replay and its position is reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := capture.Open(args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		h := r.Header()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Capture"), args[0])
		if h.Module != "" {
			fmt.Fprintf(out, "module:   %s\n", h.Module)
		}
		fmt.Fprintf(out, "recorded: %s\n", time.UnixMilli(h.Created).Format(time.RFC3339))

		dev := gfx.NewHeadless(gfx.WithCapabilities(h.Capabilities))
		n, err := capture.Replay(r, dev)
		fmt.Fprintf(out, "applied:  %d calls\n", n)
		s := dev.Stats()
		fmt.Fprintf(out, "device:   %d frames, %d draws, %d vertices, %d uploads (%s)\n",
			s.Frames, s.Draws, s.Vertices, s.Uploads, humanBytes(s.UploadedBytes))
		if err != nil {
			if i, ok := errors.IndexOf(err); ok {
				fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("call %d rejected", i)))
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
