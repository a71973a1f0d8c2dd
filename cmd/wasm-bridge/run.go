package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/capture"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run [module.wasm]",
	Short: "Run a compute module",
	Long: `Instantiate a compute module as the primary context, run its main
export and drive the event loop until nothing is pending, or until the
timeout or an interrupt when frame ticks are enabled.

The module path defaults to module.path from the config file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("monitor", false, "Show live stats; keys are sent to the module as input events")
	runCmd.Flags().String("capture", "", "Record device calls to this file")
	runCmd.Flags().Float64("fps", -1, "Frame tick rate override (0 disables ticks)")
	runCmd.Flags().Bool("no-threads", false, "Give every context private memory")
	runCmd.Flags().Duration("timeout", 0, "Stop after this long (0 runs until done or interrupted)")
	runCmd.Flags().String("storage", "", "SQLite file backing the storage library (overrides storage.path)")
	runCmd.Flags().StringSlice("allow-host", nil, "Allow fetch over HTTP from host (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if fps, _ := cmd.Flags().GetFloat64("fps"); fps >= 0 {
		cfg.Frame.FPS = fps
	}
	if off, _ := cmd.Flags().GetBool("no-threads"); off {
		cfg.Module.Threads = false
	}
	if p, _ := cmd.Flags().GetString("capture"); p != "" {
		cfg.Capture.Path = p
	}
	if p, _ := cmd.Flags().GetString("storage"); p != "" {
		cfg.Storage.Path = p
	}
	if hosts, _ := cmd.Flags().GetStringSlice("allow-host"); len(hosts) > 0 {
		cfg.Fetch.AllowedHosts = append(cfg.Fetch.AllowedHosts, hosts...)
	}
	return cfg.Validate()
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	modPath := cfg.Resolve(cfg.Module.Path)
	if len(args) > 0 {
		modPath = args[0]
	}
	if modPath == "" {
		return errors.InvalidInput(errors.PhaseConfig, "no module: pass a path or set module.path")
	}

	log, level, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	wasm, err := os.ReadFile(modPath)
	if err != nil {
		return errors.Load("read "+modPath, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	headless := gfx.NewHeadless(gfx.WithCapabilities(cfg.Capabilities()))
	var dev gfx.Device = headless
	if cfg.Capture.Path != "" {
		w, err := capture.Create(cfg.Resolve(cfg.Capture.Path), cfg.Capabilities(), moduleName(modPath))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, w.Close())
			log.Info("capture written", zap.String("path", cfg.Capture.Path), zap.Int("calls", w.Calls()))
		}()
		dev = gfx.NewRecorder(headless, w)
	}

	host, err := cfg.OpenHost(log, dev)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, host.Close()) }()

	opts, err := cfg.RuntimeOptions()
	if err != nil {
		return err
	}
	opts = append(opts,
		runtime.WithDevice(dev),
		runtime.WithRoot(host.Root),
		runtime.WithLogger(log.Named("runtime")),
		runtime.WithStdio(cmd.OutOrStdout(), cmd.ErrOrStderr()),
	)

	rt, err := runtime.New(ctx, wasm, opts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close(context.Background())) }()

	primary, err := rt.Start(ctx)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		go func() {
			if err := config.Watch(ctx, cfgPath, config.Apply(cfg, level, primary)); err != nil {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	started := time.Now()
	monitor, _ := cmd.Flags().GetBool("monitor")
	if monitor && term.IsTerminal(int(os.Stdout.Fd())) {
		err = runMonitor(ctx, modPath, rt, primary, headless)
	} else {
		if monitor {
			log.Warn("stdout is not a terminal, monitor disabled")
		}
		err = primary.Run(ctx)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	printSummary(cmd.OutOrStdout(), time.Since(started), primary.Stats(), headless.Stats())
	return err
}

func printSummary(w io.Writer, took time.Duration, s runtime.Stats, g gfx.Stats) {
	fmt.Fprintf(w, "ran %s: %d frames, %d inputs, %d/%d futures settled, %d contexts spawned\n",
		took.Round(time.Millisecond), s.Frames, s.Inputs, s.FuturesSettled, s.FuturesStarted, s.Spawned)
	fmt.Fprintf(w, "device: %d draws, %d vertices, %d uploads (%s)\n",
		g.Draws, g.Vertices, g.Uploads, humanBytes(g.UploadedBytes))
}
