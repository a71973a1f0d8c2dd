package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/cmdbuf"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/hostlib"
	"github.com/wippyai/wasm-bridge/marshal"
	"github.com/wippyai/wasm-bridge/runtime"
)

var rootCmd = &cobra.Command{
	Use:   "wasm-bridge",
	Short: "Host runtime for sandboxed wasm compute modules",
	Long: `wasm-bridge runs a wasm compute module against a host object table,
a command-buffer graphics interpreter and an async bridge.

Configuration is read from a TOML file (--config). Flags override it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to wasm-bridge.toml")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override: debug, info, warn, error")
}

// loadConfig reads --config or falls back to the defaults rooted at the
// working directory.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, "", err
		}
	} else {
		cfg = config.Default()
		if cfg.Dir, err = os.Getwd(); err != nil {
			return nil, "", err
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
	}
	return cfg, path, nil
}

// setupLogging builds the process logger and hands it to every package.
func setupLogging(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	log, level, err := cfg.NewLogger()
	if err != nil {
		return nil, level, err
	}
	bridge.SetLogger(log.Named("bridge"))
	cmdbuf.SetLogger(log.Named("cmdbuf"))
	marshal.SetLogger(log.Named("marshal"))
	gfx.SetLogger(log.Named("gfx"))
	hostlib.SetLogger(log.Named("host"))
	runtime.SetLogger(log.Named("runtime"))
	config.SetLogger(log.Named("config"))
	return log, level, nil
}

func moduleName(path string) string {
	return filepath.Base(path)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
