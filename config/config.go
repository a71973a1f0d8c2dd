package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/runtime"
)

const (
	pageSize = wasmbridge.PageSize
	maxPages = 1 << 16
	maxFPS   = 1000
)

// Config is a wasm-bridge.toml file.
type Config struct {
	Module  Module  `toml:"module"`
	Exports Exports `toml:"exports"`
	Log     Log     `toml:"log"`
	Frame   Frame   `toml:"frame"`
	Device  Device  `toml:"device"`
	Capture Capture `toml:"capture"`
	Fetch   Fetch   `toml:"fetch"`
	Storage Storage `toml:"storage"`

	// Dir is the directory relative paths resolve against (set at load time).
	Dir string `toml:"-"`
}

// Module selects the guest and how it is instantiated.
type Module struct {
	Path        string   `toml:"path"`
	Threads     bool     `toml:"threads"`
	Namespace   string   `toml:"namespace"`
	MemoryLimit string   `toml:"memory_limit"`
	CacheDir    string   `toml:"cache_dir"`
	LossyText   bool     `toml:"lossy_text"`
	Args        []string `toml:"args"`
}

// Exports overrides guest export names. Empty fields keep the defaults.
type Exports struct {
	Reserve         string   `toml:"reserve"`
	BeginAsync      string   `toml:"begin_async"`
	CompleteAsync   string   `toml:"complete_async"`
	EntryPoint      string   `toml:"entry_point"`
	InputEvent      string   `toml:"input_event"`
	FrameTick       string   `toml:"frame_tick"`
	SetStackPointer string   `toml:"set_stack_pointer"`
	InitTLS         string   `toml:"init_tls"`
	AllocTLS        string   `toml:"alloc_tls"`
	Ctors           string   `toml:"ctors"`
	Main            []string `toml:"main"`
}

// Log configures the process logger. Level can be hot reloaded.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Frame configures frame ticks. FPS can be hot reloaded.
type Frame struct {
	FPS float64 `toml:"fps"`
}

// Device describes the capabilities the headless device reports.
type Device struct {
	MaxAttributes        uint32 `toml:"max_attributes"`
	FloatLinearFiltering bool   `toml:"float_linear_filtering"`
	Instancing           bool   `toml:"instancing"`
}

// Capture records device calls to Path when set.
type Capture struct {
	Path string `toml:"path"`
}

// Fetch configures the fetch host library.
type Fetch struct {
	Root         string   `toml:"root"`
	MaxSize      string   `toml:"max_size"`
	AllowedHosts []string `toml:"allowed_hosts"`
	Timeout      string   `toml:"timeout"`
	S3           S3       `toml:"s3"`
}

// S3 enables s3:// assets when Region or Endpoint is set.
type S3 struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	ForcePathStyle  bool   `toml:"force_path_style"`
}

// Enabled reports whether an S3 source is configured.
func (s S3) Enabled() bool {
	return s.Region != "" || s.Endpoint != ""
}

// Storage enables the storage host library when Path is set.
type Storage struct {
	Path string `toml:"path"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Module: Module{
			Threads:   true,
			Namespace: "bridge",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Frame: Frame{FPS: 60},
		Device: Device{
			MaxAttributes:        16,
			FloatLinearFiltering: true,
			Instancing:           true,
		},
		Fetch: Fetch{
			Root:    "assets",
			MaxSize: "64MiB",
			Timeout: "30s",
		},
	}
}

// Load parses the file at path over the defaults and validates it. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound(errors.PhaseConfig, "config", path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindHostFailure, err, "read "+path)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "resolve "+path)
	}
	return Parse(data, dir)
}

// Parse decodes data over the defaults. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindDecode, err, "parse config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("unknown key %s", undecoded[0].String()).
			Build()
	}
	c.Dir = dir
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c.Module.Namespace == "" {
		return errors.InvalidInput(errors.PhaseConfig, "module.namespace is empty")
	}
	if _, err := c.MemoryLimitPages(); err != nil {
		return err
	}
	if c.Frame.FPS < 0 || c.Frame.FPS > maxFPS {
		return errors.New(errors.PhaseConfig, errors.KindOutOfRange).
			Detail("frame.fps must be within [0, %d]", maxFPS).
			Value(c.Frame.FPS).
			Build()
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig, "log.format must be console or json, got "+c.Log.Format)
	}
	if _, err := c.FetchMaxSize(); err != nil {
		return err
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	return nil
}

// MemoryLimitPages converts module.memory_limit to wasm pages. Zero means
// no limit beyond the module's own maximum.
func (c *Config) MemoryLimitPages() (uint32, error) {
	if c.Module.MemoryLimit == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Module.MemoryLimit)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "module.memory_limit")
	}
	pages := n / pageSize
	if pages < 1 || pages > maxPages {
		return 0, errors.New(errors.PhaseConfig, errors.KindOutOfRange).
			Detail("module.memory_limit must be between 64KiB and 4GiB").
			Value(c.Module.MemoryLimit).
			Build()
	}
	return uint32(pages), nil
}

// FetchMaxSize parses fetch.max_size.
func (c *Config) FetchMaxSize() (int64, error) {
	n, err := units.RAMInBytes(c.Fetch.MaxSize)
	if err != nil || n <= 0 {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("fetch.max_size %q", c.Fetch.MaxSize).
			Cause(err).
			Build()
	}
	return n, nil
}

// FetchTimeout parses fetch.timeout.
func (c *Config) FetchTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil || d <= 0 {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("fetch.timeout %q", c.Fetch.Timeout).
			Cause(err).
			Build()
	}
	return d, nil
}

// Resolve returns p relative to the config directory unless it is absolute
// or empty.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Level returns the parsed log level. The config must be valid.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLogger builds the process logger. The returned level is shared with
// the logger so Watch callbacks can change it.
func (c *Config) NewLogger() (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(c.Level())
	zc := zap.NewProductionConfig()
	if c.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	log, err := zc.Build()
	if err != nil {
		return nil, level, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "build logger")
	}
	return log, level, nil
}

// Capabilities returns the device capabilities.
func (c *Config) Capabilities() gfx.Capabilities {
	return gfx.Capabilities{
		MaxAttributes:        c.Device.MaxAttributes,
		FloatLinearFiltering: c.Device.FloatLinearFiltering,
		Instancing:           c.Device.Instancing,
	}
}

// RuntimeOptions maps the module, exports and frame sections to runtime
// options. Device, capture, logger and root are wired by the caller.
func (c *Config) RuntimeOptions() ([]runtime.Option, error) {
	pages, err := c.MemoryLimitPages()
	if err != nil {
		return nil, err
	}
	opts := []runtime.Option{
		runtime.WithThreads(c.Module.Threads),
		runtime.WithNamespace(c.Module.Namespace),
		runtime.WithExports(c.exports()),
		runtime.WithFPS(c.Frame.FPS),
		runtime.WithLossyText(c.Module.LossyText),
	}
	if pages > 0 {
		opts = append(opts, runtime.WithMemoryLimitPages(pages))
	}
	if c.Module.CacheDir != "" {
		opts = append(opts, runtime.WithCacheDir(c.Resolve(c.Module.CacheDir)))
	}
	if len(c.Module.Args) > 0 {
		opts = append(opts, runtime.WithArgs(c.Module.Args...))
	}
	return opts, nil
}

func (c *Config) exports() runtime.Exports {
	e := runtime.DefaultExports()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	x := c.Exports
	set(&e.Reserve, x.Reserve)
	set(&e.BeginAsync, x.BeginAsync)
	set(&e.CompleteAsync, x.CompleteAsync)
	set(&e.EntryPoint, x.EntryPoint)
	set(&e.InputEvent, x.InputEvent)
	set(&e.FrameTick, x.FrameTick)
	set(&e.SetStackPointer, x.SetStackPointer)
	set(&e.InitTLS, x.InitTLS)
	set(&e.AllocTLS, x.AllocTLS)
	set(&e.Ctors, x.Ctors)
	if len(x.Main) > 0 {
		e.Main = x.Main
	}
	return e
}
