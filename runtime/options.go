package runtime

import (
	"io"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/object"
)

// Exports names the compute-module exports the runtime calls.
type Exports struct {
	Reserve         string
	BeginAsync      string
	CompleteAsync   string
	EntryPoint      string
	InputEvent      string
	FrameTick       string
	SetStackPointer string
	InitTLS         string
	AllocTLS        string
	Ctors           string
	// Main lists the startup exports tried in order on the primary context.
	Main []string
}

// DefaultExports returns the conventional export names.
func DefaultExports() Exports {
	return Exports{
		Reserve:         bridge.DefaultReserveExport,
		BeginAsync:      "begin_async",
		CompleteAsync:   "complete_async",
		EntryPoint:      "entry_point",
		InputEvent:      "on_input_event",
		FrameTick:       "on_frame_tick",
		SetStackPointer: "set_stack_pointer",
		InitTLS:         "__wasm_init_tls",
		AllocTLS:        "alloc_tls",
		Ctors:           "__wasm_call_ctors",
		Main:            []string{"main", "_start"},
	}
}

// HostFunc is a host function made available to the primary context only.
// Secondary contexts in private runtimes see a logging no-op in its place.
type HostFunc struct {
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      api.GoModuleFunc
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	threads          bool
	device           gfx.Device
	capture          gfx.Sink
	logger           *zap.Logger
	namespace        string
	exports          Exports
	memoryLimitPages uint32
	cache            wazero.CompilationCache
	cacheDir         string
	frameInterval    time.Duration
	lossy            bool
	root             object.Object
	hostFuncs        []HostFunc
	stdout           io.Writer
	stderr           io.Writer
	args             []string
}

func defaultOptions() options {
	return options{
		threads:   true,
		namespace: bridge.DefaultNamespace,
		exports:   DefaultExports(),
		root:      object.NewRecord("root"),
	}
}

// WithThreads enables the threads proposal so execution contexts can share
// one memory. When disabled, or when the module does not import a shared
// memory, secondary contexts run on private copies.
func WithThreads(enabled bool) Option {
	return func(o *options) {
		o.threads = enabled
	}
}

// WithDevice sets the graphics device command buffers are executed on.
// Without one, submit_command_buffer reports an unsupported capability.
func WithDevice(dev gfx.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithCapture records every successful device call into sink.
func WithCapture(sink gfx.Sink) Option {
	return func(o *options) {
		o.capture = sink
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithNamespace sets the import module name of the bridge functions.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithExports overrides the names of the exports the runtime calls.
func WithExports(e Exports) Option {
	return func(o *options) {
		o.exports = e
	}
}

// WithMemoryLimitPages caps every memory at n 64KiB pages.
func WithMemoryLimitPages(n uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = n
	}
}

// WithCompilationCache shares an existing compilation cache. The caller
// keeps ownership.
func WithCompilationCache(c wazero.CompilationCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithCacheDir persists compiled code under dir.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithFPS delivers on_frame_tick to the primary context fps times per
// second while Run is active. Zero disables ticks.
func WithFPS(fps float64) Option {
	return func(o *options) {
		o.frameInterval = fpsInterval(fps)
	}
}

func fpsInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// WithLossyText decodes invalid UTF-8 with replacement characters instead
// of failing.
func WithLossyText(lossy bool) Option {
	return func(o *options) {
		o.lossy = lossy
	}
}

// WithRoot sets the root object every context's table resolves handle 1 to.
func WithRoot(root object.Object) Option {
	return func(o *options) {
		o.root = root
	}
}

// WithHostFunc adds a primary-only host function.
func WithHostFunc(f HostFunc) Option {
	return func(o *options) {
		o.hostFuncs = append(o.hostFuncs, f)
	}
}

// WithStdio connects WASI stdout and stderr for modules that import WASI.
func WithStdio(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithArgs sets the WASI program arguments.
func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = args
	}
}
