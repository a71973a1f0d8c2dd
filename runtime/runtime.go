package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/internal/wasmbin"
	"github.com/wippyai/wasm-bridge/object"
)

const threadsFeature = experimental.CoreFeaturesThreads

// Runtime hosts one compute module: the primary execution context and every
// secondary context it spawns.
type Runtime struct {
	opts   options
	log    *zap.Logger
	wasm   []byte
	info   *wasmbin.Info
	device gfx.Device

	shared         bool
	threadsFeature bool
	usesWASI       bool

	cache    wazero.CompilationCache
	ownCache bool
	eng      *engine

	// base outlives individual calls; secondary contexts and pending
	// operations run under it until Close.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	primary  *Context
	contexts map[string]*Context
	wg       sync.WaitGroup
	closed   bool
}

// New compiles wasm and prepares the primary runtime. It probes the
// module's memory import: with threads enabled and a shared memory import,
// every context shares one memory; otherwise secondary contexts get private
// copies.
func New(ctx context.Context, wasm []byte, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	info, err := wasmbin.Scan(wasm)
	if err != nil {
		return nil, err
	}
	for _, hf := range o.hostFuncs {
		if hf.Module == o.namespace || hf.Module == wasi_snapshot_preview1.ModuleName {
			return nil, errors.InvalidInput(errors.PhaseConfig, "host function module "+hf.Module+" is reserved")
		}
	}

	r := &Runtime{
		opts:     o,
		log:      log,
		wasm:     wasm,
		info:     info,
		device:   o.device,
		contexts: make(map[string]*Context),
	}
	r.shared = o.threads && info.SharedMemory()
	r.threadsFeature = o.threads || info.SharedMemory()
	for _, imp := range info.Imports {
		if imp.Module == wasi_snapshot_preview1.ModuleName {
			r.usesWASI = true
			break
		}
	}
	if !r.shared {
		log.Warn("contexts will not share memory",
			zap.Error(errors.Unsupported(errors.PhaseBootstrap, "shared memory")),
			zap.Bool("threads", o.threads),
			zap.Bool("shared_import", info.SharedMemory()))
	}
	if r.device != nil && o.capture != nil {
		r.device = gfx.NewRecorder(r.device, o.capture)
	}

	switch {
	case o.cache != nil:
		r.cache = o.cache
	case o.cacheDir != "":
		r.cache, err = wazero.NewCompilationCacheWithDir(o.cacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "compilation cache")
		}
		r.ownCache = true
	default:
		r.cache = wazero.NewCompilationCache()
		r.ownCache = true
	}

	r.base, r.cancel = context.WithCancel(context.Background())
	r.eng, err = r.newEngine(ctx, true)
	if err != nil {
		r.cancel()
		if r.ownCache {
			err = multierr.Append(err, r.cache.Close(ctx))
		}
		return nil, err
	}
	log.Debug("runtime ready",
		zap.Bool("shared", r.shared),
		zap.Bool("wasi", r.usesWASI),
		zap.Int("imports", len(info.Imports)))
	return r, nil
}

// Shared reports whether execution contexts share one memory.
func (r *Runtime) Shared() bool { return r.shared }

// Device returns the graphics device command buffers run on, or nil.
func (r *Runtime) Device() gfx.Device { return r.device }

// Primary returns the primary context once Start has succeeded.
func (r *Runtime) Primary() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// Contexts reports the number of live execution contexts.
func (r *Runtime) Contexts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Start instantiates the primary context and runs its startup sequence:
// thread-local storage setup on the shared path, module initializers, then
// main or _start. Asynchronous work it requested is driven by Context.Run.
func (r *Runtime) Start(ctx context.Context) (*Context, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, errors.New(errors.PhaseBootstrap, errors.KindClosed).Detail("runtime closed").Build()
	case r.primary != nil:
		r.mu.Unlock()
		return nil, errors.New(errors.PhaseBootstrap, errors.KindProtocol).Detail("primary context already started").Build()
	}
	c := r.newContext(uuid.NewString(), true)
	r.primary = c
	r.contexts[c.id] = c
	r.mu.Unlock()

	if err := c.instantiate(ctx, r.eng, false); err != nil {
		r.forget(c)
		return nil, err
	}
	if err := c.start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Runtime) newContext(id string, primary bool) *Context {
	log := r.log.With(zap.String("context", id), zap.Bool("primary", primary))
	c := &Context{
		id:      id,
		rt:      r,
		primary: primary,
		log:     log,
	}
	if primary {
		c.inbox = newMailbox()
		c.pending = make(map[uint32]struct{})
	}
	bopts := []bridge.Option{
		bridge.WithLogger(r.log.With(zap.Bool("primary", primary))),
		bridge.WithLossyText(r.opts.lossy),
		bridge.WithReserveExport(r.opts.exports.Reserve),
	}
	c.bridge = bridge.New(id, object.NewTable(r.opts.root), r.device, c, bopts...)
	return c
}

func (r *Runtime) moduleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()
	if r.usesWASI {
		cfg = cfg.WithSysWalltime().WithSysNanotime()
		if r.opts.stdout != nil {
			cfg = cfg.WithStdout(r.opts.stdout)
		}
		if r.opts.stderr != nil {
			cfg = cfg.WithStderr(r.opts.stderr)
		}
		if len(r.opts.args) > 0 {
			cfg = cfg.WithArgs(r.opts.args...)
		}
	}
	return cfg
}

func (r *Runtime) track(c *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.contexts[c.id] = c
	return true
}

func (r *Runtime) forget(c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, c.id)
	if r.primary == c {
		r.primary = nil
	}
}

// Close stops every context and releases the runtime. Running secondary
// contexts are interrupted.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	primary := r.primary
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	var err error
	if primary != nil {
		err = multierr.Append(err, primary.Close(ctx))
	}
	err = multierr.Append(err, r.eng.close(ctx))
	if r.ownCache {
		err = multierr.Append(err, r.cache.Close(ctx))
	}
	return err
}
