package runtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

const startExport = "_start"

// Input event kinds used by the bundled front ends. Guests may define more.
const (
	InputKey     uint32 = 1
	InputPointer uint32 = 2
	InputResize  uint32 = 3
)

// InputEvent is delivered to the primary context's on_input_event export.
type InputEvent struct {
	Kind uint32
	Code uint32
	X, Y float64
}

// Stats counts the work a context's event loop has done.
type Stats struct {
	Frames         uint64
	Inputs         uint64
	FuturesStarted uint64
	FuturesSettled uint64
	Spawned        uint64
	Pending        int
	Secondaries    int
}

// Context is one execution context: a module instance, its bridge and, for
// the primary context, the event loop that delivers settlements, input and
// frame ticks.
type Context struct {
	id      string
	rt      *Runtime
	primary bool
	log     *zap.Logger
	bridge  *bridge.Bridge
	mod     api.Module
	eng     *engine

	inbox *mailbox

	mu      sync.Mutex
	pending map[uint32]struct{}
	live    int

	frames   atomic.Uint64
	inputs   atomic.Uint64
	started  atomic.Uint64
	settled  atomic.Uint64
	spawned  atomic.Uint64
	closeErr error
	once     sync.Once
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// IsPrimary reports whether c is the primary context.
func (c *Context) IsPrimary() bool { return c.primary }

// Bridge returns the context's bridge.
func (c *Context) Bridge() *bridge.Bridge { return c.bridge }

// Module returns the module instance.
func (c *Context) Module() api.Module { return c.mod }

func (c *Context) instantiate(ctx context.Context, eng *engine, owned bool) error {
	mod, err := eng.rt.InstantiateModule(bridge.WithContext(ctx, c.bridge), eng.compiled, c.rt.moduleConfig())
	if err != nil {
		return errors.Instantiation(errors.PhaseBootstrap, err)
	}
	c.mod = mod
	if owned {
		c.eng = eng
	}
	if mod.Memory() != nil {
		c.bridge.BindModule(mod)
	}
	return nil
}

func (c *Context) has(name string) bool {
	return name != "" && c.mod.ExportedFunction(name) != nil
}

// Call invokes an export of the module with the context's bridge attached.
// Calls into one context must not overlap.
func (c *Context) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := c.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseBootstrap, "export", name)
	}
	res, err := fn.Call(bridge.WithContext(ctx, c.bridge), args...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, name+" trapped")
	}
	return res, nil
}

// start runs the primary startup sequence.
func (c *Context) start(ctx context.Context) error {
	ex := c.rt.opts.exports
	if c.rt.shared && c.has(ex.AllocTLS) && c.has(ex.InitTLS) {
		res, err := c.Call(ctx, ex.AllocTLS)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return errors.Protocol(errors.PhaseBootstrap, -1, "%s returned nothing", ex.AllocTLS)
		}
		if _, err := c.Call(ctx, ex.InitTLS, res[0]); err != nil {
			return err
		}
		c.log.Debug("thread-local storage initialized", zap.Uint32("tls", uint32(res[0])))
	}

	main := ""
	for _, name := range ex.Main {
		if c.has(name) {
			main = name
			break
		}
	}
	if main != startExport && c.has(ex.Ctors) {
		if _, err := c.Call(ctx, ex.Ctors); err != nil {
			return err
		}
	}
	if main == "" {
		c.log.Debug("no startup export")
		return nil
	}

	args := make([]uint64, len(c.mod.ExportedFunction(main).Definition().ParamTypes()))
	_, err := c.Call(ctx, main, args...)
	var exit *sys.ExitError
	if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
		err = nil
	}
	if err != nil {
		return err
	}
	c.log.Debug("startup finished", zap.String("export", main))
	return nil
}

// SpawnContext starts a secondary context running entry. It implements
// bridge.Host.
func (c *Context) SpawnContext(ctx context.Context, entry, stackPointer, tls uint32) error {
	return c.rt.spawn(ctx, c, entry, stackPointer, tls)
}

// RequestAsync starts the asynchronous operation token. The primary
// context runs it at once; a secondary context forwards it to the primary
// event loop. It implements bridge.Host.
func (c *Context) RequestAsync(ctx context.Context, token uint32) error {
	if c.primary {
		return c.runFuture(ctx, token)
	}
	p := c.rt.Primary()
	if p == nil {
		return errors.New(errors.PhaseAsync, errors.KindClosed).Detail("no primary context").Build()
	}
	p.inbox.push(asyncRequest{token: token, from: c.id})
	c.log.Debug("async request forwarded", zap.Uint32("token", token))
	return nil
}

// Post queues an input event for the primary event loop.
func (c *Context) Post(ev InputEvent) {
	if c.inbox != nil {
		c.inbox.push(inputMessage{event: ev})
	}
}

// SetFPS changes the frame tick rate of a running event loop. Zero stops
// frame ticks.
func (c *Context) SetFPS(fps float64) {
	if c.inbox != nil {
		c.inbox.push(frameRate{interval: fpsInterval(fps)})
	}
}

// Run drives the primary context: it delivers settlements, forwarded
// requests, input events and frame ticks until ctx is done. Without frame
// ticks it returns nil as soon as nothing is left to wait for. A trap in a
// delivery export stops the loop.
func (c *Context) Run(ctx context.Context) error {
	if !c.primary {
		return errors.New(errors.PhaseAsync, errors.KindProtocol).
			Detail("only the primary context runs an event loop").
			Build()
	}

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	retick := func(iv time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if iv > 0 && c.has(c.rt.opts.exports.FrameTick) {
			ticker = time.NewTicker(iv)
			tick = ticker.C
		}
	}
	retick(c.rt.opts.frameInterval)
	defer func() { retick(0) }()

	for {
		for _, msg := range c.inbox.drain() {
			if fr, ok := msg.(frameRate); ok {
				retick(fr.interval)
				c.log.Info("frame rate changed", zap.Duration("interval", fr.interval))
				continue
			}
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
		}
		if tick == nil && c.idle() {
			return nil
		}
		select {
		case <-c.inbox.ready:
		case <-tick:
			if _, err := c.Call(ctx, c.rt.opts.exports.FrameTick); err != nil {
				return err
			}
			c.frames.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Context) handle(ctx context.Context, msg message) error {
	switch m := msg.(type) {
	case asyncRequest:
		if err := c.runFuture(ctx, m.token); err != nil {
			c.log.Warn("forwarded async request failed",
				zap.Uint32("token", m.token), zap.String("from", m.from), zap.Error(err))
		}
	case settlement:
		return c.settle(ctx, m)
	case inputMessage:
		name := c.rt.opts.exports.InputEvent
		if !c.has(name) {
			c.log.Debug("input event dropped", zap.Uint32("kind", m.event.Kind))
			return nil
		}
		if _, err := c.Call(ctx, name, uint64(m.event.Kind), uint64(m.event.Code),
			api.EncodeF64(m.event.X), api.EncodeF64(m.event.Y)); err != nil {
			return err
		}
		c.inputs.Add(1)
	case contextDone:
		c.mu.Lock()
		c.live--
		c.mu.Unlock()
		if m.err != nil {
			c.log.Error("secondary context failed", zap.String("secondary", m.id), zap.Error(m.err))
		} else {
			c.log.Debug("secondary context finished", zap.String("secondary", m.id))
		}
	}
	return nil
}

func (c *Context) idle() bool {
	c.mu.Lock()
	busy := len(c.pending) > 0 || c.live > 0
	c.mu.Unlock()
	return !busy && c.inbox.len() == 0
}

// Stats returns the context's counters.
func (c *Context) Stats() Stats {
	s := Stats{
		Frames:         c.frames.Load(),
		Inputs:         c.inputs.Load(),
		FuturesStarted: c.started.Load(),
		FuturesSettled: c.settled.Load(),
		Spawned:        c.spawned.Load(),
	}
	c.mu.Lock()
	s.Pending = len(c.pending)
	s.Secondaries = c.live
	c.mu.Unlock()
	return s
}

// Close drops the context's objects and closes its module instance.
func (c *Context) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.closeErr = c.bridge.Close()
		if c.mod != nil {
			c.closeErr = multierr.Append(c.closeErr, c.mod.Close(ctx))
		}
		if c.eng != nil {
			c.closeErr = multierr.Append(c.closeErr, c.eng.close(ctx))
		}
		c.rt.forget(c)
	})
	return c.closeErr
}
