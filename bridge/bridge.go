package bridge

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/cmdbuf"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/marshal"
	"github.com/wippyai/wasm-bridge/object"
)

// DefaultReserveExport is the compute-side export that hands out scratch
// regions.
const DefaultReserveExport = "reserve_scratch"

// Host carries out the bridge calls that reach beyond one execution
// context.
type Host interface {
	// SpawnContext starts a secondary execution context. It returns once the
	// descriptor has been taken over; the context runs on its own.
	SpawnContext(ctx context.Context, entry, stackPointer, tls uint32) error
	// RequestAsync starts the asynchronous operation identified by token.
	RequestAsync(ctx context.Context, token uint32) error
}

// Bridge is the host side of one execution context: its object table, its
// view of linear memory and its command interpreter. Host functions find
// the Bridge of the calling context through the call's context.Context.
type Bridge struct {
	id      string
	table   *object.Table
	dev     gfx.Device
	host    Host
	log     *zap.Logger
	reserve string
	lossy   bool

	mu      sync.Mutex
	mem     wasmbridge.Memory
	marsh   *marshal.Marshaler
	interp  *cmdbuf.Interpreter
	scratch *marshal.Scratch
	last    lastError
}

type lastError struct {
	code  errors.Code
	msg   string
	index int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. The bridge adds its context id as a field.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithLossyText decodes invalid UTF-8 with replacement characters.
func WithLossyText(lossy bool) Option {
	return func(b *Bridge) {
		b.lossy = lossy
	}
}

// WithReserveExport overrides the name of the scratch reservation export.
func WithReserveExport(name string) Option {
	return func(b *Bridge) {
		b.reserve = name
	}
}

// New creates a bridge for the execution context id. dev and host may be
// nil; the calls that need them then fail with an unsupported-capability
// status.
func New(id string, table *object.Table, dev gfx.Device, host Host, opts ...Option) *Bridge {
	b := &Bridge{
		id:      id,
		table:   table,
		dev:     dev,
		host:    host,
		log:     Logger(),
		reserve: DefaultReserveExport,
		last:    lastError{index: -1},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(zap.String("context", id))
	return b
}

// ID returns the execution context id.
func (b *Bridge) ID() string { return b.id }

// Table returns the context's object table.
func (b *Bridge) Table() *object.Table { return b.table }

// Bind attaches the bridge to linear memory. reserve may be nil when the
// compute module exports no reservation function.
func (b *Bridge) Bind(mem wasmbridge.Memory, reserve marshal.Reserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindLocked(mem, reserve)
}

func (b *Bridge) bindLocked(mem wasmbridge.Memory, reserve marshal.Reserver) {
	b.mem = mem
	b.scratch = nil
	if reserve != nil {
		b.scratch = marshal.NewScratch(reserve)
	}
	opts := []marshal.Option{marshal.WithLogger(b.log)}
	if b.lossy {
		opts = append(opts, marshal.WithLossyText())
	}
	b.marsh = marshal.New(mem, b.table, b.scratch, opts...)
	if b.dev != nil {
		b.interp = cmdbuf.New(b.dev, b.table, mem, cmdbuf.WithLogger(b.log))
	}
}

// BindModule attaches the bridge to a compute module instance's memory and
// reservation export.
func (b *Bridge) BindModule(mod api.Module) {
	b.Bind(mod.Memory(), moduleReserver(mod, b.reserve))
}

// bindIfNeeded binds to the calling module on first use.
func (b *Bridge) bindIfNeeded(mod api.Module) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem != nil || mod == nil || mod.Memory() == nil {
		return
	}
	b.bindLocked(mod.Memory(), moduleReserver(mod, b.reserve))
}

func moduleReserver(mod api.Module, name string) marshal.Reserver {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	return marshal.ReserverFunc(func(ctx context.Context, length uint32) (uint32, error) {
		res, err := fn.Call(ctx, uint64(length))
		if err != nil {
			return 0, errors.Wrap(errors.PhaseMarshal, errors.KindHostFailure, err, name+" trapped")
		}
		if len(res) == 0 {
			return 0, errors.Protocol(errors.PhaseMarshal, -1, "%s returned no offset", name)
		}
		return uint32(res[0]), nil
	})
}

// Marshaler returns the marshaler, or nil before the bridge is bound.
func (b *Bridge) Marshaler() *marshal.Marshaler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marsh
}

// Interpreter returns the command interpreter, or nil when the bridge is
// unbound or has no device.
func (b *Bridge) Interpreter() *cmdbuf.Interpreter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interp
}

// Memory returns the bound memory.
func (b *Bridge) Memory() wasmbridge.Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem
}

func (b *Bridge) marshaler() (*marshal.Marshaler, error) {
	m := b.Marshaler()
	if m == nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindProtocol).
			Detail("execution context has no memory bound").
			Build()
	}
	return m, nil
}

// record stores the outcome of a fallible call for last_error and friends.
func (b *Bridge) record(op string, err error) errors.Code {
	code := errors.CodeOf(err)
	idx, _ := errors.IndexOf(err)
	b.mu.Lock()
	b.last = lastError{code: code, index: idx}
	if err != nil {
		b.last.msg = err.Error()
	}
	b.mu.Unlock()

	if err != nil {
		fields := []zap.Field{zap.String("op", op), zap.Uint32("code", uint32(code)), zap.Error(err)}
		if idx >= 0 {
			fields = append(fields, zap.Int("index", idx))
		}
		if code == errors.CodeHostFailure {
			b.log.Warn("bridge call failed", fields...)
		} else {
			b.log.Debug("bridge call failed", fields...)
		}
	}
	return code
}

// LastError returns the status of the most recent fallible bridge call.
func (b *Bridge) LastError() (code errors.Code, msg string, index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last.code, b.last.msg, b.last.index
}

// Close releases every live object in the table.
func (b *Bridge) Close() error {
	return b.table.Close()
}

type ctxKeyBridge struct{}

// WithContext returns ctx carrying b. Compute exports must be called with
// such a context for the bridge's host functions to work.
func WithContext(ctx context.Context, b *Bridge) context.Context {
	return context.WithValue(ctx, ctxKeyBridge{}, b)
}

// FromContext returns the bridge carried by ctx, or nil.
func FromContext(ctx context.Context) *Bridge {
	if v := ctx.Value(ctxKeyBridge{}); v != nil {
		return v.(*Bridge)
	}
	return nil
}
