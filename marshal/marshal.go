package marshal

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memview"
	"github.com/wippyai/wasm-bridge/object"
)

// Marshaler moves values between linear memory and the object table of one
// execution context.
type Marshaler struct {
	mem     wasmbridge.Memory
	table   *object.Table
	scratch *Scratch
	log     *zap.Logger
	lossy   bool
}

// Option configures a Marshaler.
type Option func(*Marshaler)

// WithLossyText replaces invalid UTF-8 with U+FFFD instead of failing.
func WithLossyText() Option {
	return func(m *Marshaler) {
		m.lossy = true
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(m *Marshaler) {
		m.log = l
	}
}

// New creates a Marshaler over mem and table. scratch may be nil when the
// compute module exports no reserve entry point.
func New(mem wasmbridge.Memory, table *object.Table, scratch *Scratch, opts ...Option) *Marshaler {
	m := &Marshaler{
		mem:     mem,
		table:   table,
		scratch: scratch,
		log:     Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Table returns the object table.
func (m *Marshaler) Table() *object.Table { return m.table }

// Memory returns the memory region.
func (m *Marshaler) Memory() wasmbridge.Memory { return m.mem }

// DecodeString registers the UTF-8 text at [offset, offset+length).
func (m *Marshaler) DecodeString(offset, length uint32) (object.Handle, error) {
	b, err := memview.Bytes(m.mem, offset, length)
	if err != nil {
		return object.Null, err
	}
	var text string
	if utf8.Valid(b) {
		text = string(b)
	} else if m.lossy {
		text = strings.ToValidUTF8(string(b), "\uFFFD")
	} else {
		return object.Null, errors.InvalidUTF8(errors.PhaseMarshal, offset, b)
	}
	return m.table.Register(object.Text(text)), nil
}

// EncodeAndReserve writes text into a scratch region obtained from the
// compute module and returns that region.
func (m *Marshaler) EncodeAndReserve(ctx context.Context, text string) (offset, length uint32, err error) {
	return m.EncodeBytes(ctx, []byte(text))
}

// EncodeBytes writes data into a scratch region obtained from the compute
// module and returns that region.
func (m *Marshaler) EncodeBytes(ctx context.Context, data []byte) (offset, length uint32, err error) {
	if m.scratch == nil {
		return 0, 0, errors.Unsupported(errors.PhaseMarshal, "compute module exports no reserve entry point")
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return 0, 0, errors.OutOfRange(errors.PhaseMarshal, 0, uint64(len(data)), m.mem.Size())
	}
	length = uint32(len(data))
	err = m.scratch.With(ctx, length, func(off uint32) error {
		offset = off
		return memview.Write(m.mem, off, data)
	})
	if err != nil {
		return 0, 0, err
	}
	return offset, length, nil
}

// ReadObject copies a Text, Bytes or Failure object to the compute side and
// returns the number of bytes written to the scratch region.
func (m *Marshaler) ReadObject(ctx context.Context, h object.Handle) (uint32, error) {
	obj, err := m.table.Resolve(h)
	if err != nil {
		return 0, err
	}
	var data []byte
	switch v := obj.(type) {
	case object.Text:
		data = []byte(v)
	case object.Bytes:
		data = v
	case *object.Failure:
		data = []byte(v.Message())
	default:
		return 0, errors.TypeMismatch(errors.PhaseMarshal, uint32(h), "text or bytes", object.KindOf(obj).String())
	}
	_, n, err := m.EncodeBytes(ctx, data)
	return n, err
}

// CallRaw invokes the callable fn with receiver recv. The argc words at argv
// are passed unresolved.
func (m *Marshaler) CallRaw(ctx context.Context, fn, recv object.Handle, argv, argc uint32) (object.Handle, error) {
	words, err := m.argWords(argv, argc)
	if err != nil {
		return object.Null, err
	}
	args := make([]object.Object, len(words))
	for i, w := range words {
		args[i] = object.Numeric(w)
	}
	return m.call(ctx, fn, recv, args, words)
}

// CallHandles invokes the callable fn with receiver recv. Each of the argc
// words at argv is resolved as a handle first.
func (m *Marshaler) CallHandles(ctx context.Context, fn, recv object.Handle, argv, argc uint32) (object.Handle, error) {
	words, err := m.argWords(argv, argc)
	if err != nil {
		return object.Null, err
	}
	args := make([]object.Object, len(words))
	for i, w := range words {
		obj, err := m.table.Resolve(object.Handle(w))
		if err != nil {
			return object.Null, err
		}
		args[i] = obj
	}
	return m.call(ctx, fn, recv, args, words)
}

func (m *Marshaler) argWords(argv, argc uint32) ([]uint32, error) {
	if argc == 0 {
		return nil, nil
	}
	view, err := memview.Uint32s(m.mem, argv, argc)
	if err != nil {
		return nil, err
	}
	return view.Copy(), nil
}

func (m *Marshaler) call(ctx context.Context, fn, recv object.Handle, args []object.Object, raw []uint32) (object.Handle, error) {
	f, err := object.As[object.Func](m.table, fn)
	if err != nil {
		return object.Null, err
	}
	this, err := m.table.Resolve(recv)
	if err != nil {
		return object.Null, err
	}
	result, err := f(ctx, object.Call{
		This:   this,
		Args:   args,
		Raw:    raw,
		Memory: m.mem,
		Table:  m.table,
	})
	if err != nil {
		return object.Null, errors.New(errors.PhaseHost, errors.KindHostFailure).
			Detail("callable %d failed", fn).
			Cause(err).
			Build()
	}
	return m.table.Register(result), nil
}

// GetProperty looks up the property named by the Text object at name. An
// absent property is logged and yields Null.
func (m *Marshaler) GetProperty(obj, name object.Handle) (object.Handle, error) {
	target, err := m.table.Resolve(obj)
	if err != nil {
		return object.Null, err
	}
	key, err := object.As[object.Text](m.table, name)
	if err != nil {
		return object.Null, err
	}
	holder, ok := target.(object.PropertyHolder)
	if !ok {
		m.log.Debug("property lookup on object without properties",
			zap.Uint32("handle", uint32(obj)),
			zap.Stringer("kind", object.KindOf(target)),
			zap.String("property", string(key)))
		return object.Null, nil
	}
	v, ok := holder.Property(string(key))
	if !ok || v == nil {
		m.log.Debug("property not found",
			zap.Uint32("handle", uint32(obj)),
			zap.String("property", string(key)))
		return object.Null, nil
	}
	return m.table.Register(v), nil
}

// GetU32 reads a Numeric object as u32.
func (m *Marshaler) GetU32(h object.Handle) (uint32, error) {
	n, err := object.As[object.Numeric](m.table, h)
	if err != nil {
		return 0, err
	}
	return n.U32(), nil
}

// GetF64 reads a Numeric object as f64.
func (m *Marshaler) GetF64(h object.Handle) (float64, error) {
	n, err := object.As[object.Numeric](m.table, h)
	if err != nil {
		return 0, err
	}
	return n.F64(), nil
}

// Kind reports the kind of the object behind h.
func (m *Marshaler) Kind(h object.Handle) (object.Kind, error) {
	obj, err := m.table.Resolve(h)
	if err != nil {
		return object.KindNull, err
	}
	return object.KindOf(obj), nil
}
