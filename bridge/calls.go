package bridge

import (
	"context"
	"math"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/marshal"
	"github.com/wippyai/wasm-bridge/object"
)

// FailureHandle is returned in place of a handle or length when a call
// fails. last_error then reports why.
const FailureHandle = 0xFFFFFFFF

// The methods below are the bridge functions as seen from Go. Each records
// its outcome for LastError.

// FreeHandle releases h.
func (b *Bridge) FreeHandle(h uint32) error {
	err := b.table.Release(object.Handle(h))
	b.record("free_handle", err)
	return err
}

// DecodeString registers the text at [ptr, ptr+length).
func (b *Bridge) DecodeString(ptr, length uint32) (object.Handle, error) {
	h, err := b.withMarshaler(func(m *marshal.Marshaler) (object.Handle, error) {
		return m.DecodeString(ptr, length)
	})
	b.record("decode_string", err)
	return h, err
}

// CallRaw calls fn with raw word arguments.
func (b *Bridge) CallRaw(ctx context.Context, fn, recv, argv, argc uint32) (object.Handle, error) {
	h, err := b.withMarshaler(func(m *marshal.Marshaler) (object.Handle, error) {
		return m.CallRaw(ctx, object.Handle(fn), object.Handle(recv), argv, argc)
	})
	b.record("call_raw", err)
	return h, err
}

// CallHandles calls fn with handle arguments.
func (b *Bridge) CallHandles(ctx context.Context, fn, recv, argv, argc uint32) (object.Handle, error) {
	h, err := b.withMarshaler(func(m *marshal.Marshaler) (object.Handle, error) {
		return m.CallHandles(ctx, object.Handle(fn), object.Handle(recv), argv, argc)
	})
	b.record("call_handles", err)
	return h, err
}

// GetProperty looks up a property of obj named by the text at name.
func (b *Bridge) GetProperty(obj, name uint32) (object.Handle, error) {
	h, err := b.withMarshaler(func(m *marshal.Marshaler) (object.Handle, error) {
		return m.GetProperty(object.Handle(obj), object.Handle(name))
	})
	b.record("get_property", err)
	return h, err
}

// GetU32 reads a numeric object as u32. It returns 0 on failure.
func (b *Bridge) GetU32(obj uint32) (uint32, error) {
	m, err := b.marshaler()
	var v uint32
	if err == nil {
		v, err = m.GetU32(object.Handle(obj))
	}
	b.record("get_u32", err)
	return v, err
}

// GetF64 reads a numeric object as f64. It returns NaN on failure.
func (b *Bridge) GetF64(obj uint32) (float64, error) {
	m, err := b.marshaler()
	v := math.NaN()
	if err == nil {
		v, err = m.GetF64(object.Handle(obj))
		if err != nil {
			v = math.NaN()
		}
	}
	b.record("get_f64", err)
	return v, err
}

// ObjectKind reports the kind of obj.
func (b *Bridge) ObjectKind(obj uint32) (object.Kind, error) {
	o, err := b.table.Resolve(object.Handle(obj))
	b.record("object_kind", err)
	if err != nil {
		return object.KindNull, err
	}
	return object.KindOf(o), nil
}

// ReadObject copies a text, bytes or failure object into a scratch region
// and returns its length.
func (b *Bridge) ReadObject(ctx context.Context, obj uint32) (uint32, error) {
	m, err := b.marshaler()
	var n uint32
	if err == nil {
		n, err = m.ReadObject(ctx, object.Handle(obj))
	}
	b.record("read_object", err)
	return n, err
}

// SpawnContext asks the host to start a secondary execution context.
func (b *Bridge) SpawnContext(ctx context.Context, entry, sp, tls uint32) error {
	var err error
	if b.host == nil {
		err = errors.Unsupported(errors.PhaseBootstrap, "execution contexts cannot be spawned here")
	} else {
		err = b.host.SpawnContext(ctx, entry, sp, tls)
	}
	b.record("spawn_context", err)
	return err
}

// RequestAsync asks the host to run the asynchronous operation token.
func (b *Bridge) RequestAsync(ctx context.Context, token uint32) error {
	var err error
	if b.host == nil {
		err = errors.Unsupported(errors.PhaseAsync, "asynchronous operations are not available")
	} else {
		err = b.host.RequestAsync(ctx, token)
	}
	b.record("request_async", err)
	return err
}

// SubmitCommandBuffer runs one command buffer.
func (b *Bridge) SubmitCommandBuffer(ctx context.Context, ops, opsLen, f, fLen, u, uLen uint32) error {
	var err error
	in := b.Interpreter()
	switch {
	case in != nil:
		err = in.Submit(ctx, ops, opsLen, f, fLen, u, uLen)
	case b.dev == nil:
		err = errors.Unsupported(errors.PhaseCommand, "no graphics device")
	default:
		_, err = b.marshaler()
	}
	b.record("submit_command_buffer", err)
	return err
}

// LastErrorMessage writes the message of the last failure into a scratch
// region and returns its length; 0 when the last call succeeded. It does
// not change the recorded status.
func (b *Bridge) LastErrorMessage(ctx context.Context) (uint32, error) {
	_, msg, _ := b.LastError()
	if msg == "" {
		return 0, nil
	}
	m, err := b.marshaler()
	if err != nil {
		return 0, err
	}
	_, n, err := m.EncodeAndReserve(ctx, msg)
	return n, err
}

func (b *Bridge) withMarshaler(fn func(*marshal.Marshaler) (object.Handle, error)) (object.Handle, error) {
	m, err := b.marshaler()
	if err != nil {
		return object.Null, err
	}
	return fn(m)
}
