package bridge

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// DefaultNamespace is the import module name of the bridge functions.
const DefaultNamespace = "bridge"

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

type hostFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	call    func(ctx context.Context, b *Bridge, stack []uint64)
}

func u32(v uint64) uint32 { return uint32(v) }

var hostFuncs = []hostFunc{
	{"free_handle", []api.ValueType{i32}, nil, func(_ context.Context, b *Bridge, s []uint64) {
		_ = b.FreeHandle(u32(s[0]))
	}},
	{"decode_string", []api.ValueType{i32, i32}, []api.ValueType{i32}, func(_ context.Context, b *Bridge, s []uint64) {
		h, err := b.DecodeString(u32(s[0]), u32(s[1]))
		s[0] = handleOrFailure(uint32(h), err)
	}},
	{"call_raw", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		h, err := b.CallRaw(ctx, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3]))
		s[0] = handleOrFailure(uint32(h), err)
	}},
	{"call_handles", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		h, err := b.CallHandles(ctx, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3]))
		s[0] = handleOrFailure(uint32(h), err)
	}},
	{"get_property", []api.ValueType{i32, i32}, []api.ValueType{i32}, func(_ context.Context, b *Bridge, s []uint64) {
		h, err := b.GetProperty(u32(s[0]), u32(s[1]))
		s[0] = handleOrFailure(uint32(h), err)
	}},
	{"get_u32", []api.ValueType{i32}, []api.ValueType{i32}, func(_ context.Context, b *Bridge, s []uint64) {
		v, _ := b.GetU32(u32(s[0]))
		s[0] = uint64(v)
	}},
	{"get_f64", []api.ValueType{i32}, []api.ValueType{f64}, func(_ context.Context, b *Bridge, s []uint64) {
		v, _ := b.GetF64(u32(s[0]))
		s[0] = api.EncodeF64(v)
	}},
	{"object_kind", []api.ValueType{i32}, []api.ValueType{i32}, func(_ context.Context, b *Bridge, s []uint64) {
		k, err := b.ObjectKind(u32(s[0]))
		s[0] = handleOrFailure(uint32(k), err)
	}},
	{"read_object", []api.ValueType{i32}, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		n, err := b.ReadObject(ctx, u32(s[0]))
		s[0] = handleOrFailure(n, err)
	}},
	{"spawn_context", []api.ValueType{i32, i32, i32}, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		s[0] = uint64(errors.CodeOf(b.SpawnContext(ctx, u32(s[0]), u32(s[1]), u32(s[2]))))
	}},
	{"request_async", []api.ValueType{i32}, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		s[0] = uint64(errors.CodeOf(b.RequestAsync(ctx, u32(s[0]))))
	}},
	{"submit_command_buffer", []api.ValueType{i32, i32, i32, i32, i32, i32}, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		err := b.SubmitCommandBuffer(ctx, u32(s[0]), u32(s[1]), u32(s[2]), u32(s[3]), u32(s[4]), u32(s[5]))
		s[0] = uint64(errors.CodeOf(err))
	}},
	{"last_error", nil, []api.ValueType{i32}, func(_ context.Context, b *Bridge, s []uint64) {
		code, _, _ := b.LastError()
		s[0] = uint64(code)
	}},
	{"last_error_message", nil, []api.ValueType{i32}, func(ctx context.Context, b *Bridge, s []uint64) {
		n, err := b.LastErrorMessage(ctx)
		if err != nil {
			b.log.Debug("last_error_message failed", zap.Error(err))
		}
		s[0] = uint64(n)
	}},
	{"last_error_index", nil, []api.ValueType{i32}, func(_ context.Context, b *Bridge, s []uint64) {
		_, _, idx := b.LastError()
		s[0] = uint64(uint32(int32(idx)))
	}},
}

func handleOrFailure(v uint32, err error) uint64 {
	if err != nil {
		return FailureHandle
	}
	return uint64(v)
}

// FunctionNames lists the functions exported by the bridge host module.
func FunctionNames() []string {
	names := make([]string, len(hostFuncs))
	for i, hf := range hostFuncs {
		names[i] = hf.name
	}
	return names
}

// Provides reports whether the bridge host module exports name.
func Provides(name string) bool {
	for _, hf := range hostFuncs {
		if hf.name == name {
			return true
		}
	}
	return false
}

// Instantiate registers the bridge host module in r under namespace. The
// functions serve every execution context of r: each call is routed to the
// Bridge carried by the call's context, which is bound to the calling
// module's memory on first use. A call without a Bridge traps.
func Instantiate(ctx context.Context, r wazero.Runtime, namespace string) (api.Module, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	hb := r.NewHostModuleBuilder(namespace)
	for _, hf := range hostFuncs {
		hb.NewFunctionBuilder().
			WithGoModuleFunction(route(hf), hf.params, hf.results).
			WithName(hf.name).
			Export(hf.name)
	}
	mod, err := hb.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(errors.PhaseBootstrap, err)
	}
	return mod, nil
}

func route(hf hostFunc) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		b := FromContext(ctx)
		if b == nil {
			Logger().Error("bridge function called outside an execution context", zap.String("function", hf.name))
			panic(errors.New(errors.PhaseHost, errors.KindProtocol).
				Detail("%s called outside an execution context", hf.name).
				Build())
		}
		b.bindIfNeeded(mod)
		hf.call(ctx, b, stack)
	}
}
