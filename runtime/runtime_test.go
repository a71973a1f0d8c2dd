package runtime

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/internal/wasmbin"
	"github.com/wippyai/wasm-bridge/object"
)

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

// Addresses the test guest writes to.
const (
	addrStarted   = 0x10
	addrStatus    = 0x14
	addrSP        = 0x24
	addrEntry     = 0x28
	addrEntries   = 0x2C
	addrCompleted = 0x38
	addrInputCode = 0x40
	addrInputs    = 0x44
	addrTicks     = 0x48
	addrCtors     = 0x4C
	addrResults   = 0x200
	stackPointer  = 0x1000
	tlsBlock      = 0x2000
	primaryTLS    = 0x3000
)

// guest builds a module that imports its memory from env, calls ping from
// pingModule, spawns one secondary context running entry 7 and requests
// token 5. The secondary requests token 100 plus the word at addrStarted.
// complete_async stores each result handle at addrResults+token.
func guest(shared bool, pingModule string) []byte {
	b := wasmbin.NewBuilder()
	spawn := b.ImportFunc(bridge.DefaultNamespace, "spawn_context", []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	request := b.ImportFunc(bridge.DefaultNamespace, "request_async", []api.ValueType{i32}, []api.ValueType{i32})
	decode := b.ImportFunc(bridge.DefaultNamespace, "decode_string", []api.ValueType{i32, i32}, []api.ValueType{i32})
	getProp := b.ImportFunc(bridge.DefaultNamespace, "get_property", []api.ValueType{i32, i32}, []api.ValueType{i32})
	ping := b.ImportFunc(pingModule, "ping", nil, nil)
	b.ImportMemory("env", "memory", wasmbin.Limits{Min: 1, Max: 16, HasMax: true, Shared: shared})

	b.Func("reserve_scratch", []api.ValueType{i32}, []api.ValueType{i32}, nil,
		wasmbin.NewCode().I32Const(0x8000).Bytes())
	b.Func("alloc_tls", nil, []api.ValueType{i32}, nil,
		wasmbin.NewCode().I32Const(primaryTLS).Bytes())
	b.Func("__wasm_init_tls", []api.ValueType{i32}, nil, nil,
		wasmbin.NewCode().LocalGet(0).LocalGet(0).I32Store(0).Bytes())
	b.Func("__wasm_call_ctors", nil, nil, nil,
		wasmbin.NewCode().Increment(addrCtors).Bytes())
	b.Func("set_stack_pointer", []api.ValueType{i32}, nil, nil,
		wasmbin.NewCode().StoreLocal(addrSP, 0).Bytes())
	b.Func("main", nil, nil, nil, wasmbin.NewCode().
		StoreU32(addrStarted, 1).
		Call(ping).
		I32Const(7).I32Const(stackPointer).I32Const(tlsBlock).Call(spawn).Drop().
		I32Const(addrStatus).I32Const(5).Call(request).I32Store(0).
		Bytes())
	b.Func("entry_point", []api.ValueType{i32}, nil, nil, wasmbin.NewCode().
		StoreLocal(addrEntry, 0).
		Increment(addrEntries).
		Call(ping).
		U32Const(addrStarted).I32Load(0).I32Const(100).I32Add().Call(request).Drop().
		Bytes())
	b.Func("begin_async", []api.ValueType{i32}, []api.ValueType{i32}, nil, wasmbin.NewCode().
		I32Const(int32(object.Root)).
		I32Const(0x100).I32Const(3).Call(decode).
		Call(getProp).
		Bytes())
	b.Func("complete_async", []api.ValueType{i32, i32}, nil, nil, wasmbin.NewCode().
		LocalGet(0).I32Const(addrResults).I32Add().LocalGet(1).I32Store(0).
		Increment(addrCompleted).
		Bytes())
	b.Func("on_input_event", []api.ValueType{i32, i32, f64, f64}, nil, nil, wasmbin.NewCode().
		StoreLocal(addrInputCode, 1).
		Increment(addrInputs).
		Bytes())
	b.Func("on_frame_tick", nil, nil, nil, wasmbin.NewCode().Increment(addrTicks).Bytes())
	b.Data(0x100, []byte("job"))
	return b.Bytes()
}

type fixture struct {
	rt      *Runtime
	primary *Context
	pings   *atomic.Int32
}

func start(t *testing.T, wasm []byte, pingModule string, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{pings: new(atomic.Int32)}
	opts = append([]Option{
		WithRoot(object.NewRecord("root").Set("job", object.Resolved("job", object.Numeric(42), nil))),
		WithHostFunc(HostFunc{
			Module: pingModule,
			Name:   "ping",
			Fn: func(context.Context, api.Module, []uint64) {
				f.pings.Add(1)
			},
		}),
	}, opts...)

	rt, err := New(ctx, wasm, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	f.rt = rt

	f.primary, err = rt.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.primary.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func (f *fixture) word(t *testing.T, addr uint32) uint32 {
	t.Helper()
	v, ok := f.primary.Module().Memory().ReadUint32Le(addr)
	if !ok {
		t.Fatalf("read %#x out of range", addr)
	}
	return v
}

func TestRuntime_SharedMemory(t *testing.T) {
	f := start(t, guest(true, "host"), "host", WithThreads(true))
	if !f.rt.Shared() {
		t.Fatal("shared memory not detected")
	}
	f.run(t)

	checks := []struct {
		name string
		addr uint32
		want uint32
	}{
		{"main ran", addrStarted, 1},
		{"request status", addrStatus, uint32(errors.CodeOK)},
		{"ctors once", addrCtors, 1},
		{"primary tls", primaryTLS, primaryTLS},
		{"secondary tls", tlsBlock, tlsBlock},
		{"stack pointer", addrSP, stackPointer},
		{"entry id", addrEntry, 7},
		{"entry once", addrEntries, 1},
		{"completions", addrCompleted, 2},
	}
	for _, tt := range checks {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.word(t, tt.addr); got != tt.want {
				t.Errorf("word at %#x = %#x, want %#x", tt.addr, got, tt.want)
			}
		})
	}

	for _, token := range []uint32{5, 101} {
		h := f.word(t, addrResults+token)
		v, err := object.As[object.Numeric](f.primary.Bridge().Table(), object.Handle(h))
		if err != nil || v != 42 {
			t.Errorf("token %d result = %v, %v", token, v, err)
		}
	}
	if n := f.pings.Load(); n != 2 {
		t.Errorf("ping called %d times, want 2", n)
	}

	s := f.primary.Stats()
	if s.FuturesStarted != 2 || s.FuturesSettled != 2 || s.Spawned != 1 || s.Pending != 0 || s.Secondaries != 0 {
		t.Errorf("stats = %+v", s)
	}
	if n := f.rt.Contexts(); n != 1 {
		t.Errorf("%d contexts live after secondaries finished", n)
	}
}

func TestRuntime_PrivateMemory(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := start(t, guest(false, "env"), "env", WithThreads(false), WithLogger(zap.New(core)))
	if f.rt.Shared() {
		t.Fatal("private memory reported as shared")
	}
	if logs.FilterMessage("contexts will not share memory").Len() != 1 {
		t.Error("fallback not logged")
	}
	f.run(t)

	if got := f.word(t, addrEntry); got != 0 {
		t.Errorf("secondary write visible in primary memory: %d", got)
	}
	if got := f.word(t, primaryTLS); got != 0 {
		t.Errorf("tls initialized on private path: %#x", got)
	}
	if got := f.word(t, addrCompleted); got != 2 {
		t.Errorf("completions = %d", got)
	}
	if h := f.word(t, addrResults+101); h == 0 {
		t.Error("forwarded request from the snapshot was not completed")
	}
	if n := f.pings.Load(); n != 1 {
		t.Errorf("ping called %d times, want only the primary call", n)
	}
	stubbed := logs.FilterMessage("unresolved import called").All()
	if len(stubbed) != 1 || stubbed[0].ContextMap()["name"] != "ping" {
		t.Errorf("stub log = %v", stubbed)
	}
}

func TestRuntime_MissingImports(t *testing.T) {
	_, err := New(context.Background(), guest(true, "host"))
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("err = %v", err)
	}
	if len(missing.Imports) != 1 || missing.Imports[0] != (errors.MissingImport{Module: "host", Name: "ping"}) {
		t.Errorf("missing = %+v", missing.Imports)
	}
}

func TestRuntime_ReservedHostModule(t *testing.T) {
	_, err := New(context.Background(), guest(true, "host"),
		WithHostFunc(HostFunc{Module: bridge.DefaultNamespace, Name: "ping"}))
	if !stderrors.Is(err, errors.New(errors.PhaseConfig, errors.KindInvalidInput).Build()) {
		t.Errorf("err = %v", err)
	}
}

func TestAsync_DuplicateToken(t *testing.T) {
	f := start(t, guest(true, "host"), "host")
	err := f.primary.RequestAsync(context.Background(), 5)
	if errors.CodeOf(err) != errors.CodeProtocol {
		t.Fatalf("duplicate request = %v", err)
	}
	f.run(t)
	if got := f.word(t, addrCompleted); got != 2 {
		t.Errorf("completions = %d", got)
	}
}

func TestAsync_SingleSettlement(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := start(t, guest(true, "host"), "host", WithLogger(zap.New(core)))
	f.run(t)

	f.primary.inbox.push(settlement{token: 5, value: object.Numeric(1)})
	f.run(t)
	if got := f.word(t, addrCompleted); got != 2 {
		t.Errorf("completions = %d after a repeated settlement", got)
	}
	if logs.FilterMessage("settlement ignored").Len() != 1 {
		t.Error("repeated settlement not logged")
	}
}

func TestAsync_RejectionCompletesWithFailure(t *testing.T) {
	boom := stderrors.New("boom")
	f := start(t, guest(true, "host"), "host",
		WithRoot(object.NewRecord("root").Set("job", object.Resolved("job", nil, boom))))
	f.run(t)

	h := object.Handle(f.word(t, addrResults+5))
	failure, err := object.As[*object.Failure](f.primary.Bridge().Table(), h)
	if err != nil {
		t.Fatalf("result handle %d: %v", h, err)
	}
	if !stderrors.Is(failure.Err, boom) {
		t.Errorf("failure = %v", failure.Err)
	}
	if k, _ := f.primary.Bridge().ObjectKind(uint32(h)); k != object.KindError {
		t.Errorf("kind = %v", k)
	}
}

func TestAsync_CallableAwaitable(t *testing.T) {
	var calls atomic.Int32
	job := object.Func(func(context.Context, object.Call) (object.Object, error) {
		calls.Add(1)
		return object.Text("done"), nil
	})
	f := start(t, guest(true, "host"), "host", WithRoot(object.NewRecord("root").Set("job", job)))
	f.run(t)

	if n := calls.Load(); n != 2 {
		t.Errorf("callable ran %d times", n)
	}
	v, err := object.As[object.Text](f.primary.Bridge().Table(), object.Handle(f.word(t, addrResults+5)))
	if err != nil || v != "done" {
		t.Errorf("result = %q, %v", v, err)
	}
}

func TestContext_InputAndFrames(t *testing.T) {
	f := start(t, guest(true, "host"), "host", WithFPS(200))
	f.primary.Post(InputEvent{Kind: 3, Code: 9, X: 1.5, Y: -2})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := f.primary.Run(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}

	if got := f.word(t, addrInputCode); got != 9 {
		t.Errorf("input code = %d", got)
	}
	if got := f.word(t, addrInputs); got != 1 {
		t.Errorf("inputs delivered = %d", got)
	}
	s := f.primary.Stats()
	if s.Frames == 0 || uint32(s.Frames) != f.word(t, addrTicks) {
		t.Errorf("frames = %d, ticks seen = %d", s.Frames, f.word(t, addrTicks))
	}
	if s.Inputs != 1 {
		t.Errorf("stats inputs = %d", s.Inputs)
	}
}

func TestContext_SetFPS(t *testing.T) {
	f := start(t, guest(true, "host"), "host", WithFPS(200))
	f.primary.SetFPS(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.primary.Run(ctx); err != nil {
		t.Fatalf("Run with ticks stopped = %v", err)
	}
	if s := f.primary.Stats(); s.Frames != 0 || s.Pending != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestContext_StartTwice(t *testing.T) {
	f := start(t, guest(true, "host"), "host")
	if _, err := f.rt.Start(context.Background()); errors.CodeOf(err) != errors.CodeProtocol {
		t.Errorf("second Start = %v", err)
	}
}

func TestRuntime_CloseIsIdempotent(t *testing.T) {
	f := start(t, guest(true, "host"), "host")
	f.run(t)
	ctx := context.Background()
	if err := f.rt.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.rt.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := f.rt.Start(ctx); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
}

func TestRuntime_CaptureAndSharedCache(t *testing.T) {
	ctx := context.Background()
	b := wasmbin.NewBuilder()
	b.ImportMemory("env", "memory", wasmbin.Limits{Min: 1, Max: 4, HasMax: true})
	b.Func("main", nil, nil, nil, wasmbin.NewCode().StoreU32(addrStarted, 1).Bytes())
	wasm := b.Bytes()

	cache := wazero.NewCompilationCache()
	defer cache.Close(ctx)

	var ops []gfx.Op
	sink := gfx.SinkFunc(func(c gfx.Call) error {
		ops = append(ops, c.Op)
		return nil
	})
	for i := 0; i < 2; i++ {
		rt, err := New(ctx, wasm,
			WithDevice(gfx.NewHeadless()),
			WithCapture(sink),
			WithCompilationCache(cache))
		if err != nil {
			t.Fatalf("New #%d: %v", i, err)
		}
		if _, ok := rt.Device().(*gfx.Recorder); !ok {
			t.Errorf("device = %T, want a recorder", rt.Device())
		}
		if err := rt.Device().Present(); err != nil {
			t.Fatal(err)
		}
		if err := rt.Close(ctx); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
	if len(ops) != 2 || ops[0] != gfx.OpPresent {
		t.Errorf("recorded %v", ops)
	}
}
