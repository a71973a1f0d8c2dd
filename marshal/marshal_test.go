package marshal

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"unicode/utf8"

	bridgeerrors "github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memview"
	"github.com/wippyai/wasm-bridge/object"
)

const scratchBase = 0x8000

type fixture struct {
	mem      *memview.Buffer
	table    *object.Table
	root     *object.Record
	m        *Marshaler
	reserved []uint32
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		mem:  memview.NewBuffer(1, 1),
		root: object.NewRecord("root"),
	}
	f.table = object.NewTable(f.root)
	reserver := ReserverFunc(func(_ context.Context, n uint32) (uint32, error) {
		f.reserved = append(f.reserved, n)
		return scratchBase, nil
	})
	f.m = New(f.mem, f.table, NewScratch(reserver), opts...)
	return f
}

func (f *fixture) put(t *testing.T, offset uint32, data []byte) {
	t.Helper()
	if err := memview.Write(f.mem, offset, data); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) putWords(t *testing.T, offset uint32, words ...uint32) {
	t.Helper()
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	f.put(t, offset, buf)
}

func TestDecodeString_RoundTrip(t *testing.T) {
	inputs := []string{"", "a", "hello, world", "héllo wörld", "日本語テキスト", "emoji 🎮🕹️", string([]byte{0x7f})}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			f := newFixture(t)
			f.put(t, 128, []byte(in))

			h, err := f.m.DecodeString(128, uint32(len(in)))
			if err != nil {
				t.Fatalf("DecodeString failed: %v", err)
			}
			text, err := object.As[object.Text](f.table, h)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}

			off, n, err := f.m.EncodeAndReserve(context.Background(), string(text))
			if err != nil {
				t.Fatalf("EncodeAndReserve failed: %v", err)
			}
			if off != scratchBase || n != uint32(len(in)) {
				t.Fatalf("region = (%d, %d)", off, n)
			}
			got, _ := memview.Bytes(f.mem, off, n)
			if string(got) != in {
				t.Errorf("round trip = %q, want %q", got, in)
			}
		})
	}
}

func TestDecodeString_InvalidUTF8(t *testing.T) {
	bad := []byte{'o', 'k', 0xff, 0xfe}

	f := newFixture(t)
	f.put(t, 0, bad)
	if _, err := f.m.DecodeString(0, uint32(len(bad))); !errors.Is(err, bridgeerrors.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if f.table.Len() != 0 {
		t.Error("failed decode registered an object")
	}

	lossy := newFixture(t, WithLossyText())
	lossy.put(t, 0, bad)
	h, err := lossy.m.DecodeString(0, uint32(len(bad)))
	if err != nil {
		t.Fatalf("lossy DecodeString failed: %v", err)
	}
	text, _ := object.As[object.Text](lossy.table, h)
	if !utf8.ValidString(string(text)) || text != "ok\uFFFD" {
		t.Errorf("lossy text = %q", text)
	}
}

func TestDecodeString_OutOfRange(t *testing.T) {
	f := newFixture(t)
	if _, err := f.m.DecodeString(f.mem.Size()-2, 8); !errors.Is(err, bridgeerrors.ErrOutOfRange) {
		t.Fatalf("expected out_of_range, got %v", err)
	}
}

func TestScratch_Reentrancy(t *testing.T) {
	var s *Scratch
	inner := error(nil)
	s = NewScratch(ReserverFunc(func(ctx context.Context, n uint32) (uint32, error) {
		_, inner = s.Acquire(ctx, 4)
		return 64, nil
	}))

	lease, err := s.Acquire(context.Background(), 8)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !errors.Is(inner, bridgeerrors.ErrProtocol) {
		t.Fatalf("nested Acquire = %v, want protocol error", inner)
	}
	if !s.Held() {
		t.Error("lease not held")
	}
	lease.Release()
	lease.Release()
	if s.Held() {
		t.Error("lease still held after Release")
	}
	if _, err := s.Acquire(context.Background(), 8); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

func TestScratch_ReserveFailureReleases(t *testing.T) {
	s := NewScratch(ReserverFunc(func(context.Context, uint32) (uint32, error) {
		return 0, errors.New("guest trapped")
	}))
	if _, err := s.Acquire(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
	if s.Held() {
		t.Error("failed reservation left the guard held")
	}
}

func TestEncode_NoReserver(t *testing.T) {
	mem := memview.NewBuffer(1, 1)
	m := New(mem, object.NewTable(nil), nil)
	if _, _, err := m.EncodeAndReserve(context.Background(), "x"); !errors.Is(err, bridgeerrors.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestCallRaw(t *testing.T) {
	f := newFixture(t)
	var got object.Call
	fn := f.table.Register(object.Func(func(_ context.Context, c object.Call) (object.Object, error) {
		got = c
		return object.Numeric(c.Raw[0] + c.Raw[1]), nil
	}))
	recv := f.table.Register(object.Text("receiver"))
	f.putWords(t, 256, 40, 2)

	h, err := f.m.CallRaw(context.Background(), fn, recv, 256, 2)
	if err != nil {
		t.Fatalf("CallRaw failed: %v", err)
	}
	v, err := f.m.GetU32(h)
	if err != nil || v != 42 {
		t.Fatalf("result = %d, %v", v, err)
	}
	if got.This != object.Text("receiver") {
		t.Errorf("receiver = %v", got.This)
	}
	if got.Args[0] != object.Numeric(40) {
		t.Errorf("raw arg delivered as %v", got.Args[0])
	}
	if got.Memory == nil || got.Table != f.table {
		t.Error("call context missing memory or table")
	}
}

func TestCallHandles(t *testing.T) {
	f := newFixture(t)
	fn := f.table.Register(object.Func(func(_ context.Context, c object.Call) (object.Object, error) {
		a := c.Args[0].(object.Text)
		b := c.Args[1].(object.Text)
		return a + b, nil
	}))
	a := f.table.Register(object.Text("foo"))
	b := f.table.Register(object.Text("bar"))
	f.putWords(t, 512, uint32(a), uint32(b))

	h, err := f.m.CallHandles(context.Background(), fn, object.Null, 512, 2)
	if err != nil {
		t.Fatalf("CallHandles failed: %v", err)
	}
	text, _ := object.As[object.Text](f.table, h)
	if text != "foobar" {
		t.Errorf("result = %q", text)
	}

	_ = f.table.Release(b)
	if _, err := f.m.CallHandles(context.Background(), fn, object.Null, 512, 2); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Errorf("released argument = %v, want invalid_handle", err)
	}
}

func TestCall_Errors(t *testing.T) {
	f := newFixture(t)
	notFn := f.table.Register(object.Text("nope"))
	if _, err := f.m.CallRaw(context.Background(), notFn, object.Null, 0, 0); !errors.Is(err, bridgeerrors.ErrTypeMismatch) {
		t.Errorf("non-callable = %v, want type_mismatch", err)
	}

	failing := f.table.Register(object.Func(func(context.Context, object.Call) (object.Object, error) {
		return nil, errors.New("boom")
	}))
	_, err := f.m.CallRaw(context.Background(), failing, object.Null, 0, 0)
	if bridgeerrors.CodeOf(err) != bridgeerrors.CodeHostFailure {
		t.Errorf("failing callable code = %d", bridgeerrors.CodeOf(err))
	}

	empty := f.table.Register(object.Func(func(context.Context, object.Call) (object.Object, error) {
		return nil, nil
	}))
	h, err := f.m.CallRaw(context.Background(), empty, object.Null, 0, 0)
	if err != nil || h != object.Null {
		t.Errorf("absent result = %d, %v; want Null", h, err)
	}

	if _, err := f.m.CallRaw(context.Background(), empty, object.Null, f.mem.Size()-4, 2); !errors.Is(err, bridgeerrors.ErrOutOfRange) {
		t.Errorf("argv out of range = %v", err)
	}
}

func TestGetProperty(t *testing.T) {
	f := newFixture(t)
	console := object.NewRecord("console")
	f.root.Set("console", console)

	name := f.table.Register(object.Text("console"))
	h, err := f.m.GetProperty(object.Root, name)
	if err != nil {
		t.Fatalf("GetProperty failed: %v", err)
	}
	if obj, _ := f.table.Resolve(h); obj != console {
		t.Errorf("property = %v", obj)
	}

	missing := f.table.Register(object.Text("audio"))
	h, err = f.m.GetProperty(object.Root, missing)
	if err != nil || h != object.Null {
		t.Errorf("missing property = %d, %v; want Null, nil", h, err)
	}

	num := f.table.Register(object.Numeric(1))
	h, err = f.m.GetProperty(num, name)
	if err != nil || h != object.Null {
		t.Errorf("property on numeric = %d, %v", h, err)
	}

	if _, err := f.m.GetProperty(77, name); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Errorf("invalid object handle = %v", err)
	}
}

func TestGetNumbers(t *testing.T) {
	f := newFixture(t)
	h := f.table.Register(object.Numeric(math.Pi))

	v, err := f.m.GetF64(h)
	if err != nil || v != math.Pi {
		t.Errorf("GetF64 = %v, %v", v, err)
	}
	u, err := f.m.GetU32(h)
	if err != nil || u != 3 {
		t.Errorf("GetU32 = %v, %v", u, err)
	}

	text := f.table.Register(object.Text("3"))
	if _, err := f.m.GetU32(text); !errors.Is(err, bridgeerrors.ErrTypeMismatch) {
		t.Errorf("GetU32(text) = %v", err)
	}
}

func TestReadObject(t *testing.T) {
	f := newFixture(t)
	h := f.table.Register(object.Bytes{1, 2, 3})
	n, err := f.m.ReadObject(context.Background(), h)
	if err != nil || n != 3 {
		t.Fatalf("ReadObject = %d, %v", n, err)
	}
	got, _ := memview.Bytes(f.mem, scratchBase, 3)
	if got[0] != 1 || got[2] != 3 {
		t.Errorf("scratch = %v", got)
	}

	fail := f.table.Register(&object.Failure{Err: errors.New("404")})
	n, err = f.m.ReadObject(context.Background(), fail)
	if err != nil || n != 3 {
		t.Fatalf("ReadObject(failure) = %d, %v", n, err)
	}

	if _, err := f.m.ReadObject(context.Background(), f.table.Register(object.Numeric(1))); !errors.Is(err, bridgeerrors.ErrTypeMismatch) {
		t.Errorf("ReadObject(numeric) = %v", err)
	}
}
