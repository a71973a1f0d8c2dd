package capture

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	bridgeerrors "github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
)

func drawFrame(t *testing.T, dev gfx.Device) {
	t.Helper()
	p, err := dev.CreateProgram("in vec2 pos;\nvoid main() {}", "uniform vec4 tint;\nvoid main() {}")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := dev.CreateBuffer(gfx.VertexBuffer)
	for _, err := range []error{
		dev.UploadBuffer(b, gfx.Float, make([]byte, 24)),
		dev.Clear(gfx.Color{A: 1}),
		dev.SetPipeline(gfx.Pipeline{Program: p, DepthFunc: gfx.Always}),
		dev.SetAttribute(0, gfx.Attribute{Buffer: b, Components: 2, Stride: 8}),
		dev.Draw(gfx.Draw{Count: 3}),
		dev.Present(),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestWriterReader_ReplayMatches(t *testing.T) {
	var buf bytes.Buffer
	src := gfx.NewHeadless()
	w, err := NewWriter(&buf, src.Capabilities(), "demo.wasm")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	drawFrame(t, gfx.NewRecorder(src, w))
	if w.Calls() != 8 {
		t.Errorf("Calls = %d, want 8", w.Calls())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Record(gfx.Call{Op: gfx.OpPresent}); !errors.Is(err, bridgeerrors.ErrClosed) {
		t.Errorf("Record after Close = %v", err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	h := r.Header()
	if h.Version != Version || h.Module != "demo.wasm" || h.Capabilities != src.Capabilities() {
		t.Errorf("header = %+v", h)
	}

	dst := gfx.NewHeadless()
	n, err := Replay(r, dst)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 8 {
		t.Errorf("replayed %d calls", n)
	}
	if dst.Stats() != src.Stats() {
		t.Errorf("stats = %+v, want %+v", dst.Stats(), src.Stats())
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after end = %v", err)
	}
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.wbcap")
	src := gfx.NewHeadless()
	w, err := Create(path, src.Capabilities(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drawFrame(t, gfx.NewRecorder(src, w))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	n, err := Replay(r, gfx.NewHeadless())
	if err != nil || n != 8 {
		t.Errorf("Replay = %d, %v", n, err)
	}
}

func TestNewReader_Rejects(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		if _, err := NewReader(bytes.NewReader([]byte("not lz4 at all"))); err == nil {
			t.Error("garbage accepted")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"))
		var e *bridgeerrors.Error
		if !errors.As(err, &e) || e.Kind != bridgeerrors.KindNotFound {
			t.Errorf("err = %v", err)
		}
	})
}

func TestReplay_StopsAtBadCall(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, gfx.Capabilities{}, "")
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Record(gfx.Call{Op: gfx.OpClear, F: []float32{0, 0, 0, 1}})
	_ = w.Record(gfx.Call{Op: gfx.OpDeleteBuffer, IDs: []uint32{9}})
	_ = w.Record(gfx.Call{Op: gfx.OpPresent})
	_ = w.Close()

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	dst := gfx.NewHeadless()
	n, err := Replay(r, dst)
	if err == nil || n != 1 {
		t.Fatalf("Replay = %d, %v", n, err)
	}
	if idx, _ := bridgeerrors.IndexOf(err); idx != 1 {
		t.Errorf("index = %d, want 1", idx)
	}
	if dst.Stats().Frames != 0 {
		t.Error("replay continued past the failing call")
	}
}
