package gfx

import (
	"errors"
	"sync"
	"testing"

	bridgeerrors "github.com/wippyai/wasm-bridge/errors"
)

const testVertex = `#version 300 es
layout(location = 0) in vec3 position;
in vec2 uv;
uniform mat4 transform;
void main() { gl_Position = transform * vec4(position, 1.0); }
`

const testFragment = `#version 300 es
precision mediump float;
uniform highp vec4 tint;
uniform sampler2D albedo;
out vec4 color;
void main() { color = tint; }
`

func TestHeadless_ProgramLocations(t *testing.T) {
	h := NewHeadless()
	p, err := h.CreateProgram(testVertex, testFragment)
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}

	for _, name := range []string{"transform", "tint", "albedo"} {
		u, err := h.UniformLocation(p, name)
		if err != nil || u == nil {
			t.Errorf("UniformLocation(%q) = %v, %v", name, u, err)
		}
	}
	if u, err := h.UniformLocation(p, "missing"); err != nil || u != nil {
		t.Errorf("UniformLocation(missing) = %v, %v; want nil, nil", u, err)
	}

	tests := []struct {
		name string
		want int32
	}{
		{"position", 0},
		{"uv", 1},
		{"color", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.AttributeLocation(p, tt.name)
			if err != nil {
				t.Fatalf("AttributeLocation: %v", err)
			}
			if got != tt.want {
				t.Errorf("AttributeLocation(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestHeadless_GlobalIDs(t *testing.T) {
	h := NewHeadless()
	b, _ := h.CreateBuffer(VertexBuffer)
	tex, _ := h.CreateTexture()
	p, _ := h.CreateProgram(testVertex, testFragment)
	if b.ID == tex.ID || tex.ID == p.ID || b.ID == p.ID {
		t.Errorf("IDs collide across kinds: %d %d %d", b.ID, tex.ID, p.ID)
	}
}

func TestHeadless_Validation(t *testing.T) {
	h := NewHeadless()
	p, _ := h.CreateProgram(testVertex, testFragment)
	vb, _ := h.CreateBuffer(VertexBuffer)
	ib, _ := h.CreateBuffer(IndexBuffer)
	if err := h.UploadBuffer(ib, UnsignedShort, make([]byte, 6)); err != nil {
		t.Fatalf("UploadBuffer: %v", err)
	}

	tests := []struct {
		name string
		run  func() error
		kind bridgeerrors.Kind
	}{
		{"bad depth func", func() error { return h.SetPipeline(Pipeline{Program: p, DepthFunc: 7}) }, bridgeerrors.KindInvalidInput},
		{"bad culling", func() error { return h.SetPipeline(Pipeline{Program: p, DepthFunc: Less, Culling: 9}) }, bridgeerrors.KindInvalidInput},
		{"bad blend", func() error {
			return h.SetPipeline(Pipeline{Program: p, DepthFunc: Less, SrcBlend: 0x9999, DstBlend: One})
		}, bridgeerrors.KindInvalidInput},
		{"draw without program", func() error { return h.Draw(Draw{Count: 3}) }, bridgeerrors.KindInvalidInput},
		{"slot too high", func() error { return h.SetAttribute(16, Attribute{Buffer: vb, Components: 4}) }, bridgeerrors.KindInvalidInput},
		{"too many components", func() error { return h.SetAttribute(0, Attribute{Buffer: vb, Components: 5}) }, bridgeerrors.KindInvalidInput},
		{"float index buffer", func() error { return h.UploadBuffer(ib, Float, make([]byte, 4)) }, bridgeerrors.KindInvalidInput},
		{"empty shader", func() error { _, err := h.CreateProgram("", testFragment); return err }, bridgeerrors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var e *bridgeerrors.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("err = %v, want kind %s", err, tt.kind)
			}
		})
	}

	if err := h.SetPipeline(Pipeline{Program: p, DepthFunc: Less}); err != nil {
		t.Fatalf("SetPipeline: %v", err)
	}
	if err := h.Draw(Draw{Indices: vb, Count: 3}); err == nil {
		t.Error("draw with a vertex buffer as indices succeeded")
	}
	if err := h.Draw(Draw{Indices: ib, Count: 4}); err == nil {
		t.Error("draw past the end of the index buffer succeeded")
	}
	if err := h.Draw(Draw{Indices: ib, Count: 3}); err != nil {
		t.Errorf("Draw: %v", err)
	}
}

func TestHeadless_DeletedResources(t *testing.T) {
	h := NewHeadless()
	b, _ := h.CreateBuffer(VertexBuffer)
	if err := h.SetAttribute(2, Attribute{Buffer: b, Components: 3, Stride: 12}); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if err := h.DeleteBuffer(b); err != nil {
		t.Fatalf("DeleteBuffer: %v", err)
	}
	if _, ok := h.AttributeAt(2); ok {
		t.Error("attribute still bound to deleted buffer")
	}
	if err := h.DeleteBuffer(b); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Errorf("second DeleteBuffer = %v, want invalid handle", err)
	}
	if err := h.UploadBuffer(b, Float, nil); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Errorf("UploadBuffer after delete = %v, want invalid handle", err)
	}

	p, _ := h.CreateProgram(testVertex, testFragment)
	_ = h.SetPipeline(Pipeline{Program: p, DepthFunc: Less})
	_ = h.DeleteProgram(p)
	if h.BoundProgram() != nil {
		t.Error("deleted program still bound")
	}
}

func TestHeadless_TextureUpload(t *testing.T) {
	img := TextureImage{
		InternalFormat: RGBA,
		Width:          2,
		Height:         2,
		PixelFormat:    RGBA,
		Type:           UnsignedByte,
		MinFilter:      Linear,
		MagFilter:      Linear,
	}

	t.Run("short data", func(t *testing.T) {
		h := NewHeadless()
		tex, _ := h.CreateTexture()
		img := img
		img.Data = make([]byte, 15)
		if err := h.UploadTexture(tex, img); err == nil {
			t.Error("short texture data accepted")
		}
	})

	t.Run("float linear unsupported", func(t *testing.T) {
		h := NewHeadless(WithCapabilities(Capabilities{MaxAttributes: 16}))
		tex, _ := h.CreateTexture()
		img := img
		img.Type = Float
		err := h.UploadTexture(tex, img)
		if !errors.Is(err, bridgeerrors.ErrUnsupported) {
			t.Errorf("err = %v, want unsupported", err)
		}
		img.MinFilter, img.MagFilter = Nearest, Nearest
		if err := h.UploadTexture(tex, img); err != nil {
			t.Errorf("nearest float upload: %v", err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		h := NewHeadless()
		tex, _ := h.CreateTexture()
		img := img
		img.Data = make([]byte, 16)
		if err := h.UploadTexture(tex, img); err != nil {
			t.Fatalf("UploadTexture: %v", err)
		}
		s := h.Stats()
		if s.Uploads != 1 || s.UploadedBytes != 16 || s.LiveTextures != 1 {
			t.Errorf("stats = %+v", s)
		}
	})
}

func TestNearestEquivalent(t *testing.T) {
	tests := []struct {
		in, want uint32
	}{
		{Linear, Nearest},
		{Nearest, Nearest},
		{LinearMipmapLinear, NearestMipmapNearest},
		{NearestMipmapLinear, NearestMipmapNearest},
		{NearestMipmapNearest, NearestMipmapNearest},
	}
	for _, tt := range tests {
		if got := NearestEquivalent(tt.in); got != tt.want {
			t.Errorf("NearestEquivalent(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestHeadless_FrameHook(t *testing.T) {
	var frames []uint64
	h := NewHeadless(WithFrameHook(func(s Stats) { frames = append(frames, s.Frames) }))
	_ = h.Clear(Color{A: 1})
	_ = h.Present()
	_ = h.Present()
	if len(frames) != 2 || frames[1] != 2 {
		t.Errorf("frames = %v", frames)
	}
	if h.Stats().Clears != 1 {
		t.Errorf("clears = %d", h.Stats().Clears)
	}
}

func TestHeadless_Concurrent(t *testing.T) {
	h := NewHeadless()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b, err := h.CreateBuffer(VertexBuffer)
				if err != nil {
					t.Error(err)
					return
				}
				_ = h.UploadBuffer(b, Float, make([]byte, 12))
				_ = h.DeleteBuffer(b)
			}
		}()
	}
	wg.Wait()
	s := h.Stats()
	if s.LiveBuffers != 0 || s.Uploads != 400 {
		t.Errorf("stats = %+v", s)
	}
}
