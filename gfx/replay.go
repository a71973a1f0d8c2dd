package gfx

import (
	"github.com/wippyai/wasm-bridge/errors"
)

// Replayer applies recorded calls to a device. Recorded resource IDs are
// mapped to the resources the target device creates during replay.
type Replayer struct {
	dev           Device
	buffers       map[uint32]*Buffer
	textures      map[uint32]*Texture
	programs      map[uint32]*Program
	framebuffers  map[uint32]*Framebuffer
	renderbuffers map[uint32]*Renderbuffer
	applied       int
}

// NewReplayer creates a replayer targeting dev.
func NewReplayer(dev Device) *Replayer {
	return &Replayer{
		dev:           dev,
		buffers:       make(map[uint32]*Buffer),
		textures:      make(map[uint32]*Texture),
		programs:      make(map[uint32]*Program),
		framebuffers:  make(map[uint32]*Framebuffer),
		renderbuffers: make(map[uint32]*Renderbuffer),
	}
}

// Applied returns how many calls have been replayed successfully.
func (r *Replayer) Applied() int { return r.applied }

func malformed(c Call) error {
	return errors.New(errors.PhaseCapture, errors.KindDecode).
		Detail("malformed %s record", c.Op).
		Build()
}

func unknownID(what string, id uint32) error {
	return errors.New(errors.PhaseCapture, errors.KindInvalidHandle).
		Detail("recorded %s %d was never created", what, id).
		Value(id).
		Build()
}

func (r *Replayer) buffer(id uint32) (*Buffer, error) {
	if id == 0 {
		return nil, nil
	}
	if b, ok := r.buffers[id]; ok {
		return b, nil
	}
	return nil, unknownID("buffer", id)
}

func (r *Replayer) texture(id uint32) (*Texture, error) {
	if id == 0 {
		return nil, nil
	}
	if t, ok := r.textures[id]; ok {
		return t, nil
	}
	return nil, unknownID("texture", id)
}

func (r *Replayer) program(id uint32) (*Program, error) {
	if id == 0 {
		return nil, nil
	}
	if p, ok := r.programs[id]; ok {
		return p, nil
	}
	return nil, unknownID("program", id)
}

func (r *Replayer) framebuffer(id uint32) (*Framebuffer, error) {
	if id == 0 {
		return nil, nil
	}
	if fb, ok := r.framebuffers[id]; ok {
		return fb, nil
	}
	return nil, unknownID("framebuffer", id)
}

func (r *Replayer) uniform(programID uint32, name string) (*Uniform, error) {
	p, err := r.program(programID)
	if err != nil || p == nil {
		return nil, err
	}
	return r.dev.UniformLocation(p, name)
}

// Apply replays one call.
func (r *Replayer) Apply(c Call) error {
	if err := r.apply(c); err != nil {
		return err
	}
	r.applied++
	return nil
}

func (r *Replayer) apply(c Call) error {
	shape, ok := callShapes[c.Op]
	if !ok {
		return errors.New(errors.PhaseCapture, errors.KindDecode).
			Detail("unknown record op %d", c.Op).
			Build()
	}
	if len(c.IDs) < shape.ids || len(c.U) < shape.u || len(c.F) < shape.f || len(c.Text) < shape.text {
		return malformed(c)
	}

	switch c.Op {
	case OpCreateBuffer:
		b, err := r.dev.CreateBuffer(BufferTarget(c.U[0]))
		if err != nil {
			return err
		}
		r.buffers[c.IDs[0]] = b
	case OpUploadBuffer:
		b, err := r.buffer(c.IDs[0])
		if err != nil {
			return err
		}
		return r.dev.UploadBuffer(b, ElementType(c.U[0]), c.Data)
	case OpDeleteBuffer:
		b, err := r.buffer(c.IDs[0])
		if err != nil {
			return err
		}
		delete(r.buffers, c.IDs[0])
		return r.dev.DeleteBuffer(b)
	case OpCreateTexture:
		t, err := r.dev.CreateTexture()
		if err != nil {
			return err
		}
		r.textures[c.IDs[0]] = t
	case OpUploadTexture:
		t, err := r.texture(c.IDs[0])
		if err != nil {
			return err
		}
		return r.dev.UploadTexture(t, TextureImage{
			Data:           c.Data,
			InternalFormat: c.U[0],
			Width:          c.U[1],
			Height:         c.U[2],
			PixelFormat:    c.U[3],
			Type:           ElementType(c.U[4]),
			MinFilter:      c.U[5],
			MagFilter:      c.U[6],
			WrapS:          c.U[7],
			WrapT:          c.U[8],
			Mipmaps:        c.U[9] != 0,
		})
	case OpDeleteTexture:
		t, err := r.texture(c.IDs[0])
		if err != nil {
			return err
		}
		delete(r.textures, c.IDs[0])
		return r.dev.DeleteTexture(t)
	case OpCreateProgram:
		p, err := r.dev.CreateProgram(c.Text[0], c.Text[1])
		if err != nil {
			return err
		}
		r.programs[c.IDs[0]] = p
	case OpDeleteProgram:
		p, err := r.program(c.IDs[0])
		if err != nil {
			return err
		}
		delete(r.programs, c.IDs[0])
		return r.dev.DeleteProgram(p)
	case OpUniformLocation:
		_, err := r.uniform(c.IDs[0], c.Text[0])
		return err
	case OpCreateFramebuffer:
		var atts [3]*Texture
		for i := range atts {
			t, err := r.texture(c.IDs[i+1])
			if err != nil {
				return err
			}
			atts[i] = t
		}
		fb, err := r.dev.CreateFramebuffer(atts[0], atts[1], atts[2])
		if err != nil {
			return err
		}
		r.framebuffers[c.IDs[0]] = fb
	case OpDeleteFramebuffer:
		fb, err := r.framebuffer(c.IDs[0])
		if err != nil {
			return err
		}
		if fb == nil {
			return unknownID("framebuffer", 0)
		}
		delete(r.framebuffers, c.IDs[0])
		return r.dev.DeleteFramebuffer(fb)
	case OpCreateRenderbuffer:
		rb, err := r.dev.CreateRenderbuffer(RenderbufferSpec{Format: c.U[0], Width: c.U[1], Height: c.U[2], Samples: c.U[3]})
		if err != nil {
			return err
		}
		r.renderbuffers[c.IDs[0]] = rb
	case OpDeleteRenderbuffer:
		rb, ok := r.renderbuffers[c.IDs[0]]
		if !ok {
			return unknownID("renderbuffer", c.IDs[0])
		}
		delete(r.renderbuffers, c.IDs[0])
		return r.dev.DeleteRenderbuffer(rb)
	case OpBindFramebuffer:
		fb, err := r.framebuffer(c.IDs[0])
		if err != nil {
			return err
		}
		return r.dev.BindFramebuffer(fb)
	case OpSetPipeline:
		p, err := r.program(c.IDs[0])
		if err != nil {
			return err
		}
		return r.dev.SetPipeline(Pipeline{
			Program:    p,
			DepthFunc:  c.U[0],
			Culling:    c.U[1],
			SrcBlend:   c.U[2],
			DstBlend:   c.U[3],
			DepthClear: c.F[0],
		})
	case OpSetDepthMask:
		return r.dev.SetDepthMask(c.U[0] != 0)
	case OpSetViewport:
		return r.dev.SetViewport(Viewport{X: c.U[0], Y: c.U[1], Width: c.U[2], Height: c.U[3]})
	case OpClear:
		return r.dev.Clear(Color{R: c.F[0], G: c.F[1], B: c.F[2], A: c.F[3]})
	case OpSetAttribute:
		b, err := r.buffer(c.IDs[0])
		if err != nil {
			return err
		}
		return r.dev.SetAttribute(c.U[0], Attribute{
			Buffer:     b,
			Components: c.U[1],
			Stride:     c.U[2],
			Offset:     c.U[3],
			Divisor:    c.U[4],
		})
	case OpSetAttributeConstant:
		return r.dev.SetAttributeConstant(c.U[0], c.F)
	case OpSetUniform:
		u, err := r.uniform(c.IDs[0], c.Text[0])
		if err != nil {
			return err
		}
		return r.dev.SetUniform(u, UniformValue{Type: UniformType(c.U[0]), Int: int32(c.U[1]), Floats: c.F})
	case OpSetTexture:
		u, err := r.uniform(c.IDs[0], c.Text[0])
		if err != nil {
			return err
		}
		t, err := r.texture(c.IDs[1])
		if err != nil {
			return err
		}
		return r.dev.SetTexture(u, c.U[0], t, TextureTarget(c.U[1]))
	case OpDraw:
		b, err := r.buffer(c.IDs[0])
		if err != nil {
			return err
		}
		return r.dev.Draw(Draw{Indices: b, Count: c.U[0], Instances: c.U[1]})
	case OpBlit:
		src, err := r.framebuffer(c.IDs[0])
		if err != nil {
			return err
		}
		dst, err := r.framebuffer(c.IDs[1])
		if err != nil {
			return err
		}
		return r.dev.Blit(Blit{
			Src:    src,
			Dst:    dst,
			From:   Rect{X0: c.U[0], Y0: c.U[1], X1: c.U[2], Y1: c.U[3]},
			To:     Rect{X0: c.U[4], Y0: c.U[5], X1: c.U[6], Y1: c.U[7]},
			Linear: c.U[8] != 0,
		})
	case OpPresent:
		return r.dev.Present()
	}
	return nil
}

type callShape struct {
	ids, u, f, text int
}

// Minimum operand counts per op. Optional trailing data is not listed.
var callShapes = map[Op]callShape{
	OpCreateBuffer:         {ids: 1, u: 1},
	OpUploadBuffer:         {ids: 1, u: 1},
	OpDeleteBuffer:         {ids: 1},
	OpCreateTexture:        {ids: 1},
	OpUploadTexture:        {ids: 1, u: 10},
	OpDeleteTexture:        {ids: 1},
	OpCreateProgram:        {ids: 1, text: 2},
	OpDeleteProgram:        {ids: 1},
	OpUniformLocation:      {ids: 1, text: 1},
	OpCreateFramebuffer:    {ids: 4},
	OpDeleteFramebuffer:    {ids: 1},
	OpCreateRenderbuffer:   {ids: 1, u: 4},
	OpDeleteRenderbuffer:   {ids: 1},
	OpBindFramebuffer:      {ids: 1},
	OpSetPipeline:          {ids: 1, u: 4, f: 1},
	OpSetDepthMask:         {u: 1},
	OpSetViewport:          {u: 4},
	OpClear:                {f: 4},
	OpSetAttribute:         {ids: 1, u: 5},
	OpSetAttributeConstant: {u: 1, f: 1},
	OpSetUniform:           {ids: 1, u: 2, text: 1},
	OpSetTexture:           {ids: 2, u: 2, text: 1},
	OpDraw:                 {ids: 1, u: 2},
	OpBlit:                 {ids: 2, u: 9},
	OpPresent:              {},
}
