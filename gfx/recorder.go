package gfx

import (
	"sync"

	"go.uber.org/zap"
)

// Recorder is a Device that forwards every operation to an inner device and
// reports each successful one to a Sink. Failed operations are not recorded.
// A sink error is logged and does not fail the operation.
type Recorder struct {
	dev  Device
	sink Sink
	log  *zap.Logger
	mu   sync.Mutex
}

// NewRecorder wraps dev.
func NewRecorder(dev Device, sink Sink) *Recorder {
	return &Recorder{dev: dev, sink: sink, log: Logger()}
}

// Inner returns the wrapped device.
func (r *Recorder) Inner() Device { return r.dev }

func (r *Recorder) emit(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.sink.Record(c); err != nil {
		r.log.Warn("capture sink failed", zap.Stringer("op", c.Op), zap.Error(err))
	}
}

func (r *Recorder) Capabilities() Capabilities { return r.dev.Capabilities() }

func (r *Recorder) CreateBuffer(target BufferTarget) (*Buffer, error) {
	b, err := r.dev.CreateBuffer(target)
	if err == nil {
		r.emit(Call{Op: OpCreateBuffer, IDs: []uint32{b.ID}, U: []uint32{uint32(target)}})
	}
	return b, err
}

func (r *Recorder) UploadBuffer(b *Buffer, elem ElementType, data []byte) error {
	err := r.dev.UploadBuffer(b, elem, data)
	if err == nil {
		r.emit(Call{Op: OpUploadBuffer, IDs: []uint32{b.ID}, U: []uint32{uint32(elem)}, Data: clone(data)})
	}
	return err
}

func (r *Recorder) DeleteBuffer(b *Buffer) error {
	err := r.dev.DeleteBuffer(b)
	if err == nil {
		r.emit(Call{Op: OpDeleteBuffer, IDs: []uint32{b.ID}})
	}
	return err
}

func (r *Recorder) CreateTexture() (*Texture, error) {
	t, err := r.dev.CreateTexture()
	if err == nil {
		r.emit(Call{Op: OpCreateTexture, IDs: []uint32{t.ID}})
	}
	return t, err
}

func (r *Recorder) UploadTexture(t *Texture, img TextureImage) error {
	err := r.dev.UploadTexture(t, img)
	if err == nil {
		r.emit(Call{
			Op:  OpUploadTexture,
			IDs: []uint32{t.ID},
			U: []uint32{
				img.InternalFormat, img.Width, img.Height, img.PixelFormat, uint32(img.Type),
				img.MinFilter, img.MagFilter, img.WrapS, img.WrapT, b2u(img.Mipmaps),
			},
			Data: clone(img.Data),
		})
	}
	return err
}

func (r *Recorder) DeleteTexture(t *Texture) error {
	err := r.dev.DeleteTexture(t)
	if err == nil {
		r.emit(Call{Op: OpDeleteTexture, IDs: []uint32{t.ID}})
	}
	return err
}

func (r *Recorder) CreateProgram(vertex, fragment string) (*Program, error) {
	p, err := r.dev.CreateProgram(vertex, fragment)
	if err == nil {
		r.emit(Call{Op: OpCreateProgram, IDs: []uint32{p.ID}, Text: []string{vertex, fragment}})
	}
	return p, err
}

func (r *Recorder) DeleteProgram(p *Program) error {
	err := r.dev.DeleteProgram(p)
	if err == nil {
		r.emit(Call{Op: OpDeleteProgram, IDs: []uint32{p.ID}})
	}
	return err
}

func (r *Recorder) UniformLocation(p *Program, name string) (*Uniform, error) {
	u, err := r.dev.UniformLocation(p, name)
	if err == nil && u != nil {
		r.emit(Call{Op: OpUniformLocation, IDs: []uint32{p.ID}, Text: []string{name}})
	}
	return u, err
}

func (r *Recorder) AttributeLocation(p *Program, name string) (int32, error) {
	return r.dev.AttributeLocation(p, name)
}

func (r *Recorder) CreateFramebuffer(color, depth, stencil *Texture) (*Framebuffer, error) {
	fb, err := r.dev.CreateFramebuffer(color, depth, stencil)
	if err == nil {
		r.emit(Call{Op: OpCreateFramebuffer, IDs: []uint32{fb.ID, textureID(color), textureID(depth), textureID(stencil)}})
	}
	return fb, err
}

func (r *Recorder) DeleteFramebuffer(fb *Framebuffer) error {
	err := r.dev.DeleteFramebuffer(fb)
	if err == nil {
		r.emit(Call{Op: OpDeleteFramebuffer, IDs: []uint32{fb.ID}})
	}
	return err
}

func (r *Recorder) CreateRenderbuffer(spec RenderbufferSpec) (*Renderbuffer, error) {
	rb, err := r.dev.CreateRenderbuffer(spec)
	if err == nil {
		r.emit(Call{Op: OpCreateRenderbuffer, IDs: []uint32{rb.ID}, U: []uint32{spec.Format, spec.Width, spec.Height, spec.Samples}})
	}
	return rb, err
}

func (r *Recorder) DeleteRenderbuffer(rb *Renderbuffer) error {
	err := r.dev.DeleteRenderbuffer(rb)
	if err == nil {
		r.emit(Call{Op: OpDeleteRenderbuffer, IDs: []uint32{rb.ID}})
	}
	return err
}

func (r *Recorder) BindFramebuffer(fb *Framebuffer) error {
	err := r.dev.BindFramebuffer(fb)
	if err == nil {
		r.emit(Call{Op: OpBindFramebuffer, IDs: []uint32{framebufferID(fb)}})
	}
	return err
}

func (r *Recorder) SetPipeline(p Pipeline) error {
	err := r.dev.SetPipeline(p)
	if err == nil {
		r.emit(Call{
			Op:  OpSetPipeline,
			IDs: []uint32{programID(p.Program)},
			U:   []uint32{p.DepthFunc, p.Culling, p.SrcBlend, p.DstBlend},
			F:   []float32{p.DepthClear},
		})
	}
	return err
}

func (r *Recorder) SetDepthMask(enabled bool) error {
	err := r.dev.SetDepthMask(enabled)
	if err == nil {
		r.emit(Call{Op: OpSetDepthMask, U: []uint32{b2u(enabled)}})
	}
	return err
}

func (r *Recorder) SetViewport(v Viewport) error {
	err := r.dev.SetViewport(v)
	if err == nil {
		r.emit(Call{Op: OpSetViewport, U: []uint32{v.X, v.Y, v.Width, v.Height}})
	}
	return err
}

func (r *Recorder) Clear(c Color) error {
	err := r.dev.Clear(c)
	if err == nil {
		r.emit(Call{Op: OpClear, F: []float32{c.R, c.G, c.B, c.A}})
	}
	return err
}

func (r *Recorder) SetAttribute(slot uint32, a Attribute) error {
	err := r.dev.SetAttribute(slot, a)
	if err == nil {
		r.emit(Call{
			Op:  OpSetAttribute,
			IDs: []uint32{bufferID(a.Buffer)},
			U:   []uint32{slot, a.Components, a.Stride, a.Offset, a.Divisor},
		})
	}
	return err
}

func (r *Recorder) SetAttributeConstant(slot uint32, values []float32) error {
	err := r.dev.SetAttributeConstant(slot, values)
	if err == nil {
		r.emit(Call{Op: OpSetAttributeConstant, U: []uint32{slot}, F: append([]float32(nil), values...)})
	}
	return err
}

func (r *Recorder) SetUniform(u *Uniform, v UniformValue) error {
	err := r.dev.SetUniform(u, v)
	if err == nil && u != nil {
		r.emit(Call{
			Op:   OpSetUniform,
			IDs:  []uint32{programID(u.Program)},
			U:    []uint32{uint32(v.Type), uint32(v.Int)},
			F:    append([]float32(nil), v.Floats...),
			Text: []string{u.Name},
		})
	}
	return err
}

func (r *Recorder) SetTexture(u *Uniform, unit uint32, t *Texture, target TextureTarget) error {
	err := r.dev.SetTexture(u, unit, t, target)
	if err == nil && u != nil {
		r.emit(Call{
			Op:   OpSetTexture,
			IDs:  []uint32{programID(u.Program), textureID(t)},
			U:    []uint32{unit, uint32(target)},
			Text: []string{u.Name},
		})
	}
	return err
}

func (r *Recorder) Draw(d Draw) error {
	err := r.dev.Draw(d)
	if err == nil {
		r.emit(Call{Op: OpDraw, IDs: []uint32{bufferID(d.Indices)}, U: []uint32{d.Count, d.Instances}})
	}
	return err
}

func (r *Recorder) Blit(b Blit) error {
	err := r.dev.Blit(b)
	if err == nil {
		r.emit(Call{
			Op:  OpBlit,
			IDs: []uint32{framebufferID(b.Src), framebufferID(b.Dst)},
			U: []uint32{
				b.From.X0, b.From.Y0, b.From.X1, b.From.Y1,
				b.To.X0, b.To.Y0, b.To.X1, b.To.Y1,
				b2u(b.Linear),
			},
		})
	}
	return err
}

func (r *Recorder) Present() error {
	err := r.dev.Present()
	if err == nil {
		r.emit(Call{Op: OpPresent})
	}
	return err
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
