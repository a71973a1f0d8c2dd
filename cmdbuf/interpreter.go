package cmdbuf

import (
	"context"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/memview"
	"github.com/wippyai/wasm-bridge/object"
)

// Stats counts the work an Interpreter has executed.
type Stats struct {
	Submissions uint64
	Commands    uint64
	Draws       uint64
	Frames      uint64
	Failures    uint64
}

// Interpreter replays command buffers of one execution context against a
// device. Resources it creates are registered in that context's table.
type Interpreter struct {
	dev   gfx.Device
	table *object.Table
	mem   wasmbridge.Memory
	log   *zap.Logger

	submissions atomic.Uint64
	commands    atomic.Uint64
	draws       atomic.Uint64
	frames      atomic.Uint64
	failures    atomic.Uint64
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(in *Interpreter) {
		in.log = l
	}
}

// New creates an interpreter. mem is the memory the compute module writes
// command buffers and upload data into.
func New(dev gfx.Device, table *object.Table, mem wasmbridge.Memory, opts ...Option) *Interpreter {
	in := &Interpreter{
		dev:   dev,
		table: table,
		mem:   mem,
		log:   Logger(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Stats returns a snapshot of the counters.
func (in *Interpreter) Stats() Stats {
	return Stats{
		Submissions: in.submissions.Load(),
		Commands:    in.commands.Load(),
		Draws:       in.draws.Load(),
		Frames:      in.frames.Load(),
		Failures:    in.failures.Load(),
	}
}

// Submit reads a command buffer from memory and runs it. The three pools
// are copied out of memory before anything executes.
func (in *Interpreter) Submit(ctx context.Context, opsPtr, opsLen, fPtr, fLen, uPtr, uLen uint32) error {
	in.submissions.Add(1)
	ops, f, u, err := in.readPools(opsPtr, opsLen, fPtr, fLen, uPtr, uLen)
	if err != nil {
		in.failures.Add(1)
		return err
	}
	cmds, err := Decode(ops, f, u)
	if err != nil {
		in.failures.Add(1)
		in.log.Warn("command buffer rejected", zap.Int("opcodes", len(ops)), zap.Error(err))
		return err
	}
	return in.Execute(ctx, cmds)
}

func (in *Interpreter) readPools(opsPtr, opsLen, fPtr, fLen, uPtr, uLen uint32) ([]byte, []float32, []uint32, error) {
	ops, err := memview.Bytes(in.mem, opsPtr, opsLen)
	if err != nil {
		return nil, nil, nil, err
	}
	fv, err := memview.Float32s(in.mem, fPtr, fLen)
	if err != nil {
		return nil, nil, nil, err
	}
	uv, err := memview.Uint32s(in.mem, uPtr, uLen)
	if err != nil {
		return nil, nil, nil, err
	}
	return append([]byte(nil), ops...), fv.Copy(), uv.Copy(), nil
}

// Execute runs decoded commands in order and stops at the first failure.
// The returned error carries the failing command's index.
func (in *Interpreter) Execute(ctx context.Context, cmds []Command) error {
	for _, c := range cmds {
		if err := ctx.Err(); err != nil {
			in.failures.Add(1)
			return errors.AtIndex(errors.Wrap(errors.PhaseCommand, errors.KindClosed, err, "submission cancelled"), c.Index)
		}
		if err := in.exec(c); err != nil {
			in.failures.Add(1)
			err = errors.AtIndex(err, c.Index)
			in.log.Warn("command failed",
				zap.Int("index", c.Index),
				zap.Stringer("opcode", c.Op),
				zap.Error(err))
			return err
		}
		in.commands.Add(1)
	}
	return nil
}

func (in *Interpreter) exec(c Command) error {
	f, u := c.F, c.U
	switch c.Op {
	case OpClear:
		return in.dev.Clear(gfx.Color{R: f[0], G: f[1], B: f[2], A: f[3]})

	case OpBindFramebuffer:
		fb, err := optional[*gfx.Framebuffer](in.table, u[0])
		if err != nil {
			return err
		}
		return in.dev.BindFramebuffer(fb)

	case OpChangePipeline:
		p, err := optional[*gfx.Program](in.table, u[0])
		if err != nil {
			return err
		}
		return in.dev.SetPipeline(gfx.Pipeline{
			Program:    p,
			DepthFunc:  u[1],
			Culling:    u[2],
			SrcBlend:   u[3],
			DstBlend:   u[4],
			DepthClear: f[0],
		})

	case OpSetVertexAttribute:
		return in.setAttribute(u[0], u[1], u[2], u[3])

	case OpSetVertexAttributeToConstant:
		return in.dev.SetAttributeConstant(u[0], f)

	case OpSetFloatUniform:
		return in.setUniform(u[0], gfx.UniformValue{Type: gfx.UniformFloat, Floats: f})
	case OpSetIntUniform:
		return in.setUniform(u[0], gfx.UniformValue{Type: gfx.UniformInt, Int: int32(u[1])})
	case OpSetVec2Uniform:
		return in.setUniform(u[0], gfx.UniformValue{Type: gfx.UniformVec2, Floats: f})
	case OpSetVec3Uniform:
		return in.setUniform(u[0], gfx.UniformValue{Type: gfx.UniformVec3, Floats: f})
	case OpSetVec4Uniform:
		return in.setUniform(u[0], gfx.UniformValue{Type: gfx.UniformVec4, Floats: f})
	case OpSetMat4Uniform:
		return in.setUniform(u[0], gfx.UniformValue{Type: gfx.UniformMat4, Floats: f})

	case OpSetTextureUniform, OpSetCubeMapUniform:
		loc, err := optional[*gfx.Uniform](in.table, u[0])
		if err != nil {
			return err
		}
		tex, err := optional[*gfx.Texture](in.table, u[1])
		if err != nil {
			return err
		}
		target := gfx.Texture2D
		if c.Op == OpSetCubeMapUniform {
			target = gfx.TextureCubeMap
		}
		return in.dev.SetTexture(loc, u[2], tex, target)

	case OpSetViewport:
		return in.dev.SetViewport(gfx.Viewport{X: u[0], Y: u[1], Width: u[2], Height: u[3]})

	case OpDrawTriangles:
		idx, err := optional[*gfx.Buffer](in.table, u[1])
		if err != nil {
			return err
		}
		if err := in.dev.Draw(gfx.Draw{Count: u[0], Indices: idx, Instances: u[2]}); err != nil {
			return err
		}
		in.draws.Add(1)
		return nil

	case OpPresent:
		if err := in.dev.Present(); err != nil {
			return err
		}
		in.frames.Add(1)
		return nil

	case OpSetDepthMask:
		return in.dev.SetDepthMask(u[0] != 0)

	case OpBlitFramebuffer:
		src, err := optional[*gfx.Framebuffer](in.table, u[0])
		if err != nil {
			return err
		}
		dst, err := optional[*gfx.Framebuffer](in.table, u[1])
		if err != nil {
			return err
		}
		return in.dev.Blit(gfx.Blit{
			Src:    src,
			Dst:    dst,
			From:   gfx.Rect{X0: u[2], Y0: u[3], X1: u[4], Y1: u[5]},
			To:     gfx.Rect{X0: u[6], Y0: u[7], X1: u[8], Y1: u[9]},
			Linear: u[10] != 0,
		})

	case OpCreateBuffer:
		return in.create(u[1], func() (object.Object, error) {
			return in.dev.CreateBuffer(gfx.BufferTarget(u[0]))
		})

	case OpUploadBuffer:
		b, err := object.As[*gfx.Buffer](in.table, object.Handle(u[0]))
		if err != nil {
			return err
		}
		elem := gfx.ElementType(u[1])
		data, err := in.elements(u[2], u[3], elem)
		if err != nil {
			return err
		}
		return in.dev.UploadBuffer(b, elem, data)

	case OpDeleteBuffer:
		return deleteResource(in.table, u[0], in.dev.DeleteBuffer)

	case OpCreateTexture:
		return in.create(u[0], func() (object.Object, error) {
			return in.dev.CreateTexture()
		})

	case OpUploadTexture:
		return in.uploadTexture(u)

	case OpDeleteTexture:
		return deleteResource(in.table, u[0], in.dev.DeleteTexture)

	case OpCreateProgram:
		vertex, err := in.text(u[0], u[1])
		if err != nil {
			return err
		}
		fragment, err := in.text(u[2], u[3])
		if err != nil {
			return err
		}
		return in.create(u[4], func() (object.Object, error) {
			return in.dev.CreateProgram(vertex, fragment)
		})

	case OpDeleteProgram:
		return deleteResource(in.table, u[0], in.dev.DeleteProgram)

	case OpCreateFramebuffer:
		var atts [3]*gfx.Texture
		for i := range atts {
			t, err := optional[*gfx.Texture](in.table, u[i])
			if err != nil {
				return err
			}
			atts[i] = t
		}
		return in.create(u[3], func() (object.Object, error) {
			return in.dev.CreateFramebuffer(atts[0], atts[1], atts[2])
		})

	case OpDeleteFramebuffer:
		return deleteResource(in.table, u[0], in.dev.DeleteFramebuffer)

	case OpCreateRenderbuffer:
		return in.create(u[4], func() (object.Object, error) {
			return in.dev.CreateRenderbuffer(gfx.RenderbufferSpec{
				Format:  u[0],
				Width:   u[1],
				Height:  u[2],
				Samples: u[3],
			})
		})

	case OpDeleteRenderbuffer:
		return deleteResource(in.table, u[0], in.dev.DeleteRenderbuffer)
	}
	return errors.Protocol(errors.PhaseCommand, c.Index, "unknown opcode %d", c.Op)
}

// setAttribute binds a logical attribute of k float components. Attributes
// wider than four components occupy ceil(k/4) consecutive slots, each at
// most four wide, sharing a stride of k floats and offset by 16 bytes.
func (in *Interpreter) setAttribute(slot, k, bufHandle, perInstance uint32) error {
	buf, err := optional[*gfx.Buffer](in.table, bufHandle)
	if err != nil {
		return err
	}
	var divisor uint32
	if perInstance != 0 {
		divisor = 1
	}
	for i, a := range SplitAttribute(k) {
		attr := gfx.Attribute{}
		if buf != nil {
			attr = gfx.Attribute{
				Buffer:     buf,
				Components: a.Components,
				Stride:     a.Stride,
				Offset:     a.Offset,
				Divisor:    divisor,
			}
		}
		if err := in.dev.SetAttribute(slot+uint32(i), attr); err != nil {
			return err
		}
	}
	return nil
}

// Slot is one device attribute binding produced by SplitAttribute.
type Slot struct {
	Components uint32
	Stride     uint32
	Offset     uint32
}

// SplitAttribute decomposes a k-component float attribute into device
// slots of at most four components.
func SplitAttribute(k uint32) []Slot {
	if k == 0 {
		return []Slot{{}}
	}
	n := (k + 3) / 4
	slots := make([]Slot, n)
	remaining := k
	for i := range slots {
		width := min(uint32(4), remaining)
		slots[i] = Slot{Components: width, Stride: k * 4, Offset: 16 * uint32(i)}
		remaining -= width
	}
	return slots
}

func (in *Interpreter) setUniform(loc uint32, v gfx.UniformValue) error {
	u, err := optional[*gfx.Uniform](in.table, loc)
	if err != nil {
		return err
	}
	return in.dev.SetUniform(u, v)
}

func (in *Interpreter) uploadTexture(u []uint32) error {
	tex, err := object.As[*gfx.Texture](in.table, object.Handle(u[0]))
	if err != nil {
		return err
	}
	img := gfx.TextureImage{
		InternalFormat: u[1],
		Width:          u[2],
		Height:         u[3],
		PixelFormat:    u[4],
		Type:           gfx.ElementType(u[5]),
		MinFilter:      u[8],
		MagFilter:      u[9],
		Mipmaps:        u[10] != 0,
		WrapS:          u[11],
		WrapT:          u[12],
	}
	if u[6] != 0 || u[7] != 0 {
		img.Data, err = in.elements(u[6], u[7], img.Type)
		if err != nil {
			return err
		}
	}
	if img.Type == gfx.Float && !in.dev.Capabilities().FloatLinearFiltering {
		minF, magF := gfx.NearestEquivalent(img.MinFilter), gfx.NearestEquivalent(img.MagFilter)
		if minF != img.MinFilter || magF != img.MagFilter {
			in.log.Warn("float linear filtering unavailable, using nearest",
				zap.Uint32("texture", u[0]),
				zap.Error(errors.Unsupported(errors.PhaseCommand, "float linear filtering")))
			img.MinFilter, img.MagFilter = minF, magF
		}
	}
	return in.dev.UploadTexture(tex, img)
}

// elements returns a view of count elements of type elem at ptr.
func (in *Interpreter) elements(ptr, count uint32, elem gfx.ElementType) ([]byte, error) {
	n := uint64(count) * uint64(elem.Size())
	if n > uint64(^uint32(0)) {
		return nil, errors.OutOfRange(errors.PhaseCommand, uint64(ptr), n, in.mem.Size())
	}
	return memview.Bytes(in.mem, ptr, uint32(n))
}

func (in *Interpreter) text(ptr, length uint32) (string, error) {
	b, err := memview.Bytes(in.mem, ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidUTF8(errors.PhaseCommand, ptr, b)
	}
	return string(b), nil
}

// create runs fn, registers its result and writes the new handle to outPtr.
// outPtr is checked before fn runs so a bad pointer leaves no resource
// behind.
func (in *Interpreter) create(outPtr uint32, fn func() (object.Object, error)) error {
	if _, err := memview.Uint32(in.mem, outPtr); err != nil {
		return err
	}
	obj, err := fn()
	if err != nil {
		return err
	}
	h := in.table.Register(obj)
	return memview.PutUint32(in.mem, outPtr, uint32(h))
}

// optional resolves h as T, treating handle 0 as "none".
func optional[T object.Object](t *object.Table, h uint32) (T, error) {
	var zero T
	if h == uint32(object.Null) {
		return zero, nil
	}
	return object.As[T](t, object.Handle(h))
}

func deleteResource[T object.Object](t *object.Table, h uint32, del func(T) error) error {
	res, err := object.As[T](t, object.Handle(h))
	if err != nil {
		return err
	}
	if err := del(res); err != nil {
		return err
	}
	return t.Release(object.Handle(h))
}
