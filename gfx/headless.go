package gfx

import (
	"regexp"
	"sync"

	"github.com/wippyai/wasm-bridge/errors"
)

// Stats counts work performed by a Headless device.
type Stats struct {
	Frames        uint64
	Clears        uint64
	Draws         uint64
	Vertices      uint64
	Instances     uint64
	Uploads       uint64
	UploadedBytes uint64
	StateChanges  uint64
	Blits         uint64
	LiveBuffers   int
	LiveTextures  int
	LivePrograms  int
}

// Headless is a Device without a display. It tracks resources and pipeline
// state, validates every operation the way a real driver would reject it,
// and counts the work submitted. It is safe for concurrent use.
type Headless struct {
	caps      Capabilities
	buffers   map[uint32]*Buffer
	textures  map[uint32]*Texture
	programs  map[uint32]*Program
	attribs   map[uint32]Attribute
	state     headlessState
	stats     Stats
	nextID    uint32
	frameHook func(Stats)
	mu        sync.Mutex
}

type headlessState struct {
	program     *Program
	framebuffer *Framebuffer
	pipeline    Pipeline
	viewport    Viewport
	clear       Color
	depthMask   bool
}

// HeadlessOption configures a Headless device.
type HeadlessOption func(*Headless)

// WithCapabilities overrides the reported capabilities.
func WithCapabilities(c Capabilities) HeadlessOption {
	return func(h *Headless) {
		h.caps = c
	}
}

// WithFrameHook registers a function called with a stats snapshot on Present.
func WithFrameHook(fn func(Stats)) HeadlessOption {
	return func(h *Headless) {
		h.frameHook = fn
	}
}

// NewHeadless creates a headless device with float-linear filtering and
// instancing available and 16 attribute slots.
func NewHeadless(opts ...HeadlessOption) *Headless {
	h := &Headless{
		caps: Capabilities{
			MaxAttributes:        16,
			FloatLinearFiltering: true,
			Instancing:           true,
		},
		buffers:  make(map[uint32]*Buffer),
		textures: make(map[uint32]*Texture),
		programs: make(map[uint32]*Program),
		attribs:  make(map[uint32]Attribute),
	}
	h.state.depthMask = true
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stats returns a snapshot of the counters.
func (h *Headless) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

func (h *Headless) snapshot() Stats {
	s := h.stats
	s.LiveBuffers = len(h.buffers)
	s.LiveTextures = len(h.textures)
	s.LivePrograms = len(h.programs)
	return s
}

// BoundProgram returns the program selected by the last pipeline change.
func (h *Headless) BoundProgram() *Program {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.program
}

// AttributeAt returns the binding of a device attribute slot.
func (h *Headless) AttributeAt(slot uint32) (Attribute, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.attribs[slot]
	return a, ok
}

func (h *Headless) Capabilities() Capabilities { return h.caps }

func (h *Headless) id() uint32 {
	h.nextID++
	return h.nextID
}

func invalid(detail string, args ...any) error {
	return errors.New(errors.PhaseHost, errors.KindInvalidInput).Detail(detail, args...).Build()
}

func deleted(what string, id uint32) error {
	return errors.New(errors.PhaseHost, errors.KindInvalidHandle).
		Detail("%s %d was deleted", what, id).
		Value(id).
		Build()
}

func (h *Headless) CreateBuffer(target BufferTarget) (*Buffer, error) {
	if target != VertexBuffer && target != IndexBuffer {
		return nil, invalid("unknown buffer target %d", target)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	b := &Buffer{ID: h.id(), Target: target}
	h.buffers[b.ID] = b
	return b, nil
}

func (h *Headless) UploadBuffer(b *Buffer, elem ElementType, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b.deleted {
		return deleted("buffer", b.ID)
	}
	if b.Target == IndexBuffer && elem != UnsignedInt && elem != UnsignedShort && elem != UnsignedByte {
		return invalid("index buffer %d: element type %d is not an integer type", b.ID, elem)
	}
	b.Elem = elem
	b.Size = uint32(len(data))
	h.stats.Uploads++
	h.stats.UploadedBytes += uint64(len(data))
	return nil
}

func (h *Headless) DeleteBuffer(b *Buffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b.deleted {
		return deleted("buffer", b.ID)
	}
	b.deleted = true
	delete(h.buffers, b.ID)
	for slot, a := range h.attribs {
		if a.Buffer == b {
			delete(h.attribs, slot)
		}
	}
	return nil
}

func (h *Headless) CreateTexture() (*Texture, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &Texture{ID: h.id()}
	h.textures[t.ID] = t
	return t, nil
}

func (h *Headless) UploadTexture(t *Texture, img TextureImage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.deleted {
		return deleted("texture", t.ID)
	}
	if img.Type == Float && !h.caps.FloatLinearFiltering &&
		(isLinearFilter(img.MinFilter) || isLinearFilter(img.MagFilter)) {
		return errors.Unsupported(errors.PhaseHost, "linear filtering of float textures")
	}
	if img.Data != nil {
		need := uint64(img.Width) * uint64(img.Height) * uint64(channels(img.PixelFormat)) * uint64(img.Type.Size())
		if uint64(len(img.Data)) < need {
			return invalid("texture %d: %d bytes for %dx%d image, need %d", t.ID, len(img.Data), img.Width, img.Height, need)
		}
	}
	t.Width, t.Height = img.Width, img.Height
	t.Format = img.InternalFormat
	t.Type = img.Type
	t.Min, t.Mag = img.MinFilter, img.MagFilter
	h.stats.Uploads++
	h.stats.UploadedBytes += uint64(len(img.Data))
	return nil
}

func (h *Headless) DeleteTexture(t *Texture) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.deleted {
		return deleted("texture", t.ID)
	}
	t.deleted = true
	delete(h.textures, t.ID)
	return nil
}

var (
	uniformDecl   = regexp.MustCompile(`(?m)^\s*uniform\s+(?:(?:lowp|mediump|highp)\s+)?\w+\s+(\w+)`)
	attributeDecl = regexp.MustCompile(`(?m)^\s*(?:layout\s*\([^)]*\)\s*)?(?:in|attribute)\s+(?:(?:lowp|mediump|highp)\s+)?\w+\s+(\w+)`)
)

func (h *Headless) CreateProgram(vertex, fragment string) (*Program, error) {
	if vertex == "" || fragment == "" {
		return nil, invalid("program needs both vertex and fragment source")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := &Program{
		ID:         h.id(),
		Vertex:     vertex,
		Fragment:   fragment,
		uniforms:   make(map[string]int32),
		attributes: make(map[string]int32),
	}
	for _, src := range []string{vertex, fragment} {
		for _, m := range uniformDecl.FindAllStringSubmatch(src, -1) {
			if _, ok := p.uniforms[m[1]]; !ok {
				p.uniforms[m[1]] = int32(len(p.uniforms))
			}
		}
	}
	for _, m := range attributeDecl.FindAllStringSubmatch(vertex, -1) {
		p.attributes[m[1]] = int32(len(p.attributes))
	}
	h.programs[p.ID] = p
	return p, nil
}

func (h *Headless) DeleteProgram(p *Program) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.deleted {
		return deleted("program", p.ID)
	}
	p.deleted = true
	delete(h.programs, p.ID)
	if h.state.program == p {
		h.state.program = nil
	}
	return nil
}

func (h *Headless) UniformLocation(p *Program, name string) (*Uniform, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.deleted {
		return nil, deleted("program", p.ID)
	}
	loc, ok := p.uniforms[name]
	if !ok {
		return nil, nil
	}
	return &Uniform{Program: p, Name: name, Location: loc}, nil
}

func (h *Headless) AttributeLocation(p *Program, name string) (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.deleted {
		return -1, deleted("program", p.ID)
	}
	loc, ok := p.attributes[name]
	if !ok {
		return -1, nil
	}
	return loc, nil
}

func (h *Headless) CreateFramebuffer(color, depth, stencil *Texture) (*Framebuffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range []*Texture{color, depth, stencil} {
		if t != nil && t.deleted {
			return nil, deleted("texture", t.ID)
		}
	}
	return &Framebuffer{ID: h.id(), Color: color, Depth: depth, Stencil: stencil}, nil
}

func (h *Headless) DeleteFramebuffer(fb *Framebuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fb.deleted {
		return deleted("framebuffer", fb.ID)
	}
	fb.deleted = true
	if h.state.framebuffer == fb {
		h.state.framebuffer = nil
	}
	return nil
}

func (h *Headless) CreateRenderbuffer(spec RenderbufferSpec) (*Renderbuffer, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, invalid("renderbuffer size %dx%d", spec.Width, spec.Height)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Renderbuffer{
		ID:      h.id(),
		Format:  spec.Format,
		Width:   spec.Width,
		Height:  spec.Height,
		Samples: spec.Samples,
	}, nil
}

func (h *Headless) DeleteRenderbuffer(rb *Renderbuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rb.deleted {
		return deleted("renderbuffer", rb.ID)
	}
	rb.deleted = true
	return nil
}

func (h *Headless) BindFramebuffer(fb *Framebuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fb != nil && fb.deleted {
		return deleted("framebuffer", fb.ID)
	}
	h.state.framebuffer = fb
	h.stats.StateChanges++
	return nil
}

func (h *Headless) SetPipeline(p Pipeline) error {
	if !validDepthFunc(p.DepthFunc) {
		return invalid("depth function %#x", p.DepthFunc)
	}
	if !validCulling(p.Culling) {
		return invalid("culling mode %#x", p.Culling)
	}
	if p.SrcBlend != 0 && (!validBlend(p.SrcBlend) || !validBlend(p.DstBlend)) {
		return invalid("blend factors %#x, %#x", p.SrcBlend, p.DstBlend)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.Program != nil && p.Program.deleted {
		return deleted("program", p.Program.ID)
	}
	h.state.pipeline = p
	h.state.program = p.Program
	h.stats.StateChanges++
	return nil
}

func (h *Headless) SetDepthMask(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.depthMask = enabled
	h.stats.StateChanges++
	return nil
}

func (h *Headless) SetViewport(v Viewport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.viewport = v
	h.stats.StateChanges++
	return nil
}

func (h *Headless) Clear(c Color) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.clear = c
	h.stats.Clears++
	return nil
}

func (h *Headless) SetAttribute(slot uint32, a Attribute) error {
	if slot >= h.caps.MaxAttributes {
		return invalid("attribute slot %d exceeds %d", slot, h.caps.MaxAttributes)
	}
	if a.Buffer != nil && (a.Components == 0 || a.Components > 4) {
		return invalid("attribute slot %d: %d components", slot, a.Components)
	}
	if a.Divisor != 0 && !h.caps.Instancing {
		return errors.Unsupported(errors.PhaseHost, "instanced attributes")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if a.Buffer == nil {
		delete(h.attribs, slot)
		return nil
	}
	if a.Buffer.deleted {
		return deleted("buffer", a.Buffer.ID)
	}
	h.attribs[slot] = a
	return nil
}

func (h *Headless) SetAttributeConstant(slot uint32, values []float32) error {
	if slot >= h.caps.MaxAttributes {
		return invalid("attribute slot %d exceeds %d", slot, h.caps.MaxAttributes)
	}
	if len(values) == 0 || len(values) > 4 {
		return invalid("constant attribute with %d components", len(values))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attribs, slot)
	return nil
}

func (h *Headless) SetUniform(u *Uniform, v UniformValue) error {
	if u == nil {
		return nil
	}
	want := map[UniformType]int{UniformFloat: 1, UniformVec2: 2, UniformVec3: 3, UniformVec4: 4, UniformMat4: 16}
	if n, ok := want[v.Type]; ok && len(v.Floats) != n {
		return invalid("uniform %q: %d floats for type %d", u.Name, len(v.Floats), v.Type)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if u.Program.deleted {
		return deleted("program", u.Program.ID)
	}
	return nil
}

func (h *Headless) SetTexture(u *Uniform, unit uint32, t *Texture, target TextureTarget) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t != nil && t.deleted {
		return deleted("texture", t.ID)
	}
	return nil
}

func (h *Headless) Draw(d Draw) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.program == nil {
		return invalid("draw without a bound program")
	}
	if d.Indices != nil {
		if d.Indices.deleted {
			return deleted("buffer", d.Indices.ID)
		}
		if d.Indices.Target != IndexBuffer {
			return invalid("buffer %d is not an index buffer", d.Indices.ID)
		}
		width := d.Indices.Elem.Size()
		if uint64(d.Count)*uint64(width) > uint64(d.Indices.Size) {
			return invalid("draw of %d indices exceeds index buffer %d (%d bytes)", d.Count, d.Indices.ID, d.Indices.Size)
		}
	}
	if d.Instances > 0 && !h.caps.Instancing {
		return errors.Unsupported(errors.PhaseHost, "instanced drawing")
	}
	h.stats.Draws++
	h.stats.Vertices += uint64(d.Count)
	if d.Instances > 0 {
		h.stats.Instances += uint64(d.Instances)
	}
	return nil
}

func (h *Headless) Blit(b Blit) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fb := range []*Framebuffer{b.Src, b.Dst} {
		if fb != nil && fb.deleted {
			return deleted("framebuffer", fb.ID)
		}
	}
	h.stats.Blits++
	return nil
}

func (h *Headless) Present() error {
	h.mu.Lock()
	h.stats.Frames++
	snap := h.snapshot()
	hook := h.frameHook
	h.mu.Unlock()
	if hook != nil {
		hook(snap)
	}
	return nil
}
