package gfx

// Device is a stateful graphics device. It holds the current bound program,
// framebuffer, attribute bindings and pipeline flags; callers only issue
// ordered operations against it.
type Device interface {
	Capabilities() Capabilities

	CreateBuffer(target BufferTarget) (*Buffer, error)
	UploadBuffer(b *Buffer, elem ElementType, data []byte) error
	DeleteBuffer(b *Buffer) error

	CreateTexture() (*Texture, error)
	UploadTexture(t *Texture, img TextureImage) error
	DeleteTexture(t *Texture) error

	CreateProgram(vertex, fragment string) (*Program, error)
	DeleteProgram(p *Program) error
	// UniformLocation returns nil when the program has no such uniform.
	UniformLocation(p *Program, name string) (*Uniform, error)
	// AttributeLocation returns -1 when the program has no such attribute.
	AttributeLocation(p *Program, name string) (int32, error)

	CreateFramebuffer(color, depth, stencil *Texture) (*Framebuffer, error)
	DeleteFramebuffer(fb *Framebuffer) error
	CreateRenderbuffer(spec RenderbufferSpec) (*Renderbuffer, error)
	DeleteRenderbuffer(rb *Renderbuffer) error

	// BindFramebuffer binds fb, or the default framebuffer when fb is nil.
	BindFramebuffer(fb *Framebuffer) error
	SetPipeline(p Pipeline) error
	SetDepthMask(enabled bool) error
	SetViewport(v Viewport) error
	Clear(c Color) error
	// SetAttribute binds one device attribute slot. A nil buffer disables it.
	SetAttribute(slot uint32, a Attribute) error
	SetAttributeConstant(slot uint32, values []float32) error
	SetUniform(u *Uniform, v UniformValue) error
	SetTexture(u *Uniform, unit uint32, t *Texture, target TextureTarget) error
	Draw(d Draw) error
	Blit(b Blit) error
	// Present marks the current frame as ready for display.
	Present() error
}

// MultiviewSupport describes stereo rendering support.
type MultiviewSupport uint32

const (
	MultiviewNone MultiviewSupport = iota
	MultiviewWithoutMSAA
	MultiviewWithMSAA
)

// Capabilities reports optional device features.
type Capabilities struct {
	MaxAttributes        uint32
	Multiview            MultiviewSupport
	FloatLinearFiltering bool
	Instancing           bool
}

// Color is an RGBA clear color.
type Color struct {
	R, G, B, A float32
}

// Viewport is a pixel rectangle given by origin and size.
type Viewport struct {
	X, Y, Width, Height uint32
}

// Rect is a pixel rectangle given by two corners.
type Rect struct {
	X0, Y0, X1, Y1 uint32
}

// Pipeline is the fixed-function state switched by a pipeline change.
// Culling 0 disables face culling; SrcBlend 0 disables blending.
type Pipeline struct {
	Program    *Program
	DepthFunc  uint32
	Culling    uint32
	SrcBlend   uint32
	DstBlend   uint32
	DepthClear float32
}

// Attribute is a per-vertex or per-instance binding of one device slot.
// Components are 32-bit floats.
type Attribute struct {
	Buffer     *Buffer
	Components uint32
	Stride     uint32
	Offset     uint32
	// Divisor 0 steps per vertex; 1 steps per instance.
	Divisor uint32
}

// UniformType selects the shape of a uniform value.
type UniformType uint8

const (
	UniformFloat UniformType = iota
	UniformInt
	UniformVec2
	UniformVec3
	UniformVec4
	UniformMat4
)

// UniformValue is a value assigned to a uniform location.
type UniformValue struct {
	Floats []float32
	Int    int32
	Type   UniformType
}

// TextureTarget selects 2D or cube-map sampling.
type TextureTarget uint8

const (
	Texture2D TextureTarget = iota
	TextureCubeMap
)

// TextureImage is the data and sampling state uploaded to a texture.
type TextureImage struct {
	Data           []byte
	InternalFormat uint32
	Width          uint32
	Height         uint32
	PixelFormat    uint32
	Type           ElementType
	MinFilter      uint32
	MagFilter      uint32
	WrapS          uint32
	WrapT          uint32
	Mipmaps        bool
}

// RenderbufferSpec sizes a renderbuffer.
type RenderbufferSpec struct {
	Format  uint32
	Width   uint32
	Height  uint32
	Samples uint32
}

// Draw issues triangles. A nil Indices draws non-indexed; Instances 0 draws
// non-instanced.
type Draw struct {
	Indices   *Buffer
	Count     uint32
	Instances uint32
}

// Blit copies a region between framebuffers. nil means the default
// framebuffer.
type Blit struct {
	Src    *Framebuffer
	Dst    *Framebuffer
	From   Rect
	To     Rect
	Linear bool
}
