package gfx

import "github.com/wippyai/wasm-bridge/object"

// BufferTarget selects how a buffer is bound.
type BufferTarget uint32

const (
	VertexBuffer BufferTarget = 0
	IndexBuffer  BufferTarget = 1
)

// Buffer is device-owned vertex or index storage.
type Buffer struct {
	ID      uint32
	Target  BufferTarget
	Elem    ElementType
	Size    uint32
	deleted bool
}

func (*Buffer) Kind() object.Kind { return object.KindBuffer }

// Texture is a 2D texture.
type Texture struct {
	ID      uint32
	Width   uint32
	Height  uint32
	Format  uint32
	Type    ElementType
	Min     uint32
	Mag     uint32
	deleted bool
}

func (*Texture) Kind() object.Kind { return object.KindTexture }

// Program is a linked vertex and fragment shader pair.
type Program struct {
	ID         uint32
	Vertex     string
	Fragment   string
	uniforms   map[string]int32
	attributes map[string]int32
	deleted    bool
}

func (*Program) Kind() object.Kind { return object.KindProgram }

// Uniform is a uniform location within a program.
type Uniform struct {
	Program  *Program
	Name     string
	Location int32
}

func (*Uniform) Kind() object.Kind { return object.KindUniform }

// Framebuffer is an off-screen render target.
type Framebuffer struct {
	ID      uint32
	Color   *Texture
	Depth   *Texture
	Stencil *Texture
	deleted bool
}

func (*Framebuffer) Kind() object.Kind { return object.KindFramebuffer }

// Renderbuffer is a multisampled render target attachment.
type Renderbuffer struct {
	ID      uint32
	Format  uint32
	Width   uint32
	Height  uint32
	Samples uint32
	deleted bool
}

func (*Renderbuffer) Kind() object.Kind { return object.KindRenderbuffer }
