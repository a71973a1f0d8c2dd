package gfx

// Op names one recorded device operation.
type Op uint8

const (
	OpCreateBuffer Op = iota + 1
	OpUploadBuffer
	OpDeleteBuffer
	OpCreateTexture
	OpUploadTexture
	OpDeleteTexture
	OpCreateProgram
	OpDeleteProgram
	OpUniformLocation
	OpCreateFramebuffer
	OpDeleteFramebuffer
	OpCreateRenderbuffer
	OpDeleteRenderbuffer
	OpBindFramebuffer
	OpSetPipeline
	OpSetDepthMask
	OpSetViewport
	OpClear
	OpSetAttribute
	OpSetAttributeConstant
	OpSetUniform
	OpSetTexture
	OpDraw
	OpBlit
	OpPresent
)

var opNames = [...]string{
	OpCreateBuffer:         "create_buffer",
	OpUploadBuffer:         "upload_buffer",
	OpDeleteBuffer:         "delete_buffer",
	OpCreateTexture:        "create_texture",
	OpUploadTexture:        "upload_texture",
	OpDeleteTexture:        "delete_texture",
	OpCreateProgram:        "create_program",
	OpDeleteProgram:        "delete_program",
	OpUniformLocation:      "uniform_location",
	OpCreateFramebuffer:    "create_framebuffer",
	OpDeleteFramebuffer:    "delete_framebuffer",
	OpCreateRenderbuffer:   "create_renderbuffer",
	OpDeleteRenderbuffer:   "delete_renderbuffer",
	OpBindFramebuffer:      "bind_framebuffer",
	OpSetPipeline:          "set_pipeline",
	OpSetDepthMask:         "set_depth_mask",
	OpSetViewport:          "set_viewport",
	OpClear:                "clear",
	OpSetAttribute:         "set_attribute",
	OpSetAttributeConstant: "set_attribute_constant",
	OpSetUniform:           "set_uniform",
	OpSetTexture:           "set_texture",
	OpDraw:                 "draw",
	OpBlit:                 "blit",
	OpPresent:              "present",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return "unknown"
}

// Call is one device operation as seen by a Recorder. Resources are referred
// to by their device ID; ID 0 stands for "none". Creation calls carry the new
// resource's ID first in IDs.
type Call struct {
	Op   Op        `cbor:"1,keyasint"`
	IDs  []uint32  `cbor:"2,keyasint,omitempty"`
	U    []uint32  `cbor:"3,keyasint,omitempty"`
	F    []float32 `cbor:"4,keyasint,omitempty"`
	Data []byte    `cbor:"5,keyasint,omitempty"`
	Text []string  `cbor:"6,keyasint,omitempty"`
}

// Sink receives recorded calls in submission order.
type Sink interface {
	Record(c Call) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Call) error

func (f SinkFunc) Record(c Call) error { return f(c) }

func bufferID(b *Buffer) uint32 {
	if b == nil {
		return 0
	}
	return b.ID
}

func textureID(t *Texture) uint32 {
	if t == nil {
		return 0
	}
	return t.ID
}

func programID(p *Program) uint32 {
	if p == nil {
		return 0
	}
	return p.ID
}

func framebufferID(fb *Framebuffer) uint32 {
	if fb == nil {
		return 0
	}
	return fb.ID
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
