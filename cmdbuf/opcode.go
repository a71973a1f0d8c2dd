package cmdbuf

import "strconv"

// Opcode is one instruction tag in the opcode stream.
type Opcode uint8

const (
	OpClear Opcode = iota
	OpBindFramebuffer
	OpChangePipeline
	OpSetVertexAttribute
	OpSetVertexAttributeToConstant
	OpSetFloatUniform
	OpSetIntUniform
	OpSetVec2Uniform
	OpSetVec3Uniform
	OpSetVec4Uniform
	OpSetMat4Uniform
	OpSetTextureUniform
	OpSetViewport
	OpDrawTriangles
	OpPresent
	OpSetCubeMapUniform
	OpSetDepthMask
	OpBlitFramebuffer
	OpCreateBuffer
	OpUploadBuffer
	OpDeleteBuffer
	OpCreateTexture
	OpUploadTexture
	OpDeleteTexture
	OpCreateProgram
	OpDeleteProgram
	OpCreateFramebuffer
	OpDeleteFramebuffer
	OpCreateRenderbuffer
	OpDeleteRenderbuffer

	opCount
)

// arity is the number of operands an opcode takes from each pool.
// A negative f means the float count is the u32 operand at index -f-1.
type arity struct {
	name string
	f    int
	u    int
}

var arities = [opCount]arity{
	OpClear:                        {"clear", 4, 0},
	OpBindFramebuffer:              {"bind_framebuffer", 0, 1},
	OpChangePipeline:               {"change_pipeline", 1, 5},
	OpSetVertexAttribute:           {"set_vertex_attribute", 0, 4},
	OpSetVertexAttributeToConstant: {"set_vertex_attribute_to_constant", -2, 2},
	OpSetFloatUniform:              {"set_float_uniform", 1, 1},
	OpSetIntUniform:                {"set_int_uniform", 0, 2},
	OpSetVec2Uniform:               {"set_vec2_uniform", 2, 1},
	OpSetVec3Uniform:               {"set_vec3_uniform", 3, 1},
	OpSetVec4Uniform:               {"set_vec4_uniform", 4, 1},
	OpSetMat4Uniform:               {"set_mat4_uniform", 16, 1},
	OpSetTextureUniform:            {"set_texture_uniform", 0, 3},
	OpSetViewport:                  {"set_viewport", 0, 4},
	OpDrawTriangles:                {"draw_triangles", 0, 3},
	OpPresent:                      {"present", 0, 0},
	OpSetCubeMapUniform:            {"set_cube_map_uniform", 0, 3},
	OpSetDepthMask:                 {"set_depth_mask", 0, 1},
	OpBlitFramebuffer:              {"blit_framebuffer", 0, 11},
	OpCreateBuffer:                 {"create_buffer", 0, 2},
	OpUploadBuffer:                 {"upload_buffer", 0, 4},
	OpDeleteBuffer:                 {"delete_buffer", 0, 1},
	OpCreateTexture:                {"create_texture", 0, 1},
	OpUploadTexture:                {"upload_texture", 0, 13},
	OpDeleteTexture:                {"delete_texture", 0, 1},
	OpCreateProgram:                {"create_program", 0, 5},
	OpDeleteProgram:                {"delete_program", 0, 1},
	OpCreateFramebuffer:            {"create_framebuffer", 0, 4},
	OpDeleteFramebuffer:            {"delete_framebuffer", 0, 1},
	OpCreateRenderbuffer:           {"create_renderbuffer", 0, 5},
	OpDeleteRenderbuffer:           {"delete_renderbuffer", 0, 1},
}

// Valid reports whether o is a known opcode.
func (o Opcode) Valid() bool { return o < opCount }

func (o Opcode) String() string {
	if o.Valid() {
		return arities[o].name
	}
	return "opcode(" + strconv.Itoa(int(o)) + ")"
}
