package gfx

// Enum values shared with the compute side. They follow the WebGL2 numbering
// so that guests built for a browser backend submit the same words.
const (
	// Depth functions
	Never        uint32 = 0x0200
	Less         uint32 = 0x0201
	Equal        uint32 = 0x0202
	LessEqual    uint32 = 0x0203
	Greater      uint32 = 0x0204
	NotEqual     uint32 = 0x0205
	GreaterEqual uint32 = 0x0206
	Always       uint32 = 0x0207

	// Face culling
	Front        uint32 = 0x0404
	Back         uint32 = 0x0405
	FrontAndBack uint32 = 0x0408

	// Blend factors
	Zero             uint32 = 0
	One              uint32 = 1
	SrcColor         uint32 = 0x0300
	OneMinusSrcColor uint32 = 0x0301
	SrcAlpha         uint32 = 0x0302
	OneMinusSrcAlpha uint32 = 0x0303
	DstAlpha         uint32 = 0x0304
	OneMinusDstAlpha uint32 = 0x0305
	DstColor         uint32 = 0x0306
	OneMinusDstColor uint32 = 0x0307

	// Texture filters
	Nearest              uint32 = 0x2600
	Linear               uint32 = 0x2601
	NearestMipmapNearest uint32 = 0x2700
	LinearMipmapNearest  uint32 = 0x2701
	NearestMipmapLinear  uint32 = 0x2702
	LinearMipmapLinear   uint32 = 0x2703

	// Texture wrapping
	Repeat         uint32 = 0x2901
	ClampToEdge    uint32 = 0x812F
	MirroredRepeat uint32 = 0x8370

	// Pixel formats
	DepthComponent uint32 = 0x1902
	Red            uint32 = 0x1903
	RGB            uint32 = 0x1907
	RGBA           uint32 = 0x1908
	RG             uint32 = 0x8227
)

// ElementType is the numeric type tag of uploaded data.
type ElementType uint32

const (
	UnsignedByte  ElementType = 5121
	UnsignedShort ElementType = 5123
	UnsignedInt   ElementType = 5125
	Float         ElementType = 5126
)

// Size returns the element width in bytes. Unknown tags are treated as bytes.
func (e ElementType) Size() uint32 {
	switch e {
	case Float, UnsignedInt:
		return 4
	case UnsignedShort:
		return 2
	default:
		return 1
	}
}

func validDepthFunc(v uint32) bool {
	return v >= Never && v <= Always
}

func validCulling(v uint32) bool {
	return v == 0 || v == Front || v == Back || v == FrontAndBack
}

func validBlend(v uint32) bool {
	switch v {
	case Zero, One, SrcColor, OneMinusSrcColor, SrcAlpha, OneMinusSrcAlpha,
		DstAlpha, OneMinusDstAlpha, DstColor, OneMinusDstColor:
		return true
	}
	return false
}

func isLinearFilter(v uint32) bool {
	switch v {
	case Linear, LinearMipmapNearest, NearestMipmapLinear, LinearMipmapLinear:
		return true
	}
	return false
}

// NearestEquivalent maps a filter to the closest filter without linear
// interpolation.
func NearestEquivalent(filter uint32) uint32 {
	switch filter {
	case Linear:
		return Nearest
	case LinearMipmapNearest, NearestMipmapLinear, LinearMipmapLinear:
		return NearestMipmapNearest
	}
	return filter
}

func channels(format uint32) uint32 {
	switch format {
	case RGBA:
		return 4
	case RGB:
		return 3
	case RG:
		return 2
	default:
		return 1
	}
}
