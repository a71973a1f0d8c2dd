package wasmbin

import "github.com/tetratelabs/wazero/api"

// AppendULEB128 appends v in unsigned LEB128 form.
func AppendULEB128(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendSLEB128 appends v in signed LEB128 form.
func AppendSLEB128[T int32 | int64](dst []byte, v T) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// DecodeULEB128 decodes an unsigned LEB128 value and returns it with the
// number of bytes read. n is 0 when data ends before the value does or the
// value does not fit in 32 bits.
func DecodeULEB128(data []byte) (v uint32, n int) {
	var shift uint
	for i, b := range data {
		if shift == 28 && b&0x70 != 0 {
			return 0, 0
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
		if shift > 28 {
			return 0, 0
		}
	}
	return 0, 0
}

func appendName(dst []byte, s string) []byte {
	dst = AppendULEB128(dst, uint32(len(s)))
	return append(dst, s...)
}

// ValType returns the binary encoding of a wazero value type.
func ValType(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	default:
		return 0x7f
	}
}
