package memview

import (
	"encoding/binary"
	"math"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// Bytes returns a view of length bytes at offset.
func Bytes(mem wasmbridge.Memory, offset, length uint32) ([]byte, error) {
	if err := check(mem, uint64(offset), uint64(length)); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	b, ok := mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfRange(errors.PhaseMarshal, uint64(offset), uint64(length), mem.Size())
	}
	return b, nil
}

// Float32s returns a little-endian float32 view of count elements at offset.
func Float32s(mem wasmbridge.Memory, offset, count uint32) (F32View, error) {
	b, err := Bytes4(mem, offset, count)
	if err != nil {
		return F32View{}, err
	}
	return F32View{b: b}, nil
}

// Uint32s returns a little-endian uint32 view of count elements at offset.
func Uint32s(mem wasmbridge.Memory, offset, count uint32) (U32View, error) {
	b, err := Bytes4(mem, offset, count)
	if err != nil {
		return U32View{}, err
	}
	return U32View{b: b}, nil
}

// Bytes4 returns the byte view backing count 4-byte elements at offset.
func Bytes4(mem wasmbridge.Memory, offset, count uint32) ([]byte, error) {
	length := uint64(count) * 4
	if err := check(mem, uint64(offset), length); err != nil {
		return nil, err
	}
	return Bytes(mem, offset, uint32(length))
}

// Write copies data into memory at offset.
func Write(mem wasmbridge.Memory, offset uint32, data []byte) error {
	if err := check(mem, uint64(offset), uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if !mem.Write(offset, data) {
		return errors.OutOfRange(errors.PhaseMarshal, uint64(offset), uint64(len(data)), mem.Size())
	}
	return nil
}

// PutUint32 writes a little-endian uint32 at offset.
func PutUint32(mem wasmbridge.Memory, offset, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return Write(mem, offset, buf[:])
}

// Uint32 reads a little-endian uint32 at offset.
func Uint32(mem wasmbridge.Memory, offset uint32) (uint32, error) {
	b, err := Bytes(mem, offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func check(mem wasmbridge.Memory, offset, length uint64) error {
	size := mem.Size()
	if offset+length > uint64(size) {
		return errors.OutOfRange(errors.PhaseMarshal, offset, length, size)
	}
	return nil
}

// F32View is a lens over little-endian float32 values.
type F32View struct {
	b []byte
}

// Len returns the number of elements.
func (v F32View) Len() int { return len(v.b) / 4 }

// At returns element i.
func (v F32View) At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(v.b[i*4:]))
}

// Copy decodes all elements into a new slice.
func (v F32View) Copy() []float32 {
	out := make([]float32, v.Len())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

// U32View is a lens over little-endian uint32 values.
type U32View struct {
	b []byte
}

// Len returns the number of elements.
func (v U32View) Len() int { return len(v.b) / 4 }

// At returns element i.
func (v U32View) At(i int) uint32 {
	return binary.LittleEndian.Uint32(v.b[i*4:])
}

// Copy decodes all elements into a new slice.
func (v U32View) Copy() []uint32 {
	out := make([]uint32, v.Len())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}
