package memview

import (
	"sync"

	wasmbridge "github.com/wippyai/wasm-bridge"
)

// Buffer is an in-process linear memory. It backs replay, private memory
// snapshots and tests.
type Buffer struct {
	data     []byte
	maxPages uint32
	mu       sync.RWMutex
}

var (
	_ wasmbridge.Memory = (*Buffer)(nil)
	_ wasmbridge.Grower = (*Buffer)(nil)
)

// NewBuffer creates a buffer of the given page count. maxPages of 0 means
// the 4GiB limit of a 32-bit memory.
func NewBuffer(pages, maxPages uint32) *Buffer {
	if maxPages == 0 {
		maxPages = 65536
	}
	return &Buffer{
		data:     make([]byte, uint64(pages)*wasmbridge.PageSize),
		maxPages: maxPages,
	}
}

// FromBytes wraps a copy of data, padded to a whole number of pages.
func FromBytes(data []byte) *Buffer {
	pages := (uint64(len(data)) + wasmbridge.PageSize - 1) / wasmbridge.PageSize
	b := NewBuffer(uint32(pages), 0)
	copy(b.data, data)
	return b
}

// Size returns the size in bytes.
func (b *Buffer) Size() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint32(len(b.data))
}

// Read returns a view aliasing the buffer.
func (b *Buffer) Read(offset, byteCount uint32) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(b.data)) {
		return nil, false
	}
	return b.data[offset:end:end], true
}

// Write copies v into the buffer.
func (b *Buffer) Write(offset uint32, v []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := uint64(offset) + uint64(len(v))
	if end > uint64(len(b.data)) {
		return false
	}
	copy(b.data[offset:], v)
	return true
}

// Grow enlarges the buffer. The backing array is reallocated, so earlier
// views no longer observe writes.
func (b *Buffer) Grow(deltaPages uint32) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := uint32(len(b.data) / wasmbridge.PageSize)
	if uint64(prev)+uint64(deltaPages) > uint64(b.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	grown := make([]byte, len(b.data)+int(deltaPages)*wasmbridge.PageSize)
	copy(grown, b.data)
	b.data = grown
	return prev, true
}

// Snapshot copies the full contents of mem.
func Snapshot(mem wasmbridge.Memory) []byte {
	size := mem.Size()
	if size == 0 {
		return nil
	}
	b, ok := mem.Read(0, size)
	if !ok {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Restore copies a snapshot into mem, growing it first when possible.
func Restore(mem wasmbridge.Memory, snapshot []byte) error {
	need := uint64(len(snapshot))
	if have := uint64(mem.Size()); need > have {
		g, ok := mem.(wasmbridge.Grower)
		if !ok {
			return check(mem, 0, need)
		}
		delta := (need - have + wasmbridge.PageSize - 1) / wasmbridge.PageSize
		if _, ok := g.Grow(uint32(delta)); !ok {
			return check(mem, 0, need)
		}
	}
	return Write(mem, 0, snapshot)
}
