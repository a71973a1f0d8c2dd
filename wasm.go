package wasmbridge

// Memory is the linear memory region shared between a compute module and
// the host. The method set matches wazero's api.Memory so an instance
// memory can be passed directly.
//
// Slices returned by Read alias the region. They are invalidated when the
// region grows and must not be retained across a boundary call.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32
	// Read returns a view of byteCount bytes at offset, or false if out of range.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies v into the region at offset, or returns false if out of range.
	Write(offset uint32, v []byte) bool
}

// Grower is implemented by memories that can be enlarged in 64KiB pages.
type Grower interface {
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// PageSize is the WebAssembly page size in bytes.
const PageSize = 65536
