// Package wasmbin reads and writes the small subset of the WebAssembly
// binary format the bridge needs: scanning a module's imports, exports and
// memory limits, and assembling glue modules such as the shared memory
// provider.
package wasmbin
