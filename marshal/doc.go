// Package marshal implements the data-moving half of the bridge: decoding
// strings out of linear memory, invoking host callables, reading properties
// and numbers, and returning variable-length data to the compute module.
//
// Returning data uses the reserve protocol. The host asks the compute module
// for a scratch region of the needed size, writes into it, and the compute
// side consumes it before its next call:
//
//	m := marshal.New(mem, table, marshal.NewScratch(reserver))
//	off, n, err := m.EncodeAndReserve(ctx, "hello")
//
// Scratch enforces that only one reservation is outstanding at a time.
package marshal
