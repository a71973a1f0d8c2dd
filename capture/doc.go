// Package capture records device calls to a compact stream and replays
// them later.
//
// A stream is an lz4 frame holding a CBOR Header followed by one CBOR
// gfx.Call per device operation. Writer plugs into gfx.NewRecorder as its
// sink; Replay feeds a stream back into any gfx.Device.
package capture
