// Package wasmbridge connects a sandboxed WebAssembly compute module to a Go
// host that owns stateful capabilities: a graphics device, host libraries,
// input and frame timing, and additional execution contexts.
//
// The compute module never holds a host reference. It talks to the host
// through integer handles, (offset, length) pairs into its linear memory, and
// a batched command buffer submitted once per frame.
//
// # Architecture Overview
//
//	wasmbridge/          Root package with the shared Memory interface
//	├── runtime/         wazero runtime, execution contexts, event loop, async bridge
//	├── bridge/          Per-context bridge and the exported host module
//	├── object/          Handle table and the closed host object variant
//	├── marshal/         Strings, calls, properties and the scratch reserve protocol
//	├── memview/         Checked byte and typed views over linear memory
//	├── cmdbuf/          Command-buffer decoder and interpreter
//	├── gfx/             Graphics device interface, headless device, recorder
//	├── capture/         Compressed capture and replay of device calls
//	├── hostlib/         Root object libraries (console, time, fetch, storage, graphics)
//	├── config/          TOML configuration and hot reload
//	└── errors/          Structured error types and boundary status codes
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, wasmBytes,
//	    runtime.WithThreads(true),
//	    runtime.WithDevice(gfx.NewHeadless()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	primary, err := rt.Start(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := primary.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Execution Contexts
//
// Each context runs on its own goroutine and owns its own object table.
// Handles are only meaningful inside the context that minted them. When the
// guest imports a shared memory and threads are enabled, all contexts see the
// same memory; otherwise each secondary context works on a private copy taken
// when it was spawned.
//
// # Memory Model
//
// Views over linear memory are re-acquired on every boundary call. Growth of
// the memory may move its backing array, so no view is kept between calls.
package wasmbridge
