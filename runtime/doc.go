// Package runtime runs a compute module under wazero with the bridge host
// module attached.
//
// New scans the module's imports and decides how execution contexts share
// memory. Start instantiates the primary context and runs its startup
// sequence; Context.Run then delivers asynchronous settlements, input
// events and frame ticks to it. Secondary contexts are spawned by the module
// through spawn_context and run their entry point on their own goroutine.
//
// Imports the bridge, WASI and the configured host functions do not cover
// make the primary context fail with a MissingImportsError. Secondary
// contexts in private runtimes replace them with logging no-ops.
package runtime
