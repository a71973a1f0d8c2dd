// Package bridge is the host side of the boundary between a compute module
// and its host.
//
// A Bridge belongs to one execution context. It owns that context's object
// table, marshals values through the context's linear memory and runs its
// command buffers on the shared graphics device. Instantiate registers the
// bridge functions as a wazero host module; they look up the calling
// context's Bridge from the call's context.Context (see WithContext).
//
// Functions that return a handle or length return FailureHandle on failure;
// functions that return a status return the error code directly. In both
// cases last_error, last_error_message and last_error_index describe the
// most recent fallible call.
package bridge
