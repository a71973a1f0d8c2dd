// Package gfx defines the graphics device driven by command buffers.
//
// Device is a stateful, ordered device in the WebGL2 style: callers create
// resources, switch pipeline state and issue draws. Headless implements it
// without a display and counts the work it receives; Recorder wraps any
// Device and reports each successful operation as a Call, which Replayer can
// apply to another device later.
//
// Resources are plain Go values that also implement object.Object, so they
// can be stored directly in an execution context's object table.
package gfx
