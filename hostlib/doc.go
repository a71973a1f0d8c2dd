// Package hostlib provides the libraries compute modules reach through the
// root object: console output, clocks, asset fetching, persistent storage
// and program introspection on the graphics device.
//
// Operations that wait on I/O return pending objects. The compute module
// hands them to the runtime through begin_async and receives the result in
// complete_async.
package hostlib
