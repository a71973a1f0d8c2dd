// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (which layer raised them) and Kind (error
// category). Every Kind maps to a boundary status Code that is reported back
// to the compute module instead of a silently substituted zero.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseCommand, errors.KindProtocol).
//		Index(12).
//		Detail("u32 pool underflow: need 4, have 1").
//		Build()
//
// Or the convenience constructors:
//
//	err := errors.InvalidHandle(errors.PhaseHandle, 7, "released")
//	err := errors.OutOfRange(errors.PhaseMarshal, offset, length, size)
//
// Kind-only sentinels support errors.Is across phases:
//
//	if errors.Is(err, errors.ErrInvalidHandle) { ... }
package errors
