package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates which layer of the bridge raised the error
type Phase string

const (
	PhaseHandle    Phase = "handle"    // object table
	PhaseMarshal   Phase = "marshal"   // memory views, strings, calls
	PhaseCommand   Phase = "command"   // command-buffer decode/execute
	PhaseBootstrap Phase = "bootstrap" // context spawn and handshake
	PhaseAsync     Phase = "async"     // begin/complete handshake
	PhaseHost      Phase = "host"      // host libraries and devices
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseCapture   Phase = "capture"   // capture encode/decode
	PhaseLoad      Phase = "load"      // module loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle Kind = "invalid_handle"
	KindDecode        Kind = "decode"
	KindOutOfRange    Kind = "out_of_range"
	KindProtocol      Kind = "protocol"
	KindUnsupported   Kind = "unsupported_capability"
	KindTypeMismatch  Kind = "type_mismatch"
	KindNotFound      Kind = "not_found"
	KindHostFailure   Kind = "host_failure"
	KindInstantiation Kind = "instantiation"
	KindMissingImport Kind = "missing_import"
	KindInvalidInput  Kind = "invalid_input"
	KindClosed        Kind = "closed"
)

// Code is the status value reported across the boundary to the compute module.
type Code uint32

const (
	CodeOK            Code = 0
	CodeInvalidHandle Code = 1
	CodeDecode        Code = 2
	CodeOutOfRange    Code = 3
	CodeProtocol      Code = 4
	CodeUnsupported   Code = 5
	CodeTypeMismatch  Code = 6
	CodeHostFailure   Code = 7
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	// Index is the command index within a command buffer, or -1.
	Index int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Index >= 0 {
		fmt.Fprintf(&b, " (command #%d)", e.Index)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Code maps the error kind to its boundary status code.
func (e *Error) Code() Code {
	switch e.Kind {
	case KindInvalidHandle:
		return CodeInvalidHandle
	case KindDecode:
		return CodeDecode
	case KindOutOfRange:
		return CodeOutOfRange
	case KindProtocol:
		return CodeProtocol
	case KindUnsupported:
		return CodeUnsupported
	case KindTypeMismatch:
		return CodeTypeMismatch
	default:
		return CodeHostFailure
	}
}

// Sentinels for errors.Is checks that only care about the kind.
var (
	ErrInvalidHandle = &Error{Kind: KindInvalidHandle, Index: -1}
	ErrDecode        = &Error{Kind: KindDecode, Index: -1}
	ErrOutOfRange    = &Error{Kind: KindOutOfRange, Index: -1}
	ErrProtocol      = &Error{Kind: KindProtocol, Index: -1}
	ErrUnsupported   = &Error{Kind: KindUnsupported, Index: -1}
	ErrTypeMismatch  = &Error{Kind: KindTypeMismatch, Index: -1}
	ErrClosed        = &Error{Kind: KindClosed, Index: -1}
	ErrNotFound      = &Error{Kind: KindNotFound, Index: -1}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput, Index: -1}
)

// CodeOf returns the boundary status code for err. nil maps to CodeOK and
// errors outside this package map to CodeHostFailure.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return CodeHostFailure
}

// IndexOf returns the command index carried by err, if any.
func IndexOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Index >= 0 {
		return e.Index, true
	}
	return -1, false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
			Index: -1,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Index sets the command index
func (b *Builder) Index(i int) *Builder {
	b.err.Index = i
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidHandle creates an error for a dereference of a non-live handle
func InvalidHandle(phase Phase, handle uint32, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("handle %d: %s", handle, detail),
		Value:  handle,
		Index:  -1,
	}
}

// InvalidUTF8 creates a decode error for malformed text bytes
func InvalidUTF8(phase Phase, offset uint32, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindDecode,
		Detail: fmt.Sprintf("invalid UTF-8 sequence at offset %d: %x", offset, preview),
		Value:  offset,
		Index:  -1,
	}
}

// OutOfRange creates an error for a view outside the memory region
func OutOfRange(phase Phase, offset, length uint64, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfRange,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory size %d", offset, offset+length, size),
		Value:  offset,
		Index:  -1,
	}
}

// Protocol creates a protocol violation error at a command index (-1 for none)
func Protocol(phase Phase, index int, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindProtocol,
		Detail: detail,
		Index:  index,
	}
}

// Unsupported creates an unsupported capability error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
		Index:  -1,
	}
}

// TypeMismatch creates an error for a handle whose object has an unexpected shape
func TypeMismatch(phase Phase, handle uint32, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("handle %d: want %s, got %s", handle, want, got),
		Value:  handle,
		Index:  -1,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
		Index:  -1,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
		Index:  -1,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
		Index:  -1,
	}
}

// AtIndex returns err annotated with a command index. Errors that already
// carry an index are returned unchanged.
func AtIndex(err error, index int) error {
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Phase: PhaseCommand, Kind: KindHostFailure, Cause: err, Index: index}
	}
	if e.Index >= 0 {
		return err
	}
	c := *e
	c.Index = index
	return &c
}

// Instantiation creates an instantiation error
func Instantiation(phase Phase, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
		Index:  -1,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
		Index:  -1,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module string // e.g., "env"
	Name   string // e.g., "abort"
}

// MissingImportsError is returned when the primary context cannot resolve
// every import of the compute module
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#name" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, name, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{Module: mod, Name: name})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[bootstrap] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d import(s):\n", len(e.Imports))

	byModule := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], imp.Name)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, name := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
