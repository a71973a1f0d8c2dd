package hostlib

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/object"
)

// Lib is one named entry of the root object.
type Lib struct {
	Name   string
	Object object.Object
}

// Root assembles the root record from libs. Later entries replace earlier
// ones with the same name.
func Root(libs ...Lib) *object.Record {
	root := object.NewRecord("root")
	for _, l := range libs {
		root.Set(l.Name, l.Object)
	}
	return root
}

// arg returns argument i as T. Arguments passed by call_raw arrive as raw
// words; those are resolved as handles.
func arg[T object.Object](call object.Call, i int) (T, error) {
	var zero T
	if i >= len(call.Args) {
		return zero, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("argument %d missing", i))
	}
	if v, ok := call.Args[i].(T); ok {
		return v, nil
	}
	if n, ok := call.Args[i].(object.Numeric); ok && call.Table != nil && i < len(call.Raw) {
		return object.As[T](call.Table, object.Handle(n.U32()))
	}
	return zero, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		Detail("argument %d: got %s", i, object.KindOf(call.Args[i])).
		Build()
}

// describe renders an object for logs.
func describe(o object.Object) string {
	switch v := o.(type) {
	case nil:
		return "null"
	case object.Text:
		return string(v)
	case object.Numeric:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case object.Bytes:
		return fmt.Sprintf("<%d bytes>", len(v))
	case *object.Failure:
		return v.Message()
	case *object.Record:
		return "[" + v.Name() + ": " + strings.Join(v.Names(), ", ") + "]"
	}
	return "[" + object.KindOf(o).String() + "]"
}

func join(args []object.Object) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = describe(a)
	}
	return strings.Join(parts, " ")
}
