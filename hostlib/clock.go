package hostlib

import (
	"context"
	"time"

	"github.com/wippyai/wasm-bridge/object"
)

// Clock offers now, monotonic milliseconds since the library was created,
// and unix, wall-clock milliseconds since the epoch.
func Clock() Lib {
	start := time.Now()
	rec := object.NewRecord("time").
		Set("now", object.Func(func(context.Context, object.Call) (object.Object, error) {
			return object.Numeric(float64(time.Since(start).Microseconds()) / 1000), nil
		})).
		Set("unix", object.Func(func(context.Context, object.Call) (object.Object, error) {
			return object.Numeric(time.Now().UnixMilli()), nil
		}))
	return Lib{Name: "time", Object: rec}
}
