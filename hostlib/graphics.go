package hostlib

import (
	"context"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/object"
)

// Graphics offers program introspection on dev: uniform_location(program,
// name) returns a uniform or null, attribute_location(program, name) the
// attribute slot or -1.
func Graphics(dev gfx.Device) Lib {
	rec := object.NewRecord("graphics").
		Set("uniform_location", object.Func(func(_ context.Context, call object.Call) (object.Object, error) {
			p, name, err := programAndName(dev, call)
			if err != nil {
				return nil, err
			}
			u, err := dev.UniformLocation(p, name)
			if err != nil || u == nil {
				return nil, err
			}
			return u, nil
		})).
		Set("attribute_location", object.Func(func(_ context.Context, call object.Call) (object.Object, error) {
			p, name, err := programAndName(dev, call)
			if err != nil {
				return nil, err
			}
			loc, err := dev.AttributeLocation(p, name)
			if err != nil {
				return nil, err
			}
			return object.Numeric(loc), nil
		}))
	return Lib{Name: "graphics", Object: rec}
}

func programAndName(dev gfx.Device, call object.Call) (*gfx.Program, string, error) {
	if dev == nil {
		return nil, "", errors.Unsupported(errors.PhaseHost, "no graphics device")
	}
	p, err := arg[*gfx.Program](call, 0)
	if err != nil {
		return nil, "", err
	}
	name, err := arg[object.Text](call, 1)
	if err != nil {
		return nil, "", err
	}
	return p, string(name), nil
}
