package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/object"
)

// runFuture begins the operation keyed by token on the primary context. It
// asks the module for the awaitable through begin_async, takes the object
// out of the table and waits for it on its own goroutine. The settlement
// is delivered by the event loop.
func (c *Context) runFuture(ctx context.Context, token uint32) error {
	c.mu.Lock()
	if _, dup := c.pending[token]; dup {
		c.mu.Unlock()
		return errors.Protocol(errors.PhaseAsync, -1, "token %d is already pending", token)
	}
	c.pending[token] = struct{}{}
	c.mu.Unlock()

	p, err := c.beginAsync(ctx, token)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
		return err
	}
	c.started.Add(1)
	c.log.Debug("async operation started", zap.Uint32("token", token), zap.String("operation", p.Name()))

	base := c.rt.base
	go func() {
		v, err := p.Await(base)
		c.inbox.push(settlement{token: token, value: v, err: err})
	}()
	return nil
}

func (c *Context) beginAsync(ctx context.Context, token uint32) (*object.Pending, error) {
	name := c.rt.opts.exports.BeginAsync
	res, err := c.Call(ctx, name, uint64(token))
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errors.Protocol(errors.PhaseAsync, -1, "%s returned no handle", name)
	}

	table := c.bridge.Table()
	h := object.Handle(uint32(res[0]))
	obj, err := table.Resolve(h)
	if err != nil {
		return nil, err
	}
	if err := table.Release(h); err != nil {
		c.log.Debug("awaitable handle not released", zap.Uint32("handle", uint32(h)), zap.Error(err))
	}

	switch v := obj.(type) {
	case *object.Pending:
		return v, nil
	case object.Func:
		call := object.Call{Memory: c.bridge.Memory(), Table: table}
		return object.NewPending("callable", func(ctx context.Context) (object.Object, error) {
			return v(ctx, call)
		}), nil
	}
	return nil, errors.TypeMismatch(errors.PhaseAsync, uint32(h), "pending", object.KindOf(obj).String())
}

// settle completes token exactly once. A rejection completes with a
// handle to the failure; a settlement for a token that is not pending is
// ignored.
func (c *Context) settle(ctx context.Context, s settlement) error {
	c.mu.Lock()
	_, ok := c.pending[s.token]
	delete(c.pending, s.token)
	c.mu.Unlock()
	if !ok {
		c.log.Warn("settlement ignored", zap.Uint32("token", s.token))
		return nil
	}

	table := c.bridge.Table()
	h := object.Null
	switch {
	case s.err != nil:
		h = table.Register(&object.Failure{Err: s.err})
		c.log.Warn("async operation rejected", zap.Uint32("token", s.token), zap.Error(s.err))
	case s.value != nil:
		h = table.Register(s.value)
	}
	c.settled.Add(1)

	_, err := c.Call(ctx, c.rt.opts.exports.CompleteAsync, uint64(s.token), uint64(h))
	return err
}
