package runtime

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memview"
)

// spawn takes over a spawn descriptor. On the private path the parent's
// memory is copied before spawn returns, so the new context starts from
// the state the parent had when it asked.
func (r *Runtime) spawn(_ context.Context, parent *Context, entry, sp, tls uint32) error {
	r.mu.Lock()
	primary := r.primary
	closed := r.closed
	r.mu.Unlock()
	if closed || primary == nil {
		return errors.New(errors.PhaseBootstrap, errors.KindClosed).Detail("runtime is shutting down").Build()
	}

	var snapshot []byte
	if !r.shared {
		if mem := parent.mod.Memory(); mem != nil {
			snapshot = memview.Snapshot(mem)
		}
	}

	id := uuid.NewString()
	primary.mu.Lock()
	primary.live++
	primary.mu.Unlock()
	primary.spawned.Add(1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.runSecondary(id, snapshot, entry, sp, tls)
		primary.inbox.push(contextDone{id: id, err: err})
	}()

	parent.log.Debug("context spawned",
		zap.String("secondary", id),
		zap.Uint32("entry", entry),
		zap.Uint32("stack_pointer", sp),
		zap.Uint32("tls", tls),
		zap.Bool("shared", r.shared))
	return nil
}

// runSecondary instantiates a secondary context, performs the handshake
// and runs its entry point to completion.
func (r *Runtime) runSecondary(id string, snapshot []byte, entry, sp, tls uint32) error {
	ctx := r.base
	c := r.newContext(id, false)

	eng, owned := r.eng, false
	if !r.shared {
		var err error
		if eng, err = r.newEngine(ctx, false); err != nil {
			return err
		}
		owned = true
	}
	if err := c.instantiate(ctx, eng, owned); err != nil {
		if owned {
			_ = eng.close(ctx)
		}
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			c.log.Debug("close failed", zap.Error(err))
		}
	}()
	if !r.track(c) {
		return errors.New(errors.PhaseBootstrap, errors.KindClosed).Detail("runtime closed during spawn").Build()
	}

	if snapshot != nil {
		if err := memview.Restore(c.mod.Memory(), snapshot); err != nil {
			return err
		}
	}
	return c.handshake(ctx, entry, sp, tls)
}

// handshake sets the stack pointer, initializes thread-local storage and
// invokes the entry point once. Module initializers are never run here.
func (c *Context) handshake(ctx context.Context, entry, sp, tls uint32) error {
	ex := c.rt.opts.exports
	steps := []struct {
		name string
		arg  uint32
	}{
		{ex.SetStackPointer, sp},
		{ex.InitTLS, tls},
	}
	for _, s := range steps {
		if !c.has(s.name) {
			c.log.Debug("handshake export missing, skipped", zap.String("export", s.name))
			continue
		}
		if _, err := c.Call(ctx, s.name, uint64(s.arg)); err != nil {
			return err
		}
	}
	if _, err := c.Call(ctx, ex.EntryPoint, uint64(entry)); err != nil {
		return err
	}
	c.log.Debug("entry point returned", zap.Uint32("entry", entry))
	return nil
}
