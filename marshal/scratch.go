package marshal

import (
	"context"
	"sync/atomic"

	"github.com/wippyai/wasm-bridge/errors"
)

// Reserver asks the compute module for a scratch region of length bytes.
type Reserver interface {
	Reserve(ctx context.Context, length uint32) (uint32, error)
}

// ReserverFunc adapts a function to Reserver.
type ReserverFunc func(ctx context.Context, length uint32) (uint32, error)

// Reserve calls f.
func (f ReserverFunc) Reserve(ctx context.Context, length uint32) (uint32, error) {
	return f(ctx, length)
}

// Scratch serializes use of the compute module's scratch region. Only one
// lease may be outstanding; the holder must finish writing before anything
// else reserves, because the compute side may hand out the same region again.
type Scratch struct {
	reserver Reserver
	busy     atomic.Bool
}

// NewScratch creates a scratch guard over r.
func NewScratch(r Reserver) *Scratch {
	return &Scratch{reserver: r}
}

// Lease is an acquired scratch region.
type Lease struct {
	s      *Scratch
	Offset uint32
	Length uint32
}

// Acquire reserves length bytes. A nested Acquire while a lease is held fails
// with a protocol error.
func (s *Scratch) Acquire(ctx context.Context, length uint32) (*Lease, error) {
	if s.reserver == nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindNotFound).
			Detail("no scratch reserver bound").
			Build()
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, errors.Protocol(errors.PhaseMarshal, -1, "scratch region reserved reentrantly")
	}
	offset, err := s.reserver.Reserve(ctx, length)
	if err != nil {
		s.busy.Store(false)
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindHostFailure, err, "reserve scratch")
	}
	return &Lease{s: s, Offset: offset, Length: length}, nil
}

// Release ends the lease. It is safe to call more than once.
func (l *Lease) Release() {
	if l == nil || l.s == nil {
		return
	}
	l.s.busy.Store(false)
	l.s = nil
}

// With acquires a lease, runs fn and releases the lease.
func (s *Scratch) With(ctx context.Context, length uint32, fn func(offset uint32) error) error {
	lease, err := s.Acquire(ctx, length)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Offset)
}

// Held reports whether a lease is outstanding.
func (s *Scratch) Held() bool {
	return s.busy.Load()
}
