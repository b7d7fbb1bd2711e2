// Package semaphore counts slots of a bounded resource, e.g. the
// connections a pool may hold.
package semaphore

import (
	"context"
	"sync/atomic"

	wsemaphore "golang.org/x/sync/semaphore"
)

type S struct {
	ws    *wsemaphore.Weighted
	max   int64
	inUse atomic.Int64
}

func New(max int64) *S {
	return &S{ws: wsemaphore.NewWeighted(max), max: max}
}

// AcquireGuard holds one slot until Release.
type AcquireGuard struct {
	s        *S
	released atomic.Bool
}

func (s *S) grant() *AcquireGuard {
	s.inUse.Add(1)
	return &AcquireGuard{s: s}
}

// Acquire blocks until a slot is free. It fails if ctx is done, even
// if a slot was free.
func (s *S) Acquire(ctx context.Context) (*AcquireGuard, error) {
	if err := s.ws.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.ws.Release(1)
		return nil, err
	}
	return s.grant(), nil
}

// TryAcquire returns nil if no slot is free.
func (s *S) TryAcquire() *AcquireGuard {
	if !s.ws.TryAcquire(1) {
		return nil
	}
	return s.grant()
}

// InUse returns the number of slots currently held.
func (s *S) InUse() int64 { return s.inUse.Load() }

func (s *S) Max() int64 { return s.max }

// Release returns the slot. Only the first call has an effect.
func (g *AcquireGuard) Release() {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return
	}
	g.s.inUse.Add(-1)
	g.s.ws.Release(1)
}
