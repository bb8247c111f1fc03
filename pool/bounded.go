// File: pool/bounded.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded is a fixed-capacity pool of long-lived handles (database sessions and
// the like). Capacity is set at construction and never grows: callers queue on
// Acquire until a handle is released.

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/momentics/hioload-httpd/api"
)

// Dialer opens one pooled handle.
type Dialer[T any] func(ctx context.Context) (T, error)

// Bounded hands out at most Cap() handles at a time.
type Bounded[T any] struct {
	sem      *semaphore.Weighted
	capacity int
	closeFn  func(T) error

	mu     sync.Mutex
	idle   []T
	all    []T
	closed atomic.Bool
}

var _ api.ResourcePool[int] = (*Bounded[int])(nil)

// NewBounded dials capacity handles concurrently. If any dial fails the handles
// already opened are closed and the dial error is returned.
func NewBounded[T any](ctx context.Context, capacity int, dial Dialer[T], closeFn func(T) error) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity %d: %w", capacity, api.ErrInvalidArgument)
	}
	handles := make([]T, capacity)
	opened := make([]bool, capacity)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < capacity; i++ {
		g.Go(func() error {
			h, err := dial(gctx)
			if err != nil {
				return fmt.Errorf("dial handle %d: %w", i, err)
			}
			handles[i], opened[i] = h, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var cerr error
		for i, ok := range opened {
			if ok && closeFn != nil {
				cerr = errors.Join(cerr, closeFn(handles[i]))
			}
		}
		return nil, errors.Join(err, cerr)
	}

	idle := make([]T, capacity)
	copy(idle, handles)
	return &Bounded[T]{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		closeFn:  closeFn,
		idle:     idle,
		all:      handles,
	}, nil
}

// Acquire blocks until a handle is free, ctx is done or the pool is closed.
func (p *Bounded[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if p.closed.Load() {
		return zero, api.ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() || len(p.idle) == 0 {
		p.sem.Release(1)
		return zero, api.ErrPoolClosed
	}
	h := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return h, nil
}

// Release returns a handle obtained from Acquire.
func (p *Bounded[T]) Release(h T) {
	p.mu.Lock()
	p.idle = append(p.idle, h)
	p.mu.Unlock()
	p.sem.Release(1)
}

// FreeCount reports the number of idle handles.
func (p *Bounded[T]) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Cap returns the fixed pool capacity.
func (p *Bounded[T]) Cap() int { return p.capacity }

// Close waits for every leased handle to come back, then closes all of them.
// Further Acquire calls fail with api.ErrPoolClosed.
func (p *Bounded[T]) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.sem.Acquire(ctx, int64(p.capacity)); err != nil {
		return fmt.Errorf("waiting for leased handles: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = nil
	var err error
	if p.closeFn != nil {
		for _, h := range p.all {
			err = errors.Join(err, p.closeFn(h))
		}
	}
	return err
}

// With acquires a handle from p, runs fn with it and releases it on every exit
// path, including a panic inside fn.
func With[T any](ctx context.Context, p api.ResourcePool[T], fn func(T) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h)
}
