// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"context"
	"sync"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/credentials"
)

// Pool is a ResourcePool that hands out one shared credential handle and counts leases.
type Pool struct {
	mu       sync.Mutex
	handle   credentials.Handle
	leased   int
	acquired int
	waiting  int
	err      error
	gate     chan struct{}
}

var _ api.ResourcePool[credentials.Handle] = (*Pool)(nil)

// NewPool wraps h.
func NewPool(h credentials.Handle) *Pool { return &Pool{handle: h} }

// FailAcquire makes every following Acquire return err.
func (p *Pool) FailAcquire(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Hold makes Acquire block until the returned function is called.
func (p *Pool) Hold() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.gate = nil
			p.mu.Unlock()
			close(gate)
		})
	}
}

func (p *Pool) Acquire(ctx context.Context) (credentials.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if gate := p.gate; gate != nil {
		p.waiting++
		p.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
		}
		p.mu.Lock()
		p.waiting--
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.leased++
	p.acquired++
	return p.handle, nil
}

func (p *Pool) Release(credentials.Handle) {
	p.mu.Lock()
	p.leased--
	p.mu.Unlock()
}

func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 1 - p.leased
}

// Leased returns handles acquired and not yet released.
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leased
}

// Waiting returns the number of Acquire calls blocked by Hold.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Acquired returns the total number of successful Acquire calls.
func (p *Pool) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}
