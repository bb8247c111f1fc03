// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for all core interfaces.

package fake

import (
	"sync"

	"github.com/momentics/hioload-httpd/api"
)

// Watch is the last registration recorded for a descriptor.
type Watch struct {
	Mask    api.EventMask
	Options api.WatchOptions
	Arms    int // Add plus Modify calls
}

// Reactor records registrations instead of polling. Wait never reports events.
type Reactor struct {
	mu      sync.Mutex
	watches map[int]Watch
	deleted map[int]int
	closed  bool
}

var _ api.Reactor = (*Reactor)(nil)

// NewReactor creates an empty recording reactor.
func NewReactor() *Reactor {
	return &Reactor{watches: make(map[int]Watch), deleted: make(map[int]int)}
}

func (r *Reactor) Add(fd int, mask api.EventMask, opts api.WatchOptions) error {
	return r.record(fd, mask, opts)
}

func (r *Reactor) Modify(fd int, mask api.EventMask, opts api.WatchOptions) error {
	return r.record(fd, mask, opts)
}

func (r *Reactor) record(fd int, mask api.EventMask, opts api.WatchOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.ErrServerClosed
	}
	w := r.watches[fd]
	w.Mask, w.Options = mask, opts
	w.Arms++
	r.watches[fd] = w
	return nil
}

func (r *Reactor) Delete(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watches, fd)
	r.deleted[fd]++
	return nil
}

func (r *Reactor) Wait(events []api.Event, timeoutMs int) (int, error) {
	return 0, nil
}

func (r *Reactor) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Watch returns the current registration of fd.
func (r *Reactor) Watch(fd int) (Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[fd]
	return w, ok
}

// Deleted returns how many times fd was deleted.
func (r *Reactor) Deleted(fd int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted[fd]
}
