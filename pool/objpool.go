// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"

	"github.com/momentics/hioload-httpd/api"
)

// SyncPool wraps sync.Pool for generic usage. Objects are reset before they are
// put back, so Get never returns state left over from a previous owner.
type SyncPool[T any] struct {
	pool  *sync.Pool
	reset func(T)
}

var _ api.ObjectPool[int] = (*SyncPool[int])(nil)

// NewSyncPool creates a new SyncPool with a creator function and an optional reset hook.
func NewSyncPool[T any](creator func() T, reset func(T)) *SyncPool[T] {
	return &SyncPool[T]{
		pool:  &sync.Pool{New: func() any { return creator() }},
		reset: reset,
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}
