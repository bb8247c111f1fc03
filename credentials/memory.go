// File: credentials/memory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-process user table, used by the memory driver and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewMemoryStore returns a store seeded with a copy of users.
func NewMemoryStore(users map[string]string) *MemoryStore {
	m := make(map[string]string, len(users))
	maps.Copy(m, users)
	return &MemoryStore{users: m}
}

// Handle returns a new session on the store.
func (s *MemoryStore) Handle() Handle { return memoryHandle{s} }

type memoryHandle struct{ s *MemoryStore }

func (h memoryHandle) LoadAll(context.Context) (map[string]string, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return maps.Clone(h.s.users), nil
}

func (h memoryHandle) Lookup(_ context.Context, user string) (string, bool, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	pass, ok := h.s.users[user]
	return pass, ok, nil
}

func (h memoryHandle) Insert(_ context.Context, user, password string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if _, ok := h.s.users[user]; ok {
		return ErrDuplicateUser
	}
	h.s.users[user] = password
	return nil
}

func (memoryHandle) Close() error { return nil }
