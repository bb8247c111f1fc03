// File: credentials/snapshot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"fmt"
	"net/url"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/pool"
)

// Snapshot is the user table as read at startup. It is never written after
// LoadSnapshot returns, so any number of goroutines may read it without locking.
type Snapshot struct {
	users map[string]string
}

// NewSnapshot wraps a copy of users.
func NewSnapshot(users map[string]string) *Snapshot {
	m := make(map[string]string, len(users))
	for k, v := range users {
		m[k] = v
	}
	return &Snapshot{users: m}
}

// LoadSnapshot borrows one handle from p and reads every user through it.
func LoadSnapshot(ctx context.Context, p api.ResourcePool[Handle]) (*Snapshot, error) {
	var users map[string]string
	err := pool.With(ctx, p, func(h Handle) error {
		var err error
		users, err = h.LoadAll(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load credential snapshot: %w", err)
	}
	return &Snapshot{users: users}, nil
}

// Verify reports whether user exists with exactly this password.
func (s *Snapshot) Verify(user, password string) bool {
	if s == nil {
		return false
	}
	pass, ok := s.users[user]
	return ok && pass == password
}

// Has reports whether user exists.
func (s *Snapshot) Has(user string) bool {
	if s == nil {
		return false
	}
	_, ok := s.users[user]
	return ok
}

// Len returns the number of users.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.users)
}

// ParseForm extracts user and password from an application/x-www-form-urlencoded
// body such as "user=alice&password=secret".
func ParseForm(body []byte) (user, password string, ok bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", "", false
	}
	user, password = values.Get("user"), values.Get("password")
	if user == "" {
		return "", "", false
	}
	return user, password, true
}
