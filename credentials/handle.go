// File: credentials/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/pool"
)

// ErrDuplicateUser is returned by Insert when the user name is taken.
var ErrDuplicateUser = errors.New("credentials: user already exists")

// Handle is one session to a credential store. A Handle is used by a single
// goroutine at a time.
type Handle interface {
	// LoadAll reads every user and password.
	LoadAll(ctx context.Context) (map[string]string, error)

	// Lookup returns the password stored for user.
	Lookup(ctx context.Context, user string) (password string, found bool, err error)

	// Insert adds a new user.
	Insert(ctx context.Context, user, password string) error

	Close() error
}

// Driver names accepted in Config.Driver.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config describes the credential store.
type Config struct {
	Driver   string `mapstructure:"driver"`
	Endpoint string `mapstructure:"endpoint"` // host:port
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Table    string `mapstructure:"table"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DefaultConfig mirrors a local MySQL installation.
func DefaultConfig() Config {
	return Config{
		Driver:   DriverMySQL,
		Endpoint: "localhost:3306",
		User:     "root",
		Password: "root",
		Database: "webserver",
		Table:    "user",
		PoolSize: 8,
	}
}

// Dialer returns a dial function for pool.NewBounded. Memory handles produced
// by one Dialer share a single store.
func Dialer(cfg Config) (pool.Dialer[Handle], error) {
	switch cfg.Driver {
	case DriverMySQL:
		return func(ctx context.Context) (Handle, error) {
			h, err := openMySQL(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return h, nil
		}, nil
	case DriverMemory:
		store := NewMemoryStore(nil)
		return func(context.Context) (Handle, error) {
			return store.Handle(), nil
		}, nil
	default:
		return nil, fmt.Errorf("credentials driver %q: %w", cfg.Driver, api.ErrNotSupported)
	}
}

// OpenPool dials cfg.PoolSize handles.
func OpenPool(ctx context.Context, cfg Config) (*pool.Bounded[Handle], error) {
	dial, err := Dialer(cfg)
	if err != nil {
		return nil, err
	}
	p, err := pool.NewBounded(ctx, cfg.PoolSize, dial, func(h Handle) error { return h.Close() })
	if err != nil {
		return nil, fmt.Errorf("open %s credential pool: %w", cfg.Driver, err)
	}
	return p, nil
}
