// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/reactor"
)

// TriggerMode selects level- or edge-triggered readiness for the listening
// socket and for connection sockets, in that order.
type TriggerMode int

const (
	TriggerLTLT TriggerMode = iota
	TriggerLTET
	TriggerETLT
	TriggerETET
)

var triggerNames = [...]string{"lt-lt", "lt-et", "et-lt", "et-et"}

// ListenerET reports whether the listening socket is edge-triggered.
func (m TriggerMode) ListenerET() bool { return m == TriggerETLT || m == TriggerETET }

// ConnET reports whether connection sockets are edge-triggered.
func (m TriggerMode) ConnET() bool { return m == TriggerLTET || m == TriggerETET }

func (m TriggerMode) String() string {
	if m < 0 || int(m) >= len(triggerNames) {
		return "TriggerMode(" + strconv.Itoa(int(m)) + ")"
	}
	return triggerNames[m]
}

// UnmarshalText accepts the numeric form 0-3 or the names lt-lt, lt-et, et-lt, et-et.
func (m *TriggerMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range triggerNames {
		if s == name || s == strconv.Itoa(i) {
			*m = TriggerMode(i)
			return nil
		}
	}
	return fmt.Errorf("trigger mode %q: %w", s, api.ErrInvalidArgument)
}

// ActorModel selects who performs socket I/O.
type ActorModel int

const (
	// Proactor: the event loop reads and writes, workers only parse and respond.
	Proactor ActorModel = iota
	// Reactor: workers perform the I/O too; the loop waits for each round.
	Reactor
)

func (a ActorModel) String() string {
	switch a {
	case Proactor:
		return "proactor"
	case Reactor:
		return "reactor"
	}
	return "ActorModel(" + strconv.Itoa(int(a)) + ")"
}

// UnmarshalText accepts 0, 1, proactor or reactor.
func (a *ActorModel) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "0", "proactor":
		*a = Proactor
	case "1", "reactor":
		*a = Reactor
	default:
		return fmt.Errorf("actor model %q: %w", text, api.ErrInvalidArgument)
	}
	return nil
}

// Config holds all server-side configuration parameters.
type Config struct {
	Addr           string        `mapstructure:"addr"`             // IPv4 bind address, empty for any
	Port           int           `mapstructure:"port"`             // 0 picks an ephemeral port
	DocRoot        string        `mapstructure:"doc_root"`         // directory served
	IndexPage      string        `mapstructure:"index_page"`       // served for "/"
	TriggerMode    TriggerMode   `mapstructure:"trigger_mode"`     // listener and connection triggering
	ActorModel     ActorModel    `mapstructure:"actor_model"`      // proactor or reactor
	Linger         bool          `mapstructure:"linger"`           // SO_LINGER {1,1} on the listener
	Workers        int           `mapstructure:"workers"`          // worker goroutines
	QueueCapacity  int           `mapstructure:"queue_capacity"`   // bounded work queue
	MaxConnections int           `mapstructure:"max_connections"`  // live connection limit
	MaxEvents      int           `mapstructure:"max_events"`       // events per wait
	MaxRequestSize int           `mapstructure:"max_request_size"` // buffered request limit
	TickInterval   time.Duration `mapstructure:"tick_interval"`    // idle timeout is three ticks
	LoopCPU        int           `mapstructure:"loop_cpu"`         // pin the loop thread, -1 = off
	HandleSignals  bool          `mapstructure:"handle_signals"`   // SIGINT/SIGTERM stop the loop
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           9006,
		DocRoot:        "./root",
		IndexPage:      "/judge.html",
		TriggerMode:    TriggerLTLT,
		ActorModel:     Proactor,
		Workers:        8,
		QueueCapacity:  10000,
		MaxConnections: 65536,
		MaxEvents:      reactor.DefaultMaxEvents,
		MaxRequestSize: 1 << 20,
		TickInterval:   5 * time.Second,
		LoopCPU:        -1,
		HandleSignals:  true,
	}
}

// IdleTimeout is how long a connection may stay without activity.
func (c Config) IdleTimeout() time.Duration { return 3 * c.TickInterval }

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Port >= 0 && c.Port <= 65535, "port %d out of range", c.Port)
	check(c.TriggerMode >= TriggerLTLT && c.TriggerMode <= TriggerETET, "trigger mode %d unknown", c.TriggerMode)
	check(c.ActorModel == Proactor || c.ActorModel == Reactor, "actor model %d unknown", c.ActorModel)
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)
	check(c.QueueCapacity > 0, "queue capacity must be positive, got %d", c.QueueCapacity)
	check(c.MaxConnections > 0, "max connections must be positive, got %d", c.MaxConnections)
	check(c.MaxEvents > 0, "max events must be positive, got %d", c.MaxEvents)
	check(c.TickInterval > 0, "tick interval must be positive, got %s", c.TickInterval)
	if st, err := os.Stat(c.DocRoot); err != nil {
		errs = append(errs, fmt.Errorf("doc root: %w", err))
	} else {
		check(st.IsDir(), "doc root %s is not a directory", c.DocRoot)
	}
	if err := errors.Join(errs...); err != nil {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid server config").Wrap(err)
	}
	return nil
}
