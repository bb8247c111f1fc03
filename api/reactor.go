// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the readiness multiplexer driving the event loop.

package api

// EventMask is a set of readiness conditions.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventHangup
	EventError
)

// Event is a single readiness notification.
type Event struct {
	Fd   int
	Mask EventMask
}

// WatchOptions selects how a descriptor is watched.
type WatchOptions struct {
	EdgeTriggered bool // notify once per state transition
	OneShot       bool // disarm after one event until Modify re-arms it
}

// Reactor multiplexes readiness of many descriptors onto one waiting goroutine.
type Reactor interface {
	// Add starts watching fd for the given conditions.
	Add(fd int, mask EventMask, opts WatchOptions) error

	// Modify replaces the watched conditions and re-arms a one-shot watch.
	Modify(fd int, mask EventMask, opts WatchOptions) error

	// Delete stops watching fd.
	Delete(fd int) error

	// Wait blocks until events are ready or timeoutMs elapses (negative blocks forever).
	Wait(events []Event, timeoutMs int) (int, error)

	// Close releases the multiplexer.
	Close() error
}
