// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral entry point for the readiness multiplexer.

package reactor

import "github.com/momentics/hioload-httpd/api"

// DefaultMaxEvents bounds a single Wait batch.
const DefaultMaxEvents = 10000

// New constructs the platform reactor.
func New() (api.Reactor, error) {
	return newReactor()
}
