// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. The event loop pins its locked OS
// thread with SetAffinity when a CPU is configured.

package affinity

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
)

// SetAffinity pins the calling OS thread to a given logical CPU. The caller must
// hold the thread with runtime.LockOSThread for the pin to mean anything.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: cpu %d: %w", cpuID, api.ErrInvalidArgument)
	}
	return setAffinityPlatform(cpuID)
}
