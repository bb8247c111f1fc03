// Package pool
// Author: momentics <momentics@gmail.com>
//
// Bounded leases of long-lived resources and reuse of transient objects.
// Bounded dials its handles up front and blocks Acquire until one is idle;
// SyncPool wraps sync.Pool with a typed constructor and a reset hook.
package pool
