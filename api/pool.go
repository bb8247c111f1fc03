// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs: bounded leases of long-lived resources and object reuse.

package api

import "context"

// ResourcePool hands out a fixed number of long-lived handles.
type ResourcePool[T any] interface {
	// Acquire blocks until a handle is free or ctx is done.
	Acquire(ctx context.Context) (T, error)

	// Release returns a handle obtained from Acquire. It never fails.
	Release(h T)

	// FreeCount reports idle handles, for observability only.
	FreeCount() int
}

// ObjectPool provides generic pooling of Go objects allocated transiently
type ObjectPool[T any] interface {
	// Get returns an available instance from pool
	Get() T

	// Put returns an instance for reuse
	Put(obj T)
}
