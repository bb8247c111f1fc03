// File: internal/httpconn/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package httpconn holds the per-socket HTTP state machine: buffered
// non-blocking reads, an incremental request parser, resource resolution with
// memory-mapped files and vectored response writes.
//
// A Conn is owned by exactly one goroutine at a time. The event loop hands it
// to a worker by enqueueing a job and takes it back when the worker publishes
// the round result (reactor mode) or lands the connection (proactor mode).
package httpconn
