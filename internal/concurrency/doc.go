// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed worker pool draining a bounded FIFO of jobs. Enqueue never blocks:
// a full queue fails immediately so the event loop can shed load.
package concurrency
