// Package api
// Author: momentics
//
// Executor contract for dispatching connection jobs to worker goroutines.

package api

// Job is an executable unit handed to a worker.
type Job interface {
	Run()
}

// JobFunc adapts an ordinary function to the Job interface.
type JobFunc func()

// Run calls f.
func (f JobFunc) Run() { f() }

// Executor is a bounded job queue drained by a fixed set of workers.
type Executor interface {
	// Enqueue appends job or fails immediately with ErrQueueFull.
	Enqueue(job Job) error

	// Len returns the number of queued, not yet started jobs.
	Len() int

	// Cap returns the queue capacity.
	Cap() int
}
