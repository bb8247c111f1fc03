// File: internal/concurrency/executor.go
// Package concurrency implements the bounded worker pool that runs connection jobs.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkerPool keeps queued jobs in a ring queue guarded by a mutex. A buffered
// channel holds one token per queued job, so idle workers park on the channel
// and exactly one of them wakes for every successful Enqueue.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-httpd/api"
)

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithLogger sets the logger used for job panics.
func WithLogger(l *zap.Logger) Option {
	return func(p *WorkerPool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithThreadInit runs fn on every worker goroutine before it takes its first job.
func WithThreadInit(fn func(worker int)) Option {
	return func(p *WorkerPool) { p.threadInit = fn }
}

// WorkerPool is a fixed set of worker goroutines draining a bounded queue.
type WorkerPool struct {
	mu       sync.Mutex
	jobs     *queue.Queue // of api.Job
	capacity int
	wake     chan struct{} // one token per queued job
	closeCh  chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	workers    int
	logger     *zap.Logger
	threadInit func(worker int)

	// statistics
	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	rejectedJobs  atomic.Int64
	panickedJobs  atomic.Int64
}

var _ api.Executor = (*WorkerPool)(nil)

// NewWorkerPool starts workers goroutines over a queue holding at most capacity jobs.
// If workers <= 0, defaults to runtime.NumCPU().
func NewWorkerPool(workers, capacity int, opts ...Option) (*WorkerPool, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("worker pool capacity %d: %w", capacity, api.ErrInvalidArgument)
	}
	p := &WorkerPool{
		jobs:     queue.New(),
		capacity: capacity,
		wake:     make(chan struct{}, capacity),
		closeCh:  make(chan struct{}),
		workers:  workers,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(i)
	}
	return p, nil
}

// Enqueue appends job and wakes one idle worker. It never blocks: a full queue
// yields api.ErrQueueFull and a closed pool api.ErrExecutorClosed.
func (p *WorkerPool) Enqueue(job api.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return api.ErrExecutorClosed
	}
	if p.jobs.Length() >= p.capacity {
		p.rejectedJobs.Add(1)
		return api.ErrQueueFull
	}
	p.jobs.Add(job)
	p.totalJobs.Add(1)
	// tokens never outnumber queued jobs, so the send cannot block
	p.wake <- struct{}{}
	return nil
}

// Len returns the number of queued jobs not yet taken by a worker.
func (p *WorkerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs.Length()
}

// Cap returns the queue capacity.
func (p *WorkerPool) Cap() int { return p.capacity }

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.workers }

// Close stops accepting jobs, waits for running jobs to return and drops the rest.
// It is safe to call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	close(p.closeCh)
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	dropped := p.jobs.Length()
	for p.jobs.Length() > 0 {
		p.jobs.Remove()
	}
	p.mu.Unlock()
	if dropped > 0 {
		p.logger.Debug("worker pool closed with queued jobs", zap.Int("dropped", dropped))
	}
}

// Stats returns basic pool metrics.
func (p *WorkerPool) Stats() map[string]int64 {
	total := p.totalJobs.Load()
	completed := p.completedJobs.Load()
	return map[string]int64{
		"total_jobs":     total,
		"completed_jobs": completed,
		"rejected_jobs":  p.rejectedJobs.Load(),
		"panicked_jobs":  p.panickedJobs.Load(),
		"pending_jobs":   int64(p.Len()),
		"num_workers":    int64(p.workers),
	}
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	if p.threadInit != nil {
		p.threadInit(id)
	}
	for {
		select {
		case <-p.closeCh:
			return
		case <-p.wake:
		}
		job, ok := p.next()
		if !ok {
			continue
		}
		p.execute(id, job)
	}
}

func (p *WorkerPool) next() (api.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jobs.Length() == 0 {
		return nil, false
	}
	return p.jobs.Remove().(api.Job), true
}

// execute runs the job, recovering from panics so the worker stays alive.
func (p *WorkerPool) execute(id int, job api.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panickedJobs.Add(1)
			p.logger.Error("job panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
		p.completedJobs.Add(1)
	}()
	job.Run()
}
