package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-httpd/api"
)

func TestWorkerPool_RunsEveryJobOnce(t *testing.T) {
	p, err := NewWorkerPool(4, 128)
	require.NoError(t, err)
	defer p.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Enqueue(api.JobFunc(func() {
			ran.Add(1)
			wg.Done()
		})))
	}
	wg.Wait()
	assert.EqualValues(t, 100, ran.Load())
}

func TestWorkerPool_EnqueueFailsFastAtCapacity(t *testing.T) {
	p, err := NewWorkerPool(1, 3)
	require.NoError(t, err)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Enqueue(api.JobFunc(func() {
		close(started)
		<-release
	})))
	<-started

	// the only worker is busy; fill the queue
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Enqueue(api.JobFunc(func() {})))
	}
	assert.Equal(t, 3, p.Len())

	done := make(chan error, 1)
	go func() { done <- p.Enqueue(api.JobFunc(func() {})) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, api.ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Equal(t, 3, p.Len())
	assert.EqualValues(t, 1, p.Stats()["rejected_jobs"])

	close(release)
	require.Eventually(t, func() bool { return p.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_SurvivesPanics(t *testing.T) {
	p, err := NewWorkerPool(1, 4)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Enqueue(api.JobFunc(func() { panic("boom") })))
	done := make(chan struct{})
	require.NoError(t, p.Enqueue(api.JobFunc(func() { close(done) })))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic")
	}
	assert.EqualValues(t, 1, p.Stats()["panicked_jobs"])
}

func TestWorkerPool_ClosedRejects(t *testing.T) {
	var inits atomic.Int64
	p, err := NewWorkerPool(2, 4, WithThreadInit(func(int) { inits.Add(1) }))
	require.NoError(t, err)
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Enqueue(api.JobFunc(func() {})), api.ErrExecutorClosed)
	assert.Equal(t, 4, p.Cap())
	assert.EqualValues(t, 2, inits.Load())
}

func TestNewWorkerPool_RejectsZeroCapacity(t *testing.T) {
	_, err := NewWorkerPool(1, 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
