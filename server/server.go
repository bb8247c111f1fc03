// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server is the explicit context object of the engine: it owns the reactor,
// the listening socket, the signal pipe, the worker pool, the timer registry
// and the connection table. Nothing here is package-level state.

package server

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/credentials"
	"github.com/momentics/hioload-httpd/internal/concurrency"
	"github.com/momentics/hioload-httpd/internal/httpconn"
	"github.com/momentics/hioload-httpd/internal/timer"
	"github.com/momentics/hioload-httpd/pool"
	"github.com/momentics/hioload-httpd/reactor"
	"github.com/momentics/hioload-httpd/transport/tcp"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("server already running")

// Server is a single event loop serving HTTP from a document root.
type Server struct {
	cfg           Config
	logger        *zap.Logger
	meterProvider metric.MeterProvider
	resources     api.ResourcePool[credentials.Handle]
	snapshot      *credentials.Snapshot

	reactor  api.Reactor
	listener *tcp.Listener
	workers  *concurrency.WorkerPool
	control  *control.Controller

	pipeMu     sync.Mutex
	pipeR      int
	pipeW      int
	pipeClosed bool

	// loop-owned
	timers   *timer.Registry
	conns    map[int]*httpconn.Conn
	deferred map[int]*httpconn.Conn // proactor connections refused by a full queue
	connPool *pool.SyncPool[*httpconn.Conn]
	connOpts httpconn.Options

	// workers use ctx for resource leases; cancelled when the loop stops
	ctx    context.Context
	cancel context.CancelFunc

	running  atomic.Bool
	closed   atomic.Bool
	stopping atomic.Bool
}

// New validates cfg and acquires every OS resource the loop needs. Nothing is
// accepted until Run.
func New(cfg Config, opts ...Option) (s *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	srv := &Server{
		cfg:      cfg,
		logger:   zap.NewNop(),
		pipeR:    -1,
		pipeW:    -1,
		timers:   timer.New(),
		conns:    make(map[int]*httpconn.Conn),
		deferred: make(map[int]*httpconn.Conn),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.connPool = pool.NewSyncPool(httpconn.New, nil)
	srv.ctx, srv.cancel = context.WithCancel(context.Background())

	// a failed New leaves nothing open; the named result is nil by then
	defer func() {
		if err != nil {
			err = api.NewError(api.ErrCodeStartup, "server startup").Wrap(errors.Join(err, srv.release()))
		}
	}()
	s = srv

	if s.control, err = control.New(s.meterProvider); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if s.reactor, err = reactor.New(); err != nil {
		return nil, err
	}

	var addr netip.Addr
	if cfg.Addr != "" {
		if addr, err = netip.ParseAddr(cfg.Addr); err != nil {
			return nil, fmt.Errorf("listen address: %w", err)
		}
	}
	s.listener, err = tcp.Listen(tcp.ListenerConfig{Addr: addr, Port: cfg.Port, Linger: cfg.Linger})
	if err != nil {
		return nil, err
	}
	err = s.reactor.Add(s.listener.Fd(), api.EventRead, api.WatchOptions{EdgeTriggered: cfg.TriggerMode.ListenerET()})
	if err != nil {
		return nil, err
	}

	var p [2]int
	if err = unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("signal pipe: %w", err)
	}
	s.pipeR, s.pipeW = p[0], p[1]
	if err = s.reactor.Add(s.pipeR, api.EventRead, api.WatchOptions{}); err != nil {
		return nil, err
	}

	s.workers, err = concurrency.NewWorkerPool(cfg.Workers, cfg.QueueCapacity,
		concurrency.WithLogger(s.logger.Named("worker")))
	if err != nil {
		return nil, err
	}

	s.connOpts = httpconn.Options{
		Reactor:        s.reactor,
		EdgeTriggered:  cfg.TriggerMode.ConnET(),
		DocRoot:        cfg.DocRoot,
		IndexPage:      cfg.IndexPage,
		MaxRequestSize: cfg.MaxRequestSize,
		Snapshot:       s.snapshot,
		Logger:         s.logger.Named("conn"),
		OnResponse:     s.control.Response,
	}
	s.connOpts.Normalize()

	s.control.RegisterDebugProbe("queue_length", func() any { return s.workers.Len() })
	s.control.RegisterDebugProbe("queue_capacity", func() any { return s.workers.Cap() })
	if s.resources != nil {
		s.control.RegisterDebugProbe("free_handles", func() any { return s.resources.FreeCount() })
	}
	return s, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int { return s.listener.Port() }

// Stats returns connection counters and probe values.
func (s *Server) Stats() map[string]any { return s.control.Stats() }

// Control exposes the metrics and probe registry.
func (s *Server) Control() api.Control { return s.control }

// Shutdown asks the loop to stop. It is safe to call from any goroutine and
// before or after Run.
func (s *Server) Shutdown() {
	s.requestStop(tagTerm)
}

// requestStop sets the stop flag before waking the loop, so the request
// survives a pipe too full to take the tag.
func (s *Server) requestStop(tag byte) {
	s.stopping.Store(true)
	s.notify(tag)
}

// Close releases a server that was never run. For a running server it only
// requests shutdown; Run releases everything before it returns.
func (s *Server) Close() error {
	if s.running.Load() {
		s.Shutdown()
		return nil
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.release()
}

// notify writes one tag byte into the signal pipe. A full pipe already holds
// a pending wakeup, so the byte is dropped.
func (s *Server) notify(tag byte) {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.pipeClosed || s.pipeW < 0 {
		return
	}
	if _, err := unix.Write(s.pipeW, []byte{tag}); err != nil && !errors.Is(err, unix.EAGAIN) {
		s.logger.Warn("signal pipe write failed", zap.Error(err))
	}
}

// release frees OS resources in reverse order of acquisition.
func (s *Server) release() error {
	var errs []error
	if s.cancel != nil {
		s.cancel()
	}
	if s.workers != nil {
		s.workers.Close()
	}
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	s.pipeMu.Lock()
	if !s.pipeClosed {
		s.pipeClosed = true
		for _, fd := range []int{s.pipeR, s.pipeW} {
			if fd >= 0 {
				errs = append(errs, unix.Close(fd))
			}
		}
	}
	s.pipeMu.Unlock()
	if s.reactor != nil {
		errs = append(errs, s.reactor.Close())
	}
	return errors.Join(errs...)
}
