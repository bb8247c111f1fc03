// File: server/run.go
// Package server implements the event loop: accept, readiness dispatch,
// signal handling, idle timers and eviction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/affinity"
	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/internal/httpconn"
	"github.com/momentics/hioload-httpd/transport/tcp"
)

// Tags written into the signal pipe.
const (
	tagTick = byte(unix.SIGALRM)
	tagTerm = byte(unix.SIGTERM)
	tagInt  = byte(unix.SIGINT)
)

// retryIntervalMs bounds the wait while proactor connections are parked on a
// full work queue.
const retryIntervalMs = 10

// Run serves until ctx is done, Shutdown is called or a signal stops the loop.
// All connections are closed and all resources released before it returns.
// A server runs at most once.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return api.ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.logger.Info("serving",
		zap.Int("port", s.Port()),
		zap.Stringer("trigger_mode", s.cfg.TriggerMode),
		zap.Stringer("actor_model", s.cfg.ActorModel),
		zap.Int("workers", s.cfg.Workers))

	loopDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(loopDone)
		return s.loop()
	})
	g.Go(func() error { return s.ticker(loopDone) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.Shutdown()
		case <-loopDone:
		}
		return nil
	})
	if s.cfg.HandleSignals {
		g.Go(func() error { return s.forwardSignals(loopDone) })
	}

	err := g.Wait()
	s.closed.Store(true)
	return errors.Join(err, s.teardown())
}

// ticker feeds a tick tag into the pipe every TickInterval.
func (s *Server) ticker(done <-chan struct{}) error {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-t.C:
			s.notify(tagTick)
		}
	}
}

// forwardSignals turns SIGINT and SIGTERM into pipe tags. SIGPIPE is ignored
// so writes to a reset peer fail with EPIPE instead.
func (s *Server) forwardSignals(done <-chan struct{}) error {
	signal.Ignore(unix.SIGPIPE)
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(ch)
	for {
		select {
		case <-done:
			return nil
		case sig := <-ch:
			s.logger.Info("signal received", zap.Stringer("signal", sig))
			if sig == unix.SIGINT {
				s.requestStop(tagInt)
			} else {
				s.requestStop(tagTerm)
			}
		}
	}
}

func (s *Server) loop() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if s.cfg.LoopCPU >= 0 {
		if err := affinity.SetAffinity(s.cfg.LoopCPU); err != nil {
			s.logger.Warn("loop affinity not applied", zap.Int("cpu", s.cfg.LoopCPU), zap.Error(err))
		} else if cpus, err := affinity.Current(); err == nil {
			s.logger.Debug("loop thread pinned", zap.Ints("cpus", cpus))
		}
	}

	events := make([]api.Event, s.cfg.MaxEvents)
	listenFd := s.listener.Fd()
	for {
		wait := -1
		if len(s.deferred) > 0 {
			wait = retryIntervalMs
		}
		n, err := s.reactor.Wait(events, wait)
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}

		timeout, stop := false, false
		for _, ev := range events[:n] {
			switch {
			case ev.Fd == listenFd:
				s.acceptReady()
			case ev.Fd == s.pipeR:
				t, st := s.drainSignals()
				timeout, stop = timeout || t, stop || st
			default:
				if c := s.conns[ev.Fd]; c != nil {
					s.connReady(c, ev.Mask)
				}
			}
		}
		s.retryDeferred()

		if timeout {
			s.timers.Tick(time.Now())
		}
		if stop {
			s.logger.Info("event loop stopping", zap.Int("live", len(s.conns)))
			return nil
		}
	}
}

func (s *Server) drainSignals() (timeout, stop bool) {
	var buf [1024]byte
	for {
		n, err := unix.Read(s.pipeR, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n <= 0 {
			break
		}
		for _, tag := range buf[:n] {
			switch tag {
			case tagTick:
				timeout = true
			case tagTerm, tagInt:
				stop = true
			}
		}
	}
	// a stop tag dropped on a full pipe still leaves the flag set
	return timeout, stop || s.stopping.Load()
}

// acceptReady accepts one connection when the listener is level-triggered and
// drains the backlog when it is edge-triggered.
func (s *Server) acceptReady() {
	for {
		fd, peer, err := s.listener.Accept()
		if err != nil {
			if !tcp.IsWouldBlock(err) {
				s.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		if len(s.conns) >= s.cfg.MaxConnections {
			s.control.Rejected()
			s.logger.Warn("connection refused", zap.Stringer("peer", peer), zap.Error(
				api.NewError(api.ErrCodeResourceExhausted, "connection limit reached").
					WithContext("limit", s.cfg.MaxConnections).
					Wrap(api.ErrTooManyConnections)))
			if err := tcp.Reject(fd); err != nil {
				s.logger.Debug("reject failed", zap.Error(err))
			}
		} else {
			s.register(fd, peer)
		}
		if !s.cfg.TriggerMode.ListenerET() {
			return
		}
	}
}

func (s *Server) register(fd int, peer netip.AddrPort) {
	c := s.connPool.Get()
	c.Init(fd, peer, &s.connOpts)
	err := s.reactor.Add(fd, api.EventRead|api.EventHangup, api.WatchOptions{
		EdgeTriggered: s.cfg.TriggerMode.ConnET(),
		OneShot:       true,
	})
	if err != nil {
		s.logger.Error("register connection", zap.Int("fd", fd), zap.Error(err))
		unix.Close(fd)
		s.connPool.Put(c)
		return
	}
	s.conns[fd] = c
	c.Timer = s.timers.Add(c, time.Now().Add(s.cfg.IdleTimeout()), s.expire)
	s.control.Accepted()
	s.logger.Debug("connection accepted", zap.Int("fd", fd), zap.Stringer("peer", peer))
}

// touch pushes the idle deadline of c out to a full timeout from now.
func (s *Server) touch(c *httpconn.Conn) {
	if err := s.timers.Adjust(c.Timer, time.Now().Add(s.cfg.IdleTimeout())); err != nil {
		s.logger.Debug("timer adjust", zap.Int("fd", c.Fd()), zap.Error(err))
	}
}

// expire is the timer callback. A connection a proactor worker still holds is
// given one more tick instead of being closed under the worker.
func (s *Server) expire(data any) {
	c := data.(*httpconn.Conn)
	c.Handoff(func(inFlight bool) bool {
		if inFlight {
			c.Timer = s.timers.Add(c, time.Now().Add(s.cfg.TickInterval), s.expire)
			return false
		}
		s.logger.Debug("idle connection expired", zap.Int("fd", c.Fd()), zap.Stringer("peer", c.Peer()))
		s.evict(c, control.EvictTimeout)
		return false
	})
}

// evict removes c from the registry, the reactor and the connection table and
// closes its socket. Only the first call for a connection has any effect.
func (s *Server) evict(c *httpconn.Conn, reason string) {
	if !c.MarkEvicted() {
		return
	}
	fd := c.Fd()
	s.timers.Delete(c.Timer)
	if err := s.reactor.Delete(fd); err != nil {
		s.logger.Debug("reactor delete", zap.Int("fd", fd), zap.Error(err))
	}
	delete(s.conns, fd)
	delete(s.deferred, fd)
	if err := unix.Close(fd); err != nil {
		s.logger.Debug("close", zap.Int("fd", fd), zap.Error(err))
	}
	s.control.Evicted(reason)
	c.Reset()
	s.connPool.Put(c)
}

// closeReason tells a protocol close from a failure after Write reported false.
func closeReason(c *httpconn.Conn) string {
	if c.KeepAlive {
		return control.EvictFailure
	}
	return control.EvictClose
}

// connReady handles one readiness event of a registered connection. A
// proactor connection is only touched under its handoff lock; an event seen
// while a worker holds it is dropped, the landing worker re-arms the socket.
func (s *Server) connReady(c *httpconn.Conn, mask api.EventMask) {
	if s.cfg.ActorModel == Reactor {
		s.handle(c, mask)
		return
	}
	c.Handoff(func(inFlight bool) bool {
		if inFlight {
			return false
		}
		return s.handle(c, mask)
	})
}

// handle reports whether c was handed to a proactor worker.
func (s *Server) handle(c *httpconn.Conn, mask api.EventMask) bool {
	switch {
	case mask&(api.EventHangup|api.EventError) != 0:
		s.evict(c, control.EvictHangup)
	case mask&api.EventRead != 0:
		return s.readReady(c)
	case mask&api.EventWrite != 0:
		s.writeReady(c)
	}
	return false
}

func (s *Server) readReady(c *httpconn.Conn) bool {
	if s.cfg.ActorModel == Reactor {
		s.dispatch(c, readJob{s: s, c: c}, api.EventRead)
		return false
	}
	if !c.ReadOnce() {
		s.evict(c, control.EvictFailure)
		return false
	}
	s.touch(c)
	return s.submit(c, false)
}

// submit hands a proactor connection whose request bytes are already buffered
// to a worker. On a full queue the bytes stay buffered and c is parked until
// retryDeferred finds room; the socket stays disarmed meanwhile.
// Only the first refusal of a request is counted.
func (s *Server) submit(c *httpconn.Conn, retry bool) bool {
	if err := s.workers.Enqueue(processJob{s: s, c: c}); err != nil {
		if !retry {
			s.overloaded(c, err)
		}
		s.deferred[c.Fd()] = c
		return false
	}
	return true
}

// retryDeferred resubmits parked proactor connections in fd order until the
// queue refuses again.
func (s *Server) retryDeferred() {
	if len(s.deferred) == 0 {
		return
	}
	fds := slices.Sorted(maps.Keys(s.deferred))
	for _, fd := range fds {
		c := s.deferred[fd]
		delete(s.deferred, fd)
		full := false
		c.Handoff(func(inFlight bool) bool {
			if inFlight {
				return false
			}
			ok := s.submit(c, true)
			full = !ok
			return ok
		})
		if full {
			return
		}
	}
}

func (s *Server) writeReady(c *httpconn.Conn) {
	if s.cfg.ActorModel == Reactor {
		s.dispatch(c, writeJob{s: s, c: c}, api.EventWrite)
		return
	}
	if !c.Write() {
		s.evict(c, closeReason(c))
		return
	}
	s.touch(c)
}

// dispatch hands c to a worker for one reactor-mode round and waits for the
// worker to hand it back. On a full queue c is re-armed for the same event.
func (s *Server) dispatch(c *httpconn.Conn, job api.Job, rearm api.EventMask) {
	if err := s.workers.Enqueue(job); err != nil {
		s.overloaded(c, err)
		c.Arm(rearm)
		return
	}
	if res := c.AwaitRound(); res.Failed {
		s.evict(c, closeReason(c))
		return
	}
	s.touch(c)
}

func (s *Server) overloaded(c *httpconn.Conn, err error) {
	s.control.QueueRejected()
	s.logger.Warn("job rejected", zap.Int("fd", c.Fd()), zap.Error(err))
}

// teardown runs once after the loop has returned.
func (s *Server) teardown() error {
	s.cancel()
	s.workers.Close()
	for _, c := range s.conns {
		s.evict(c, control.EvictStop)
	}
	err := s.release()
	s.logger.Info("server stopped", zap.Any("stats", s.Stats()))
	return err
}
