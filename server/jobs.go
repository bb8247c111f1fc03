// File: server/jobs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/credentials"
	"github.com/momentics/hioload-httpd/internal/httpconn"
	"github.com/momentics/hioload-httpd/pool"
)

// readJob is a reactor-mode round: read, parse and respond on a worker.
type readJob struct {
	s *Server
	c *httpconn.Conn
}

func (j readJob) Run() {
	failed := true
	// the round result is published last, even when the job panics
	defer func() { j.c.FinishRound(failed) }()

	if !j.c.ReadOnce() {
		return
	}
	next, ok := j.s.process(j.c)
	if !ok {
		return
	}
	j.c.Arm(next)
	failed = false
}

// writeJob is a reactor-mode round that flushes the pending response.
type writeJob struct {
	s *Server
	c *httpconn.Conn
}

func (j writeJob) Run() {
	failed := true
	defer func() { j.c.FinishRound(failed) }()
	failed = !j.c.Write()
}

// processJob is a proactor-mode job: the loop already read the bytes.
type processJob struct {
	s *Server
	c *httpconn.Conn
}

func (j processJob) Run() {
	landed := false
	defer func() {
		if !landed {
			// leave the socket disarmed; the idle timer evicts it
			j.c.Land(0)
		}
	}()

	next, ok := j.s.process(j.c)
	if !ok {
		// the loop owns eviction; make the next readiness event report the hangup
		_ = unix.Shutdown(j.c.Fd(), unix.SHUT_RDWR)
		next = api.EventRead
	}
	landed = true
	j.c.Land(next)
}

// process runs the parser and responder with a leased credential handle.
func (s *Server) process(c *httpconn.Conn) (next api.EventMask, ok bool) {
	if s.resources == nil {
		return c.Process(s.ctx, nil)
	}
	err := pool.With(s.ctx, s.resources, func(h credentials.Handle) error {
		next, ok = c.Process(s.ctx, h)
		return nil
	})
	if err != nil {
		s.logger.Warn("resource lease failed", zap.Int("fd", c.Fd()), zap.Error(err))
		return 0, false
	}
	return next, ok
}
