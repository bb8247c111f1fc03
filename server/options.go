// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/credentials"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMeterProvider sets where server instruments are created.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) {
		s.meterProvider = mp
	}
}

// WithResources sets the pool workers lease a credential handle from for every
// request they process.
func WithResources(p api.ResourcePool[credentials.Handle]) Option {
	return func(s *Server) {
		s.resources = p
	}
}

// WithSnapshot sets the credential table loaded at startup.
func WithSnapshot(snap *credentials.Snapshot) Option {
	return func(s *Server) {
		s.snapshot = snap
	}
}
