// File: control/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"maps"

	"go.opentelemetry.io/otel/metric"

	"github.com/momentics/hioload-httpd/api"
)

// Controller joins the server counters with registered probes.
type Controller struct {
	*Metrics
	probes *DebugProbes
}

var _ api.Control = (*Controller)(nil)

// New returns a Controller whose instruments come from provider.
func New(provider metric.MeterProvider) (*Controller, error) {
	m, err := NewMetrics(provider)
	if err != nil {
		return nil, err
	}
	return &Controller{Metrics: m, probes: NewDebugProbes()}, nil
}

// Stats returns counters and probe values in one map. Probes win on key clashes.
func (c *Controller) Stats() map[string]any {
	out := c.Snapshot()
	maps.Copy(out, c.probes.DumpState())
	return out
}

// RegisterDebugProbe adds a named probe to Stats.
func (c *Controller) RegisterDebugProbe(name string, fn func() any) {
	c.probes.RegisterProbe(name, fn)
}
