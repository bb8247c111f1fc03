// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Server counters. Every update lands in a local atomic, readable through
// Snapshot, and in an OpenTelemetry instrument taken from the configured meter.

package control

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope of all server instruments.
const ScopeName = "github.com/momentics/hioload-httpd"

// Eviction reasons.
const (
	EvictFailure = "failure"
	EvictHangup  = "hangup"
	EvictTimeout = "timeout"
	EvictClose   = "close"
	EvictStop    = "shutdown"
)

// Metrics holds connection and request counters.
type Metrics struct {
	accepted      atomic.Int64
	rejected      atomic.Int64
	evicted       atomic.Int64
	live          atomic.Int64
	queueRejected atomic.Int64
	responses     atomic.Int64

	acceptedCounter metric.Int64Counter
	rejectedCounter metric.Int64Counter
	evictedCounter  metric.Int64Counter
	liveGauge       metric.Int64UpDownCounter
	queueCounter    metric.Int64Counter
	responseCounter metric.Int64Counter
}

// NewMetrics creates the instruments on provider, or on the global provider when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(ScopeName)

	m := &Metrics{}
	var err error
	if m.acceptedCounter, err = meter.Int64Counter("httpd.connections.accepted"); err != nil {
		return nil, err
	}
	if m.rejectedCounter, err = meter.Int64Counter("httpd.connections.rejected",
		metric.WithDescription("connections refused at the connection limit")); err != nil {
		return nil, err
	}
	if m.evictedCounter, err = meter.Int64Counter("httpd.connections.evicted"); err != nil {
		return nil, err
	}
	if m.liveGauge, err = meter.Int64UpDownCounter("httpd.connections.live"); err != nil {
		return nil, err
	}
	if m.queueCounter, err = meter.Int64Counter("httpd.queue.rejected",
		metric.WithDescription("jobs refused by a full work queue")); err != nil {
		return nil, err
	}
	if m.responseCounter, err = meter.Int64Counter("httpd.responses"); err != nil {
		return nil, err
	}
	return m, nil
}

// Accepted records a registered connection.
func (m *Metrics) Accepted() {
	m.accepted.Add(1)
	m.live.Add(1)
	m.acceptedCounter.Add(context.Background(), 1)
	m.liveGauge.Add(context.Background(), 1)
}

// Rejected records a connection turned away at the limit.
func (m *Metrics) Rejected() {
	m.rejected.Add(1)
	m.rejectedCounter.Add(context.Background(), 1)
}

// Evicted records the end of a registered connection.
func (m *Metrics) Evicted(reason string) {
	m.evicted.Add(1)
	m.live.Add(-1)
	m.evictedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.liveGauge.Add(context.Background(), -1)
}

// QueueRejected records a job refused by the work queue.
func (m *Metrics) QueueRejected() {
	m.queueRejected.Add(1)
	m.queueCounter.Add(context.Background(), 1)
}

// Response records a response with the given status code.
func (m *Metrics) Response(status int) {
	m.responses.Add(1)
	m.responseCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", strconv.Itoa(status))))
}

// Live returns the number of registered connections.
func (m *Metrics) Live() int64 { return m.live.Load() }

// Snapshot returns the local counters.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"connections_accepted": m.accepted.Load(),
		"connections_rejected": m.rejected.Load(),
		"connections_evicted":  m.evicted.Load(),
		"connections_live":     m.live.Load(),
		"queue_rejected":       m.queueRejected.Load(),
		"responses":            m.responses.Load(),
	}
}
