package control_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/momentics/hioload-httpd/control"
)

func TestController_StatsMergesProbes(t *testing.T) {
	c, err := control.New(nil)
	require.NoError(t, err)

	c.Accepted()
	c.Accepted()
	c.Evicted(control.EvictTimeout)
	c.Rejected()
	c.QueueRejected()
	c.Response(200)
	c.RegisterDebugProbe("queue_length", func() any { return 7 })

	stats := c.Stats()
	assert.EqualValues(t, 2, stats["connections_accepted"])
	assert.EqualValues(t, 1, stats["connections_live"])
	assert.EqualValues(t, 1, stats["connections_evicted"])
	assert.EqualValues(t, 1, stats["connections_rejected"])
	assert.EqualValues(t, 1, stats["queue_rejected"])
	assert.EqualValues(t, 1, stats["responses"])
	assert.Equal(t, 7, stats["queue_length"])
	assert.EqualValues(t, 1, c.Live())
}

func TestMetrics_ExportsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := control.NewMetrics(mp)
	require.NoError(t, err)
	m.Accepted()
	m.Evicted(control.EvictHangup)
	m.Response(404)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, control.ScopeName, rm.ScopeMetrics[0].Scope.Name)

	names := map[string]bool{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		names[md.Name] = true
	}
	assert.True(t, names["httpd.connections.accepted"])
	assert.True(t, names["httpd.connections.evicted"])
	assert.True(t, names["httpd.connections.live"])
	assert.True(t, names["httpd.responses"])
}
