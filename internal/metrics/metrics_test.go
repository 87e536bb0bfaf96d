package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveStart("http", 20*time.Millisecond)
	m.ObserveStart("http", 30*time.Millisecond)
	m.StopFailed("plugins")
	m.StopFailed("plugins")
	m.SetLoaded(true)

	assert.Equal(t, 1, testutil.CollectAndCount(m.serviceStart, "openesb_service_start_seconds"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.serviceStopErrors.WithLabelValues("plugins")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instanceLoaded))

	m.SetLoaded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.instanceLoaded))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStart("x", time.Second)
	m.StopFailed("x")
	m.SetLoaded(true)
	assert.Nil(t, m.Registry())
}

func TestNewRegistry_IsPrivate(t *testing.T) {
	a := New(NewRegistry())
	b := New(NewRegistry())
	a.SetLoaded(true)

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "openesb_instance_loaded" {
			assert.Equal(t, 0.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
