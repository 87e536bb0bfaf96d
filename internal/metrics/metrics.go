// Package metrics holds the instance's Prometheus collectors. Everything is
// registered on a private registry so several instances can live in one
// test binary.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	serviceStart      *prometheus.HistogramVec
	serviceStopErrors *prometheus.CounterVec
	instanceLoaded    prometheus.Gauge
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		registry: reg,
		serviceStart: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openesb_service_start_seconds",
				Help:    "Time taken by each instance service to start",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"service"},
		),
		serviceStopErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "openesb_service_stop_errors_total",
				Help: "Stop failures per instance service",
			},
			[]string{"service"},
		),
		instanceLoaded: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "openesb_instance_loaded",
				Help: "1 while the instance is registered as loaded",
			},
		),
	}
}

// Registry is the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveStart(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.serviceStart.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) StopFailed(service string) {
	if m == nil {
		return
	}
	m.serviceStopErrors.WithLabelValues(service).Inc()
}

func (m *Metrics) SetLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.instanceLoaded.Set(1)
	} else {
		m.instanceLoaded.Set(0)
	}
}
