// Package metrics provides Prometheus metrics for the suspension daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	SuspendsTotal  *prometheus.CounterVec
	RestoresTotal  *prometheus.CounterVec
	ScansTotal     prometheus.Counter
	ScanDuration   prometheus.Histogram
	SuspendedTabs  prometheus.Gauge
	NextWakeSecs   prometheus.Gauge
	ErrorsTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SuspendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabnap_suspends_total",
				Help: "Suspension attempts by reason, strategy and outcome.",
			},
			[]string{"reason", "strategy", "status"},
		),
		RestoresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabnap_restores_total",
				Help: "Restore attempts by strategy and outcome.",
			},
			[]string{"strategy", "status"},
		),
		ScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tabnap_scans_total",
				Help: "Completed inactivity scan passes.",
			},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tabnap_scan_duration_seconds",
				Help:    "Inactivity scan pass duration.",
				Buckets: prometheus.DefBuckets,
			},
		),
		SuspendedTabs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabnap_suspended_tabs",
				Help: "Number of currently suspended tabs.",
			},
		),
		NextWakeSecs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabnap_next_wake_seconds",
				Help: "Delay until the next scheduled scan.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabnap_errors_total",
				Help: "Total errors by component and type.",
			},
			[]string{"component", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SuspendsTotal)
	reg.MustRegister(m.RestoresTotal)
	reg.MustRegister(m.ScansTotal)
	reg.MustRegister(m.ScanDuration)
	reg.MustRegister(m.SuspendedTabs)
	reg.MustRegister(m.NextWakeSecs)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSuspend increments the suspend counter.
func (m *Metrics) RecordSuspend(reason, strategy, status string) {
	m.SuspendsTotal.WithLabelValues(reason, strategy, status).Inc()
}

// RecordRestore increments the restore counter.
func (m *Metrics) RecordRestore(strategy, status string) {
	m.RestoresTotal.WithLabelValues(strategy, status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}
