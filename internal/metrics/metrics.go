// Package metrics exposes Prometheus metrics for the campaign engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the campaigner.
type Metrics struct {
	// Dispatch counters
	SentTotal      *prometheus.CounterVec
	FailedTotal    *prometheus.CounterVec
	RetriesTotal   *prometheus.CounterVec
	AutoPauseTotal prometheus.Counter

	// Campaign gauges
	ActiveCampaigns prometheus.Gauge

	// Resolution
	ResolveDurationSeconds prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaigner_messages_sent_total",
				Help: "Total number of successfully delivered campaign messages",
			},
			[]string{"campaign"},
		),
		FailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaigner_messages_failed_total",
				Help: "Total number of permanently failed campaign messages",
			},
			[]string{"campaign"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaigner_send_retries_total",
				Help: "Total number of transient send failures that were retried",
			},
			[]string{"campaign"},
		),
		AutoPauseTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campaigner_auto_pause_total",
				Help: "Total number of campaigns auto-paused on failure rate",
			},
		),
		ActiveCampaigns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaigner_active_campaigns",
				Help: "Number of campaigns currently in the sending state",
			},
		),
		ResolveDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaigner_resolve_duration_seconds",
				Help:    "Audience resolution duration",
				Buckets: prometheus.DefBuckets,
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.SentTotal,
		m.FailedTotal,
		m.RetriesTotal,
		m.AutoPauseTotal,
		m.ActiveCampaigns,
		m.ResolveDurationSeconds,
	)

	return m
}

// Registry returns the underlying registry for serving.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
