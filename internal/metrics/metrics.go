// Package metrics exposes Prometheus instrumentation for comparison passes.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/facefinder/internal/screening"
)

// Metrics records pass and comparison activity. It implements
// screening.Observer.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	activePasses    prometheus.Gauge
	passesTotal     *prometheus.CounterVec
	comparisons     *prometheus.CounterVec
	compareDuration prometheus.Histogram
	passDuration    prometheus.Histogram
}

// New builds a Metrics instance with its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		activePasses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facefinder_active_passes",
			Help: "Comparison passes currently running.",
		}),
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facefinder_passes_total",
			Help: "Finished comparison passes by outcome.",
		}, []string{"outcome"}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facefinder_comparisons_total",
			Help: "Successful candidate comparisons by result.",
		}, []string{"result"}),
		compareDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facefinder_compare_duration_seconds",
			Help:    "Latency of a single face comparison call.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facefinder_pass_duration_seconds",
			Help:    "Wall time of a comparison pass.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activePasses,
		m.passesTotal,
		m.comparisons,
		m.compareDuration,
		m.passDuration,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// TrackWorkspaces exports the number of open workspaces as reported by count.
func (m *Metrics) TrackWorkspaces(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "facefinder_workspaces",
		Help: "Workspaces held in memory.",
	}, func() float64 {
		return float64(count())
	}))
}

func (m *Metrics) OnPassStarted(context.Context, screening.PassInfo) {
	m.activePasses.Inc()
}

func (m *Metrics) OnCandidateCompared(_ context.Context, _ string, outcome screening.CandidateOutcome, elapsed time.Duration) {
	result := "unmatched"
	if outcome.Matched {
		result = "matched"
	}
	m.comparisons.WithLabelValues(result).Inc()
	m.compareDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) OnPassFinished(_ context.Context, summary screening.PassSummary) {
	m.activePasses.Dec()
	m.passesTotal.WithLabelValues(outcomeLabel(summary)).Inc()
	m.passDuration.Observe(summary.Duration().Seconds())
}

func outcomeLabel(summary screening.PassSummary) string {
	switch {
	case summary.Superseded:
		return "cancelled"
	case summary.Status == screening.StatusDone:
		return "done"
	default:
		return "error"
	}
}
