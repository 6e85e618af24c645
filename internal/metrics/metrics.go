// Package metrics provides observability for the screening pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments. A nil *Metrics is
// safe to call, so wiring stays optional in library use.
type Metrics struct {
	// Per-phase latencies by phase name
	PhaseLatency *prometheus.HistogramVec

	// Run outcomes by mode and status
	RunOutcome *prometheus.CounterVec

	// Violations found by rule category
	Violations *prometheus.CounterVec

	// Overall run latency
	RunLatency prometheus.Histogram

	// Aggregate table rebuild failures by table
	TableFailures *prometheus.CounterVec
}

// New creates a Metrics instance with all pipeline metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		PhaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_batch_phase_duration_seconds",
			Help:    "Duration of pipeline phases by phase name",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"phase"}),

		RunOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_batch_runs_total",
			Help: "Total pipeline runs by mode and status",
		}, []string{"mode", "status"}),

		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_violations_total",
			Help: "Total rule violations found by category",
		}, []string{"category"}),

		RunLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_batch_run_duration_seconds",
			Help:    "Duration of full pipeline runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),

		TableFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_aggregate_table_failures_total",
			Help: "Aggregate table rebuild failures by table",
		}, []string{"table"}),
	}
}

// ObservePhase records one phase's duration.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m != nil {
		m.PhaseLatency.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// IncrementRun records a completed run outcome.
func (m *Metrics) IncrementRun(mode, status string) {
	if m != nil {
		m.RunOutcome.WithLabelValues(mode, status).Inc()
	}
}

// AddViolations records violations found in one category.
func (m *Metrics) AddViolations(category string, n int) {
	if m != nil && n > 0 {
		m.Violations.WithLabelValues(category).Add(float64(n))
	}
}

// ObserveRun records a full run's duration.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m != nil {
		m.RunLatency.Observe(d.Seconds())
	}
}

// IncrementTableFailure records one aggregate table rebuild failure.
func (m *Metrics) IncrementTableFailure(table string) {
	if m != nil {
		m.TableFailures.WithLabelValues(table).Inc()
	}
}
