// Package metrics exposes Prometheus instrumentation for reconciliation
// cycles. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reconciliation pipeline.
type Metrics struct {
	// Completed cycles by outcome: "ok", "partial" (some items failed) or "skipped"
	Cycles *prometheus.CounterVec

	CycleDuration prometheus.Histogram

	CycleInProgress prometheus.Gauge

	// Per-item outcomes by step and result ("succeeded" or "failed")
	StepItems *prometheus.CounterVec

	// Domain verification verdicts by verified ("true" or "false")
	DomainVerifications *prometheus.CounterVec

	ManifestsRevoked prometheus.Counter

	// Tied authoritative manifests detected by revocation passes
	IntegrityAnomalies prometheus.Counter
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vhs_cycles_total",
			Help: "Total reconciliation cycles by outcome",
		}, []string{"outcome"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vhs_cycle_duration_seconds",
			Help:    "Duration of full reconciliation cycles",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		CycleInProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "vhs_cycle_in_progress",
			Help: "1 while a reconciliation cycle is running",
		}),

		StepItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vhs_step_items_total",
			Help: "Per-item outcomes of cycle steps",
		}, []string{"step", "result"}),

		DomainVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vhs_domain_verifications_total",
			Help: "Domain attestation verdicts",
		}, []string{"verified"}),

		ManifestsRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "vhs_manifests_revoked_total",
			Help: "Manifests newly marked revoked",
		}),

		IntegrityAnomalies: f.NewCounter(prometheus.CounterOpts{
			Name: "vhs_integrity_anomalies_total",
			Help: "Master keys whose highest sequence is shared by several signing keys",
		}),
	}
}

// CycleStarted marks a cycle as running.
func (m *Metrics) CycleStarted() {
	if m != nil {
		m.CycleInProgress.Set(1)
	}
}

// CycleFinished records a completed cycle.
func (m *Metrics) CycleFinished(outcome string, d time.Duration) {
	if m != nil {
		m.CycleInProgress.Set(0)
		m.Cycles.WithLabelValues(outcome).Inc()
		m.CycleDuration.Observe(d.Seconds())
	}
}

// CycleSkipped records a tick that found a cycle already running.
func (m *Metrics) CycleSkipped() {
	if m != nil {
		m.Cycles.WithLabelValues("skipped").Inc()
	}
}

// ObserveStep records the item counts of one step.
func (m *Metrics) ObserveStep(step string, succeeded, failed int) {
	if m != nil {
		m.StepItems.WithLabelValues(step, "succeeded").Add(float64(succeeded))
		m.StepItems.WithLabelValues(step, "failed").Add(float64(failed))
	}
}

// ObserveVerification records a domain verification verdict.
func (m *Metrics) ObserveVerification(verified bool) {
	if m != nil {
		label := "false"
		if verified {
			label = "true"
		}
		m.DomainVerifications.WithLabelValues(label).Inc()
	}
}

// AddRevoked records newly revoked manifests.
func (m *Metrics) AddRevoked(n int) {
	if m != nil {
		m.ManifestsRevoked.Add(float64(n))
	}
}

// IncIntegrityAnomaly records a tied authoritative manifest.
func (m *Metrics) IncIntegrityAnomaly() {
	if m != nil {
		m.IntegrityAnomalies.Inc()
	}
}
