package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CycleStarted()
	m.CycleFinished("ok", time.Second)
	m.CycleSkipped()
	m.ObserveStep("fetch", 1, 1)
	m.ObserveVerification(true)
	m.AddRevoked(2)
	m.IncIntegrityAnomaly()
}

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CycleStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CycleInProgress))
	m.CycleFinished("partial", 2*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CycleInProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("partial")))

	m.CycleSkipped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("skipped")))

	m.ObserveStep("ingest", 3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StepItems.WithLabelValues("ingest", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepItems.WithLabelValues("ingest", "failed")))

	m.ObserveVerification(false)
	m.ObserveVerification(true)
	m.ObserveVerification(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DomainVerifications.WithLabelValues("true")))

	m.AddRevoked(4)
	m.IncIntegrityAnomaly()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ManifestsRevoked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntegrityAnomalies))
}
