package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/service/ingest"
)

func newTestRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := NewRegistryWithMeter(provider.Meter("risk-engine-test"))
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		if len(attrs) == 0 || dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func TestRegistry_Scoring(t *testing.T) {
	ctx := context.Background()
	r, reader := newTestRegistry(t)

	r.RecordAssessment(ctx, risk.LevelHigh, "login", false, 12*time.Millisecond)
	r.RecordAssessment(ctx, risk.LevelHigh, "login", true, 3*time.Millisecond)
	r.RecordAssessment(ctx, risk.LevelLow, "scheduled", false, time.Millisecond)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["risk.scoring.assessments"],
		attribute.String("level", "high"), attribute.String("trigger", "login")))
	assert.Equal(t, int64(3), sumOf(t, got["risk.scoring.assessments"]))
	assert.Equal(t, int64(1), sumOf(t, got["risk.scoring.stale_assessments"]))

	hist, ok := got["risk.scoring.assessment_duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRegistry_Triage(t *testing.T) {
	ctx := context.Background()
	r, reader := newTestRegistry(t)

	r.RecordAlertCreated(ctx, alert.TypeVelocityCheck, alert.SeverityMedium)
	r.RecordAlertClosed(ctx, alert.TypeVelocityCheck, alert.StatusFalsePositive, 90*time.Minute)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["risk.triage.alerts_created"],
		attribute.String("alert_type", string(alert.TypeVelocityCheck)), attribute.String("severity", "medium")))
	assert.Equal(t, int64(1), sumOf(t, got["risk.triage.alerts_closed"],
		attribute.String("alert_type", string(alert.TypeVelocityCheck)), attribute.String("status", "false_positive")))

	hist, ok := got["risk.triage.time_to_resolution"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 1e-9)
}

func TestRegistry_Ingest(t *testing.T) {
	ctx := context.Background()
	r, reader := newTestRegistry(t)

	r.RecordEvent(ctx, events.KindLogin, 2*time.Millisecond)
	r.RecordDraft(ctx, alert.TypeSuspiciousLogin, ingest.OutcomeCreated)
	r.RecordDraft(ctx, alert.TypeSuspiciousLogin, ingest.OutcomeSuppressed)
	r.RecordFailure(ctx, events.KindTransaction, ingest.StageRecord)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["risk.ingest.drafts"],
		attribute.String("alert_type", string(alert.TypeSuspiciousLogin)), attribute.String("outcome", ingest.OutcomeSuppressed)))
	assert.Equal(t, int64(1), sumOf(t, got["risk.ingest.failures"],
		attribute.String("kind", "transaction"), attribute.String("stage", ingest.StageRecord)))
	assert.Contains(t, got, "risk.ingest.event_duration")
}

func TestRegistry_ObserveDropped(t *testing.T) {
	r, reader := newTestRegistry(t)

	_, present := collect(t, reader)["risk.scoring.queue_dropped"]
	assert.False(t, present)

	r.ObserveDropped(func() int64 { return 7 })
	assert.Equal(t, int64(7), sumOf(t, collect(t, reader)["risk.scoring.queue_dropped"]))
}
