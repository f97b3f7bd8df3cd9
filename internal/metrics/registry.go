package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/service/ingest"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
	"github.com/davidleathers/betting-risk-engine/internal/service/triage"
)

// Registry holds the domain instruments and implements the recorders the
// scoring, triage and ingest services accept.
type Registry struct {
	meter metric.Meter

	// Scoring
	AssessmentDuration metric.Float64Histogram
	AssessmentCounter  metric.Int64Counter
	StaleAssessments   metric.Int64Counter

	// Triage
	AlertsCreated    metric.Int64Counter
	AlertsClosed     metric.Int64Counter
	TimeToResolution metric.Float64Histogram

	// Ingest
	EventDuration  metric.Float64Histogram
	DraftCounter   metric.Int64Counter
	FailureCounter metric.Int64Counter

	// Async scoring queue
	ScoreQueueDropped metric.Int64ObservableCounter

	mu      sync.RWMutex
	dropped func() int64
}

var (
	_ scoring.Recorder = (*Registry)(nil)
	_ triage.Recorder  = (*Registry)(nil)
	_ ingest.Recorder  = (*Registry)(nil)
)

// NewRegistry creates every instrument on the named meter of the global provider.
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	for _, init := range []func() error{r.initScoringMetrics, r.initTriageMetrics, r.initIngestMetrics} {
		if err := init(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) initScoringMetrics() error {
	var err error

	r.AssessmentDuration, err = r.meter.Float64Histogram(
		"risk.scoring.assessment_duration",
		metric.WithDescription("Duration of one risk assessment in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500),
	)
	if err != nil {
		return err
	}

	r.AssessmentCounter, err = r.meter.Int64Counter(
		"risk.scoring.assessments",
		metric.WithDescription("Risk assessments by resulting level and trigger"),
	)
	if err != nil {
		return err
	}

	r.StaleAssessments, err = r.meter.Int64Counter(
		"risk.scoring.stale_assessments",
		metric.WithDescription("Assessments that kept stale values after a dependency failure"),
	)
	if err != nil {
		return err
	}

	r.ScoreQueueDropped, err = r.meter.Int64ObservableCounter(
		"risk.scoring.queue_dropped",
		metric.WithDescription("Async scoring requests dropped because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			fn := r.dropped
			r.mu.RUnlock()
			if fn != nil {
				o.Observe(fn())
			}
			return nil
		}),
	)
	return err
}

func (r *Registry) initTriageMetrics() error {
	var err error

	r.AlertsCreated, err = r.meter.Int64Counter(
		"risk.triage.alerts_created",
		metric.WithDescription("Compliance alerts created by type and severity"),
	)
	if err != nil {
		return err
	}

	r.AlertsClosed, err = r.meter.Int64Counter(
		"risk.triage.alerts_closed",
		metric.WithDescription("Compliance alerts closed by type and terminal status"),
	)
	if err != nil {
		return err
	}

	r.TimeToResolution, err = r.meter.Float64Histogram(
		"risk.triage.time_to_resolution",
		metric.WithDescription("Time from trigger to close in hours"),
		metric.WithUnit("h"),
		metric.WithExplicitBucketBoundaries(0.25, 1, 4, 8, 24, 48, 72, 168),
	)
	return err
}

func (r *Registry) initIngestMetrics() error {
	var err error

	r.EventDuration, err = r.meter.Float64Histogram(
		"risk.ingest.event_duration",
		metric.WithDescription("Duration of handling one inbound event in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 25, 50, 100, 250, 1000),
	)
	if err != nil {
		return err
	}

	r.DraftCounter, err = r.meter.Int64Counter(
		"risk.ingest.drafts",
		metric.WithDescription("Alert drafts by type and outcome"),
	)
	if err != nil {
		return err
	}

	r.FailureCounter, err = r.meter.Int64Counter(
		"risk.ingest.failures",
		metric.WithDescription("Swallowed ingest failures by event kind and stage"),
	)
	return err
}

// ObserveDropped registers the source of the dropped-request count.
func (r *Registry) ObserveDropped(fn func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = fn
}

func (r *Registry) RecordAssessment(ctx context.Context, level risk.Level, trigger string, stale bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("level", string(level)),
		attribute.String("trigger", trigger),
	)
	r.AssessmentDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	r.AssessmentCounter.Add(ctx, 1, attrs)
	if stale {
		r.StaleAssessments.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

func (r *Registry) RecordAlertCreated(ctx context.Context, t alert.Type, s alert.Severity) {
	r.AlertsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("alert_type", string(t)),
		attribute.String("severity", string(s)),
	))
}

func (r *Registry) RecordAlertClosed(ctx context.Context, t alert.Type, status alert.Status, timeToResolution time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("alert_type", string(t)),
		attribute.String("status", string(status)),
	)
	r.AlertsClosed.Add(ctx, 1, attrs)
	r.TimeToResolution.Record(ctx, timeToResolution.Hours(), attrs)
}

func (r *Registry) RecordEvent(ctx context.Context, kind events.Kind, duration time.Duration) {
	r.EventDuration.Record(ctx, float64(duration.Microseconds())/1000,
		metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (r *Registry) RecordDraft(ctx context.Context, t alert.Type, outcome string) {
	r.DraftCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("alert_type", string(t)),
		attribute.String("outcome", outcome),
	))
}

func (r *Registry) RecordFailure(ctx context.Context, kind events.Kind, stage string) {
	r.FailureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("stage", stage),
	))
}
