package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/service/detection"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
)

// Draft outcomes reported to the Recorder.
const (
	OutcomeCreated    = "created"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

// Failure stages reported to the Recorder.
const (
	StageRecord       = "record"
	StageDetect       = "detect"
	StageSuppress     = "suppress"
	StageAlert        = "alert"
	StageIndex        = "index"
	StageVerification = "verification"
	StageScore        = "score"
)

const tracerName = "github.com/davidleathers/betting-risk-engine/internal/service/ingest"

type Config struct {
	// QualifyingTransaction is the smallest amount that triggers a rescore.
	QualifyingTransaction decimal.Decimal
}

func DefaultConfig() *Config {
	return &Config{QualifyingTransaction: decimal.NewFromInt(1000)}
}

// Dependencies are the collaborators of the ingest facade. Identities,
// Verification and Recorder are optional.
type Dependencies struct {
	Activity     activity.Store
	Detector     Evaluator
	Suppressor   Suppressor
	Alerts       AlertCreator
	Scoring      ScoreRequester
	Identities   IdentityIndexer
	Verification VerificationStatusWriter
	Recorder     Recorder
}

// Service is the single entry point for inbound events. Only malformed input is
// reported to the caller; every later failure is logged and counted.
type Service struct {
	logger *zap.Logger
	config *Config
	deps   Dependencies
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(logger *zap.Logger, config *Config, deps Dependencies) (*Service, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if deps.Activity == nil || deps.Detector == nil || deps.Suppressor == nil || deps.Alerts == nil || deps.Scoring == nil {
		return nil, errors.NewValidationError("INVALID_DEPENDENCY", "activity store, detector, suppressor, alerts and scoring are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Service{
		logger: logger.Named("ingest"),
		config: config,
		deps:   deps,
		tracer: otel.Tracer(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) OnLoginEvent(ctx context.Context, e *events.LoginEvent) error {
	if e == nil {
		return errors.NewValidationError("INVALID_EVENT", "login event is required")
	}
	return s.handle(ctx, e, &e.OccurredAt, pipeline{
		record: func(ctx context.Context) error {
			return s.deps.Activity.RecordLogin(ctx, e.UserID, activity.LoginRecord{
				IPAddress: e.IPAddress,
				UserAgent: e.UserAgent,
				Location:  e.Location,
				At:        e.OccurredAt,
			})
		},
		trigger: scoring.TriggerLogin,
	})
}

func (s *Service) OnBetPlaced(ctx context.Context, e *events.BetPlacedEvent) error {
	if e == nil {
		return errors.NewValidationError("INVALID_EVENT", "bet event is required")
	}
	return s.handle(ctx, e, &e.OccurredAt, pipeline{
		record: func(ctx context.Context) error {
			return s.deps.Activity.RecordBet(ctx, e.UserID, activity.BetRecord{
				Stake:   e.Stake,
				BetType: e.BetType,
				Odds:    e.Odds,
				At:      e.OccurredAt,
			})
		},
	})
}

func (s *Service) OnTransaction(ctx context.Context, e *events.TransactionEvent) error {
	if e == nil {
		return errors.NewValidationError("INVALID_EVENT", "transaction event is required")
	}
	p := pipeline{
		record: func(ctx context.Context) error {
			return s.deps.Activity.RecordTransaction(ctx, e.UserID, activity.TransactionRecord{
				Type:          string(e.Type),
				Amount:        e.Amount,
				PaymentMethod: e.PaymentMethod,
				Currency:      e.Currency,
				At:            e.OccurredAt,
			})
		},
	}
	if e.Amount.GreaterThanOrEqual(s.config.QualifyingTransaction) {
		p.trigger = scoring.TriggerTransaction
	}
	return s.handle(ctx, e, &e.OccurredAt, p)
}

func (s *Service) OnProfileOrIdentityUpdate(ctx context.Context, e *events.ProfileUpdateEvent) error {
	if e == nil {
		return errors.NewValidationError("INVALID_EVENT", "profile event is required")
	}
	return s.handle(ctx, e, &e.OccurredAt, pipeline{
		after:   func(ctx context.Context) { s.applyIdentity(ctx, e) },
		trigger: scoring.TriggerIdentityUpdate,
	})
}

// pipeline holds the per-kind steps around detection.
type pipeline struct {
	record  func(ctx context.Context) error
	after   func(ctx context.Context)
	trigger scoring.Trigger
}

func (s *Service) handle(ctx context.Context, ev events.Event, occurredAt *time.Time, p pipeline) error {
	started := time.Now()
	kind := ev.Kind()

	ctx, span := s.tracer.Start(ctx, "ingest."+string(kind),
		trace.WithAttributes(attribute.String("event.kind", string(kind))),
	)
	defer span.End()

	if occurredAt.IsZero() {
		*occurredAt = s.now()
	}
	if err := ev.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.deps.Recorder.RecordFailure(ctx, kind, "validate")
		return err
	}

	userID := ev.Subject()
	span.SetAttributes(attribute.String("user.id", userID.String()))
	log := s.logger.With(zap.String("user_id", userID.String()), zap.String("event", string(kind)))

	if p.record != nil {
		if err := p.record(ctx); err != nil {
			s.fail(ctx, log, kind, StageRecord, err)
		}
	}

	drafts, err := s.deps.Detector.Evaluate(ctx, userID, ev)
	if err != nil {
		s.fail(ctx, log, kind, StageDetect, err)
	}
	for _, d := range drafts {
		s.raise(ctx, log, kind, userID, d)
	}

	if p.after != nil {
		p.after(ctx)
	}

	if p.trigger != "" && !s.deps.Scoring.Request(userID, p.trigger) {
		s.deps.Recorder.RecordFailure(ctx, kind, StageScore)
	}

	span.SetAttributes(attribute.Int("alert.drafts", len(drafts)))
	s.deps.Recorder.RecordEvent(ctx, kind, time.Since(started))
	return nil
}

// raise turns one draft into an alert unless its suppression window is held.
// A failing suppressor lets the alert through.
func (s *Service) raise(ctx context.Context, log *zap.Logger, kind events.Kind, userID uuid.UUID, d alert.Draft) {
	held := false
	if d.SuppressFor > 0 {
		acquired, err := s.deps.Suppressor.Acquire(ctx, SuppressionKey(userID, d), d.SuppressFor)
		if err != nil {
			s.fail(ctx, log, kind, StageSuppress, err)
		} else if !acquired {
			log.Debug("alert suppressed", zap.String("alert_type", string(d.Type)), zap.String("rule", d.Rule))
			s.deps.Recorder.RecordDraft(ctx, d.Type, OutcomeSuppressed)
			return
		}
		held = acquired
	}

	if _, err := s.deps.Alerts.CreateAlert(ctx, userID, d); err != nil {
		s.deps.Recorder.RecordDraft(ctx, d.Type, OutcomeFailed)
		s.fail(ctx, log, kind, StageAlert, err)
		// An open window would hide the next firing of an alert that was never stored.
		if held {
			if err := s.deps.Suppressor.Release(ctx, SuppressionKey(userID, d)); err != nil {
				s.fail(ctx, log, kind, StageSuppress, err)
			}
		}
		return
	}
	s.deps.Recorder.RecordDraft(ctx, d.Type, OutcomeCreated)
}

// applyIdentity indexes declared attributes and stores the verification status.
// It runs after detection so the current user's own values are never matched.
func (s *Service) applyIdentity(ctx context.Context, e *events.ProfileUpdateEvent) {
	log := s.logger.With(zap.String("user_id", e.UserID.String()))

	if s.deps.Identities != nil {
		for _, attr := range detection.Attributes(e) {
			if err := s.deps.Identities.Index(ctx, e.UserID, attr.Kind, attr.Value); err != nil {
				s.fail(ctx, log, e.Kind(), StageIndex, fmt.Errorf("index %s: %w", attr.Kind, err))
			}
		}
	}

	if s.deps.Verification != nil && e.Verified.Status != "" {
		if err := s.deps.Verification.SetVerificationStatus(ctx, e.UserID, e.Verified.Status); err != nil {
			s.fail(ctx, log, e.Kind(), StageVerification, err)
		}
	}
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, kind events.Kind, stage string, err error) {
	log.Error("event processing step failed", zap.String("stage", stage), zap.Error(err))
	s.deps.Recorder.RecordFailure(ctx, kind, stage)
	trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(attribute.String("stage", stage)))
}

// SuppressionKey identifies one windowed rule for one user.
func SuppressionKey(userID uuid.UUID, d alert.Draft) string {
	rule := d.Rule
	if rule == "" {
		rule = "default"
	}
	return fmt.Sprintf("%s:%s:%s", userID, d.Type, rule)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(context.Context, events.Kind, time.Duration) {}

func (nopRecorder) RecordDraft(context.Context, alert.Type, string) {}

func (nopRecorder) RecordFailure(context.Context, events.Kind, string) {}
