package scoring

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/service/keylock"
)

const (
	// DefaultMaxRetries bounds optimistic read-modify-write attempts.
	DefaultMaxRetries = 3

	ReasonRecalculated = "risk score recalculated"
	ReasonUserNotFound = "user record not found"

	tracerName = "github.com/davidleathers/betting-risk-engine/internal/service/scoring"
)

// Engine computes and persists risk scores. Runs for the same user are serialized
// in-process; the repository version check covers other processes.
type Engine struct {
	logger    *zap.Logger
	policy    Policy
	profiles  ProfileRepository
	users     UserDirectory
	behavior  BehaviorSource
	analyzers Analyzers
	recorder  Recorder
	tracer    trace.Tracer

	maxRetries int
	now        func() time.Time
	locks      *keylock.Map[uuid.UUID]
}

// Option customizes an Engine.
type Option func(*Engine)

func WithAnalyzers(a Analyzers) Option {
	return func(e *Engine) { e.analyzers = a.withDefaults() }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(logger *zap.Logger, policy Policy, profiles ProfileRepository, users UserDirectory, behavior BehaviorSource, opts ...Option) (*Engine, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if profiles == nil {
		return nil, errors.NewValidationError("INVALID_REPOSITORY", "profile repository cannot be nil")
	}
	if users == nil {
		return nil, errors.NewValidationError("INVALID_DIRECTORY", "user directory cannot be nil")
	}
	if behavior == nil {
		return nil, errors.NewValidationError("INVALID_BEHAVIOR_SOURCE", "behavior source cannot be nil")
	}
	if policy.trusted == nil {
		return nil, errors.NewValidationError("INVALID_POLICY", "policy must be built with NewPolicy")
	}

	e := &Engine{
		logger:     logger.Named("scoring"),
		policy:     policy,
		profiles:   profiles,
		users:      users,
		behavior:   behavior,
		analyzers:  DefaultAnalyzers(),
		recorder:   nopRecorder{},
		tracer:     otel.Tracer(tracerName),
		maxRetries: DefaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      keylock.New[uuid.UUID](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Policy() Policy { return e.policy }

// CalculateRiskScore runs one full assessment and persists it. Dependency failures
// fall back to the profile's previous values; only persistence errors are returned.
func (e *Engine) CalculateRiskScore(ctx context.Context, userID uuid.UUID, trigger Trigger) (*risk.Profile, error) {
	ctx, span := e.tracer.Start(ctx, "scoring.CalculateRiskScore",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("scoring.trigger", string(trigger)),
		),
	)
	defer span.End()

	if userID == uuid.Nil {
		err := errors.NewValidationError("INVALID_USER_ID", "user id is required")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	started := time.Now()
	unlock := e.locks.Lock(userID)
	defer unlock()

	var (
		result *risk.Profile
		stale  bool
	)
	err := e.withRetry(ctx, userID, func() error {
		now := e.now()
		p, err := e.loadOrNew(ctx, userID, now)
		if err != nil {
			return err
		}

		a, isStale := e.assess(ctx, p, trigger, now)
		p.ApplyAssessment(a, e.policy.Levels(), e.policy.Intervals())
		if err := e.profiles.Save(ctx, p); err != nil {
			return err
		}
		result, stale = p, isStale
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("risk assessment failed",
			zap.String("user_id", userID.String()),
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("risk.score", result.OverallRiskScore),
		attribute.String("risk.level", string(result.RiskLevel)),
		attribute.Bool("risk.stale_inputs", stale),
	)
	e.recorder.RecordAssessment(ctx, result.RiskLevel, string(trigger), stale, time.Since(started))
	e.logger.Debug("risk assessment completed",
		zap.String("user_id", userID.String()),
		zap.String("trigger", string(trigger)),
		zap.Float64("score", result.OverallRiskScore),
		zap.String("level", string(result.RiskLevel)),
		zap.Bool("stale", stale),
	)
	return result.Clone(), nil
}

// assess gathers factor inputs for p. The bool reports whether any input fell back
// to a previous value.
func (e *Engine) assess(ctx context.Context, p *risk.Profile, trigger Trigger, now time.Time) (risk.Assessment, bool) {
	log := e.logger.With(zap.String("user_id", p.UserID.String()), zap.String("trigger", string(trigger)))

	user, err := e.users.GetUser(ctx, p.UserID)
	if err != nil && errors.IsNotFound(err) {
		log.Warn("scoring user without a user record")
		return risk.Assessment{
			Score:       risk.MaxScore,
			Factors:     p.RiskFactors,
			Metrics:     p.BehaviorMetrics,
			Reason:      ReasonUserNotFound,
			TriggeredBy: string(trigger),
			At:          now,
		}, false
	}

	var staleInputs []string
	factors := p.RiskFactors
	if err != nil {
		log.Warn("user directory unavailable, keeping previous identity factors", zap.Error(err))
		staleInputs = append(staleInputs, "user")
		user = nil
	} else {
		factors.AccountAge = AccountAgeFactor(now.Sub(user.CreatedAt))
		factors.KYCStatus = KYCFactor(user.Verification)
		factors.SocialSignals = SocialFactor(user.Email, e.policy)
	}

	metrics, err := e.behavior.Metrics(ctx, p.UserID, now)
	if err != nil {
		log.Warn("behavior metrics unavailable, keeping previous metrics", zap.Error(err))
		staleInputs = append(staleInputs, "behavior")
		metrics = p.BehaviorMetrics
	}

	in := AnalysisInput{UserID: p.UserID, User: user, Metrics: metrics, Previous: p.RiskFactors, At: now}
	run := func(name string, a FactorAnalyzer, previous float64) float64 {
		v, err := a.Analyze(ctx, in)
		if err != nil {
			log.Warn("factor analyzer failed, keeping previous value", zap.String("factor", name), zap.Error(err))
			staleInputs = append(staleInputs, name)
			return previous
		}
		return v
	}
	factors.LoginPatterns = run("login_patterns", e.analyzers.Login, factors.LoginPatterns)
	factors.TransactionPatterns = run("transaction_patterns", e.analyzers.Transaction, factors.TransactionPatterns)
	factors.BettingPatterns = run("betting_patterns", e.analyzers.Betting, factors.BettingPatterns)
	factors.Geolocation = run("geolocation", e.analyzers.Geolocation, factors.Geolocation)
	factors.DeviceFingerprint = run("device_fingerprint", e.analyzers.Device, factors.DeviceFingerprint)

	reason := ReasonRecalculated
	if len(staleInputs) > 0 {
		reason = fmt.Sprintf("%s (stale: %s)", reason, strings.Join(staleInputs, ", "))
	}

	return risk.Assessment{
		Score:       Score(Inputs{Factors: factors, Metrics: metrics}, e.policy),
		Factors:     factors,
		Metrics:     metrics,
		Reason:      reason,
		TriggeredBy: string(trigger),
		At:          now,
	}, len(staleInputs) > 0
}

func (e *Engine) loadOrNew(ctx context.Context, userID uuid.UUID, now time.Time) (*risk.Profile, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if errors.IsNotFound(err) {
		return risk.NewProfile(userID, now), nil
	}
	return nil, errors.Wrap(err, "failed to load risk profile")
}

// withRetry reruns fn while the repository reports a concurrent update.
func (e *Engine) withRetry(ctx context.Context, userID uuid.UUID, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn()
		if err == nil || !goerrors.Is(err, errors.ErrConcurrentUpdate) {
			return err
		}
		e.logger.Debug("concurrent profile update, retrying",
			zap.String("user_id", userID.String()),
			zap.Int("attempt", attempt),
		)
	}
	return err
}

type nopRecorder struct{}

func (nopRecorder) RecordAssessment(context.Context, risk.Level, string, bool, time.Duration) {}
