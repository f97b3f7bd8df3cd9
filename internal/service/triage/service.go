package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/service/keylock"
)

// Config holds triage settings.
type Config struct {
	// SeniorReviewer receives escalated alerts; empty leaves the assignee unchanged.
	SeniorReviewer string
	// HighRiskThreshold is the score at or above which a profile counts as high risk.
	HighRiskThreshold float64
	// ReportTopUsers caps the per-user ranking in compliance reports.
	ReportTopUsers int
	// FlagPrefix is prepended to the alert type when auto-escalation flags a profile.
	FlagPrefix string
}

func DefaultConfig() *Config {
	return &Config{
		HighRiskThreshold: risk.DefaultLevelThresholds().High,
		ReportTopUsers:    10,
		FlagPrefix:        "alert:",
	}
}

type service struct {
	logger    *zap.Logger
	config    *Config
	alerts    AlertRepository
	profiles  ProfileReader
	flagger   ReviewFlagger
	publisher AlertPublisher
	recorder  Recorder
	now       func() time.Time

	userLocks  *keylock.Map[uuid.UUID]
	alertLocks *keylock.Map[uuid.UUID]
}

// NewService wires the triage service. publisher and recorder are optional.
func NewService(logger *zap.Logger, config *Config, alerts AlertRepository, profiles ProfileReader, flagger ReviewFlagger, publisher AlertPublisher, recorder Recorder) (Service, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if alerts == nil {
		return nil, errors.NewValidationError("INVALID_REPOSITORY", "alert repository cannot be nil")
	}
	if profiles == nil || flagger == nil {
		return nil, errors.NewValidationError("INVALID_PROFILE_STORE", "profile reader and review flagger are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.ReportTopUsers <= 0 {
		config.ReportTopUsers = defaults.ReportTopUsers
	}
	if config.HighRiskThreshold <= 0 {
		config.HighRiskThreshold = defaults.HighRiskThreshold
	}
	if config.FlagPrefix == "" {
		config.FlagPrefix = defaults.FlagPrefix
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &service{
		logger:     logger.Named("triage"),
		config:     config,
		alerts:     alerts,
		profiles:   profiles,
		flagger:    flagger,
		publisher:  publisher,
		recorder:   recorder,
		now:        func() time.Time { return time.Now().UTC() },
		userLocks:  keylock.New[uuid.UUID](),
		alertLocks: keylock.New[uuid.UUID](),
	}, nil
}

// CreateAlert opens an alert from a detector draft. TriggeredAt strictly increases
// per user so alert order matches creation order.
func (s *service) CreateAlert(ctx context.Context, userID uuid.UUID, d alert.Draft) (*alert.Alert, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	latest, err := s.alerts.LatestTriggeredAt(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read latest alert time")
	}
	now := s.now()
	if !now.After(latest) {
		now = latest.Add(time.Microsecond)
	}

	a, err := alert.New(userID, d, now)
	if err != nil {
		return nil, err
	}
	if d.Rule != "" {
		a.Metadata["rule"] = d.Rule
	}

	if err := s.alerts.Create(ctx, a); err != nil {
		return nil, errors.Wrap(err, "failed to create alert")
	}

	s.logger.Info("compliance alert created",
		zap.String("alert_id", a.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("alert_type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
	)
	s.recorder.RecordAlertCreated(ctx, a.Type, a.Severity)

	s.autoEscalate(ctx, a)
	s.publish(ctx, a)
	return a.Clone(), nil
}

// autoEscalate flags the profile for review when the alert or the user is critical.
// Failures are logged; the alert already exists.
func (s *service) autoEscalate(ctx context.Context, a *alert.Alert) {
	reason := ""
	if a.Severity == alert.SeverityCritical {
		reason = fmt.Sprintf("critical %s alert %s", a.Type, a.ID)
	} else {
		p, err := s.profiles.Get(ctx, a.UserID)
		switch {
		case err == nil && p.RiskLevel == risk.LevelCritical:
			reason = fmt.Sprintf("%s alert %s on critical risk profile", a.Type, a.ID)
		case err != nil && !errors.IsNotFound(err):
			s.logger.Warn("profile lookup for auto-escalation failed",
				zap.String("alert_id", a.ID.String()),
				zap.Error(err),
			)
		}
	}
	if reason == "" {
		return
	}

	if _, err := s.flagger.FlagForReview(ctx, a.UserID, reason, s.config.FlagPrefix+string(a.Type)); err != nil {
		s.logger.Error("auto-escalation failed",
			zap.String("alert_id", a.ID.String()),
			zap.String("user_id", a.UserID.String()),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("profile flagged for manual review",
		zap.String("alert_id", a.ID.String()),
		zap.String("user_id", a.UserID.String()),
	)
}

func (s *service) GetAlert(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	return s.alerts.Get(ctx, id)
}

func (s *service) AssignAlert(ctx context.Context, id uuid.UUID, reviewer, actor string) (*alert.Alert, error) {
	return s.mutate(ctx, id, func(a *alert.Alert, now time.Time) error {
		return a.Assign(reviewer, actor, now)
	})
}

func (s *service) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status alert.Status, notes, resolution, actor string) (*alert.Alert, error) {
	a, err := s.mutate(ctx, id, func(a *alert.Alert, now time.Time) error {
		return a.UpdateStatus(status, notes, resolution, actor, now)
	})
	if err != nil {
		return nil, err
	}
	if a.ResolvedAt != nil {
		s.recorder.RecordAlertClosed(ctx, a.Type, a.Status, a.ResolvedAt.Sub(a.TriggeredAt))
	}
	return a, nil
}

func (s *service) EscalateAlert(ctx context.Context, id uuid.UUID, reason, actor string) (*alert.Alert, error) {
	return s.mutate(ctx, id, func(a *alert.Alert, now time.Time) error {
		return a.Escalate(reason, actor, s.config.SeniorReviewer, now)
	})
}

// mutate loads, changes and writes one alert under its lock.
func (s *service) mutate(ctx context.Context, id uuid.UUID, fn func(a *alert.Alert, now time.Time) error) (*alert.Alert, error) {
	unlock := s.alertLocks.Lock(id)
	defer unlock()

	a, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if now.Before(a.UpdatedAt) {
		now = a.UpdatedAt
	}
	if err := fn(a, now); err != nil {
		return nil, err
	}
	if err := s.alerts.Update(ctx, a); err != nil {
		return nil, err
	}

	last := a.Events[len(a.Events)-1]
	s.logger.Info("compliance alert updated",
		zap.String("alert_id", a.ID.String()),
		zap.String("event", string(last.Kind)),
		zap.String("actor", last.Actor),
		zap.String("status", string(a.Status)),
	)
	s.publish(ctx, a)
	return a.Clone(), nil
}

func (s *service) GetActiveAlerts(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	f = f.Normalized()
	if f.Status.IsTerminal() {
		return []*alert.Alert{}, nil
	}
	alerts, err := s.alerts.ListActive(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active alerts")
	}
	alert.SortNewestFirst(alerts)
	return alerts, nil
}

func (s *service) publish(ctx context.Context, a *alert.Alert) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, a); err != nil {
		s.logger.Warn("alert publish failed",
			zap.String("alert_id", a.ID.String()),
			zap.Error(err),
		)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordAlertCreated(context.Context, alert.Type, alert.Severity) {}

func (nopRecorder) RecordAlertClosed(context.Context, alert.Type, alert.Status, time.Duration) {}
