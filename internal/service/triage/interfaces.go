package triage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

// AlertRepository persists alerts. Update succeeds only if the stored version equals
// a.Version and then increments it; otherwise it returns ErrConcurrentUpdate.
type AlertRepository interface {
	Create(ctx context.Context, a *alert.Alert) error
	Get(ctx context.Context, id uuid.UUID) (*alert.Alert, error)
	Update(ctx context.Context, a *alert.Alert) error
	// ListActive returns non-terminal alerts matching f, newest first.
	ListActive(ctx context.Context, f alert.Filter) ([]*alert.Alert, error)
	// ListTriggeredBetween returns alerts with start <= TriggeredAt < end.
	ListTriggeredBetween(ctx context.Context, start, end time.Time) ([]*alert.Alert, error)
	Stats(ctx context.Context, resolvedSince time.Time) (alert.Stats, error)
	// LatestTriggeredAt returns the zero time when the user has no alerts.
	LatestTriggeredAt(ctx context.Context, userID uuid.UUID) (time.Time, error)
}

// ProfileReader is the read side of the risk profile store.
type ProfileReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*risk.Profile, error)
	Summarize(ctx context.Context, minScore float64) (risk.Summary, error)
}

// ReviewFlagger marks a profile for manual review.
type ReviewFlagger interface {
	FlagForReview(ctx context.Context, userID uuid.UUID, reason string, flags ...string) (*risk.Profile, error)
}

// AlertPublisher fans alert changes out to downstream consumers.
type AlertPublisher interface {
	Publish(ctx context.Context, a *alert.Alert) error
}

// Recorder receives triage observations.
type Recorder interface {
	RecordAlertCreated(ctx context.Context, t alert.Type, s alert.Severity)
	RecordAlertClosed(ctx context.Context, t alert.Type, status alert.Status, timeToResolution time.Duration)
}

// Service is the compliance-facing surface of alert triage.
type Service interface {
	CreateAlert(ctx context.Context, userID uuid.UUID, d alert.Draft) (*alert.Alert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*alert.Alert, error)
	AssignAlert(ctx context.Context, id uuid.UUID, reviewer, actor string) (*alert.Alert, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, status alert.Status, notes, resolution, actor string) (*alert.Alert, error)
	EscalateAlert(ctx context.Context, id uuid.UUID, reason, actor string) (*alert.Alert, error)
	GetActiveAlerts(ctx context.Context, f alert.Filter) ([]*alert.Alert, error)
	GetComplianceDashboard(ctx context.Context) (*Dashboard, error)
	GenerateComplianceReport(ctx context.Context, start, end time.Time) (*Report, error)
}
