package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

// Trigger records why a scoring run happened.
type Trigger string

const (
	TriggerLogin          Trigger = "login"
	TriggerTransaction    Trigger = "transaction"
	TriggerIdentityUpdate Trigger = "identity_update"
	TriggerScheduled      Trigger = "scheduled"
	TriggerManual         Trigger = "manual"
	TriggerFirstTouch     Trigger = "first_touch"
)

// User is the read-only view of the externally owned user entity.
type User struct {
	ID           uuid.UUID
	Email        string
	CreatedAt    time.Time
	Verification events.VerificationStatus
}

// UserDirectory resolves users. Unknown users yield a not-found AppError.
type UserDirectory interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*User, error)
}

// ProfileRepository persists risk profiles. Save inserts when p.Version is 0 and
// otherwise updates only if the stored version still equals p.Version; either way a
// lost race returns ErrConcurrentUpdate and success increments p.Version.
// Get returns a not-found AppError when no profile exists.
type ProfileRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*risk.Profile, error)
	Save(ctx context.Context, p *risk.Profile) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListHighRisk(ctx context.Context, minScore float64, limit int) ([]*risk.Profile, error)
	ListRequiringReview(ctx context.Context) ([]*risk.Profile, error)
}

// BehaviorSource supplies behavior metrics for a user at a point in time.
type BehaviorSource interface {
	Metrics(ctx context.Context, userID uuid.UUID, at time.Time) (risk.BehaviorMetrics, error)
}

// Scorer runs one scoring pass for a user.
type Scorer interface {
	CalculateRiskScore(ctx context.Context, userID uuid.UUID, trigger Trigger) (*risk.Profile, error)
}

// Recorder receives scoring observations. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordAssessment(ctx context.Context, level risk.Level, trigger string, stale bool, duration time.Duration)
}

// Service is the operator-facing surface of the scoring engine.
type Service interface {
	Scorer
	GetRiskProfile(ctx context.Context, userID uuid.UUID) (*risk.Profile, error)
	GetHighRiskUsers(ctx context.Context, limit int) ([]*risk.Profile, error)
	GetUsersRequiringReview(ctx context.Context) ([]*risk.Profile, error)
	RecalculateRiskScore(ctx context.Context, userID uuid.UUID) (*risk.Profile, error)
	SetBlacklistStatus(ctx context.Context, userID uuid.UUID, blacklisted bool, reason string) (*risk.Profile, error)
	RequireManualReview(ctx context.Context, userID uuid.UUID, reason string) (*risk.Profile, error)
	FlagForReview(ctx context.Context, userID uuid.UUID, reason string, flags ...string) (*risk.Profile, error)
	AddRiskFlags(ctx context.Context, userID uuid.UUID, flags ...string) (*risk.Profile, error)
	RemoveRiskFlag(ctx context.Context, userID uuid.UUID, flag string) (*risk.Profile, error)
}
