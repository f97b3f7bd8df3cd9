package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/service/detection"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
)

// Evaluator turns one event into alert drafts.
type Evaluator interface {
	Evaluate(ctx context.Context, userID uuid.UUID, ev events.Event) ([]alert.Draft, error)
}

// Suppressor grants a key for ttl. It returns false while a previous grant is live.
type Suppressor interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type AlertCreator interface {
	CreateAlert(ctx context.Context, userID uuid.UUID, d alert.Draft) (*alert.Alert, error)
}

// ScoreRequester schedules a scoring run without waiting for it.
type ScoreRequester interface {
	Request(userID uuid.UUID, trigger scoring.Trigger) bool
}

// IdentityIndexer records identity attributes declared by a user.
type IdentityIndexer interface {
	Index(ctx context.Context, userID uuid.UUID, kind detection.AttributeKind, value string) error
}

// VerificationStatusWriter stores the latest identity-verification status for a user.
type VerificationStatusWriter interface {
	SetVerificationStatus(ctx context.Context, userID uuid.UUID, status events.VerificationStatus) error
}

// Recorder receives ingest observations.
type Recorder interface {
	RecordEvent(ctx context.Context, kind events.Kind, duration time.Duration)
	RecordDraft(ctx context.Context, t alert.Type, outcome string)
	RecordFailure(ctx context.Context, kind events.Kind, stage string)
}
