package detection

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

// History is the read side of the recent-activity store.
type History interface {
	Logins(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.LoginRecord, error)
	Bets(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.BetRecord, error)
	Transactions(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.TransactionRecord, error)
}

// PatternAnalyzer scores a bet in [0,100] against the user's betting pattern.
type PatternAnalyzer interface {
	Score(ctx context.Context, userID uuid.UUID, bet *events.BetPlacedEvent) (float64, error)
}

// IdentityIndex maps normalized identity attributes to the users that declared them.
type IdentityIndex interface {
	FindUsers(ctx context.Context, kind AttributeKind, value string) ([]uuid.UUID, error)
	Index(ctx context.Context, userID uuid.UUID, kind AttributeKind, value string) error
}

// NoPatternAnalyzer is the default analyzer; it never reports a pattern.
type NoPatternAnalyzer struct{}

func (NoPatternAnalyzer) Score(context.Context, uuid.UUID, *events.BetPlacedEvent) (float64, error) {
	return 0, nil
}
