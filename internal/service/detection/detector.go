package detection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

// Detector turns one inbound event plus a bounded slice of history into alert
// drafts. It reads only; alert creation belongs to triage.
type Detector struct {
	logger     *zap.Logger
	thresholds Thresholds
	history    History
	patterns   PatternAnalyzer
	identities IdentityIndex
}

// NewDetector builds a detector. A nil analyzer falls back to NoPatternAnalyzer and a
// nil identity index disables the multiple-accounts check.
func NewDetector(logger *zap.Logger, thresholds Thresholds, history History, patterns PatternAnalyzer, identities IdentityIndex) (*Detector, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if history == nil {
		return nil, errors.NewValidationError("INVALID_HISTORY", "activity history cannot be nil")
	}
	if patterns == nil {
		patterns = NoPatternAnalyzer{}
	}

	return &Detector{
		logger:     logger.Named("detection"),
		thresholds: thresholds,
		history:    history,
		patterns:   patterns,
		identities: identities,
	}, nil
}

func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Evaluate dispatches on the event's kind. Drafts from checks that succeeded are
// returned even when another check failed; the error then describes the failures.
func (d *Detector) Evaluate(ctx context.Context, userID uuid.UUID, ev events.Event) ([]alert.Draft, error) {
	if ev == nil {
		return nil, errors.NewValidationError("INVALID_EVENT", "event is required")
	}

	switch ev.Kind() {
	case events.KindLogin:
		e, ok := ev.(*events.LoginEvent)
		if !ok {
			return nil, mismatched(ev)
		}
		return d.evaluateLogin(ctx, userID, e)
	case events.KindBetPlaced:
		e, ok := ev.(*events.BetPlacedEvent)
		if !ok {
			return nil, mismatched(ev)
		}
		return d.evaluateBet(ctx, userID, e)
	case events.KindTransaction:
		e, ok := ev.(*events.TransactionEvent)
		if !ok {
			return nil, mismatched(ev)
		}
		return d.evaluateTransaction(ctx, userID, e)
	case events.KindProfileUpdate:
		e, ok := ev.(*events.ProfileUpdateEvent)
		if !ok {
			return nil, mismatched(ev)
		}
		return d.evaluateProfile(ctx, userID, e)
	default:
		return nil, errors.NewValidationError("UNKNOWN_EVENT_KIND", fmt.Sprintf("unknown event kind %q", ev.Kind()))
	}
}

func mismatched(ev events.Event) error {
	return errors.NewValidationError("INVALID_EVENT", fmt.Sprintf("event kind %q does not match payload %T", ev.Kind(), ev))
}
