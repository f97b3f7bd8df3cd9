package detection

import (
	"context"
	goerrors "errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

func (d *Detector) evaluateBet(ctx context.Context, userID uuid.UUID, e *events.BetPlacedEvent) ([]alert.Draft, error) {
	var (
		drafts []alert.Draft
		errs   []error
	)

	if e.Stake.GreaterThan(d.thresholds.LargeStake) {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeUnusualBettingPattern,
			Rule:        RuleLargeStake,
			Severity:    alert.SeverityHigh,
			Description: fmt.Sprintf("single stake of %s exceeds %s", e.Stake.String(), d.thresholds.LargeStake.String()),
			Evidence: map[string]any{
				"stake":    e.Stake.String(),
				"limit":    d.thresholds.LargeStake.String(),
				"bet_type": e.BetType,
				"odds":     e.Odds,
			},
		})
	}

	// The current bet is already recorded, so the window count includes it.
	bets, err := d.history.Bets(ctx, userID, activity.Trailing(e.OccurredAt, d.thresholds.BetWindow))
	if err != nil {
		errs = append(errs, fmt.Errorf("bet window: %w", err))
	} else if len(bets) > d.thresholds.MaxBetsPerWindow {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeVelocityCheck,
			Rule:        RuleBetVelocity,
			Severity:    alert.SeverityMedium,
			Description: fmt.Sprintf("%d bets placed in the last %s", len(bets), d.thresholds.BetWindow),
			Evidence: map[string]any{
				"bet_count": len(bets),
				"limit":     d.thresholds.MaxBetsPerWindow,
				"window":    d.thresholds.BetWindow.String(),
			},
			SuppressFor: d.thresholds.BetWindow,
		})
	}

	score, err := d.patterns.Score(ctx, userID, e)
	if err != nil {
		errs = append(errs, fmt.Errorf("pattern analysis: %w", err))
	} else if score > d.thresholds.PatternScoreLimit {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeUnusualBettingPattern,
			Rule:        RulePatternScore,
			Severity:    alert.SeverityMedium,
			Description: fmt.Sprintf("pattern analysis score %.1f exceeds %.1f", score, d.thresholds.PatternScoreLimit),
			Evidence: map[string]any{
				"pattern_score": score,
				"limit":         d.thresholds.PatternScoreLimit,
				"stake":         e.Stake.String(),
			},
		})
	}

	return drafts, goerrors.Join(errs...)
}
