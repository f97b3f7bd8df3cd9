package detection

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

// evaluateTransaction checks deposits only; withdrawals are recorded for scoring.
func (d *Detector) evaluateTransaction(ctx context.Context, userID uuid.UUID, e *events.TransactionEvent) ([]alert.Draft, error) {
	if e.Type != events.TransactionDeposit {
		return nil, nil
	}

	var drafts []alert.Draft

	if e.Amount.GreaterThan(d.thresholds.LargeDeposit) {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeLargeTransaction,
			Rule:        RuleLargeDeposit,
			Severity:    alert.SeverityHigh,
			Description: fmt.Sprintf("deposit of %s %s exceeds %s", e.Amount.String(), e.Currency, d.thresholds.LargeDeposit.String()),
			Evidence: map[string]any{
				"amount":         e.Amount.String(),
				"currency":       e.Currency,
				"payment_method": e.PaymentMethod,
				"limit":          d.thresholds.LargeDeposit.String(),
			},
		})
	}

	txs, err := d.history.Transactions(ctx, userID, activity.Trailing(e.OccurredAt, d.thresholds.DepositWindow))
	if err != nil {
		return drafts, fmt.Errorf("deposit window: %w", err)
	}

	total, count := activity.Sum(txs, string(events.TransactionDeposit))
	if total.GreaterThan(d.thresholds.DepositWindowSum) {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeRapidDeposits,
			Rule:        RuleDepositSum,
			Severity:    alert.SeverityMedium,
			Description: fmt.Sprintf("%d deposits totalling %s in the last %s", count, total.String(), d.thresholds.DepositWindow),
			Evidence: map[string]any{
				"deposit_total": total.String(),
				"deposit_count": count,
				"limit":         d.thresholds.DepositWindowSum.String(),
				"window":        d.thresholds.DepositWindow.String(),
			},
			SuppressFor: d.thresholds.DepositWindow,
		})
	}

	return drafts, nil
}
