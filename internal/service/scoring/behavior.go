package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

// DefaultMetricsWindow is the trailing period behavior metrics are computed over.
const DefaultMetricsWindow = 30 * 24 * time.Hour

// ActivityReader is the read side of the activity store.
type ActivityReader interface {
	Logins(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.LoginRecord, error)
	Bets(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.BetRecord, error)
	Transactions(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.TransactionRecord, error)
}

// ActivityBehaviorSource derives metrics from recorded activity. Win/loss ratio and
// session duration need settlement and session data this core does not receive,
// so they stay zero.
type ActivityBehaviorSource struct {
	reader ActivityReader
	window time.Duration
}

func NewActivityBehaviorSource(reader ActivityReader, window time.Duration) *ActivityBehaviorSource {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	return &ActivityBehaviorSource{reader: reader, window: window}
}

func (s *ActivityBehaviorSource) Metrics(ctx context.Context, userID uuid.UUID, at time.Time) (risk.BehaviorMetrics, error) {
	r := activity.Trailing(at, s.window)

	logins, err := s.reader.Logins(ctx, userID, r)
	if err != nil {
		return risk.BehaviorMetrics{}, fmt.Errorf("read logins: %w", err)
	}
	bets, err := s.reader.Bets(ctx, userID, r)
	if err != nil {
		return risk.BehaviorMetrics{}, fmt.Errorf("read bets: %w", err)
	}
	txs, err := s.reader.Transactions(ctx, userID, r)
	if err != nil {
		return risk.BehaviorMetrics{}, fmt.Errorf("read transactions: %w", err)
	}

	days := s.window.Hours() / 24
	deposits, depositCount := activity.Sum(txs, string(events.TransactionDeposit))
	withdrawals, withdrawalCount := activity.Sum(txs, string(events.TransactionWithdrawal))

	return risk.BehaviorMetrics{
		LoginFrequency:      float64(len(logins)) / days,
		UniqueDevices:       activity.DistinctDevices(logins),
		UniqueIPs:           activity.DistinctIPs(logins),
		AverageStake:        averageStake(bets),
		BettingFrequency:    float64(len(bets)) / days,
		DepositFrequency:    depositCount,
		DepositAmount:       deposits.InexactFloat64(),
		WithdrawalFrequency: withdrawalCount,
		WithdrawalAmount:    withdrawals.InexactFloat64(),
	}, nil
}

func averageStake(bets []activity.BetRecord) float64 {
	if len(bets) == 0 {
		return 0
	}
	total := decimal.Zero
	for _, b := range bets {
		total = total.Add(b.Stake)
	}
	return total.Div(decimal.NewFromInt(int64(len(bets)))).InexactFloat64()
}
