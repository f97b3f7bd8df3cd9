package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultRetention bounds how far back recent-activity history is kept.
const DefaultRetention = 90 * 24 * time.Hour

type LoginRecord struct {
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty"`
	Location  string    `json:"location,omitempty"`
	At        time.Time `json:"at"`
}

type BetRecord struct {
	Stake   decimal.Decimal `json:"stake"`
	BetType string          `json:"bet_type"`
	Odds    float64         `json:"odds"`
	At      time.Time       `json:"at"`
}

type TransactionRecord struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Currency      string          `json:"currency"`
	At            time.Time       `json:"at"`
}

// Range is a closed time interval [From, To].
type Range struct {
	From time.Time
	To   time.Time
}

// Trailing returns the window of length d ending at (and including) end.
func Trailing(end time.Time, d time.Duration) Range {
	return Range{From: end.Add(-d), To: end}
}

// Before returns the window of length d ending strictly before end.
func Before(end time.Time, d time.Duration) Range {
	return Range{From: end.Add(-d), To: end.Add(-time.Nanosecond)}
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Store holds bounded, time-indexed recent activity per user. Records older than
// the retention window may be discarded at any time.
type Store interface {
	RecordLogin(ctx context.Context, userID uuid.UUID, rec LoginRecord) error
	RecordBet(ctx context.Context, userID uuid.UUID, rec BetRecord) error
	RecordTransaction(ctx context.Context, userID uuid.UUID, rec TransactionRecord) error

	Logins(ctx context.Context, userID uuid.UUID, r Range) ([]LoginRecord, error)
	Bets(ctx context.Context, userID uuid.UUID, r Range) ([]BetRecord, error)
	Transactions(ctx context.Context, userID uuid.UUID, r Range) ([]TransactionRecord, error)
}

// DistinctIPs counts unique source addresses.
func DistinctIPs(logins []LoginRecord) int {
	seen := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		seen[l.IPAddress] = struct{}{}
	}
	return len(seen)
}

// DistinctDevices counts unique user agents, ignoring empty ones.
func DistinctDevices(logins []LoginRecord) int {
	seen := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		if l.UserAgent == "" {
			continue
		}
		seen[l.UserAgent] = struct{}{}
	}
	return len(seen)
}

// Sum totals transactions of the given type.
func Sum(txs []TransactionRecord, txType string) (decimal.Decimal, int) {
	total := decimal.Zero
	count := 0
	for _, tx := range txs {
		if tx.Type != txType {
			continue
		}
		total = total.Add(tx.Amount)
		count++
	}
	return total, count
}
