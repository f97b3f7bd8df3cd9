package detection

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T, h History, p PatternAnalyzer, idx IdentityIndex) *Detector {
	t.Helper()
	d, err := NewDetector(zaptest.NewLogger(t), DefaultThresholds(), h, p, idx)
	require.NoError(t, err)
	return d
}

func TestNewDetector(t *testing.T) {
	_, err := NewDetector(nil, DefaultThresholds(), &fakeHistory{}, nil, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = NewDetector(zaptest.NewLogger(t), DefaultThresholds(), nil, nil, nil)
	assert.True(t, errors.IsValidation(err))

	d, err := NewDetector(zaptest.NewLogger(t), DefaultThresholds(), &fakeHistory{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, NoPatternAnalyzer{}, d.patterns)
}

func TestDetector_Login(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name      string
		history   []activity.LoginRecord
		event     *events.LoginEvent
		wantTypes []alert.Type
	}{
		{
			name:      "six distinct ips in 24h yields one suspicious login",
			history:   logins("Dublin", 5, 5*time.Minute),
			event:     &events.LoginEvent{UserID: userID, IPAddress: "192.168.0.99", Location: "Dublin", OccurredAt: now},
			wantTypes: []alert.Type{alert.TypeSuspiciousLogin},
		},
		{
			name:    "five distinct ips is within limit",
			history: logins("Dublin", 4, 5*time.Minute),
			event:   &events.LoginEvent{UserID: userID, IPAddress: "192.168.0.99", Location: "Dublin", OccurredAt: now},
		},
		{
			name:    "ips outside the window are ignored",
			history: logins("Dublin", 8, 6*time.Hour),
			event:   &events.LoginEvent{UserID: userID, IPAddress: "192.168.0.99", Location: "Dublin", OccurredAt: now},
		},
		{
			name:      "location never seen before",
			history:   logins("Dublin", 1, 48*time.Hour),
			event:     &events.LoginEvent{UserID: userID, IPAddress: "10.0.0.1", Location: "Lagos", OccurredAt: now},
			wantTypes: []alert.Type{alert.TypeGeoLocationRisk},
		},
		{
			name:    "known location matches case-insensitively",
			history: logins("Dublin, IE", 1, 48*time.Hour),
			event:   &events.LoginEvent{UserID: userID, IPAddress: "10.0.0.1", Location: " dublin,  ie ", OccurredAt: now},
		},
		{
			name:  "first login has no geo alert",
			event: &events.LoginEvent{UserID: userID, IPAddress: "10.0.0.1", Location: "Lagos", OccurredAt: now},
		},
		{
			name: "current login is excluded from the lookback",
			history: []activity.LoginRecord{
				{IPAddress: "10.0.0.1", Location: "Lagos", At: now},
			},
			event: &events.LoginEvent{UserID: userID, IPAddress: "10.0.0.1", Location: "Lagos", OccurredAt: now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHistory{logins: tt.history}
			d := newTestDetector(t, h, nil, nil)

			drafts, err := d.Evaluate(context.Background(), userID, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTypes, draftTypes(drafts))
		})
	}
}

func TestDetector_Login_SuspiciousDraft(t *testing.T) {
	userID := uuid.New()
	d := newTestDetector(t, &fakeHistory{logins: logins("Dublin", 5, time.Minute)}, nil, nil)

	drafts, err := d.Evaluate(context.Background(), userID,
		&events.LoginEvent{UserID: userID, IPAddress: "172.16.0.1", Location: "Dublin", OccurredAt: now})
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	assert.Equal(t, alert.SeverityHigh, drafts[0].Severity)
	assert.Equal(t, RuleDistinctIPs, drafts[0].Rule)
	assert.Equal(t, 24*time.Hour, drafts[0].SuppressFor)
	assert.Equal(t, 6, drafts[0].Evidence["distinct_ips"])
}

func TestDetector_Bet(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name      string
		stake     string
		priorBets int
		pattern   float64
		wantTypes []alert.Type
		wantSev   []alert.Severity
	}{
		{
			name:      "stake above limit",
			stake:     "10001",
			priorBets: 1,
			wantTypes: []alert.Type{alert.TypeUnusualBettingPattern},
			wantSev:   []alert.Severity{alert.SeverityHigh},
		},
		{
			name:      "stake exactly at limit",
			stake:     "10000",
			priorBets: 1,
		},
		{
			name:      "fractional stake above limit",
			stake:     "10000.01",
			priorBets: 1,
			wantTypes: []alert.Type{alert.TypeUnusualBettingPattern},
			wantSev:   []alert.Severity{alert.SeverityHigh},
		},
		{
			name:      "51 bets in the window",
			stake:     "20",
			priorBets: 51,
			wantTypes: []alert.Type{alert.TypeVelocityCheck},
			wantSev:   []alert.Severity{alert.SeverityMedium},
		},
		{
			name:      "50 bets in the window",
			stake:     "20",
			priorBets: 50,
		},
		{
			name:      "pattern score above limit",
			stake:     "20",
			priorBets: 1,
			pattern:   80.5,
			wantTypes: []alert.Type{alert.TypeUnusualBettingPattern},
			wantSev:   []alert.Severity{alert.SeverityMedium},
		},
		{
			name:      "pattern score at limit",
			stake:     "20",
			priorBets: 1,
			pattern:   80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pa := new(mockPatternAnalyzer)
			pa.On("Score", mock.Anything, userID, mock.AnythingOfType("*events.BetPlacedEvent")).Return(tt.pattern, nil)

			d := newTestDetector(t, &fakeHistory{bets: bets(tt.priorBets, 30*time.Second)}, pa, nil)
			ev := &events.BetPlacedEvent{UserID: userID, Stake: decimal.RequireFromString(tt.stake), BetType: "single", Odds: 1.9, OccurredAt: now}

			drafts, err := d.Evaluate(context.Background(), userID, ev)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTypes, draftTypes(drafts))

			var sevs []alert.Severity
			for _, dr := range drafts {
				sevs = append(sevs, dr.Severity)
			}
			assert.Equal(t, tt.wantSev, sevs)
			pa.AssertExpectations(t)
		})
	}
}

func TestDetector_Bet_VelocityIsWindowed(t *testing.T) {
	userID := uuid.New()
	d := newTestDetector(t, &fakeHistory{bets: bets(60, 30*time.Second)}, nil, nil)

	drafts, err := d.Evaluate(context.Background(), userID,
		&events.BetPlacedEvent{UserID: userID, Stake: decimal.NewFromInt(5), BetType: "single", Odds: 2, OccurredAt: now})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, time.Hour, drafts[0].SuppressFor)
	assert.Equal(t, RuleBetVelocity, drafts[0].Rule)
}

func TestDetector_Bet_PartialFailure(t *testing.T) {
	userID := uuid.New()
	pa := new(mockPatternAnalyzer)
	pa.On("Score", mock.Anything, userID, mock.Anything).Return(0.0, fmt.Errorf("model unavailable"))

	d := newTestDetector(t, &fakeHistory{err: goerrors.New("redis down")}, pa, nil)

	drafts, err := d.Evaluate(context.Background(), userID,
		&events.BetPlacedEvent{UserID: userID, Stake: decimal.NewFromInt(20000), BetType: "single", Odds: 2, OccurredAt: now})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, []alert.Type{alert.TypeUnusualBettingPattern}, draftTypes(drafts))
}

func TestDetector_Transaction(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name      string
		txType    events.TransactionType
		amount    string
		history   []activity.TransactionRecord
		wantTypes []alert.Type
	}{
		{
			name:      "large deposit",
			txType:    events.TransactionDeposit,
			amount:    "50001",
			history:   []activity.TransactionRecord{deposit("50001", 0)},
			wantTypes: []alert.Type{alert.TypeLargeTransaction, alert.TypeRapidDeposits},
		},
		{
			name:    "deposit at limit",
			txType:  events.TransactionDeposit,
			amount:  "25000",
			history: []activity.TransactionRecord{deposit("25000", 0)},
		},
		{
			name:   "deposits summing above window limit",
			txType: events.TransactionDeposit,
			amount: "10000",
			history: []activity.TransactionRecord{
				deposit("10000", 20*time.Hour),
				deposit("5000.01", time.Hour),
				deposit("10000", 0),
			},
			wantTypes: []alert.Type{alert.TypeRapidDeposits},
		},
		{
			name:   "old deposits fall out of the window",
			txType: events.TransactionDeposit,
			amount: "10000",
			history: []activity.TransactionRecord{
				deposit("20000", 25*time.Hour),
				deposit("10000", 0),
			},
		},
		{
			name:   "withdrawals are never flagged",
			txType: events.TransactionWithdrawal,
			amount: "90000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHistory{txs: tt.history}
			d := newTestDetector(t, h, nil, nil)

			drafts, err := d.Evaluate(context.Background(), userID, &events.TransactionEvent{
				UserID: userID, Type: tt.txType, Amount: decimal.RequireFromString(tt.amount),
				PaymentMethod: "card", Currency: "EUR", OccurredAt: now,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTypes, draftTypes(drafts))
		})
	}
}

func TestDetector_ProfileUpdate(t *testing.T) {
	userID := uuid.New()
	other := uuid.New()
	dob := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	dobLate := time.Date(1990, 4, 2, 23, 0, 0, 0, time.UTC)
	dobOther := time.Date(1991, 4, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		event      *events.ProfileUpdateEvent
		setupIndex func(m *mockIdentityIndex)
		wantTypes  []alert.Type
		wantSev    []alert.Severity
	}{
		{
			name: "phone shared with another user",
			event: &events.ProfileUpdateEvent{
				UserID:  userID,
				Profile: events.ProfileFields{Phone: "+353 (1) 555-0100"},
			},
			setupIndex: func(m *mockIdentityIndex) {
				m.On("FindUsers", mock.Anything, AttributePhone, "+35315550100").Return([]uuid.UUID{other}, nil)
			},
			wantTypes: []alert.Type{alert.TypeMultipleAccounts},
			wantSev:   []alert.Severity{alert.SeverityHigh},
		},
		{
			name: "shared value already held by the user is not reported again",
			event: &events.ProfileUpdateEvent{
				UserID:  userID,
				Profile: events.ProfileFields{Phone: "+353 (1) 555-0100"},
			},
			setupIndex: func(m *mockIdentityIndex) {
				m.On("FindUsers", mock.Anything, AttributePhone, "+35315550100").Return([]uuid.UUID{other, userID}, nil)
			},
		},
		{
			name: "attribute only held by the same user",
			event: &events.ProfileUpdateEvent{
				UserID:  userID,
				Profile: events.ProfileFields{BankAccount: " IE29AIBK93115212345678 "},
			},
			setupIndex: func(m *mockIdentityIndex) {
				m.On("FindUsers", mock.Anything, AttributeBankAccount, "ie29aibk93115212345678").Return([]uuid.UUID{userID}, nil)
			},
		},
		{
			name: "name differs only by case",
			event: &events.ProfileUpdateEvent{
				UserID:   userID,
				Verified: events.VerifiedFields{FullName: "Ann Lee"},
				Profile:  events.ProfileFields{FullName: "  ANN LEE"},
			},
		},
		{
			name: "name mismatch",
			event: &events.ProfileUpdateEvent{
				UserID:   userID,
				Verified: events.VerifiedFields{FullName: "Ann Lee"},
				Profile:  events.ProfileFields{FullName: "Anne Leigh"},
			},
			wantTypes: []alert.Type{alert.TypeKYCMismatch},
			wantSev:   []alert.Severity{alert.SeverityHigh},
		},
		{
			name: "date of birth mismatch",
			event: &events.ProfileUpdateEvent{
				UserID:   userID,
				Verified: events.VerifiedFields{DateOfBirth: &dob},
				Profile:  events.ProfileFields{DateOfBirth: &dobOther},
			},
			wantTypes: []alert.Type{alert.TypeKYCMismatch},
			wantSev:   []alert.Severity{alert.SeverityMedium},
		},
		{
			name: "date of birth compared by calendar day",
			event: &events.ProfileUpdateEvent{
				UserID:   userID,
				Verified: events.VerifiedFields{DateOfBirth: &dob},
				Profile:  events.ProfileFields{DateOfBirth: &dobLate},
			},
		},
		{
			name: "missing verified name is not a mismatch",
			event: &events.ProfileUpdateEvent{
				UserID:  userID,
				Profile: events.ProfileFields{FullName: "Ann Lee"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := new(mockIdentityIndex)
			if tt.setupIndex != nil {
				tt.setupIndex(idx)
			}
			d := newTestDetector(t, &fakeHistory{}, nil, idx)

			drafts, err := d.Evaluate(context.Background(), userID, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTypes, draftTypes(drafts))

			var sevs []alert.Severity
			for _, dr := range drafts {
				sevs = append(sevs, dr.Severity)
			}
			assert.Equal(t, tt.wantSev, sevs)
			idx.AssertExpectations(t)
		})
	}
}

func TestDetector_ProfileUpdate_EvidenceListsOtherUsers(t *testing.T) {
	userID := uuid.New()
	other := uuid.New()

	idx := new(mockIdentityIndex)
	idx.On("FindUsers", mock.Anything, AttributeAddress, "1 main st, dublin").Return([]uuid.UUID{other, other}, nil)

	d := newTestDetector(t, &fakeHistory{}, nil, idx)
	drafts, err := d.Evaluate(context.Background(), userID, &events.ProfileUpdateEvent{
		UserID:  userID,
		Profile: events.ProfileFields{Address: "1 Main St,   Dublin"},
	})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, []string{other.String()}, drafts[0].Evidence["other_users"])
}

func TestDetector_UnknownKind(t *testing.T) {
	d := newTestDetector(t, &fakeHistory{}, nil, nil)

	_, err := d.Evaluate(context.Background(), uuid.New(), &unknownEvent{})
	assert.True(t, errors.IsValidation(err))

	_, err = d.Evaluate(context.Background(), uuid.New(), nil)
	assert.True(t, errors.IsValidation(err))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+35315550100", NormalizePhone(" +353 (1) 555-0100 "))
	assert.Equal(t, "0015550100", NormalizePhone("001-555-0100"))
	assert.Equal(t, "15550100", NormalizePhone("1+555+0100"))
	assert.Equal(t, "", NormalizePhone(" + "))
}

type unknownEvent struct {
	events.LoginEvent
}

func (unknownEvent) Kind() events.Kind { return "carrier_pigeon" }

func draftTypes(drafts []alert.Draft) []alert.Type {
	var out []alert.Type
	for _, d := range drafts {
		out = append(out, d.Type)
	}
	return out
}

func logins(location string, n int, spacing time.Duration) []activity.LoginRecord {
	out := make([]activity.LoginRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, activity.LoginRecord{
			IPAddress: fmt.Sprintf("10.1.0.%d", i+1),
			Location:  location,
			At:        now.Add(-time.Duration(i+1) * spacing),
		})
	}
	return out
}

func bets(n int, spacing time.Duration) []activity.BetRecord {
	out := make([]activity.BetRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, activity.BetRecord{Stake: decimal.NewFromInt(10), BetType: "single", At: now.Add(-time.Duration(i) * spacing)})
	}
	return out
}

func deposit(amount string, ago time.Duration) activity.TransactionRecord {
	return activity.TransactionRecord{
		Type: string(events.TransactionDeposit), Amount: decimal.RequireFromString(amount),
		PaymentMethod: "card", Currency: "EUR", At: now.Add(-ago),
	}
}

type fakeHistory struct {
	logins []activity.LoginRecord
	bets   []activity.BetRecord
	txs    []activity.TransactionRecord
	err    error
}

func (f *fakeHistory) Logins(_ context.Context, _ uuid.UUID, r activity.Range) ([]activity.LoginRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []activity.LoginRecord
	for _, l := range f.logins {
		if r.Contains(l.At) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeHistory) Bets(_ context.Context, _ uuid.UUID, r activity.Range) ([]activity.BetRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []activity.BetRecord
	for _, b := range f.bets {
		if r.Contains(b.At) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeHistory) Transactions(_ context.Context, _ uuid.UUID, r activity.Range) ([]activity.TransactionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []activity.TransactionRecord
	for _, tx := range f.txs {
		if r.Contains(tx.At) {
			out = append(out, tx)
		}
	}
	return out, nil
}

type mockPatternAnalyzer struct {
	mock.Mock
}

func (m *mockPatternAnalyzer) Score(ctx context.Context, userID uuid.UUID, bet *events.BetPlacedEvent) (float64, error) {
	args := m.Called(ctx, userID, bet)
	return args.Get(0).(float64), args.Error(1)
}

type mockIdentityIndex struct {
	mock.Mock
}

func (m *mockIdentityIndex) FindUsers(ctx context.Context, kind AttributeKind, value string) ([]uuid.UUID, error) {
	args := m.Called(ctx, kind, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockIdentityIndex) Index(ctx context.Context, userID uuid.UUID, kind AttributeKind, value string) error {
	args := m.Called(ctx, userID, kind, value)
	return args.Error(0)
}
