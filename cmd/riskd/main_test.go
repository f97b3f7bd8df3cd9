package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/graph"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
)

func TestPolicyConfig_FromDefaults(t *testing.T) {
	cfg := config.Defaults()

	policy, err := scoring.NewPolicy(policyConfig(&cfg.Scoring))
	require.NoError(t, err)
	assert.Equal(t, cfg.Scoring.HighThreshold, policy.Levels().High)
	assert.Equal(t, cfg.Scoring.CriticalInterval, policy.Intervals().Critical)
	assert.InDelta(t, 1.0, policy.Weights().Sum(), 1e-9)
	assert.True(t, policy.IsTrustedEmailDomain("gmail.com"))
}

func TestPolicyConfig_RejectsBadWeights(t *testing.T) {
	cfg := config.Defaults()
	cfg.Scoring.Weights.KYCStatus = -1

	_, err := scoring.NewPolicy(policyConfig(&cfg.Scoring))
	assert.True(t, domainerrors.IsValidation(err))
}

func TestThresholds(t *testing.T) {
	cfg := config.Defaults()
	cfg.Detection.LargeDeposit = 50000
	cfg.Detection.DepositWindowSum = 25000.5

	th := thresholds(&cfg.Detection)
	assert.True(t, th.LargeDeposit.Equal(decimal.NewFromInt(50000)))
	assert.True(t, th.DepositWindowSum.Equal(decimal.RequireFromString("25000.5")))
	assert.Equal(t, cfg.Detection.LoginWindow, th.LoginWindow)
	assert.Equal(t, cfg.Detection.MaxBetsPerWindow, th.MaxBetsPerWindow)
}

func TestTriageConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Triage.SeniorReviewer = "head-of-compliance"
	cfg.Triage.AutoEscalateFlag = ""
	cfg.Scoring.HighThreshold = 65

	tc := triageConfig(cfg)
	assert.Equal(t, "head-of-compliance", tc.SeniorReviewer)
	assert.Equal(t, 65.0, tc.HighRiskThreshold)
	assert.Equal(t, "alert:", tc.FlagPrefix)
}

func TestIngestAndSchedulerConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Ingest.QualifyingTransaction = 1000
	cfg.Ingest.Workers = 4
	cfg.Ingest.ScoringTimeout = 3 * time.Second
	cfg.Scheduler.RateLimit = 25

	assert.True(t, ingestConfig(&cfg.Ingest).QualifyingTransaction.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, scoring.AsyncConfig{Workers: 4, QueueSize: cfg.Ingest.QueueSize, Timeout: 3 * time.Second}, asyncConfig(&cfg.Ingest))
	assert.Equal(t, 25.0, schedulerConfig(&cfg.Scheduler).RateLimit)
}

func TestBuildIdentityIndex_Disabled(t *testing.T) {
	idx, client, err := buildIdentityIndex(context.Background(), &config.GraphConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, &graph.MemoryIndex{}, idx)
}

func TestBuildIdentityIndex_MissingURI(t *testing.T) {
	_, _, err := buildIdentityIndex(context.Background(), &config.GraphConfig{Enabled: true}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, graph.ErrMissingURI)
}

func TestMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newProcessMetrics(reg)
	m.eventsConsumed.WithLabelValues("login", "ok").Inc()

	healthy := dependency{name: "postgres", check: func(context.Context) error { return nil }}
	broken := dependency{name: "redis", check: func(context.Context) error { return errors.New("connection refused") }}

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux(reg, time.Second, broken).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ready", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux(reg, time.Second, healthy).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var body readiness
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
	})

	t.Run("not ready", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux(reg, time.Second, healthy, broken).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body readiness
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "unavailable", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux(reg, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `risk_ingest_events_consumed_total{kind="login",result="ok"} 1`)
	})
}

type stubHandler struct{ err error }

func (s stubHandler) OnLoginEvent(context.Context, *events.LoginEvent) error { return s.err }
func (s stubHandler) OnBetPlaced(context.Context, *events.BetPlacedEvent) error { return s.err }
func (s stubHandler) OnTransaction(context.Context, *events.TransactionEvent) error { return s.err }
func (s stubHandler) OnProfileOrIdentityUpdate(context.Context, *events.ProfileUpdateEvent) error {
	return s.err
}

func TestInstrumentedHandler(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := newProcessMetrics(reg)

	ok := instrumentedHandler{next: stubHandler{}, metrics: m}
	require.NoError(t, ok.OnLoginEvent(ctx, &events.LoginEvent{UserID: uuid.New()}))
	require.NoError(t, ok.OnBetPlaced(ctx, &events.BetPlacedEvent{}))

	invalid := instrumentedHandler{next: stubHandler{err: domainerrors.NewValidationError("INVALID_EVENT", "bad")}, metrics: m}
	assert.Error(t, invalid.OnTransaction(ctx, &events.TransactionEvent{}))

	failing := instrumentedHandler{next: stubHandler{err: errors.New("boom")}, metrics: m}
	assert.Error(t, failing.OnProfileOrIdentityUpdate(ctx, &events.ProfileUpdateEvent{}))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.eventsConsumed.WithLabelValues("login", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.eventsConsumed.WithLabelValues("transaction", "invalid")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.eventsConsumed.WithLabelValues("profile_update", "error")))
	assert.Equal(t, 4, promtest.CollectAndCount(m.handleDuration))

	expected := `
# HELP risk_ingest_events_consumed_total Inbound events handed to ingest, by kind and result
# TYPE risk_ingest_events_consumed_total counter
risk_ingest_events_consumed_total{kind="bet_placed",result="ok"} 1
risk_ingest_events_consumed_total{kind="login",result="ok"} 1
risk_ingest_events_consumed_total{kind="profile_update",result="error"} 1
risk_ingest_events_consumed_total{kind="transaction",result="invalid"} 1
`
	assert.NoError(t, promtest.CollectAndCompare(m.eventsConsumed, strings.NewReader(expected)))
}

type gatedScorer struct {
	gate  chan struct{}
	live  atomic.Int32
	ended atomic.Int32
}

func (s *gatedScorer) CalculateRiskScore(ctx context.Context, userID uuid.UUID, _ scoring.Trigger) (*risk.Profile, error) {
	<-s.gate
	if ctx.Err() != nil {
		s.ended.Add(1)
		return nil, ctx.Err()
	}
	s.live.Add(1)
	return risk.NewProfile(userID, time.Now()), nil
}

func TestDetachedContext_QueuedScoringSurvivesShutdownSignal(t *testing.T) {
	signalCtx, signal := context.WithCancel(context.Background())
	scoringCtx, cancelScoring := detachedContext(signalCtx)
	defer cancelScoring()

	scorer := &gatedScorer{gate: make(chan struct{})}
	async, err := scoring.NewAsyncTrigger(zaptest.NewLogger(t), scorer, scoring.AsyncConfig{Workers: 1, QueueSize: 8})
	require.NoError(t, err)
	require.NoError(t, async.Start(scoringCtx))
	for i := 0; i < 3; i++ {
		require.True(t, async.Request(uuid.New(), scoring.TriggerLogin))
	}

	signal()
	assert.NoError(t, scoringCtx.Err())

	close(scorer.gate)
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, async.Stop(stopCtx))

	assert.Equal(t, int32(3), scorer.live.Load())
	assert.Zero(t, scorer.ended.Load())

	cancelScoring()
	assert.ErrorIs(t, scoringCtx.Err(), context.Canceled)
}
