package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.RedisConfig{
		URL:          mr.Addr(),
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	client, err := NewRedisClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedisClient(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		_, err := NewRedisClient(&config.RedisConfig{URL: "localhost:6379"}, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRedisClient(nil, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := &config.RedisConfig{URL: "localhost:9999", DialTimeout: 100 * time.Millisecond}
		_, err := NewRedisClient(cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "redis connection failed")
	})
}

func TestRedisCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	c, err := NewRedisCache(client, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "missing")
	assert.ErrorAs(t, err, &ErrCacheKeyNotFound{})

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.SetJSON(ctx, "j", payload{Name: "x", Count: 2}, 0))
	var got payload
	require.NoError(t, c.GetJSON(ctx, "j", &got))
	assert.Equal(t, payload{Name: "x", Count: 2}, got)

	ok, err := c.SetNX(ctx, "nx", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetNX(ctx, "nx", 1, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = c.SetNX(ctx, "nx", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("k"))
}

func TestActivityStore(t *testing.T) {
	client, _ := setupTestRedis(t)
	store, err := NewActivityStore(client, zaptest.NewLogger(t), 48*time.Hour)
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	userID := uuid.New()

	t.Run("range is inclusive at both ends", func(t *testing.T) {
		for _, h := range []int{30, 10, 2, 1} {
			require.NoError(t, store.RecordLogin(ctx, userID, activity.LoginRecord{
				IPAddress: "10.0.0.1",
				At:        now.Add(-time.Duration(h) * time.Hour),
			}))
		}

		logins, err := store.Logins(ctx, userID, activity.Range{From: now.Add(-10 * time.Hour), To: now.Add(-time.Hour)})
		require.NoError(t, err)
		require.Len(t, logins, 3)
		assert.True(t, logins[0].At.Equal(now.Add(-10*time.Hour)))
		assert.True(t, logins[2].At.Equal(now.Add(-time.Hour)))
	})

	t.Run("identical records are kept apart", func(t *testing.T) {
		other := uuid.New()
		rec := activity.BetRecord{Stake: decimal.NewFromInt(25), BetType: "single", Odds: 1.9, At: now}
		require.NoError(t, store.RecordBet(ctx, other, rec))
		require.NoError(t, store.RecordBet(ctx, other, rec))

		bets, err := store.Bets(ctx, other, activity.Trailing(now, time.Hour))
		require.NoError(t, err)
		require.Len(t, bets, 2)
		assert.True(t, bets[0].Stake.Equal(decimal.NewFromInt(25)))
	})

	t.Run("nanosecond bounds are exact", func(t *testing.T) {
		other := uuid.New()
		at := now.Add(-500 * time.Nanosecond)
		require.NoError(t, store.RecordTransaction(ctx, other, activity.TransactionRecord{
			Type: "deposit", Amount: decimal.NewFromInt(10), PaymentMethod: "card", Currency: "GBP", At: at,
		}))

		txs, err := store.Transactions(ctx, other, activity.Range{From: at.Add(time.Nanosecond), To: now})
		require.NoError(t, err)
		assert.Empty(t, txs)

		txs, err = store.Transactions(ctx, other, activity.Range{From: at, To: now})
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("writes trim beyond retention", func(t *testing.T) {
		other := uuid.New()
		require.NoError(t, store.RecordLogin(ctx, other, activity.LoginRecord{IPAddress: "10.0.0.2", At: now.Add(-72 * time.Hour)}))
		require.NoError(t, store.RecordLogin(ctx, other, activity.LoginRecord{IPAddress: "10.0.0.3", At: now}))

		logins, err := store.Logins(ctx, other, activity.Trailing(now, 30*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, logins, 1)
		assert.Equal(t, "10.0.0.3", logins[0].IPAddress)
	})
}

func TestSuppressor(t *testing.T) {
	client, mr := setupTestRedis(t)
	c, err := NewRedisCache(client, zaptest.NewLogger(t))
	require.NoError(t, err)
	s := NewSuppressor(c)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "u:velocity_check:bet_velocity", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(SuppressionPrefix+"u:velocity_check:bet_velocity"))

	ok, err = s.Acquire(ctx, "u:velocity_check:bet_velocity", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Acquire(ctx, "u:suspicious_login:distinct_ips", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Hour + time.Second)
	ok, err = s.Acquire(ctx, "u:velocity_check:bet_velocity", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Acquire(ctx, "u:x:y", 0)
	assert.Error(t, err)

	require.NoError(t, s.Release(ctx, "u:suspicious_login:distinct_ips"))
	assert.False(t, mr.Exists(SuppressionPrefix+"u:suspicious_login:distinct_ips"))
	ok, err = s.Acquire(ctx, "u:suspicious_login:distinct_ips", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerificationStore(t *testing.T) {
	client, _ := setupTestRedis(t)
	c, err := NewRedisCache(client, zaptest.NewLogger(t))
	require.NoError(t, err)
	store := NewVerificationStore(c, time.Hour)
	ctx := context.Background()
	userID := uuid.New()

	_, ok, err := store.VerificationStatus(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetVerificationStatus(ctx, userID, events.VerificationPending))
	require.NoError(t, store.SetVerificationStatus(ctx, userID, events.VerificationVerified))

	status, ok, err := store.VerificationStatus(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, events.VerificationVerified, status)
}
