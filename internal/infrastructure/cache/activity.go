package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
)

const (
	streamLogins       = "logins"
	streamBets         = "bets"
	streamTransactions = "transactions"
)

// ActivityStore keeps recent activity in one sorted set per user and stream,
// scored by record time in microseconds. Writes trim entries older than the
// retention window.
type ActivityStore struct {
	client    *redis.Client
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
}

var _ activity.Store = (*ActivityStore)(nil)

func NewActivityStore(client *redis.Client, logger *zap.Logger, retention time.Duration) (*ActivityStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if retention <= 0 {
		retention = activity.DefaultRetention
	}
	return &ActivityStore{
		client:    client,
		logger:    logger,
		retention: retention,
		now:       time.Now,
	}, nil
}

// entry wraps a record with an id so identical records stay distinct members.
type entry[T any] struct {
	ID     string `json:"id"`
	Record T      `json:"r"`
}

func activityKey(stream string, userID uuid.UUID) string {
	return ActivityPrefix + stream + ":" + userID.String()
}

func (s *ActivityStore) RecordLogin(ctx context.Context, userID uuid.UUID, rec activity.LoginRecord) error {
	return add(ctx, s, streamLogins, userID, rec, rec.At)
}

func (s *ActivityStore) RecordBet(ctx context.Context, userID uuid.UUID, rec activity.BetRecord) error {
	return add(ctx, s, streamBets, userID, rec, rec.At)
}

func (s *ActivityStore) RecordTransaction(ctx context.Context, userID uuid.UUID, rec activity.TransactionRecord) error {
	return add(ctx, s, streamTransactions, userID, rec, rec.At)
}

func (s *ActivityStore) Logins(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.LoginRecord, error) {
	return read(ctx, s, streamLogins, userID, r, func(rec activity.LoginRecord) time.Time { return rec.At })
}

func (s *ActivityStore) Bets(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.BetRecord, error) {
	return read(ctx, s, streamBets, userID, r, func(rec activity.BetRecord) time.Time { return rec.At })
}

func (s *ActivityStore) Transactions(ctx context.Context, userID uuid.UUID, r activity.Range) ([]activity.TransactionRecord, error) {
	return read(ctx, s, streamTransactions, userID, r, func(rec activity.TransactionRecord) time.Time { return rec.At })
}

func add[T any](ctx context.Context, s *ActivityStore, stream string, userID uuid.UUID, rec T, at time.Time) error {
	member, err := json.Marshal(entry[T]{ID: uuid.NewString(), Record: rec})
	if err != nil {
		return fmt.Errorf("encode %s record: %w", stream, err)
	}

	key := activityKey(stream, userID)
	cutoff := s.now().Add(-s.retention).UnixMicro()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: member})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		s.logger.Error("activity write failed",
			zap.String("stream", stream),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return fmt.Errorf("activity write failed: %w", err)
	}
	return nil
}

// read returns the records inside r in time order. Scores are truncated to
// microseconds, so candidates are re-checked against the exact record time.
func read[T any](ctx context.Context, s *ActivityStore, stream string, userID uuid.UUID, r activity.Range, at func(T) time.Time) ([]T, error) {
	members, err := s.client.ZRangeByScore(ctx, activityKey(stream, userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(r.From.UnixMicro(), 10),
		Max: strconv.FormatInt(r.To.UnixMicro(), 10),
	}).Result()
	if err != nil {
		s.logger.Error("activity read failed",
			zap.String("stream", stream),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("activity read failed: %w", err)
	}

	out := make([]T, 0, len(members))
	for _, m := range members {
		var e entry[T]
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			s.logger.Warn("skipping malformed activity entry",
				zap.String("stream", stream),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if r.Contains(at(e.Record)) {
			out = append(out, e.Record)
		}
	}
	return out, nil
}
