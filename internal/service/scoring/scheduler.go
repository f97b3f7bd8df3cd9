package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

// DueLister finds profiles whose next assessment is due.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	// RateLimit is scoring runs per second; zero means unthrottled.
	RateLimit float64
	Burst     int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: time.Minute, BatchSize: 200, RateLimit: 50, Burst: 10}
}

// Scheduler periodically rescores profiles whose next assessment has passed.
type Scheduler struct {
	logger  *zap.Logger
	due     DueLister
	scorer  Scorer
	config  SchedulerConfig
	limiter *rate.Limiter
	now     func() time.Time
}

func NewScheduler(logger *zap.Logger, due DueLister, scorer Scorer, config SchedulerConfig) (*Scheduler, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if due == nil || scorer == nil {
		return nil, errors.NewValidationError("INVALID_DEPENDENCY", "due lister and scorer are required")
	}
	if config.Interval <= 0 {
		return nil, errors.NewValidationError("INVALID_INTERVAL", "scheduler interval must be positive")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSchedulerConfig().BatchSize
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Scheduler{
		logger:  logger.Named("scheduler"),
		due:     due,
		scorer:  scorer,
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Sweep rescores one batch of due profiles and returns how many succeeded.
// Individual failures are logged and skipped; the profile stays due.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	ids, err := s.due.ListDue(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due profiles")
	}

	scored := 0
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return scored, err
		}
		if _, err := s.scorer.CalculateRiskScore(ctx, id, TriggerScheduled); err != nil {
			s.logger.Warn("scheduled assessment failed",
				zap.String("user_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		scored++
	}

	if len(ids) > 0 {
		s.logger.Info("due sweep completed",
			zap.Int("due", len(ids)),
			zap.Int("scored", scored),
		)
	}
	return scored, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.config.Interval), zap.Int("batch_size", s.config.BatchSize))
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("due sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
