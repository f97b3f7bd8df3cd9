package scoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

type AsyncConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds one scoring run; zero means no per-run deadline.
	Timeout time.Duration
}

type scoreRequest struct {
	userID  uuid.UUID
	trigger Trigger
}

// AsyncTrigger runs scoring requests on a bounded worker pool. Requests never block:
// when the queue is full the request is dropped and the due sweep catches up.
type AsyncTrigger struct {
	logger *zap.Logger
	scorer Scorer
	config AsyncConfig

	queue chan scoreRequest
	mu    sync.RWMutex
	state int32 // 0 idle, 1 running, 2 stopped
	wg    sync.WaitGroup

	dropped   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func NewAsyncTrigger(logger *zap.Logger, scorer Scorer, config AsyncConfig) (*AsyncTrigger, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if scorer == nil {
		return nil, errors.NewValidationError("INVALID_SCORER", "scorer cannot be nil")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers
	}
	return &AsyncTrigger{
		logger: logger.Named("async_scoring"),
		scorer: scorer,
		config: config,
		queue:  make(chan scoreRequest, config.QueueSize),
	}, nil
}

// Start launches the workers. ctx is the parent of every scoring run.
func (t *AsyncTrigger) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.state, 0, 1) {
		return fmt.Errorf("async trigger already started")
	}
	for i := 0; i < t.config.Workers; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
	t.logger.Info("async scoring started",
		zap.Int("workers", t.config.Workers),
		zap.Int("queue_size", t.config.QueueSize),
	)
	return nil
}

// Request enqueues a scoring run and reports whether it was accepted.
func (t *AsyncTrigger) Request(userID uuid.UUID, trigger Trigger) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if atomic.LoadInt32(&t.state) != 1 {
		t.dropped.Add(1)
		t.logger.Warn("scoring request dropped, trigger not running",
			zap.String("user_id", userID.String()),
			zap.String("trigger", string(trigger)),
		)
		return false
	}

	select {
	case t.queue <- scoreRequest{userID: userID, trigger: trigger}:
		return true
	default:
		t.dropped.Add(1)
		t.logger.Warn("scoring queue full, request dropped",
			zap.String("user_id", userID.String()),
			zap.String("trigger", string(trigger)),
		)
		return false
	}
}

// Stop drains queued requests and waits for the workers, or for ctx.
func (t *AsyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !atomic.CompareAndSwapInt32(&t.state, 1, 2) {
		t.mu.Unlock()
		return nil
	}
	close(t.queue)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("async scoring stopped",
			zap.Int64("completed", t.completed.Load()),
			zap.Int64("failed", t.failed.Load()),
			zap.Int64("dropped", t.dropped.Load()),
		)
		return nil
	case <-ctx.Done():
		t.logger.Warn("async scoring stop timed out")
		return ctx.Err()
	}
}

// Dropped returns how many requests were rejected.
func (t *AsyncTrigger) Dropped() int64 { return t.dropped.Load() }

func (t *AsyncTrigger) worker(ctx context.Context) {
	defer t.wg.Done()
	for req := range t.queue {
		t.run(ctx, req)
	}
}

func (t *AsyncTrigger) run(ctx context.Context, req scoreRequest) {
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}
	if _, err := t.scorer.CalculateRiskScore(ctx, req.userID, req.trigger); err != nil {
		t.failed.Add(1)
		t.logger.Warn("async scoring failed",
			zap.String("user_id", req.userID.String()),
			zap.String("trigger", string(req.trigger)),
			zap.Error(err),
		)
		return
	}
	t.completed.Add(1)
}
