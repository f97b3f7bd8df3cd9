package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/messaging"
)

// processMetrics are the Prometheus series scraped from /metrics.
type processMetrics struct {
	factory prometheus.Registerer

	eventsConsumed *prometheus.CounterVec
	handleDuration *prometheus.HistogramVec
}

func newProcessMetrics(reg prometheus.Registerer) *processMetrics {
	f := promauto.With(reg)
	return &processMetrics{
		factory: reg,
		eventsConsumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "risk",
				Subsystem: "ingest",
				Name:      "events_consumed_total",
				Help:      "Inbound events handed to ingest, by kind and result",
			},
			[]string{"kind", "result"},
		),
		handleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "risk",
				Subsystem: "ingest",
				Name:      "handle_duration_seconds",
				Help:      "Time spent in ingest per inbound event",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"kind"},
		),
	}
}

// watchPostgres exposes pgxpool statistics.
func (m *processMetrics) watchPostgres(pool *pgxpool.Pool) {
	f := promauto.With(m.factory)
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "risk",
			Subsystem: "postgres",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	gauge("pool_acquired_conns", "Connections currently in use", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("pool_idle_conns", "Idle connections", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
	gauge("pool_total_conns", "Open connections", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
}

// watchRedis exposes go-redis pool statistics.
func (m *processMetrics) watchRedis(client *redis.Client) {
	f := promauto.With(m.factory)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "risk",
		Subsystem: "redis",
		Name:      "pool_total_conns",
		Help:      "Open connections",
	}, func() float64 { return float64(client.PoolStats().TotalConns) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "risk",
		Subsystem: "redis",
		Name:      "pool_idle_conns",
		Help:      "Idle connections",
	}, func() float64 { return float64(client.PoolStats().IdleConns) })
}

// instrumentedHandler counts events on their way from the consumer to ingest.
type instrumentedHandler struct {
	next    messaging.Handler
	metrics *processMetrics
}

var _ messaging.Handler = instrumentedHandler{}

func (h instrumentedHandler) OnLoginEvent(ctx context.Context, e *events.LoginEvent) error {
	return h.observe(events.KindLogin, func() error { return h.next.OnLoginEvent(ctx, e) })
}

func (h instrumentedHandler) OnBetPlaced(ctx context.Context, e *events.BetPlacedEvent) error {
	return h.observe(events.KindBetPlaced, func() error { return h.next.OnBetPlaced(ctx, e) })
}

func (h instrumentedHandler) OnTransaction(ctx context.Context, e *events.TransactionEvent) error {
	return h.observe(events.KindTransaction, func() error { return h.next.OnTransaction(ctx, e) })
}

func (h instrumentedHandler) OnProfileOrIdentityUpdate(ctx context.Context, e *events.ProfileUpdateEvent) error {
	return h.observe(events.KindProfileUpdate, func() error { return h.next.OnProfileOrIdentityUpdate(ctx, e) })
}

func (h instrumentedHandler) observe(kind events.Kind, fn func() error) error {
	start := time.Now()
	err := fn()
	h.metrics.handleDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case err == nil:
	case errors.IsValidation(err):
		result = "invalid"
	default:
		result = "error"
	}
	h.metrics.eventsConsumed.WithLabelValues(string(kind), result).Inc()
	return err
}
