package main

import (
	"context"
	goerrors "errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/cache"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/database"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/graph"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/messaging"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/repository"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/betting-risk-engine/internal/metrics"
	"github.com/davidleathers/betting-risk-engine/internal/service/detection"
	"github.com/davidleathers/betting-risk-engine/internal/service/ingest"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
	"github.com/davidleathers/betting-risk-engine/internal/service/triage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("risk engine failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting risk engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port))

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telemetry.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry(telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("metrics registry: %w", err)
	}

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	kv, err := cache.NewRedisCache(rdb, logger)
	if err != nil {
		return err
	}
	activityStore, err := cache.NewActivityStore(rdb, logger, cfg.Redis.ActivityRetention)
	if err != nil {
		return err
	}
	verification := cache.NewVerificationStore(kv, cfg.Redis.VerificationTTL)

	identities, graphClient, err := buildIdentityIndex(ctx, &cfg.Graph, logger)
	if err != nil {
		return err
	}
	if graphClient != nil {
		defer graphClient.Close(context.Background())
	}

	profiles := repository.NewProfileRepository(pool)
	alerts := repository.NewAlertRepository(pool)
	users := repository.NewUserDirectory(pool, verification, logger)

	policy, err := scoring.NewPolicy(policyConfig(&cfg.Scoring))
	if err != nil {
		return fmt.Errorf("scoring policy: %w", err)
	}
	engine, err := scoring.NewEngine(logger, policy, profiles, users,
		scoring.NewActivityBehaviorSource(activityStore, cfg.Scoring.MetricsWindow),
		scoring.WithRecorder(registry),
		scoring.WithMaxRetries(cfg.Scoring.MaxRetries),
	)
	if err != nil {
		return err
	}

	async, err := scoring.NewAsyncTrigger(logger, engine, asyncConfig(&cfg.Ingest))
	if err != nil {
		return err
	}
	registry.ObserveDropped(async.Dropped)

	var publisher triage.AlertPublisher
	if cfg.Kafka.Enabled {
		pub := messaging.NewAlertPublisher(messaging.NewWriter(&cfg.Kafka, cfg.Kafka.AlertTopic), logger)
		defer pub.Close()
		publisher = pub
	}

	triageSvc, err := triage.NewService(logger, triageConfig(cfg), alerts, profiles, engine, publisher, registry)
	if err != nil {
		return err
	}

	detector, err := detection.NewDetector(logger, thresholds(&cfg.Detection), activityStore, nil, identities)
	if err != nil {
		return err
	}

	ingestSvc, err := ingest.NewService(logger, ingestConfig(&cfg.Ingest), ingest.Dependencies{
		Activity:     activityStore,
		Detector:     detector,
		Suppressor:   cache.NewSuppressor(kv),
		Alerts:       triageSvc,
		Scoring:      async,
		Identities:   identities,
		Verification: verification,
		Recorder:     registry,
	})
	if err != nil {
		return err
	}

	prom := newProcessMetrics(prometheus.DefaultRegisterer)
	prom.watchPostgres(pool)
	prom.watchRedis(rdb)

	deps := []dependency{
		{name: "postgres", check: pool.Ping},
		{name: "redis", check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if graphClient != nil {
		deps = append(deps, dependency{name: "graph", check: graphClient.VerifyConnectivity})
	}

	server := &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:      newMux(prometheus.DefaultGatherer, 2*time.Second, deps...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var scheduler *scoring.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = scoring.NewScheduler(logger, profiles, engine, schedulerConfig(&cfg.Scheduler))
		if err != nil {
			return err
		}
	}

	var consumer *messaging.Consumer
	if cfg.Kafka.Enabled {
		reader := messaging.NewReader(&cfg.Kafka, logger)
		defer reader.Close()
		dlq := messaging.NewDeadLetter(messaging.NewWriter(&cfg.Kafka, cfg.Kafka.DeadLetter))
		defer dlq.Close()

		consumer, err = messaging.NewConsumer(reader, instrumentedHandler{next: ingestSvc, metrics: prom}, dlq, logger)
		if err != nil {
			return err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	scoringCtx, cancelScoring := detachedContext(ctx)
	defer cancelScoring()
	if err := async.Start(scoringCtx); err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("http", func() error {
		logger.Info("http listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if scheduler != nil {
		spawn("scheduler", func() error { return scheduler.Run(runCtx) })
	}
	if consumer != nil {
		spawn("consumer", func() error { return consumer.Run(runCtx) })
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case runErr = <-errs:
		logger.Error("component failed, shutting down", zap.Error(runErr))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	wg.Wait()

	// Producers are stopped; queued scoring runs finish before their context ends.
	if err := async.Stop(shutdownCtx); err != nil {
		logger.Warn("async scoring did not drain", zap.Error(err))
	}
	cancelScoring()

	return runErr
}

// detachedContext keeps ctx's values but outlives its cancellation. Background
// work started with it ends only when the returned cancel func is called.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(ctx))
}

// buildIdentityIndex returns the Neo4j-backed index when the graph is enabled
// and the in-process index otherwise. The client is nil in the latter case.
func buildIdentityIndex(ctx context.Context, cfg *config.GraphConfig, logger *zap.Logger) (detection.IdentityIndex, graph.Client, error) {
	if !cfg.Enabled {
		logger.Warn("graph disabled, identity index is in-process and not shared across replicas")
		return graph.NewMemoryIndex(), nil, nil
	}

	client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("graph: %w", err)
	}
	index := graph.NewIdentityIndex(client)
	if err := index.EnsureSchema(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	return index, client, nil
}
