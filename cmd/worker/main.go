package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	"github.com/abdul-hamid-achik/job-queue/pkg/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Vielheim/crux/internal/analysis"
	"github.com/Vielheim/crux/internal/cli/version"
	"github.com/Vielheim/crux/internal/config"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/health"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/metrics"
	"github.com/Vielheim/crux/internal/notify"
	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/storage"
	"github.com/Vielheim/crux/internal/tracing"
	cruxworker "github.com/Vielheim/crux/internal/worker"
)

const serviceName = "crux-worker"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded", "environment", cfg.Environment, "analyzer", cfg.Analyzer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zerologger := zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()

	shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.TracingEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

	log.Info("connecting to object storage", "backend", cfg.StorageBackend)
	store, err := storage.Open(ctx, cfg.StorageBackend, &storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseSSL:    cfg.StorageUseSSL,
		Region:    cfg.StorageRegion,
		PublicURL: cfg.StoragePublicURL,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	log.Info("object storage connected")

	log.Info("connecting to redis")
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	workerID := workerIdentity()
	b := queue.NewRedisBroker(redisClient, workerID)
	log.Info("broker initialized", "worker_id", workerID)

	checker := health.NewChecker().
		WithDatabase(pool).
		WithRedis(redisClient).
		WithComponent("storage", store)

	publisher, err := notify.Open(cfg, checker)
	if err != nil {
		return err
	}
	defer publisher.Close()
	log.Info("status event sinks ready", "nats", cfg.NATSURL != "", "webhook", cfg.WebhookURL != "")

	queries := db.New(pool)

	metrics.SetAppInfo(version.Version, cfg.Environment, "worker")
	metrics.SetWorkerPoolSize(cfg.WorkerConcurrency)

	instrumentedStore := metrics.NewInstrumentedStorage(store)

	analyzers := analysis.NewRegistry()
	analyzers.Register(analysis.NewStubAnalyzer(cfg.StubAnalysisDelay))
	if probe, err := analysis.NewProbeAnalyzer(cfg.FFprobePath, os.TempDir(), instrumentedStore); err != nil {
		log.Warn("probe analyzer unavailable", "ffprobe", cfg.FFprobePath, "error", err)
	} else {
		analyzers.Register(probe)
	}

	analyzer, err := analyzers.GetOrError(cfg.Analyzer)
	if err != nil {
		return fmt.Errorf("failed to select analyzer: %w", err)
	}
	log.Info("analyzer selected", "analyzer", analyzer.Name(), "registered", analyzers.List())

	deps := &cruxworker.Dependencies{
		Store:             queries,
		Analyzer:          analyzer,
		Events:            publisher,
		WorkerID:          workerID,
		LeaseDuration:     cfg.LeaseDuration,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AnalysisTimeout:   cfg.AnalysisTimeout,
	}

	log.Info("registering job handlers")
	registry := worker.NewRegistry()
	if err := registry.Register(queue.JobTypeAnalyzeClimb, cruxworker.AnalyzeHandler(deps)); err != nil {
		return fmt.Errorf("failed to register handler: %w", err)
	}

	registry.Use(
		middleware.RecoveryMiddleware(zerologger),
		middleware.LoggingMiddleware(zerologger),
		middleware.TimeoutMiddleware(cfg.JobTimeout),
		middleware.MetricsMiddleware(metrics.NewPrometheusCollector()),
	)

	log.Info("creating worker pool", "concurrency", cfg.WorkerConcurrency)

	workerPool := worker.NewPool(b.Broker(), registry,
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithPoolQueues([]string{queue.DefaultQueue}),
		worker.WithPoolPollInterval(time.Second),
		worker.WithShutdownTimeout(30*time.Second),
		worker.WithPoolLogger(zerologger),
	)

	sweepDeps := &cruxworker.SweepDependencies{
		Store:               queries,
		Queue:               b,
		Events:              publisher,
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		OrphanGrace:         cfg.OrphanGrace,
		RequeueGrace:        cfg.LeaseDuration,
	}
	sweepLock := cruxworker.NewRedisLock(redisClient, cruxworker.SweepLockKey, cfg.SweepInterval)
	go cruxworker.RunPeriodicSweep(logger.WithLogger(ctx, log), sweepDeps, sweepLock, cfg.SweepInterval)
	log.Info("recovery sweeper started", "interval", cfg.SweepInterval, "max_recovery_attempts", cfg.MaxRecoveryAttempts)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsMux.HandleFunc("GET /health", health.HealthHandler(checker))
	metricsMux.HandleFunc("GET /health/live", health.LivenessHandler())
	metricsMux.HandleFunc("GET /health/ready", health.ReadinessHandler(checker))

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics server starting", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	poolErr := make(chan error, 1)
	go func() {
		log.Info("starting worker pool")
		poolErr <- workerPool.Start(ctx)
	}()

	select {
	case err := <-poolErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("worker pool error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := workerPool.Stop(shutdownCtx); err != nil {
			log.Error("error stopping pool", "error", err)
		}

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping metrics server", "error", err)
		}

		cancel()
	}

	log.Info("worker pool stopped gracefully")
	return nil
}

// workerIdentity names this process in lease owners and the consumer group.
func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
