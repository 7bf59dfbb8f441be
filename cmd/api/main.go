package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Vielheim/crux/internal/api"
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
	"github.com/Vielheim/crux/internal/upload"
)

const serviceName = "crux-api"

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

	log.Info("configuration loaded", "environment", cfg.Environment, "storage_backend", cfg.StorageBackend)

	ctx := context.Background()

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
	if cfg.TracingEnabled {
		log.Info("tracing enabled", "endpoint", cfg.TracingEndpoint, "sample_rate", cfg.TracingSampleRate)
	}

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
	log.Info("object storage connected", "bucket", cfg.StorageBucket)

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

	b := queue.NewRedisBroker(redisClient, fmt.Sprintf("api-%d", os.Getpid()))
	log.Info("broker initialized")

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

	uploads := upload.NewService(queries, metrics.NewInstrumentedStorage(store), b, publisher, upload.RetryConfig{
		MaxAttempts:    cfg.EnqueueMaxAttempts,
		InitialBackoff: cfg.EnqueueInitialBackoff,
		MaxBackoff:     cfg.EnqueueMaxBackoff,
	})

	metrics.SetAppInfo(version.Version, cfg.Environment, "api")

	log.Info("setting up routes")
	handler := api.NewRouter(&api.Config{
		Queries:       queries,
		Uploader:      uploads,
		Health:        checker,
		MaxUploadSize: cfg.MaxUploadSize,
		ServiceName:   serviceName,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			_ = server.Close()
			return fmt.Errorf("forced shutdown: %w", err)
		}
	}

	log.Info("server stopped gracefully")
	return nil
}
