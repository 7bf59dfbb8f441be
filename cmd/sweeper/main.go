package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Vielheim/crux/internal/config"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/notify"
	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("starting recovery sweep")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

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

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	publisher, err := notify.Open(cfg, nil)
	if err != nil {
		log.Warn("status events disabled", "error", err)
		publisher = events.Nop{}
	}
	defer publisher.Close()

	deps := &worker.SweepDependencies{
		Store:               db.New(pool),
		Queue:               queue.NewRedisBroker(redisClient, fmt.Sprintf("sweeper-%d", os.Getpid())),
		Events:              publisher,
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		OrphanGrace:         cfg.OrphanGrace,
		RequeueGrace:        cfg.LeaseDuration,
	}
	lock := worker.NewRedisLock(redisClient, worker.SweepLockKey, cfg.SweepInterval)

	stats, ran, err := worker.SweepLocked(logger.WithLogger(ctx, log), deps, lock)
	if err != nil {
		return err
	}
	if !ran {
		log.Info("sweep lock held elsewhere, nothing to do")
		return nil
	}

	log.Info("recovery sweep completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"requeued", stats.Requeued,
		"failed", stats.Failed,
		"orphans_queued", stats.OrphansQueued,
		"enqueue_errors", stats.EnqueueErrors,
		"database_errors", stats.DatabaseErrors,
	)

	return nil
}
