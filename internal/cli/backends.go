package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Vielheim/crux/internal/config"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/notify"
	"github.com/Vielheim/crux/internal/queue"
)

// backends are the direct connections recovery commands use in place of
// the HTTP API.
type backends struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	redis   *redis.Client
	queries *db.Queries
	queue   *queue.RedisBroker
	events  events.Publisher
}

func openBackends(ctx context.Context) (*backends, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitWriter(os.Stderr, cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	pub, err := notify.Open(cfg, nil)
	if err != nil {
		logger.Default().Warn("status events disabled", "error", err)
		pub = events.Nop{}
	}

	return &backends{
		cfg:     cfg,
		pool:    pool,
		redis:   rdb,
		queries: db.New(pool),
		queue:   queue.NewRedisBroker(rdb, "cruxctl"),
		events:  pub,
	}, nil
}

func (b *backends) Close() {
	b.events.Close()
	_ = b.redis.Close()
	b.pool.Close()
}
