package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Vielheim/crux/internal/logger"
)

const SweepLockKey = "crux:sweeper:lock"

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLock is a single-holder lock on one Redis key with a TTL, so a
// crashed holder releases it by expiry.
type RedisLock struct {
	client lockClient
	key    string
	token  string
	ttl    time.Duration
}

func NewRedisLock(client lockClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}

// RunPeriodicSweep sweeps every interval while holding lock, until ctx is
// done. A nil lock sweeps unconditionally.
func RunPeriodicSweep(ctx context.Context, deps *SweepDependencies, lock Locker, interval time.Duration) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, deps, lock)
		}
		if ctx.Err() != nil {
			log.Debug("periodic sweep stopped")
			return
		}
	}
}

func sweepOnce(ctx context.Context, deps *SweepDependencies, lock Locker) {
	log := logger.FromContext(ctx)

	_, ran, err := SweepLocked(ctx, deps, lock)
	switch {
	case err != nil && !ran:
		log.Warn("failed to acquire sweep lock", "error", err)
	case err != nil:
		log.Error("sweep failed", "error", err)
	case !ran:
		log.Debug("sweep lock held elsewhere, skipping")
	}
}

// SweepLocked runs one sweep if lock can be taken. ran is false when another
// holder has it or the lock itself failed. A nil lock always sweeps.
func SweepLocked(ctx context.Context, deps *SweepDependencies, lock Locker) (stats *SweepStats, ran bool, err error) {
	if lock != nil {
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				logger.FromContext(ctx).Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	stats, err = RunSweep(ctx, deps)
	return stats, true, err
}
