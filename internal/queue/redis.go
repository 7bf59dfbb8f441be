package queue

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/redis/go-redis/v9"
)

var _ Enqueuer = (*RedisBroker)(nil)

// RedisBroker enqueues onto job-queue's Redis Streams broker, which gives
// at-least-once delivery to the worker pool.
type RedisBroker struct {
	broker *broker.RedisStreamsBroker
}

func NewRedisBroker(client *redis.Client, workerID string) *RedisBroker {
	return &RedisBroker{
		broker: broker.NewRedisStreamsBroker(client, broker.WithWorkerID(workerID)),
	}
}

// Broker exposes the underlying broker for the worker pool.
func (b *RedisBroker) Broker() *broker.RedisStreamsBroker {
	return b.broker
}

func (b *RedisBroker) Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error) {
	j, err := job.New(jobType, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if err := b.broker.Enqueue(ctx, j); err != nil {
		return "", err
	}
	return j.ID, nil
}
