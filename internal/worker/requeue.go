package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/metrics"
	"github.com/Vielheim/crux/internal/queue"
)

type RequeueStore interface {
	GetClimb(ctx context.Context, id int64) (db.Climb, error)
	MarkClimbEnqueued(ctx context.Context, id int64) error
}

// Requeue enqueues a fresh analysis job for a climb that is PENDING or whose
// PROCESSING lease has lapsed. Finished climbs are never re-run.
func Requeue(ctx context.Context, store RequeueStore, q queue.Enqueuer, climbID int64, now time.Time) (string, error) {
	c, err := store.GetClimb(ctx, climbID)
	if errors.Is(err, db.ErrNotFound) {
		return "", apperror.WithMessage(apperror.ErrNotFound, "Climb not found")
	}
	if err != nil {
		return "", apperror.Wrap(fmt.Errorf("get climb: %w", err), apperror.ErrInternal)
	}

	switch {
	case c.Status.Terminal():
		return "", apperror.WithMessage(apperror.ErrInvalidInput,
			fmt.Sprintf("climb %d is %s and cannot be requeued", c.ID, c.Status))
	case c.Status == db.ClimbStatusProcessing && !c.LeaseExpired(now):
		return "", apperror.WithMessage(apperror.ErrInvalidInput,
			fmt.Sprintf("climb %d is being processed", c.ID))
	}

	jobID, err := queue.EnqueueAnalysis(ctx, q, c.ID, c.VideoURL)
	if err != nil {
		metrics.RecordJobEnqueued("requeue", "failure")
		return "", apperror.Wrap(err, apperror.ErrQueueUnavailable)
	}
	metrics.RecordJobEnqueued("requeue", "success")

	if err := store.MarkClimbEnqueued(ctx, c.ID); err != nil {
		logger.FromContext(ctx).Warn("failed to mark climb enqueued", "climb_id", c.ID, "error", err)
	}
	return jobID, nil
}
