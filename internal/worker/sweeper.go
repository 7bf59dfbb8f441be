package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/metrics"
	"github.com/Vielheim/crux/internal/queue"
)

const sweepBatchSize = int32(100)

type SweepStore interface {
	ListStaleProcessing(ctx context.Context, arg db.ListStaleProcessingParams) ([]db.Climb, error)
	ListOrphanPending(ctx context.Context, arg db.ListOrphanPendingParams) ([]db.Climb, error)
	FailStaleClimb(ctx context.Context, arg db.FailStaleClimbParams) (int64, error)
	MarkClimbEnqueued(ctx context.Context, id int64) error
}

type SweepDependencies struct {
	Store  SweepStore
	Queue  queue.Enqueuer
	Events events.Publisher

	// MaxRecoveryAttempts bounds how many claims a climb gets before a
	// lapsed lease fails it.
	MaxRecoveryAttempts int
	// OrphanGrace is how long a PENDING climb may go without an enqueue.
	OrphanGrace time.Duration
	// RequeueGrace is how long a re-enqueued stale climb waits before it is
	// re-enqueued again.
	RequeueGrace time.Duration
}

type SweepStats struct {
	Requeued       int
	Failed         int
	OrphansQueued  int
	EnqueueErrors  int
	DatabaseErrors int
}

func (s SweepStats) Total() int {
	return s.Requeued + s.Failed + s.OrphansQueued
}

func RunSweep(ctx context.Context, deps *SweepDependencies) (*SweepStats, error) {
	log := logger.FromContext(ctx)
	log.Info("starting sweep")
	start := time.Now()

	stats := &SweepStats{}

	staleErr := sweepStaleProcessing(ctx, deps, stats)
	if staleErr != nil {
		log.Error("failed to sweep stale processing climbs", "error", staleErr)
	}

	orphanErr := sweepOrphanPending(ctx, deps, stats)
	if orphanErr != nil {
		log.Error("failed to sweep orphaned pending climbs", "error", orphanErr)
	}

	log.Info("sweep completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"requeued", stats.Requeued,
		"failed", stats.Failed,
		"orphans_queued", stats.OrphansQueued,
		"enqueue_errors", stats.EnqueueErrors,
		"database_errors", stats.DatabaseErrors,
	)

	if staleErr != nil {
		return stats, staleErr
	}
	return stats, orphanErr
}

func sweepStaleProcessing(ctx context.Context, deps *SweepDependencies, stats *SweepStats) error {
	log := logger.FromContext(ctx)
	seen := make(map[int64]bool)

	for {
		climbs, err := deps.Store.ListStaleProcessing(ctx, db.ListStaleProcessingParams{
			RequeueGraceSeconds: deps.RequeueGrace.Seconds(),
			Limit:               sweepBatchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to list stale processing climbs: %w", err)
		}

		handled := 0
		for _, c := range climbs {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			clog := log.With("climb_id", c.ID, "attempts", c.Attempts)

			if int(c.Attempts) >= deps.MaxRecoveryAttempts {
				n, err := deps.Store.FailStaleClimb(ctx, db.FailStaleClimbParams{
					ID:           c.ID,
					ErrorMessage: apperror.ErrStaleProcessing.Message,
				})
				if err != nil {
					clog.Warn("failed to fail stale climb", "error", err)
					stats.DatabaseErrors++
					continue
				}
				handled++
				if n == 0 {
					continue
				}
				stats.Failed++
				metrics.RecordSweeperAction("failed")
				metrics.RecordTransition(string(db.ClimbStatusProcessing), string(db.ClimbStatusFailed))
				c.Status = db.ClimbStatusFailed
				c.ErrorMessage.String = apperror.ErrStaleProcessing.Message
				c.ErrorMessage.Valid = true
				events.Emit(ctx, deps.Events, events.FromClimb(c))
				clog.Warn("stale climb failed after exhausting recovery attempts")
				continue
			}

			if !reenqueue(ctx, deps, c, stats) {
				continue
			}
			handled++
			stats.Requeued++
			metrics.RecordSweeperAction("requeued")
			clog.Info("stale climb re-enqueued")
		}

		if int32(len(climbs)) < sweepBatchSize || handled == 0 {
			return nil
		}
	}
}

func sweepOrphanPending(ctx context.Context, deps *SweepDependencies, stats *SweepStats) error {
	log := logger.FromContext(ctx)
	seen := make(map[int64]bool)

	for {
		climbs, err := deps.Store.ListOrphanPending(ctx, db.ListOrphanPendingParams{
			GraceSeconds: deps.OrphanGrace.Seconds(),
			Limit:        sweepBatchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to list orphaned pending climbs: %w", err)
		}

		handled := 0
		for _, c := range climbs {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if !reenqueue(ctx, deps, c, stats) {
				continue
			}
			handled++
			stats.OrphansQueued++
			metrics.RecordSweeperAction("orphan_requeued")
			log.Info("orphaned climb enqueued", "climb_id", c.ID)
		}

		if int32(len(climbs)) < sweepBatchSize || handled == 0 {
			return nil
		}
	}
}

func reenqueue(ctx context.Context, deps *SweepDependencies, c db.Climb, stats *SweepStats) bool {
	log := logger.FromContext(ctx).With("climb_id", c.ID)

	if _, err := queue.EnqueueAnalysis(ctx, deps.Queue, c.ID, c.VideoURL); err != nil {
		log.Warn("failed to re-enqueue climb", "error", err)
		metrics.RecordJobEnqueued("sweeper", "failure")
		stats.EnqueueErrors++
		return false
	}
	metrics.RecordJobEnqueued("sweeper", "success")

	if err := deps.Store.MarkClimbEnqueued(ctx, c.ID); err != nil {
		log.Warn("failed to mark climb enqueued", "error", err)
		stats.DatabaseErrors++
	}
	return true
}
