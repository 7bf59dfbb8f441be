// Package worker runs the climb analysis state machine on top of job-queue,
// keeps leases alive while analysis runs and recovers climbs whose worker
// went away.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"

	"github.com/Vielheim/crux/internal/analysis"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/metrics"
	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/tracing"
)

// ErrLeaseLost cancels an analysis whose climb was taken over.
var ErrLeaseLost = errors.New("climb lease lost")

// Store is the part of the record store the analysis handler needs.
type Store interface {
	GetClimb(ctx context.Context, id int64) (db.Climb, error)
	ClaimClimb(ctx context.Context, arg db.ClaimClimbParams) (db.Climb, error)
	HeartbeatClimb(ctx context.Context, arg db.HeartbeatClimbParams) (int64, error)
	CompleteClimb(ctx context.Context, arg db.CompleteClimbParams) (int64, error)
	FailClimb(ctx context.Context, arg db.FailClimbParams) (int64, error)
}

type Dependencies struct {
	Store    Store
	Analyzer analysis.Analyzer
	Events   events.Publisher

	// WorkerID prefixes every lease owner this process stamps.
	WorkerID          string
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	AnalysisTimeout   time.Duration
}

func (d *Dependencies) leaseSeconds() float64 {
	return d.LeaseDuration.Seconds()
}

func (d *Dependencies) publish(ctx context.Context, c db.Climb) {
	events.Emit(ctx, d.Events, events.FromClimb(c))
}

func AnalyzeHandler(deps *Dependencies) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		log := logger.FromContext(ctx).With("job_id", j.ID, "job_type", queue.JobTypeAnalyzeClimb)
		start := time.Now()

		var payload queue.AnalyzeClimbPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			log.Error("invalid payload", "error", err)
			metrics.RecordJobDiscarded("bad_payload")
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}
		if err := payload.Validate(); err != nil {
			log.Error("invalid payload", "error", err)
			metrics.RecordJobDiscarded("bad_payload")
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}

		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx, span := tracing.StartJobSpan(ctx, queue.JobTypeAnalyzeClimb, j.ID, payload.ClimbID)
		defer span.End()

		log = log.With("climb_id", payload.ClimbID)
		ctx = logger.WithLogger(logger.WithClimbID(ctx, payload.ClimbID), log)
		log.Info("job started")

		err := deps.process(ctx, j.ID, payload)
		if err != nil {
			tracing.RecordError(ctx, err)
			log.Error("job failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
			return err
		}
		log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
		return nil
	}
}

func (d *Dependencies) process(ctx context.Context, jobID string, payload queue.AnalyzeClimbPayload) error {
	log := logger.FromContext(ctx)

	climb, err := d.Store.GetClimb(ctx, payload.ClimbID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("climb not found, discarding job")
		metrics.RecordJobDiscarded("not_found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load climb: %w", err)
	}

	if climb.Status.Terminal() {
		log.Info("climb already finished, discarding job", "status", climb.Status)
		metrics.RecordJobDiscarded("terminal")
		return nil
	}

	owner := d.WorkerID + "/" + jobID
	claimed, err := d.Store.ClaimClimb(ctx, db.ClaimClimbParams{
		ID:           climb.ID,
		LeaseOwner:   owner,
		LeaseSeconds: d.leaseSeconds(),
	})
	if errors.Is(err, db.ErrNotFound) {
		log.Info("climb claimed elsewhere, discarding job", "status", climb.Status)
		metrics.RecordJobDiscarded("claimed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim climb: %w", err)
	}

	metrics.RecordTransition(string(climb.Status), string(db.ClimbStatusProcessing))
	d.publish(ctx, claimed)
	log = log.With("lease_owner", owner, "attempt", claimed.Attempts)
	log.Info("climb claimed")

	result, lost, runErr := d.analyze(ctx, claimed, owner)
	if lost {
		log.Warn("lease lost during analysis, abandoning climb")
		metrics.RecordJobDiscarded("lease_lost")
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown or job timeout: leave the lease to expire so the sweeper
		// hands the climb to another worker.
		return fmt.Errorf("analysis interrupted: %w", ctx.Err())
	}

	if runErr != nil {
		return d.fail(ctx, claimed, owner, runErr)
	}
	return d.complete(ctx, claimed, owner, result)
}

// analyze runs the analyzer while a heartbeat extends the lease. lost is
// true when a heartbeat found the lease owned by someone else.
func (d *Dependencies) analyze(ctx context.Context, c db.Climb, owner string) (analysis.Result, bool, error) {
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.heartbeat(hbCtx, cancelRun, c.ID, owner)
	}()

	start := time.Now()
	result, err := analysis.Run(runCtx, d.Analyzer, analysis.Video{
		ClimbID:    c.ID,
		URL:        c.VideoURL,
		StorageKey: c.StorageKey,
	}, d.AnalysisTimeout)

	stopHeartbeat()
	wg.Wait()

	if errors.Is(context.Cause(runCtx), ErrLeaseLost) {
		return nil, true, nil
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordAnalysis(d.Analyzer.Name(), status, time.Since(start).Seconds())
	return result, false, err
}

func (d *Dependencies) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, climbID int64, owner string) {
	if d.HeartbeatInterval <= 0 {
		return
	}
	log := logger.FromContext(ctx)

	ticker := time.NewTicker(d.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Store.HeartbeatClimb(ctx, db.HeartbeatClimbParams{
				ID:           climbID,
				LeaseOwner:   owner,
				LeaseSeconds: d.leaseSeconds(),
			})
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("heartbeat failed", "error", err)
				}
				continue
			}
			if n == 0 {
				cancel(ErrLeaseLost)
				return
			}
			log.Debug("lease extended")
		}
	}
}

func (d *Dependencies) complete(ctx context.Context, c db.Climb, owner string, result analysis.Result) error {
	log := logger.FromContext(ctx)

	data, err := json.Marshal(result)
	if err != nil {
		return d.fail(ctx, c, owner, fmt.Errorf("encode analysis result: %w", err))
	}

	n, err := d.Store.CompleteClimb(ctx, db.CompleteClimbParams{
		ID:              c.ID,
		LeaseOwner:      owner,
		AnalysisResults: data,
	})
	if err != nil {
		return fmt.Errorf("failed to complete climb: %w", err)
	}
	if n == 0 {
		log.Warn("lease lost before completion, result dropped")
		metrics.RecordJobDiscarded("lease_lost")
		return nil
	}

	metrics.RecordTransition(string(db.ClimbStatusProcessing), string(db.ClimbStatusCompleted))
	c.Status = db.ClimbStatusCompleted
	c.AnalysisResults = data
	d.publish(ctx, c)
	log.Info("climb completed")
	return nil
}

func (d *Dependencies) fail(ctx context.Context, c db.Climb, owner string, cause error) error {
	log := logger.FromContext(ctx)
	log.Warn("analysis failed", "error", cause)

	n, err := d.Store.FailClimb(ctx, db.FailClimbParams{
		ID:           c.ID,
		LeaseOwner:   owner,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark climb failed: %w", err)
	}
	if n == 0 {
		log.Warn("lease lost before failure was recorded")
		metrics.RecordJobDiscarded("lease_lost")
		return nil
	}

	metrics.RecordTransition(string(db.ClimbStatusProcessing), string(db.ClimbStatusFailed))
	c.Status = db.ClimbStatusFailed
	c.ErrorMessage.String = cause.Error()
	c.ErrorMessage.Valid = true
	d.publish(ctx, c)
	log.Info("climb failed")
	return nil
}
