// Package queue defines the analysis job contract carried between the upload
// gateway and the worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vielheim/crux/internal/tracing"
)

const (
	JobTypeAnalyzeClimb = "analyze_climb"
	DefaultQueue        = "default"
)

// AnalyzeClimbPayload addresses a climb for analysis. The worker reloads the
// climb row and trusts nothing here beyond the id.
type AnalyzeClimbPayload struct {
	ClimbID  int64                `json:"climb_id"`
	VideoURL string               `json:"video_url"`
	Trace    tracing.TraceCarrier `json:"trace,omitempty"`
}

func (p AnalyzeClimbPayload) Validate() error {
	if p.ClimbID <= 0 {
		return fmt.Errorf("invalid climb_id: %d", p.ClimbID)
	}
	if p.VideoURL == "" {
		return errors.New("video_url is required")
	}
	return nil
}

// Enqueuer puts a job on the queue and returns its id.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error)
}

// EnqueueAnalysis enqueues an analyze_climb job, carrying the caller's trace.
func EnqueueAnalysis(ctx context.Context, e Enqueuer, climbID int64, videoURL string) (string, error) {
	ctx, span := tracing.StartJobEnqueueSpan(ctx, JobTypeAnalyzeClimb, climbID)
	defer span.End()

	payload := AnalyzeClimbPayload{
		ClimbID:  climbID,
		VideoURL: videoURL,
		Trace:    tracing.InjectTraceContext(ctx),
	}

	id, err := e.Enqueue(ctx, JobTypeAnalyzeClimb, payload)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("enqueue %s for climb %d: %w", JobTypeAnalyzeClimb, climbID, err)
	}
	return id, nil
}
