// Package analysis holds the pluggable capability that turns a climb video
// into a result payload.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyResult     = errors.New("analysis: empty result")
	ErrUnknownAnalyzer = errors.New("analysis: unknown analyzer")
)

// Video is the input handed to an Analyzer.
type Video struct {
	ClimbID    int64
	URL        string
	StorageKey string
}

// Result is the schema-free payload stored on a completed climb.
type Result map[string]any

// Analyzer returns either a non-empty Result or an error, never both.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, v Video) (Result, error)
}

// Run invokes a under timeout. Exceeding the deadline and returning an empty
// result are both failures.
func Run(ctx context.Context, a Analyzer, v Video, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := a.Analyze(ctx, v)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s analyzer timed out after %s: %w", a.Name(), timeout, err)
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s analyzer: %w", a.Name(), err)
	}
	if len(res) == 0 {
		return nil, ErrEmptyResult
	}
	return res, nil
}
