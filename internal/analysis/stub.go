package analysis

import (
	"context"
	"time"
)

const StubName = "stub"

// StubAnalyzer waits a fixed delay and returns a canned payload. It stands in
// for the computer-vision pipeline.
type StubAnalyzer struct {
	Delay time.Duration
}

func NewStubAnalyzer(delay time.Duration) *StubAnalyzer {
	return &StubAnalyzer{Delay: delay}
}

func (s *StubAnalyzer) Name() string { return StubName }

func (s *StubAnalyzer) Analyze(ctx context.Context, v Video) (Result, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return Result{
		"route_detected":   true,
		"difficulty_grade": "V5",
		"metrics": map[string]any{
			"efficiency": 85,
			"fluidity":   90,
		},
	}, nil
}
