// Package queuetest provides an in-memory queue.Enqueuer for tests.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Vielheim/crux/internal/queue"
	"github.com/abdul-hamid-achik/job-queue/pkg/job"
)

type EnqueuedJob struct {
	ID      string
	Type    string
	Payload queue.AnalyzeClimbPayload
	Job     *job.Job
}

// Recorder records enqueued jobs. Failures can be injected for every call
// with Err, or for the first FailTimes calls.
type Recorder struct {
	mu        sync.Mutex
	jobs      []EnqueuedJob
	calls     int
	Err       error
	FailTimes int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.Err != nil {
		return "", r.Err
	}
	if r.calls <= r.FailTimes {
		return "", fmt.Errorf("queue unavailable (call %d)", r.calls)
	}

	j, err := job.New(jobType, payload)
	if err != nil {
		return "", err
	}

	var p queue.AnalyzeClimbPayload
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return "", err
	}

	r.jobs = append(r.jobs, EnqueuedJob{ID: j.ID, Type: jobType, Payload: p, Job: j})
	return j.ID, nil
}

func (r *Recorder) Jobs() []EnqueuedJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EnqueuedJob, len(r.jobs))
	copy(out, r.jobs)
	return out
}

func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// JobsFor returns the jobs addressing climbID.
func (r *Recorder) JobsFor(climbID int64) []EnqueuedJob {
	var out []EnqueuedJob
	for _, j := range r.Jobs() {
		if j.Payload.ClimbID == climbID {
			out = append(out, j)
		}
	}
	return out
}
