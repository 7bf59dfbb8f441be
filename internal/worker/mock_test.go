package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/Vielheim/crux/internal/analysis"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/db/dbtest"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/queue/queuetest"
)

var cannedResult = analysis.Result{
	"route_detected":   true,
	"difficulty_grade": "V5",
}

// MockAnalyzer counts invocations. When Block is set it waits for ctx or
// Release before returning.
type MockAnalyzer struct {
	Result analysis.Result
	Err    error
	Block  bool

	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{
		Result:  cannedResult,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *MockAnalyzer) Name() string { return "mock" }

func (m *MockAnalyzer) Analyze(ctx context.Context, v analysis.Video) (analysis.Result, error) {
	m.calls.Add(1)
	m.once.Do(func() { close(m.started) })
	if m.Block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.release:
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

func (m *MockAnalyzer) Calls() int { return int(m.calls.Load()) }

func (m *MockAnalyzer) WaitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-m.started:
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer never started")
	}
}

func (m *MockAnalyzer) Release() { close(m.release) }

type fixture struct {
	store    *dbtest.Store
	analyzer *MockAnalyzer
	events   *events.Recorder
	queue    *queuetest.Recorder
	user     db.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    dbtest.NewStore(),
		analyzer: NewMockAnalyzer(),
		events:   events.NewRecorder(),
		queue:    queuetest.NewRecorder(),
	}
	f.user = f.store.AddUser("climber", "climber@crux.com")
	return f
}

func (f *fixture) deps(workerID string) *Dependencies {
	return &Dependencies{
		Store:             f.store,
		Analyzer:          f.analyzer,
		Events:            f.events,
		WorkerID:          workerID,
		LeaseDuration:     2 * time.Minute,
		HeartbeatInterval: 0,
		AnalysisTimeout:   time.Second,
	}
}

func (f *fixture) sweepDeps() *SweepDependencies {
	return &SweepDependencies{
		Store:               f.store,
		Queue:               f.queue,
		Events:              f.events,
		MaxRecoveryAttempts: 3,
		OrphanGrace:         2 * time.Minute,
		RequeueGrace:        2 * time.Minute,
	}
}

func (f *fixture) pendingClimb(t *testing.T) db.Climb {
	t.Helper()
	c, err := f.store.CreateClimb(context.Background(), db.CreateClimbParams{
		UserID:     f.user.ID,
		StorageKey: "videos/climb.mp4",
		VideoURL:   "memory://crux/videos/climb.mp4",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkClimbEnqueued(context.Background(), c.ID))
	return c
}

// staleClimb is a PROCESSING climb whose lease ran out a minute ago.
func (f *fixture) staleClimb(attempts int32) db.Climb {
	now := f.store.Now()
	return f.store.PutClimb(db.Climb{
		UserID:         f.user.ID,
		StorageKey:     "videos/stale.mp4",
		VideoURL:       "memory://crux/videos/stale.mp4",
		Status:         db.ClimbStatusProcessing,
		Attempts:       attempts,
		LeaseOwner:     pgtype.Text{String: "dead-worker/job-1", Valid: true},
		LeaseExpiresAt: pgtype.Timestamptz{Time: now.Add(-time.Minute), Valid: true},
		EnqueuedAt:     pgtype.Timestamptz{Time: now.Add(-10 * time.Minute), Valid: true},
		CreatedAt:      now.Add(-10 * time.Minute),
		UpdatedAt:      now.Add(-time.Minute),
	})
}

func newJob(t *testing.T, climbID int64) *job.Job {
	t.Helper()
	j, err := job.New(queue.JobTypeAnalyzeClimb, queue.AnalyzeClimbPayload{
		ClimbID:  climbID,
		VideoURL: "memory://crux/videos/climb.mp4",
	})
	require.NoError(t, err)
	return j
}
