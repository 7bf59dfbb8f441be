package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vielheim/crux/internal/analysis"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/queue"
)

func TestAnalyzeHandler_CompletesPendingClimb(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)

	err := AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, c.ID))
	require.NoError(t, err)

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusCompleted, got.Status)
	assert.Equal(t, int32(1), got.Attempts)
	assert.False(t, got.LeaseOwner.Valid)
	assert.False(t, got.ErrorMessage.Valid)
	require.NotNil(t, got.AnalysisResults)

	var results map[string]any
	require.NoError(t, json.Unmarshal(got.AnalysisResults, &results))
	assert.Equal(t, "V5", results["difficulty_grade"])
	assert.Equal(t, true, results["route_detected"])

	assert.Equal(t, 1, f.analyzer.Calls())
	assert.Equal(t, []string{"PROCESSING", "COMPLETED"}, f.events.Statuses(c.ID))
}

func TestAnalyzeHandler_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	handler := AnalyzeHandler(f.deps("w1"))
	j := newJob(t, c.ID)

	require.NoError(t, handler(context.Background(), j))
	require.NoError(t, handler(context.Background(), j))

	assert.Equal(t, 1, f.analyzer.Calls(), "analysis runs once")
	assert.Equal(t, 1, f.store.CompleteCalls, "one terminal transition")
	assert.Equal(t, 1, f.store.ClaimCalls, "terminal guard stops before the claim")

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusCompleted, got.Status)
}

func TestAnalyzeHandler_ConcurrentDeliveryHasOneWinner(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Block = true
	j := newJob(t, c.ID)

	first := make(chan error, 1)
	go func() {
		first <- AnalyzeHandler(f.deps("w1"))(context.Background(), j)
	}()
	f.analyzer.WaitStarted(t)

	// The second worker sees PROCESSING under a live lease and loses the
	// compare-and-set.
	err := AnalyzeHandler(f.deps("w2"))(context.Background(), j)
	require.NoError(t, err)

	f.analyzer.Release()
	require.NoError(t, <-first)

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusCompleted, got.Status)
	assert.Equal(t, 1, f.analyzer.Calls())
	assert.Equal(t, 2, f.store.ClaimCalls)
	assert.Equal(t, 1, f.store.CompleteCalls)
}

func TestAnalyzeHandler_RacingWorkers(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	j := newJob(t, c.ID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			deps := f.deps("w" + string(rune('a'+i)))
			assert.NoError(t, AnalyzeHandler(deps)(context.Background(), j))
		}(i)
	}
	wg.Wait()

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusCompleted, got.Status)
	assert.Equal(t, int32(1), got.Attempts)
	assert.Equal(t, 1, f.analyzer.Calls())
	assert.Equal(t, 1, f.store.CompleteCalls)
}

func TestAnalyzeHandler_DiscardsMissingClimb(t *testing.T) {
	f := newFixture(t)

	err := AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, 404))
	require.NoError(t, err)
	assert.Zero(t, f.store.ClaimCalls)
	assert.Zero(t, f.analyzer.Calls())
}

func TestAnalyzeHandler_DiscardsTerminalClimbs(t *testing.T) {
	for _, status := range []db.ClimbStatus{db.ClimbStatusCompleted, db.ClimbStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			c := f.store.PutClimb(db.Climb{UserID: f.user.ID, VideoURL: "memory://x", Status: status})

			require.NoError(t, AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, c.ID)))
			assert.Zero(t, f.analyzer.Calls())
			got, _ := f.store.Climb(c.ID)
			assert.Equal(t, status, got.Status)
		})
	}
}

func TestAnalyzeHandler_InvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"wrong shape", "not an object"},
		{"zero climb id", queue.AnalyzeClimbPayload{VideoURL: "memory://x"}},
		{"missing video url", map[string]any{"climb_id": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			j, err := job.New(queue.JobTypeAnalyzeClimb, tt.payload)
			require.NoError(t, err)

			err = AnalyzeHandler(f.deps("w1"))(context.Background(), j)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid payload")
			assert.Zero(t, f.store.ClaimCalls)
		})
	}
}

func TestAnalyzeHandler_AnalysisErrorFailsClimb(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Err = errors.New("pose model crashed")

	require.NoError(t, AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, c.ID)))

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusFailed, got.Status)
	assert.Nil(t, got.AnalysisResults)
	assert.Equal(t, "pose model crashed", got.ErrorMessage.String)
	assert.Equal(t, []string{"PROCESSING", "FAILED"}, f.events.Statuses(c.ID))
}

func TestAnalyzeHandler_AnalysisTimeoutFailsClimb(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Block = true
	deps := f.deps("w1")
	deps.AnalysisTimeout = 20 * time.Millisecond

	require.NoError(t, AnalyzeHandler(deps)(context.Background(), newJob(t, c.ID)))

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage.String, "timed out")
	assert.Nil(t, got.AnalysisResults)
}

func TestAnalyzeHandler_EmptyResultFailsClimb(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Result = analysis.Result{}

	require.NoError(t, AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, c.ID)))

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusFailed, got.Status)
	assert.Nil(t, got.AnalysisResults)
}

func TestAnalyzeHandler_TransientStoreErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.store.GetClimbErr = errors.New("connection reset")

	err := AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, c.ID))
	require.Error(t, err)

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusPending, got.Status)
}

func TestAnalyzeHandler_LeaseLostAbandonsClimb(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Block = true
	deps := f.deps("w1")
	deps.HeartbeatInterval = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- AnalyzeHandler(deps)(context.Background(), newJob(t, c.ID))
	}()
	f.analyzer.WaitStarted(t)

	// Another worker takes the climb over, as after an expired lease.
	stolen, _ := f.store.Climb(c.ID)
	stolen.LeaseOwner = pgtype.Text{String: "w2/other", Valid: true}
	f.store.PutClimb(stolen)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not notice the lost lease")
	}

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusProcessing, got.Status, "new owner keeps the climb")
	assert.Equal(t, "w2/other", got.LeaseOwner.String)
	assert.Zero(t, f.store.FailCalls, "no terminal write by the old owner")
	assert.Zero(t, f.store.CompleteCalls)
}

func TestAnalyzeHandler_HeartbeatKeepsLease(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Block = true
	deps := f.deps("w1")
	deps.HeartbeatInterval = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- AnalyzeHandler(deps)(context.Background(), newJob(t, c.ID))
	}()
	f.analyzer.WaitStarted(t)

	before, _ := f.store.Climb(c.ID)
	f.store.Advance(time.Minute)
	assert.Eventually(t, func() bool {
		got, _ := f.store.Climb(c.ID)
		return got.LeaseExpiresAt.Time.After(before.LeaseExpiresAt.Time)
	}, time.Second, 5*time.Millisecond)

	f.analyzer.Release()
	require.NoError(t, <-done)

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusCompleted, got.Status)
}

func TestAnalyzeHandler_ShutdownLeavesLeaseToExpire(t *testing.T) {
	f := newFixture(t)
	c := f.pendingClimb(t)
	f.analyzer.Block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- AnalyzeHandler(f.deps("w1"))(ctx, newJob(t, c.ID))
	}()
	f.analyzer.WaitStarted(t)
	cancel()

	require.Error(t, <-done)
	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusProcessing, got.Status)
	assert.Zero(t, f.store.FailCalls)
}

func TestAnalyzeHandler_ReclaimsExpiredLease(t *testing.T) {
	f := newFixture(t)
	c := f.staleClimb(1)

	require.NoError(t, AnalyzeHandler(f.deps("w1"))(context.Background(), newJob(t, c.ID)))

	got, _ := f.store.Climb(c.ID)
	assert.Equal(t, db.ClimbStatusCompleted, got.Status)
	assert.Equal(t, int32(2), got.Attempts)
}
