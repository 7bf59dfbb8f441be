package upload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/db/dbtest"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/queue/queuetest"
	"github.com/Vielheim/crux/internal/storage"
)

type fixture struct {
	store  *dbtest.Store
	blobs  *storage.MemoryStorage
	queue  *queuetest.Recorder
	events *events.Recorder
	svc    *Service
	user   db.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  dbtest.NewStore(),
		blobs:  storage.NewMemoryStorage(),
		queue:  queuetest.NewRecorder(),
		events: events.NewRecorder(),
	}
	f.user = f.store.AddUser("climber_0001", "climber_0001@crux.com")
	f.svc = NewService(f.store, f.blobs, f.queue, f.events, RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	return f
}

func videoRequest(userID int64, contentType string) Request {
	body := "fake mp4 bytes"
	return Request{
		UserID:      userID,
		Filename:    "climb.mp4",
		ContentType: contentType,
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func assertNoSideEffects(t *testing.T, f *fixture) {
	t.Helper()
	assert.Zero(t, f.store.ClimbCount(), "no climb row")
	assert.Zero(t, f.blobs.Count(), "no blob write")
	assert.Zero(t, f.queue.Calls(), "no enqueue")
}

func TestUpload_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, "video/mp4"))
	require.NoError(t, err)

	assert.Equal(t, "PENDING", res.Status)
	assert.NotEmpty(t, res.VideoURL)

	climb, ok := f.store.Climb(res.ID)
	require.True(t, ok)
	assert.Equal(t, db.ClimbStatusPending, climb.Status)
	assert.Equal(t, f.user.ID, climb.UserID)
	assert.Nil(t, climb.AnalysisResults)
	assert.True(t, climb.EnqueuedAt.Valid)
	assert.Equal(t, 1, f.store.ClimbCount())

	jobs := f.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeAnalyzeClimb, jobs[0].Type)
	assert.Equal(t, res.ID, jobs[0].Payload.ClimbID)
	assert.Equal(t, res.VideoURL, jobs[0].Payload.VideoURL)

	data, ok := f.blobs.GetData(climb.StorageKey)
	require.True(t, ok)
	assert.Equal(t, "fake mp4 bytes", string(data))
	assert.True(t, strings.HasPrefix(climb.StorageKey, "videos/"))
	assert.True(t, strings.HasSuffix(climb.StorageKey, ".mp4"))

	assert.Equal(t, []string{"PENDING"}, f.events.Statuses(res.ID))
}

func TestUpload_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Upload(context.Background(), videoRequest(9999, "video/mp4"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrNotFound))
	assert.Equal(t, "User not found", apperror.SafeMessage(err))
	assertNoSideEffects(t, f)
}

func TestUpload_ContentTypes(t *testing.T) {
	tests := []struct {
		contentType string
		accepted    bool
	}{
		{"video/mp4", true},
		{"video/quicktime", true},
		{"video/mp4; codecs=\"avc1.42E01E\"", true},
		{"VIDEO/MP4", true},
		{"text/plain", false},
		{"video/webm", false},
		{"application/octet-stream", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, tt.contentType))
			if tt.accepted {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.ErrInvalidInput))
			assert.Equal(t, "Invalid file type", apperror.SafeMessage(err))
			assertNoSideEffects(t, f)
		})
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.PutErr = errors.New("connection refused")

	_, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, "video/mp4"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrUpstreamStorage))
	assert.Zero(t, f.store.ClimbCount())
	assert.Zero(t, f.queue.Calls())
}

func TestUpload_CreateClimbFailureRemovesBlob(t *testing.T) {
	f := newFixture(t)
	f.store.CreateClimbErr = errors.New("db down")

	_, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, "video/mp4"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrInternal))
	assert.Zero(t, f.blobs.Count())
	assert.Zero(t, f.queue.Calls())
}

func TestUpload_EnqueueRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.queue.FailTimes = 2

	res, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, "video/mp4"))
	require.NoError(t, err)

	assert.Equal(t, 3, f.queue.Calls())
	assert.Len(t, f.queue.JobsFor(res.ID), 1)

	climb, _ := f.store.Climb(res.ID)
	assert.Equal(t, db.ClimbStatusPending, climb.Status)
}

func TestUpload_EnqueueExhaustedFailsClimb(t *testing.T) {
	f := newFixture(t)
	f.queue.Err = errors.New("redis unavailable")

	_, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, "video/mp4"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ErrQueueUnavailable))
	assert.Equal(t, 4, f.queue.Calls(), "bounded by MaxAttempts")

	require.Equal(t, 1, f.store.ClimbCount())
	climb, ok := f.store.Climb(1 + f.user.ID)
	require.True(t, ok)
	assert.Equal(t, db.ClimbStatusFailed, climb.Status, "no orphaned PENDING row")
	assert.Nil(t, climb.AnalysisResults)
	assert.Equal(t, enqueueFailedMessage, climb.ErrorMessage.String)
	assert.False(t, climb.EnqueuedAt.Valid)

	assert.Equal(t, []string{"PENDING", "FAILED"}, f.events.Statuses(climb.ID))
}

func TestUpload_CancelledRequestStillSettlesClimb(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.queue.Err = errors.New("redis unavailable")

	req := videoRequest(f.user.ID, "video/mp4")
	req.Body = &cancelOnEOF{r: strings.NewReader("bytes"), cancel: cancel}

	_, err := f.svc.Upload(ctx, req)
	require.Error(t, err)

	climb, ok := f.store.Climb(1 + f.user.ID)
	require.True(t, ok)
	assert.Equal(t, db.ClimbStatusFailed, climb.Status)
}

func TestUpload_EventFailureDoesNotFailUpload(t *testing.T) {
	f := newFixture(t)
	f.events.Err = errors.New("nats down")

	res, err := f.svc.Upload(context.Background(), videoRequest(f.user.ID, "video/quicktime"))
	require.NoError(t, err)
	assert.Equal(t, "PENDING", res.Status)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", NormalizeContentType("video/mp4; codecs=avc1"))
	assert.Equal(t, "video/quicktime", NormalizeContentType(" Video/QuickTime "))
	assert.False(t, IsAcceptedContentType("image/png"))
}

// cancelOnEOF cancels the request context once the body has been consumed.
type cancelOnEOF struct {
	r      *strings.Reader
	cancel context.CancelFunc
}

func (c *cancelOnEOF) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil {
		c.cancel()
	}
	return n, err
}
