// Package upload accepts climb videos: it stores the blob, records a PENDING
// climb and hands an analysis job to the queue, compensating when the queue
// cannot take it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/logger"
	"github.com/Vielheim/crux/internal/metrics"
	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/storage"
	"github.com/Vielheim/crux/internal/tracing"
)

const enqueueFailedMessage = "failed to enqueue analysis job"

var acceptedContentTypes = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true,
}

// Store is the slice of the record store the gateway writes to.
type Store interface {
	GetUser(ctx context.Context, id int64) (db.User, error)
	CreateClimb(ctx context.Context, arg db.CreateClimbParams) (db.Climb, error)
	MarkClimbEnqueued(ctx context.Context, id int64) error
	FailPendingClimb(ctx context.Context, arg db.FailPendingClimbParams) (int64, error)
}

type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Service struct {
	store  Store
	blobs  storage.Storage
	queue  queue.Enqueuer
	events events.Publisher
	retry  RetryConfig
}

func NewService(store Store, blobs storage.Storage, q queue.Enqueuer, pub events.Publisher, retry RetryConfig) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Service{store: store, blobs: blobs, queue: q, events: pub, retry: retry}
}

type Request struct {
	UserID      int64
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Result struct {
	ID       int64  `json:"id"`
	VideoURL string `json:"video_url"`
	Status   string `json:"status"`
}

// NormalizeContentType drops media type parameters and lower-cases the rest.
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func IsAcceptedContentType(contentType string) bool {
	return acceptedContentTypes[NormalizeContentType(contentType)]
}

func (s *Service) Upload(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.video")
	defer span.End()

	log := logger.FromContext(ctx).With("user_id", req.UserID)

	defer func() {
		status := "success"
		if err != nil {
			status = apperror.Code(err)
			tracing.RecordError(ctx, err)
		}
		metrics.RecordUpload(status, req.Size)
	}()

	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperror.WithMessage(apperror.ErrNotFound, "User not found")
		}
		return nil, apperror.Wrap(fmt.Errorf("get user: %w", err), apperror.ErrInternal)
	}

	if !IsAcceptedContentType(req.ContentType) {
		return nil, apperror.WithMessage(apperror.ErrInvalidInput, "Invalid file type")
	}
	contentType := NormalizeContentType(req.ContentType)

	key := storage.NewVideoKey(req.Filename)
	log.Info("storing video", "storage_key", key, "size", req.Size, "content_type", contentType)

	videoURL, err := s.blobs.Put(ctx, key, req.Body, contentType, req.Size)
	if err != nil {
		return nil, apperror.Wrap(fmt.Errorf("put %s: %w", key, err), apperror.ErrUpstreamStorage)
	}

	// From here on the request context may be cancelled by a disconnecting
	// client; the climb and its job must still be settled.
	bg := context.WithoutCancel(ctx)

	climb, err := s.store.CreateClimb(bg, db.CreateClimbParams{
		UserID:     req.UserID,
		StorageKey: key,
		VideoURL:   videoURL,
	})
	if err != nil {
		if delErr := s.blobs.Delete(bg, key); delErr != nil {
			log.Warn("failed to remove orphaned blob", "storage_key", key, "error", delErr)
		}
		return nil, apperror.Wrap(fmt.Errorf("create climb: %w", err), apperror.ErrInternal)
	}

	log = log.With("climb_id", climb.ID)
	log.Info("climb created")
	events.Emit(bg, s.events, events.FromClimb(climb))

	jobID, err := s.enqueue(bg, climb)
	if err != nil {
		metrics.RecordJobEnqueued("upload", "failure")
		log.Error("enqueue failed, failing climb", "error", err)
		s.compensate(bg, climb)
		return nil, apperror.Wrap(err, apperror.ErrQueueUnavailable)
	}
	metrics.RecordJobEnqueued("upload", "success")

	if err := s.store.MarkClimbEnqueued(bg, climb.ID); err != nil {
		log.Warn("failed to mark climb enqueued", "error", err)
	}
	log.Info("analysis job enqueued", "job_id", jobID)

	return &Result{
		ID:       climb.ID,
		VideoURL: climb.VideoURL,
		Status:   string(climb.Status),
	}, nil
}

func (s *Service) enqueue(ctx context.Context, climb db.Climb) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialBackoff
	if s.retry.MaxBackoff > 0 {
		b.MaxInterval = s.retry.MaxBackoff
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retry.MaxAttempts-1)), ctx)

	var jobID string
	op := func() error {
		id, err := queue.EnqueueAnalysis(ctx, s.queue, climb.ID, climb.VideoURL)
		if err != nil {
			return err
		}
		jobID = id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordEnqueueRetry()
		logger.FromContext(ctx).Warn("enqueue attempt failed, retrying",
			"climb_id", climb.ID,
			"retry_in", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return jobID, nil
}

// compensate fails the freshly created climb so it never sits PENDING
// without a job. If even that write fails the orphan sweep re-enqueues it.
func (s *Service) compensate(ctx context.Context, climb db.Climb) {
	log := logger.FromContext(ctx).With("climb_id", climb.ID)

	n, err := s.store.FailPendingClimb(ctx, db.FailPendingClimbParams{
		ID:           climb.ID,
		ErrorMessage: enqueueFailedMessage,
	})
	if err != nil {
		log.Error("failed to mark climb failed after enqueue failure", "error", err)
		return
	}
	if n == 0 {
		return
	}

	metrics.RecordTransition(string(db.ClimbStatusPending), string(db.ClimbStatusFailed))
	climb.Status = db.ClimbStatusFailed
	climb.ErrorMessage.String = enqueueFailedMessage
	climb.ErrorMessage.Valid = true
	events.Emit(ctx, s.events, events.FromClimb(climb))
}
