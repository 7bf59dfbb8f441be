package db

import (
	"context"
)

const climbColumns = `id, user_id, storage_key, video_url, status, analysis_results,
	error_message, attempts, lease_owner, lease_expires_at, enqueued_at,
	created_at, updated_at, completed_at`

func scanClimb(row interface{ Scan(...interface{}) error }) (Climb, error) {
	var (
		c       Climb
		results []byte
	)
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.StorageKey,
		&c.VideoURL,
		&c.Status,
		&results,
		&c.ErrorMessage,
		&c.Attempts,
		&c.LeaseOwner,
		&c.LeaseExpiresAt,
		&c.EnqueuedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.CompletedAt,
	)
	if results != nil {
		c.AnalysisResults = results
	}
	return c, err
}

func collectClimbs(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
	Close()
}) ([]Climb, error) {
	defer rows.Close()

	var items []Climb
	for rows.Next() {
		c, err := scanClimb(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const createClimb = `-- name: CreateClimb :one
INSERT INTO climbs (user_id, storage_key, video_url, status)
VALUES ($1, $2, $3, 'PENDING')
RETURNING ` + climbColumns

type CreateClimbParams struct {
	UserID     int64
	StorageKey string
	VideoURL   string
}

func (q *Queries) CreateClimb(ctx context.Context, arg CreateClimbParams) (Climb, error) {
	c, err := scanClimb(q.db.QueryRow(ctx, createClimb, arg.UserID, arg.StorageKey, arg.VideoURL))
	return c, translate(err)
}

const getClimb = `-- name: GetClimb :one
SELECT ` + climbColumns + ` FROM climbs WHERE id = $1`

func (q *Queries) GetClimb(ctx context.Context, id int64) (Climb, error) {
	c, err := scanClimb(q.db.QueryRow(ctx, getClimb, id))
	return c, translate(err)
}

const listClimbsByUser = `-- name: ListClimbsByUser :many
SELECT ` + climbColumns + ` FROM climbs
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

type ListClimbsByUserParams struct {
	UserID int64
	Limit  int32
	Offset int32
}

func (q *Queries) ListClimbsByUser(ctx context.Context, arg ListClimbsByUserParams) ([]Climb, error) {
	rows, err := q.db.Query(ctx, listClimbsByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectClimbs(rows)
}

const markClimbEnqueued = `-- name: MarkClimbEnqueued :exec
UPDATE climbs SET enqueued_at = now(), updated_at = now()
WHERE id = $1`

func (q *Queries) MarkClimbEnqueued(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, markClimbEnqueued, id)
	return err
}

const claimClimb = `-- name: ClaimClimb :one
UPDATE climbs
SET status = 'PROCESSING',
    lease_owner = $2,
    lease_expires_at = now() + make_interval(secs => $3),
    attempts = attempts + 1,
    updated_at = now()
WHERE id = $1
  AND (status = 'PENDING'
       OR (status = 'PROCESSING' AND lease_expires_at < now()))
RETURNING ` + climbColumns

type ClaimClimbParams struct {
	ID           int64
	LeaseOwner   string
	LeaseSeconds float64
}

// ClaimClimb moves a PENDING climb, or a PROCESSING climb whose lease has
// lapsed, to PROCESSING under a fresh lease. ErrNotFound means the guard did
// not match and another party owns the climb or it is already terminal.
func (q *Queries) ClaimClimb(ctx context.Context, arg ClaimClimbParams) (Climb, error) {
	c, err := scanClimb(q.db.QueryRow(ctx, claimClimb, arg.ID, arg.LeaseOwner, arg.LeaseSeconds))
	return c, translate(err)
}

const heartbeatClimb = `-- name: HeartbeatClimb :execrows
UPDATE climbs
SET lease_expires_at = now() + make_interval(secs => $3),
    updated_at = now()
WHERE id = $1 AND status = 'PROCESSING' AND lease_owner = $2`

type HeartbeatClimbParams struct {
	ID           int64
	LeaseOwner   string
	LeaseSeconds float64
}

func (q *Queries) HeartbeatClimb(ctx context.Context, arg HeartbeatClimbParams) (int64, error) {
	tag, err := q.db.Exec(ctx, heartbeatClimb, arg.ID, arg.LeaseOwner, arg.LeaseSeconds)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const completeClimb = `-- name: CompleteClimb :execrows
UPDATE climbs
SET status = 'COMPLETED',
    analysis_results = $3,
    error_message = NULL,
    lease_owner = NULL,
    lease_expires_at = NULL,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'PROCESSING' AND lease_owner = $2`

type CompleteClimbParams struct {
	ID              int64
	LeaseOwner      string
	AnalysisResults []byte
}

func (q *Queries) CompleteClimb(ctx context.Context, arg CompleteClimbParams) (int64, error) {
	tag, err := q.db.Exec(ctx, completeClimb, arg.ID, arg.LeaseOwner, arg.AnalysisResults)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const failClimb = `-- name: FailClimb :execrows
UPDATE climbs
SET status = 'FAILED',
    analysis_results = NULL,
    error_message = $3,
    lease_owner = NULL,
    lease_expires_at = NULL,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'PROCESSING' AND lease_owner = $2`

type FailClimbParams struct {
	ID           int64
	LeaseOwner   string
	ErrorMessage string
}

func (q *Queries) FailClimb(ctx context.Context, arg FailClimbParams) (int64, error) {
	tag, err := q.db.Exec(ctx, failClimb, arg.ID, arg.LeaseOwner, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const failPendingClimb = `-- name: FailPendingClimb :execrows
UPDATE climbs
SET status = 'FAILED',
    error_message = $2,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'PENDING'`

type FailPendingClimbParams struct {
	ID           int64
	ErrorMessage string
}

func (q *Queries) FailPendingClimb(ctx context.Context, arg FailPendingClimbParams) (int64, error) {
	tag, err := q.db.Exec(ctx, failPendingClimb, arg.ID, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const failStaleClimb = `-- name: FailStaleClimb :execrows
UPDATE climbs
SET status = 'FAILED',
    analysis_results = NULL,
    error_message = $2,
    lease_owner = NULL,
    lease_expires_at = NULL,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'PROCESSING' AND lease_expires_at < now()`

type FailStaleClimbParams struct {
	ID           int64
	ErrorMessage string
}

func (q *Queries) FailStaleClimb(ctx context.Context, arg FailStaleClimbParams) (int64, error) {
	tag, err := q.db.Exec(ctx, failStaleClimb, arg.ID, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listStaleProcessing = `-- name: ListStaleProcessing :many
SELECT ` + climbColumns + ` FROM climbs
WHERE status = 'PROCESSING'
  AND lease_expires_at < now()
  AND (enqueued_at IS NULL
       OR enqueued_at < lease_expires_at
       OR enqueued_at < now() - make_interval(secs => $1))
ORDER BY lease_expires_at
LIMIT $2`

type ListStaleProcessingParams struct {
	RequeueGraceSeconds float64
	Limit               int32
}

// ListStaleProcessing returns PROCESSING climbs whose lease has lapsed and
// which have not been re-enqueued since, or whose last re-enqueue is older
// than the grace period.
func (q *Queries) ListStaleProcessing(ctx context.Context, arg ListStaleProcessingParams) ([]Climb, error) {
	rows, err := q.db.Query(ctx, listStaleProcessing, arg.RequeueGraceSeconds, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectClimbs(rows)
}

const listOrphanPending = `-- name: ListOrphanPending :many
SELECT ` + climbColumns + ` FROM climbs
WHERE status = 'PENDING'
  AND enqueued_at IS NULL
  AND created_at < now() - make_interval(secs => $1)
ORDER BY created_at
LIMIT $2`

type ListOrphanPendingParams struct {
	GraceSeconds float64
	Limit        int32
}

func (q *Queries) ListOrphanPending(ctx context.Context, arg ListOrphanPendingParams) ([]Climb, error) {
	rows, err := q.db.Query(ctx, listOrphanPending, arg.GraceSeconds, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectClimbs(rows)
}
