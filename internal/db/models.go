package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ClimbStatus is persisted as one of the four literal strings below.
type ClimbStatus string

const (
	ClimbStatusPending    ClimbStatus = "PENDING"
	ClimbStatusProcessing ClimbStatus = "PROCESSING"
	ClimbStatusCompleted  ClimbStatus = "COMPLETED"
	ClimbStatusFailed     ClimbStatus = "FAILED"
)

func AllClimbStatusValues() []ClimbStatus {
	return []ClimbStatus{
		ClimbStatusPending,
		ClimbStatusProcessing,
		ClimbStatusCompleted,
		ClimbStatusFailed,
	}
}

func (s ClimbStatus) Valid() bool {
	switch s {
	case ClimbStatusPending, ClimbStatusProcessing, ClimbStatusCompleted, ClimbStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ClimbStatus) Terminal() bool {
	switch s {
	case ClimbStatusCompleted, ClimbStatusFailed:
		return true
	case ClimbStatusPending, ClimbStatusProcessing:
		return false
	}
	return false
}

// CanTransitionTo encodes the forward-only lattice
// PENDING -> PROCESSING -> {COMPLETED | FAILED}. PROCESSING -> PROCESSING is
// a reclaim after lease expiry, and PENDING -> FAILED is the enqueue
// compensation path.
func (s ClimbStatus) CanTransitionTo(next ClimbStatus) bool {
	switch s {
	case ClimbStatusPending:
		return next == ClimbStatusProcessing || next == ClimbStatusFailed
	case ClimbStatusProcessing:
		return next == ClimbStatusProcessing || next == ClimbStatusCompleted || next == ClimbStatusFailed
	case ClimbStatusCompleted, ClimbStatusFailed:
		return false
	}
	return false
}

func (s *ClimbStatus) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("unsupported scan type for ClimbStatus: %T", src)
	}
	status := ClimbStatus(str)
	if !status.Valid() {
		return fmt.Errorf("invalid climb status %q", str)
	}
	*s = status
	return nil
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Climb struct {
	ID              int64              `json:"id"`
	UserID          int64              `json:"user_id"`
	StorageKey      string             `json:"storage_key"`
	VideoURL        string             `json:"video_url"`
	Status          ClimbStatus        `json:"status"`
	AnalysisResults json.RawMessage    `json:"analysis_results"`
	ErrorMessage    pgtype.Text        `json:"error_message"`
	Attempts        int32              `json:"attempts"`
	LeaseOwner      pgtype.Text        `json:"lease_owner"`
	LeaseExpiresAt  pgtype.Timestamptz `json:"lease_expires_at"`
	EnqueuedAt      pgtype.Timestamptz `json:"enqueued_at"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	CompletedAt     pgtype.Timestamptz `json:"completed_at"`
}

// LeaseExpired reports whether a PROCESSING climb's lease has lapsed at now.
func (c Climb) LeaseExpired(now time.Time) bool {
	if c.Status != ClimbStatusProcessing {
		return false
	}
	return !c.LeaseExpiresAt.Valid || c.LeaseExpiresAt.Time.Before(now)
}
