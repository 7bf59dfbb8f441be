// Package dbtest is an in-memory db.Querier that applies the same guards
// as the SQL queries, for tests that must not need Postgres.
package dbtest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Vielheim/crux/internal/db"
)

type Store struct {
	mu     sync.Mutex
	users  map[int64]db.User
	climbs map[int64]db.Climb
	nextID int64
	now    time.Time

	GetUserErr           error
	CreateUserErr        error
	CreateClimbErr       error
	GetClimbErr          error
	MarkClimbEnqueuedErr error
	ClaimClimbErr        error
	HeartbeatErr         error
	CompleteClimbErr     error
	FailClimbErr         error
	FailPendingClimbErr  error
	ListErr              error

	ClaimCalls    int
	CompleteCalls int
	FailCalls     int
}

var _ db.Querier = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users:  make(map[int64]db.User),
		climbs: make(map[int64]db.Climb),
		now:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Now is the store's clock. It only moves through Advance.
func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func ts(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func text(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: true}
}

func lease(now time.Time, secs float64) pgtype.Timestamptz {
	return ts(now.Add(time.Duration(secs * float64(time.Second))))
}

func (s *Store) AddUser(username, email string) db.User {
	u, _ := s.CreateUser(context.Background(), db.CreateUserParams{Username: username, Email: email})
	return u
}

// PutClimb stores c as is, assigning an id when c.ID is zero.
func (s *Store) PutClimb(c db.Climb) db.Climb {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now
		c.UpdatedAt = s.now
	}
	s.climbs[c.ID] = c
	return c
}

func (s *Store) Climb(id int64) (db.Climb, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.climbs[id]
	return c, ok
}

func (s *Store) ClimbCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.climbs)
}

func (s *Store) CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error) {
	if s.CreateUserErr != nil {
		return db.User{}, s.CreateUserErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == arg.Username || u.Email == arg.Email {
			return db.User{}, db.ErrDuplicate
		}
	}
	u := db.User{ID: s.id(), Username: arg.Username, Email: arg.Email, CreatedAt: s.now}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (db.User, error) {
	if s.GetUserErr != nil {
		return db.User{}, s.GetUserErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return db.User{}, db.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return db.User{}, db.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context, arg db.ListUsersParams) ([]db.User, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.User
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, arg.Limit, arg.Offset), nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return 0, nil
	}
	delete(s.users, id)
	for cid, c := range s.climbs {
		if c.UserID == id {
			delete(s.climbs, cid)
		}
	}
	return 1, nil
}

func (s *Store) CreateClimb(ctx context.Context, arg db.CreateClimbParams) (db.Climb, error) {
	if s.CreateClimbErr != nil {
		return db.Climb{}, s.CreateClimbErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := db.Climb{
		ID:         s.id(),
		UserID:     arg.UserID,
		StorageKey: arg.StorageKey,
		VideoURL:   arg.VideoURL,
		Status:     db.ClimbStatusPending,
		CreatedAt:  s.now,
		UpdatedAt:  s.now,
	}
	s.climbs[c.ID] = c
	return c, nil
}

func (s *Store) GetClimb(ctx context.Context, id int64) (db.Climb, error) {
	if s.GetClimbErr != nil {
		return db.Climb{}, s.GetClimbErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.climbs[id]
	if !ok {
		return db.Climb{}, db.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListClimbsByUser(ctx context.Context, arg db.ListClimbsByUserParams) ([]db.Climb, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Climb
	for _, c := range s.climbs {
		if c.UserID == arg.UserID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, arg.Limit, arg.Offset), nil
}

func (s *Store) MarkClimbEnqueued(ctx context.Context, id int64) error {
	if s.MarkClimbEnqueuedErr != nil {
		return s.MarkClimbEnqueuedErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.climbs[id]; ok {
		c.EnqueuedAt = ts(s.now)
		c.UpdatedAt = s.now
		s.climbs[id] = c
	}
	return nil
}

func (s *Store) expired(c db.Climb) bool {
	return c.Status == db.ClimbStatusProcessing && c.LeaseExpiresAt.Valid && c.LeaseExpiresAt.Time.Before(s.now)
}

func (s *Store) ClaimClimb(ctx context.Context, arg db.ClaimClimbParams) (db.Climb, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClaimCalls++
	if s.ClaimClimbErr != nil {
		return db.Climb{}, s.ClaimClimbErr
	}
	c, ok := s.climbs[arg.ID]
	if !ok || !(c.Status == db.ClimbStatusPending || s.expired(c)) {
		return db.Climb{}, db.ErrNotFound
	}
	c.Status = db.ClimbStatusProcessing
	c.LeaseOwner = text(arg.LeaseOwner)
	c.LeaseExpiresAt = lease(s.now, arg.LeaseSeconds)
	c.Attempts++
	c.UpdatedAt = s.now
	s.climbs[c.ID] = c
	return c, nil
}

func (s *Store) owned(id int64, owner string) (db.Climb, bool) {
	c, ok := s.climbs[id]
	if !ok || c.Status != db.ClimbStatusProcessing || c.LeaseOwner.String != owner {
		return db.Climb{}, false
	}
	return c, true
}

func (s *Store) HeartbeatClimb(ctx context.Context, arg db.HeartbeatClimbParams) (int64, error) {
	if s.HeartbeatErr != nil {
		return 0, s.HeartbeatErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.owned(arg.ID, arg.LeaseOwner)
	if !ok {
		return 0, nil
	}
	c.LeaseExpiresAt = lease(s.now, arg.LeaseSeconds)
	c.UpdatedAt = s.now
	s.climbs[c.ID] = c
	return 1, nil
}

func (s *Store) CompleteClimb(ctx context.Context, arg db.CompleteClimbParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompleteCalls++
	if s.CompleteClimbErr != nil {
		return 0, s.CompleteClimbErr
	}
	c, ok := s.owned(arg.ID, arg.LeaseOwner)
	if !ok {
		return 0, nil
	}
	c.Status = db.ClimbStatusCompleted
	c.AnalysisResults = json.RawMessage(arg.AnalysisResults)
	c.ErrorMessage = pgtype.Text{}
	s.finish(&c)
	return 1, nil
}

func (s *Store) FailClimb(ctx context.Context, arg db.FailClimbParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailCalls++
	if s.FailClimbErr != nil {
		return 0, s.FailClimbErr
	}
	c, ok := s.owned(arg.ID, arg.LeaseOwner)
	if !ok {
		return 0, nil
	}
	c.Status = db.ClimbStatusFailed
	c.AnalysisResults = nil
	c.ErrorMessage = text(arg.ErrorMessage)
	s.finish(&c)
	return 1, nil
}

func (s *Store) FailPendingClimb(ctx context.Context, arg db.FailPendingClimbParams) (int64, error) {
	if s.FailPendingClimbErr != nil {
		return 0, s.FailPendingClimbErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.climbs[arg.ID]
	if !ok || c.Status != db.ClimbStatusPending {
		return 0, nil
	}
	c.Status = db.ClimbStatusFailed
	c.ErrorMessage = text(arg.ErrorMessage)
	s.finish(&c)
	return 1, nil
}

func (s *Store) FailStaleClimb(ctx context.Context, arg db.FailStaleClimbParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.climbs[arg.ID]
	if !ok || !s.expired(c) {
		return 0, nil
	}
	c.Status = db.ClimbStatusFailed
	c.AnalysisResults = nil
	c.ErrorMessage = text(arg.ErrorMessage)
	s.finish(&c)
	return 1, nil
}

func (s *Store) finish(c *db.Climb) {
	c.LeaseOwner = pgtype.Text{}
	c.LeaseExpiresAt = pgtype.Timestamptz{}
	c.CompletedAt = ts(s.now)
	c.UpdatedAt = s.now
	s.climbs[c.ID] = *c
}

func (s *Store) ListStaleProcessing(ctx context.Context, arg db.ListStaleProcessingParams) ([]db.Climb, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now.Add(-time.Duration(arg.RequeueGraceSeconds * float64(time.Second)))
	var out []db.Climb
	for _, c := range s.climbs {
		if !s.expired(c) {
			continue
		}
		if !c.EnqueuedAt.Valid || c.EnqueuedAt.Time.Before(c.LeaseExpiresAt.Time) || c.EnqueuedAt.Time.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseExpiresAt.Time.Before(out[j].LeaseExpiresAt.Time) })
	return page(out, arg.Limit, 0), nil
}

func (s *Store) ListOrphanPending(ctx context.Context, arg db.ListOrphanPendingParams) ([]db.Climb, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now.Add(-time.Duration(arg.GraceSeconds * float64(time.Second)))
	var out []db.Climb
	for _, c := range s.climbs {
		if c.Status == db.ClimbStatusPending && !c.EnqueuedAt.Valid && c.CreatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, arg.Limit, 0), nil
}

func page[T any](items []T, limit, offset int32) []T {
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}
