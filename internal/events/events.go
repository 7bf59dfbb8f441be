// Package events publishes climb lifecycle changes to NATS. Publishing is
// best effort and never feeds back into the analysis state machine.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/logger"
)

var ErrNotConnected = errors.New("nats connection is not established")

type Event struct {
	ClimbID    int64     `json:"climb_id"`
	UserID     int64     `json:"user_id"`
	Status     string    `json:"status"`
	VideoURL   string    `json:"video_url"`
	Error      string    `json:"error,omitempty"`
	Attempt    int32     `json:"attempt"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromClimb builds an event describing the climb's current row.
func FromClimb(c db.Climb) Event {
	e := Event{
		ClimbID:    c.ID,
		UserID:     c.UserID,
		Status:     string(c.Status),
		VideoURL:   c.VideoURL,
		Attempt:    c.Attempts,
		OccurredAt: time.Now().UTC(),
	}
	if c.ErrorMessage.Valid {
		e.Error = c.ErrorMessage.String
	}
	return e
}

// Subject is <prefix>.<status in lower case>.
func Subject(prefix, status string) string {
	return prefix + "." + strings.ToLower(status)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Emit publishes e and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.FromContext(ctx).Warn("failed to publish climb event",
			"climb_id", e.ClimbID,
			"status", e.Status,
			"error", err,
		)
	}
}

type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func Connect(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("crux"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.prefix, e.Status), b)
}

// HealthCheck fails unless the connection is currently up.
func (p *NATSPublisher) HealthCheck(ctx context.Context) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// Nop discards events. It is used when no sink is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) error { return nil }
func (Nop) Close()                                     {}

// Multi publishes every event to each of its publishers and joins their
// errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() {}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Statuses lists the statuses published for climbID, in order.
func (r *Recorder) Statuses(climbID int64) []string {
	var out []string
	for _, e := range r.Events() {
		if e.ClimbID == climbID {
			out = append(out, e.Status)
		}
	}
	return out
}
