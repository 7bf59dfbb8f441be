// Package webhook delivers climb lifecycle events to an HTTP endpoint,
// signed with a shared secret.
package webhook

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vielheim/crux/internal/events"
)

const typePrefix = "climb."

// Envelope is the body posted for every event.
type Envelope struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
	Data      events.Event `json:"data"`
}

func NewEnvelope(e events.Event) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      EventType(e.Status),
		CreatedAt: time.Now().UTC(),
		Data:      e,
	}
}

// EventType is climb.<status in lower case>, e.g. climb.completed.
func EventType(status string) string {
	return typePrefix + strings.ToLower(status)
}
