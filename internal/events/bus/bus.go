// Package bus is an optional cross-process invalidation channel. When
// configured with a NATS server, every dashboard/registry mutation
// publishes a small event so sibling server processes (spec component 5:
// multiple independent processes may service the same session
// concurrently) can drop their in-memory cache instead of relying solely
// on an mtime check. When no NATS server is configured, a no-op bus is
// used and the mtime-check remains the sole correctness mechanism — this
// bus is an optimization, never a second source of truth.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the invalidation events this bus carries.
type Kind string

const (
	KindDashboardChanged Kind = "dashboard_changed"
	KindRegistryChanged  Kind = "registry_changed"
	KindMessageDelivered Kind = "message_delivered"
)

// Event is the payload published on every mutation.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps a new Event with a fresh id and the current time.
func NewEvent(kind Kind, sessionID string) *Event {
	return &Event{ID: uuid.New().String(), Kind: kind, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// Handler processes a received invalidation event.
type Handler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the invalidation-channel capability set. Subject is the NATS
// subject (or, for the no-op bus, an opaque string ignored entirely).
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}

// SubjectForSession returns the canonical subject a session's mutations
// are published under.
func SubjectForSession(sessionID string) string {
	return "agentmux.session." + sessionID
}
