// Package history exports bidder lifecycle events to analytics backends.
package history

import (
	"context"
	"time"

	"github.com/chinnucsk/bidder-gateway/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	// EventAbort is emitted when a status check finds the bidder dead.
	EventAbort EventType = "abort"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
	Signal     int          `json:"signal,omitempty"` // stop only
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// StartedAtOrZero returns the record start time in UTC, or the zero time.
func (e Event) StartedAtOrZero() time.Time {
	if e.Record.StartedAt.IsZero() {
		return time.Time{}
	}
	return e.Record.StartedAt.UTC()
}
