package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventReady   EventType = "ready"
	EventStop    EventType = "stop"
	EventCrash   EventType = "crash"
	EventRestart EventType = "restart"
)

// Event represents a server lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ServerID   int64     `json:"server_id"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Reason     string    `json:"reason,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to several sinks, attempting all of them.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
