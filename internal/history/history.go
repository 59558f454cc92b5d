package history

import (
	"context"
	"time"

	"github.com/loykin/backendvisor/internal/supervisor"
)

// EventType mirrors supervisor event types for storage.
type EventType string

const (
	EventStarted        EventType = EventType(supervisor.EventStarted)
	EventSpawnFailure   EventType = EventType(supervisor.EventSpawnFailure)
	EventStopped        EventType = EventType(supervisor.EventStopped)
	EventExited         EventType = EventType(supervisor.EventExited)
	EventUnexpectedExit EventType = EventType(supervisor.EventUnexpectedExit)
)

// Record is the stored view of one backend lifecycle event.
type Record struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	Command  string `json:"command"`
	ExitCode *int   `json:"exit_code,omitempty"` // set for exit events only
	Error    string `json:"error,omitempty"`
}

// Event is a lifecycle event exported to a history sink.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromSupervisor converts a supervisor event into a history event.
func FromSupervisor(e supervisor.Event) Event {
	rec := Record{Name: e.Name, PID: e.PID, Command: e.Command}
	if e.Type == supervisor.EventExited || e.Type == supervisor.EventUnexpectedExit {
		c := e.ExitCode
		rec.ExitCode = &c
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	return Event{Type: EventType(e.Type), OccurredAt: e.OccurredAt, Record: rec}
}

// Reader is implemented by sinks that can list stored events, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}
