package supervisor

import "time"

// EventType enumerates lifecycle events emitted by a Supervisor.
type EventType string

const (
	EventStarted        EventType = "started"
	EventSpawnFailure   EventType = "spawn_failure"
	EventStopped        EventType = "stopped"         // stop requested and signal sent
	EventExited         EventType = "exited"          // process ended after a requested stop
	EventUnexpectedExit EventType = "unexpected_exit" // process ended on its own while running
)

// Event describes one lifecycle transition. ExitCode is meaningful for
// EventExited and EventUnexpectedExit only.
type Event struct {
	Type       EventType `json:"type"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Err        error     `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Observer receives events. It runs on supervisor goroutines and must not
// call Start or Stop synchronously.
type Observer func(Event)
