package client

import "time"

// BackendStatus mirrors the host's status document.
type BackendStatus struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	PID          int       `json:"pid,omitempty"`
	Command      string    `json:"command"`
	StartedAt    time.Time `json:"started_at"`
	StoppedAt    time.Time `json:"stopped_at"`
	LastExitCode *int      `json:"last_exit_code,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Running reports whether the host has a live backend.
func (s BackendStatus) Running() bool { return s.State == "running" }

// HistoryEvent is one journaled lifecycle event.
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     struct {
		Name     string `json:"name"`
		PID      int    `json:"pid"`
		Command  string `json:"command"`
		ExitCode *int   `json:"exit_code,omitempty"`
		Error    string `json:"error,omitempty"`
	} `json:"record"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return "API error: " + e.Message }
