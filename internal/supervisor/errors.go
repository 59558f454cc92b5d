package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start while a backend process is live.
	ErrAlreadyRunning = errors.New("backend already running")
	// ErrSpawn matches any *SpawnError via errors.Is.
	ErrSpawn = errors.New("backend spawn failed")
)

// SpawnError reports a failed launch attempt.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
