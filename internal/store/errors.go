package store

import "errors"

var (
	// ErrConflict means an operation's precondition on current state does
	// not hold, e.g. a second BeginArtifact for the same task.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means the referenced task or artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the requested readiness change is not
	// reachable from the artifact's current state.
	ErrInvalidTransition = errors.New("invalid transition")
)
