// Package registry provides the process-local, thread-safe stores the
// runtime coordinates through: agents, skills, delegations, authority
// grants, pending plans, and retry counters.
package registry

import "errors"

// Common registry errors.
var (
	// ErrNotFound is returned when a keyed entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidTransition is returned when a status update would move
	// backward through a state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)
