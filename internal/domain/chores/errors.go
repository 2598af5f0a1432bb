package chores

import "errors"

var (
	// ErrChoreConflict is returned when a live chore already exists for the
	// same (kind, paper) key.
	ErrChoreConflict = errors.New("a live chore already exists for this key")

	// ErrChoreNotFound is returned for operations naming an unknown chore.
	ErrChoreNotFound = errors.New("chore not found")

	// ErrJobNotFound is returned by the runner for an unknown job handle.
	ErrJobNotFound = errors.New("job not found")

	// ErrTimedOut is returned when waiting on in-flight jobs exceeds the
	// caller's deadline.
	ErrTimedOut = errors.New("timed out waiting for jobs to finish")
)
