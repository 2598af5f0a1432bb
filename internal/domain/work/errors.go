package work

import "errors"

var (
	// ErrAlreadyClaimed is returned when claiming a task held by another
	// worker.
	ErrAlreadyClaimed = errors.New("task already claimed by another worker")

	// ErrAlreadyComplete is returned when claiming a completed task.
	ErrAlreadyComplete = errors.New("task already complete")

	// ErrTaskOutdated is returned when operating on a retired task.
	ErrTaskOutdated = errors.New("task is out of date")

	// ErrNotYours is returned when a result is submitted by an identity
	// that does not hold the claim.
	ErrNotYours = errors.New("task claimed by a different worker")

	// ErrDuplicateIdentifier is returned when a submitted identification
	// names a non-blank subject identifier already used by another valid
	// identification action.
	ErrDuplicateIdentifier = errors.New("identifier already used by another paper")

	// ErrTaskNotFound is returned for operations naming an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoTasksAvailable is returned when no TO_DO task of the requested
	// kind exists.
	ErrNoTasksAvailable = errors.New("no tasks available")
)
