package chores

import "fmt"

// ChoreStatus represents the lifecycle state of a background chore.
type ChoreStatus string

const (
	// ChoreStatusUnspecified indicates an unknown or initial status.
	ChoreStatusUnspecified ChoreStatus = "UNSPECIFIED"

	// ChoreStatusStarting indicates the chore row exists but its job has not
	// been handed to the runner yet.
	ChoreStatusStarting ChoreStatus = "STARTING"

	// ChoreStatusQueued indicates the job was submitted and is waiting for a
	// worker.
	ChoreStatusQueued ChoreStatus = "QUEUED"

	// ChoreStatusRunning indicates a worker picked the job up.
	ChoreStatusRunning ChoreStatus = "RUNNING"

	// ChoreStatusComplete indicates the job finished and its artifact (if
	// any) was handled.
	ChoreStatusComplete ChoreStatus = "COMPLETE"

	// ChoreStatusError indicates the job failed or was revoked; the message
	// field explains why.
	ChoreStatusError ChoreStatus = "ERROR"
)

// Int32 returns the stable ordinal for wire and storage use.
func (s ChoreStatus) Int32() int32 {
	switch s {
	case ChoreStatusStarting:
		return 0
	case ChoreStatusQueued:
		return 1
	case ChoreStatusRunning:
		return 2
	case ChoreStatusComplete:
		return 3
	case ChoreStatusError:
		return 4
	default:
		return -1
	}
}

// ChoreStatusFromInt32 converts a stable ordinal back to a ChoreStatus.
func ChoreStatusFromInt32(i int32) ChoreStatus {
	switch i {
	case 0:
		return ChoreStatusStarting
	case 1:
		return ChoreStatusQueued
	case 2:
		return ChoreStatusRunning
	case 3:
		return ChoreStatusComplete
	case 4:
		return ChoreStatusError
	default:
		return ChoreStatusUnspecified
	}
}

// ParseChoreStatus converts a string to a ChoreStatus.
func ParseChoreStatus(s string) ChoreStatus {
	switch s {
	case "STARTING":
		return ChoreStatusStarting
	case "QUEUED":
		return ChoreStatusQueued
	case "RUNNING":
		return ChoreStatusRunning
	case "COMPLETE":
		return ChoreStatusComplete
	case "ERROR":
		return ChoreStatusError
	default:
		return ChoreStatusUnspecified
	}
}

func (s ChoreStatus) String() string { return string(s) }

// validateTransition checks if a status transition is valid.
func (s ChoreStatus) validateTransition(target ChoreStatus) error {
	if s.isValidTransition(target) {
		return nil
	}
	return fmt.Errorf("invalid chore status transition from %s to %s", s, target)
}

// isValidTransition checks transition validity. A QUEUED job can jump
// straight to COMPLETE when a worker reports start and done faster than the
// start notification lands. ERROR is reachable from every live state because
// both failures and revocations produce it.
func (s ChoreStatus) isValidTransition(target ChoreStatus) bool {
	switch s {
	case ChoreStatusStarting:
		return target == ChoreStatusQueued || target == ChoreStatusError
	case ChoreStatusQueued:
		return target == ChoreStatusRunning ||
			target == ChoreStatusComplete ||
			target == ChoreStatusError
	case ChoreStatusRunning:
		return target == ChoreStatusComplete || target == ChoreStatusError
	case ChoreStatusComplete, ChoreStatusError:
		return false
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions can occur.
func (s ChoreStatus) IsTerminal() bool {
	return s == ChoreStatusComplete || s == ChoreStatusError
}
