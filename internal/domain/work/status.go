package work

import (
	"errors"
	"fmt"
)

// TaskStatus represents the lifecycle state of an identification or marking
// task. The Int32 values are stable wire values inspected by clients; do not
// reorder them.
type TaskStatus string

// ErrTaskStatusUnknown is returned when a task status is unknown.
var ErrTaskStatusUnknown = errors.New("task status unknown")

const (
	// TaskStatusUnspecified indicates an unknown or initial status.
	TaskStatusUnspecified TaskStatus = "UNSPECIFIED"

	// TaskStatusToDo indicates a task is ready to be claimed.
	TaskStatusToDo TaskStatus = "TO_DO"

	// TaskStatusOut indicates a task is claimed by a worker.
	TaskStatusOut TaskStatus = "OUT"

	// TaskStatusComplete indicates the claiming worker submitted a result.
	TaskStatusComplete TaskStatus = "COMPLETE"

	// TaskStatusOutOfDate indicates the underlying pages changed and this
	// task instance is retired. Terminal: a fresh task is created if the
	// pages are still (or newly) ready.
	TaskStatusOutOfDate TaskStatus = "OUT_OF_DATE"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// Int32 returns the stable wire value of the status.
func (s TaskStatus) Int32() int32 {
	switch s {
	case TaskStatusToDo:
		return 0
	case TaskStatusOut:
		return 1
	case TaskStatusComplete:
		return 2
	case TaskStatusOutOfDate:
		return 3
	default:
		return -1
	}
}

// TaskStatusFromInt32 creates a TaskStatus from its wire value.
func TaskStatusFromInt32(i int32) TaskStatus {
	switch i {
	case 0:
		return TaskStatusToDo
	case 1:
		return TaskStatusOut
	case 2:
		return TaskStatusComplete
	case 3:
		return TaskStatusOutOfDate
	default:
		return TaskStatusUnspecified
	}
}

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch s {
	case "TO_DO":
		return TaskStatusToDo, nil
	case "OUT":
		return TaskStatusOut, nil
	case "COMPLETE":
		return TaskStatusComplete, nil
	case "OUT_OF_DATE":
		return TaskStatusOutOfDate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrTaskStatusUnknown, s)
	}
}

// validateTransition checks if a status transition is valid and returns an
// error if not.
func (s TaskStatus) validateTransition(target TaskStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid task status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the
// target status. OUT_OF_DATE is reachable from every live state, because
// page changes invalidate a task no matter where it is in its lifecycle.
func (s TaskStatus) isValidTransition(target TaskStatus) bool {
	switch s {
	case TaskStatusToDo:
		return target == TaskStatusOut || target == TaskStatusOutOfDate
	case TaskStatusOut:
		// A claim can be surrendered, completed, or invalidated.
		return target == TaskStatusToDo || target == TaskStatusComplete || target == TaskStatusOutOfDate
	case TaskStatusComplete:
		return target == TaskStatusOutOfDate
	case TaskStatusOutOfDate:
		// Terminal for this task instance.
		return false
	default:
		return false
	}
}
