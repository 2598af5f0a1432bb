package work

import (
	"context"

	"github.com/google/uuid"
)

// TaskRepository persists tasks and their actions. Claim and submit paths
// must lock the task row before mutating it; NextToDo must skip rows locked
// by concurrent claimers so two workers never contend for the same task.
type TaskRepository interface {
	// CreateTasks bulk-creates tasks in one round trip.
	CreateTasks(ctx context.Context, tasks []*Task) error

	// GetTask loads one task without locking.
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)

	// LockTask loads one task with a row-level update lock.
	LockTask(ctx context.Context, id uuid.UUID) (*Task, error)

	// UpdateTask persists a changed task.
	UpdateTask(ctx context.Context, task *Task) error

	// NextToDo returns the most eligible TO_DO task of a kind: highest
	// priority first, ties broken by ascending paper number. Rows locked by
	// concurrent transactions are skipped. Returns ErrNoTasksAvailable when
	// the pool is empty.
	NextToDo(ctx context.Context, kind TaskKind) (*Task, error)

	// FindLiveTask returns the current (non-OUT_OF_DATE) task for a
	// (kind, paper, question) key, or ErrTaskNotFound.
	FindLiveTask(ctx context.Context, kind TaskKind, paper, question int) (*Task, error)

	// CreateAction persists a new action record.
	CreateAction(ctx context.Context, action *Action) error

	// GetAction loads one action.
	GetAction(ctx context.Context, id uuid.UUID) (*Action, error)

	// InvalidateAction marks an action invalid without deleting it.
	InvalidateAction(ctx context.Context, id uuid.UUID) error

	// IdentifierInUse reports whether a non-blank subject identifier is
	// already named by a valid identification action on another task.
	IdentifierInUse(ctx context.Context, identifier string, excludeTask uuid.UUID) (bool, error)
}
