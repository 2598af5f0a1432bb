package chores

import (
	"context"

	"github.com/google/uuid"
)

// ChoreRepository persists chores. Creating a second live (non-obsolete)
// chore for the same (kind, paper) key must fail with ErrChoreConflict; the
// storage layer backs this with a partial unique index.
type ChoreRepository interface {
	// CreateChore persists a new chore, failing with ErrChoreConflict when a
	// live chore for the same key exists.
	CreateChore(ctx context.Context, chore *Chore) error

	// GetChore loads one chore without locking.
	GetChore(ctx context.Context, id uuid.UUID) (*Chore, error)

	// LockChore loads one chore with a row-level update lock.
	LockChore(ctx context.Context, id uuid.UUID) (*Chore, error)

	// GetChoreByJob loads the chore owning a runner job handle.
	GetChoreByJob(ctx context.Context, jobID uuid.UUID) (*Chore, error)

	// FindLiveChore returns the non-obsolete chore for a (kind, paper) key,
	// or ErrChoreNotFound.
	FindLiveChore(ctx context.Context, kind ChoreKind, paper int) (*Chore, error)

	// ListLiveChores returns every non-obsolete, non-terminal chore.
	ListLiveChores(ctx context.Context) ([]*Chore, error)

	// UpdateChore persists a changed chore.
	UpdateChore(ctx context.Context, chore *Chore) error
}
