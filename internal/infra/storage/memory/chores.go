package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/chores"
)

// ChoreStore implements chores.ChoreRepository in memory.
type ChoreStore struct{ db *DB }

// NewChoreStore creates a ChoreStore over the shared database.
func NewChoreStore(db *DB) *ChoreStore { return &ChoreStore{db: db} }

var _ chores.ChoreRepository = (*ChoreStore)(nil)

func (s *ChoreStore) CreateChore(ctx context.Context, chore *chores.Chore) error {
	defer s.db.lock(ctx)()
	if !chore.Obsolete() {
		for _, existing := range s.db.chores {
			if !existing.Obsolete() && existing.Kind() == chore.Kind() &&
				existing.PaperNumber() == chore.PaperNumber() {
				return chores.ErrChoreConflict
			}
		}
	}
	s.db.chores[chore.ID()] = cloneChore(chore)
	return nil
}

func (s *ChoreStore) GetChore(ctx context.Context, id uuid.UUID) (*chores.Chore, error) {
	defer s.db.lock(ctx)()
	c, ok := s.db.chores[id]
	if !ok {
		return nil, chores.ErrChoreNotFound
	}
	return cloneChore(c), nil
}

func (s *ChoreStore) LockChore(ctx context.Context, id uuid.UUID) (*chores.Chore, error) {
	return s.GetChore(ctx, id)
}

func (s *ChoreStore) GetChoreByJob(ctx context.Context, jobID uuid.UUID) (*chores.Chore, error) {
	defer s.db.lock(ctx)()
	for _, c := range s.db.chores {
		if c.JobHandle() != nil && *c.JobHandle() == jobID {
			return cloneChore(c), nil
		}
	}
	return nil, chores.ErrChoreNotFound
}

func (s *ChoreStore) FindLiveChore(ctx context.Context, kind chores.ChoreKind, paper int) (*chores.Chore, error) {
	defer s.db.lock(ctx)()
	for _, c := range s.db.chores {
		if !c.Obsolete() && c.Kind() == kind && c.PaperNumber() == paper {
			return cloneChore(c), nil
		}
	}
	return nil, chores.ErrChoreNotFound
}

func (s *ChoreStore) ListLiveChores(ctx context.Context) ([]*chores.Chore, error) {
	defer s.db.lock(ctx)()
	var out []*chores.Chore
	for _, c := range s.db.chores {
		if !c.Obsolete() && !c.Status().IsTerminal() {
			out = append(out, cloneChore(c))
		}
	}
	return out, nil
}

func (s *ChoreStore) UpdateChore(ctx context.Context, chore *chores.Chore) error {
	defer s.db.lock(ctx)()
	if _, ok := s.db.chores[chore.ID()]; !ok {
		return chores.ErrChoreNotFound
	}
	s.db.chores[chore.ID()] = cloneChore(chore)
	return nil
}
