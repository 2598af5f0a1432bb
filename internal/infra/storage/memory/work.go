package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/work"
)

// TaskStore implements work.TaskRepository in memory.
type TaskStore struct{ db *DB }

// NewTaskStore creates a TaskStore over the shared database.
func NewTaskStore(db *DB) *TaskStore { return &TaskStore{db: db} }

var _ work.TaskRepository = (*TaskStore)(nil)

func (s *TaskStore) CreateTasks(ctx context.Context, tasks []*work.Task) error {
	defer s.db.lock(ctx)()
	for _, t := range tasks {
		s.db.tasks[t.ID()] = cloneTask(t)
	}
	return nil
}

func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*work.Task, error) {
	defer s.db.lock(ctx)()
	t, ok := s.db.tasks[id]
	if !ok {
		return nil, work.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *TaskStore) LockTask(ctx context.Context, id uuid.UUID) (*work.Task, error) {
	return s.GetTask(ctx, id)
}

func (s *TaskStore) UpdateTask(ctx context.Context, task *work.Task) error {
	defer s.db.lock(ctx)()
	if _, ok := s.db.tasks[task.ID()]; !ok {
		return work.ErrTaskNotFound
	}
	s.db.tasks[task.ID()] = cloneTask(task)
	return nil
}

func (s *TaskStore) NextToDo(ctx context.Context, kind work.TaskKind) (*work.Task, error) {
	defer s.db.lock(ctx)()
	var candidates []*work.Task
	for _, t := range s.db.tasks {
		if t.Kind() == kind && t.Status() == work.TaskStatusToDo {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, work.ErrNoTasksAvailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority() != candidates[j].Priority() {
			return candidates[i].Priority() > candidates[j].Priority()
		}
		return candidates[i].PaperNumber() < candidates[j].PaperNumber()
	})
	return cloneTask(candidates[0]), nil
}

func (s *TaskStore) FindLiveTask(ctx context.Context, kind work.TaskKind, paper, question int) (*work.Task, error) {
	defer s.db.lock(ctx)()
	for _, t := range s.db.tasks {
		if t.Kind() == kind && t.PaperNumber() == paper && t.QuestionIndex() == question &&
			t.Status() != work.TaskStatusOutOfDate {
			return cloneTask(t), nil
		}
	}
	return nil, work.ErrTaskNotFound
}

func (s *TaskStore) CreateAction(ctx context.Context, action *work.Action) error {
	defer s.db.lock(ctx)()
	s.db.actions[action.ID()] = cloneAction(action)
	return nil
}

func (s *TaskStore) GetAction(ctx context.Context, id uuid.UUID) (*work.Action, error) {
	defer s.db.lock(ctx)()
	a, ok := s.db.actions[id]
	if !ok {
		return nil, work.ErrTaskNotFound
	}
	return cloneAction(a), nil
}

func (s *TaskStore) InvalidateAction(ctx context.Context, id uuid.UUID) error {
	defer s.db.lock(ctx)()
	a, ok := s.db.actions[id]
	if !ok {
		return work.ErrTaskNotFound
	}
	clone := cloneAction(a)
	clone.Invalidate()
	s.db.actions[id] = clone
	return nil
}

func (s *TaskStore) IdentifierInUse(ctx context.Context, identifier string, excludeTask uuid.UUID) (bool, error) {
	defer s.db.lock(ctx)()
	if identifier == "" {
		return false, nil
	}
	for _, a := range s.db.actions {
		if a.Valid() && a.Identifier() == identifier && a.TaskID() != excludeTask {
			return true, nil
		}
	}
	return false, nil
}
