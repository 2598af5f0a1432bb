package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/internal/domain/work"
	"github.com/markflow/markflow/internal/infra/storage"
)

// isUniqueViolation reports whether err is a unique constraint violation on
// the named index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

var _ work.TaskRepository = (*TaskStore)(nil)

// TaskStore provides a PostgreSQL implementation of work.TaskRepository.
// Claim ordering uses FOR UPDATE SKIP LOCKED so concurrent claimers never
// contend for the same row, and the cross-task identifier uniqueness rule is
// backed by a partial unique index on valid identification actions.
type TaskStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewTaskStore creates a PostgreSQL-backed task store.
func NewTaskStore(pool *pgxpool.Pool, tracer trace.Tracer) *TaskStore {
	return &TaskStore{pool: pool, tracer: tracer}
}

const taskColumns = `id, kind, paper_number, question_index, version, status, priority,
	assigned_to, latest_action_id, started_at, completed_at, last_update`

func scanTask(row pgx.Row) (*work.Task, error) {
	var (
		id             uuid.UUID
		kindStr        string
		paper          int
		question       int
		version        int
		statusStr      string
		priority       int32
		assignedTo     string
		latestActionID *uuid.UUID
		startedAt      time.Time
		completedAt    *time.Time
		lastUpdate     time.Time
	)
	if err := row.Scan(&id, &kindStr, &paper, &question, &version, &statusStr, &priority,
		&assignedTo, &latestActionID, &startedAt, &completedAt, &lastUpdate); err != nil {
		return nil, err
	}
	kind, err := work.ParseTaskKind(kindStr)
	if err != nil {
		return nil, err
	}
	status, err := work.ParseTaskStatus(statusStr)
	if err != nil {
		return nil, err
	}
	var completed time.Time
	if completedAt != nil {
		completed = *completedAt
	}
	timeline := shared.ReconstructTimeline(startedAt, completed, lastUpdate)
	return work.ReconstructTask(id, kind, paper, question, version, status, priority,
		assignedTo, latestActionID, timeline), nil
}

// completedAtParam converts a timeline's completion time to a nullable column
// value.
func completedAtParam(timeline *shared.Timeline) *time.Time {
	if !timeline.IsCompleted() {
		return nil
	}
	t := timeline.CompletedAt()
	return &t
}

// CreateTasks bulk-creates tasks in one UNNEST statement.
func (s *TaskStore) CreateTasks(ctx context.Context, tasks []*work.Task) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int("task_count", len(tasks)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_tasks", dbAttrs, func(ctx context.Context) error {
		if len(tasks) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		ids := make([]uuid.UUID, len(tasks))
		kinds := make([]string, len(tasks))
		pprs := make([]int32, len(tasks))
		questions := make([]int32, len(tasks))
		vers := make([]int32, len(tasks))
		statuses := make([]string, len(tasks))
		priorities := make([]int32, len(tasks))
		assigned := make([]string, len(tasks))
		startedAts := make([]time.Time, len(tasks))
		lastUpdates := make([]time.Time, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID()
			kinds[i] = t.Kind().String()
			pprs[i] = int32(t.PaperNumber())
			questions[i] = int32(t.QuestionIndex())
			vers[i] = int32(t.Version())
			statuses[i] = t.Status().String()
			priorities[i] = t.Priority()
			assigned[i] = t.AssignedTo()
			startedAts[i] = t.Timeline().StartedAt()
			lastUpdates[i] = t.Timeline().LastUpdate()
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO tasks (id, kind, paper_number, question_index, version, status, priority,
			                   assigned_to, started_at, last_update)
			SELECT * FROM unnest($1::uuid[], $2::task_kind[], $3::int[], $4::int[], $5::int[],
			                     $6::task_status[], $7::int[], $8::text[], $9::timestamptz[], $10::timestamptz[])`,
			ids, kinds, pprs, questions, vers, statuses, priorities, assigned, startedAts, lastUpdates); err != nil {
			return fmt.Errorf("failed to create tasks: %w", err)
		}
		return nil
	})
}

func (s *TaskStore) getTask(ctx context.Context, spanName string, id uuid.UUID, suffix string) (*work.Task, error) {
	var task *work.Task
	dbAttrs := append(defaultDBAttributes, attribute.String("task_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, spanName, dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		t, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`+suffix, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return work.ErrTaskNotFound
			}
			return fmt.Errorf("failed to load task: %w", err)
		}
		task = t
		return nil
	})
	return task, err
}

// GetTask loads one task without locking.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*work.Task, error) {
	return s.getTask(ctx, "postgres.get_task", id, "")
}

// LockTask loads one task with a row-level update lock.
func (s *TaskStore) LockTask(ctx context.Context, id uuid.UUID) (*work.Task, error) {
	return s.getTask(ctx, "postgres.lock_task", id, " FOR UPDATE")
}

// UpdateTask persists a changed task.
func (s *TaskStore) UpdateTask(ctx context.Context, task *work.Task) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("task_id", task.ID().String()),
		attribute.String("status", task.Status().String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_task", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		tag, err := q.Exec(ctx, `
			UPDATE tasks
			SET status = $2, priority = $3, assigned_to = $4, latest_action_id = $5,
			    completed_at = $6, last_update = $7
			WHERE id = $1`,
			task.ID(), task.Status().String(), task.Priority(), task.AssignedTo(),
			task.LatestActionID(), completedAtParam(task.Timeline()), task.Timeline().LastUpdate())
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return work.ErrTaskNotFound
		}
		return nil
	})
}

// NextToDo returns the most eligible TO_DO task of a kind: highest priority
// first, ties broken by ascending paper number. Rows locked by concurrent
// claimers are skipped.
func (s *TaskStore) NextToDo(ctx context.Context, kind work.TaskKind) (*work.Task, error) {
	var task *work.Task
	dbAttrs := append(defaultDBAttributes, attribute.String("kind", kind.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.next_to_do", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		t, err := scanTask(q.QueryRow(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE kind = $1 AND status = 'TO_DO'
			ORDER BY priority DESC, paper_number ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, kind.String()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return work.ErrNoTasksAvailable
			}
			return fmt.Errorf("failed to pick next task: %w", err)
		}
		task = t
		return nil
	})
	return task, err
}

// FindLiveTask returns the current (non-retired) task for a
// (kind, paper, question) key.
func (s *TaskStore) FindLiveTask(ctx context.Context, kind work.TaskKind, paper, question int) (*work.Task, error) {
	var task *work.Task
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("kind", kind.String()),
		attribute.Int("paper_number", paper),
		attribute.Int("question_index", question),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_live_task", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		t, err := scanTask(q.QueryRow(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE kind = $1 AND paper_number = $2 AND question_index = $3
			  AND status <> 'OUT_OF_DATE'
			LIMIT 1`, kind.String(), paper, question))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return work.ErrTaskNotFound
			}
			return fmt.Errorf("failed to find live task: %w", err)
		}
		task = t
		return nil
	})
	return task, err
}

// CreateAction persists a new action record. The partial unique index on
// valid identifiers converts a duplicate into work.ErrDuplicateIdentifier.
func (s *TaskStore) CreateAction(ctx context.Context, action *work.Action) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("action_id", action.ID().String()),
		attribute.String("task_id", action.TaskID().String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_action", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		_, err := q.Exec(ctx, `
			INSERT INTO actions (id, task_id, author, identifier, payload, valid, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			action.ID(), action.TaskID(), action.Author(), action.Identifier(),
			[]byte(action.Payload()), action.Valid(), action.CreatedAt())
		if err != nil {
			if isUniqueViolation(err, "actions_identifier_unique") {
				return work.ErrDuplicateIdentifier
			}
			return fmt.Errorf("failed to create action: %w", err)
		}
		return nil
	})
}

// GetAction loads one action.
func (s *TaskStore) GetAction(ctx context.Context, id uuid.UUID) (*work.Action, error) {
	var action *work.Action
	dbAttrs := append(defaultDBAttributes, attribute.String("action_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_action", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)

		var (
			actionID, taskID   uuid.UUID
			author, identifier string
			payload            []byte
			valid              bool
			createdAt          time.Time
		)
		err := q.QueryRow(ctx, `
			SELECT id, task_id, author, identifier, payload, valid, created_at
			FROM actions WHERE id = $1`, id,
		).Scan(&actionID, &taskID, &author, &identifier, &payload, &valid, &createdAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return work.ErrTaskNotFound
			}
			return fmt.Errorf("failed to load action: %w", err)
		}
		action = work.ReconstructAction(actionID, taskID, author, identifier, json.RawMessage(payload), valid, createdAt)
		return nil
	})
	return action, err
}

// InvalidateAction marks an action invalid without deleting it.
func (s *TaskStore) InvalidateAction(ctx context.Context, id uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("action_id", id.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.invalidate_action", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		tag, err := q.Exec(ctx, `UPDATE actions SET valid = FALSE WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to invalidate action: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return work.ErrTaskNotFound
		}
		return nil
	})
}

// IdentifierInUse reports whether a non-blank identifier is named by a valid
// action on another task.
func (s *TaskStore) IdentifierInUse(ctx context.Context, identifier string, excludeTask uuid.UUID) (bool, error) {
	if identifier == "" {
		return false, nil
	}
	var inUse bool
	dbAttrs := append(defaultDBAttributes, attribute.String("exclude_task", excludeTask.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.identifier_in_use", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		if err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM actions
				WHERE valid AND identifier = $1 AND task_id <> $2
			)`, identifier, excludeTask).Scan(&inUse); err != nil {
			return fmt.Errorf("failed to check identifier use: %w", err)
		}
		return nil
	})
	return inUse, err
}
