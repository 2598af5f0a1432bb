package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/internal/infra/storage"
)

var _ chores.ChoreRepository = (*ChoreStore)(nil)

// ChoreStore provides a PostgreSQL implementation of chores.ChoreRepository.
// The one-live-chore-per-key rule is backed by a partial unique index over
// non-obsolete rows.
type ChoreStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewChoreStore creates a PostgreSQL-backed chore store.
func NewChoreStore(pool *pgxpool.Pool, tracer trace.Tracer) *ChoreStore {
	return &ChoreStore{pool: pool, tracer: tracer}
}

const choreColumns = `id, kind, paper_number, status, obsolete, job_handle,
	artifact_path, message, started_at, completed_at, last_update`

func scanChore(row pgx.Row) (*chores.Chore, error) {
	var (
		id           uuid.UUID
		kindStr      string
		paper        int
		statusStr    string
		obsolete     bool
		jobHandle    *uuid.UUID
		artifactPath string
		message      string
		startedAt    time.Time
		completedAt  *time.Time
		lastUpdate   time.Time
	)
	if err := row.Scan(&id, &kindStr, &paper, &statusStr, &obsolete, &jobHandle,
		&artifactPath, &message, &startedAt, &completedAt, &lastUpdate); err != nil {
		return nil, err
	}
	kind, err := chores.ParseChoreKind(kindStr)
	if err != nil {
		return nil, err
	}
	var completed time.Time
	if completedAt != nil {
		completed = *completedAt
	}
	timeline := shared.ReconstructTimeline(startedAt, completed, lastUpdate)
	return chores.ReconstructChore(id, kind, paper, chores.ParseChoreStatus(statusStr),
		obsolete, jobHandle, artifactPath, message, timeline), nil
}

// CreateChore persists a new chore. The partial unique index over live rows
// converts a second live chore for the same key into ErrChoreConflict.
func (s *ChoreStore) CreateChore(ctx context.Context, chore *chores.Chore) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("chore_id", chore.ID().String()),
		attribute.String("kind", chore.Kind().String()),
		attribute.Int("paper_number", chore.PaperNumber()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_chore", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		_, err := q.Exec(ctx, `
			INSERT INTO chores (id, kind, paper_number, status, obsolete, job_handle,
			                    artifact_path, message, started_at, last_update)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			chore.ID(), chore.Kind().String(), chore.PaperNumber(), chore.Status().String(),
			chore.Obsolete(), chore.JobHandle(), chore.ArtifactPath(), chore.Message(),
			chore.Timeline().StartedAt(), chore.Timeline().LastUpdate())
		if err != nil {
			if isUniqueViolation(err, "chores_live_key") {
				return chores.ErrChoreConflict
			}
			return fmt.Errorf("failed to create chore: %w", err)
		}
		return nil
	})
}

func (s *ChoreStore) getChore(ctx context.Context, spanName, where, suffix string, arg any) (*chores.Chore, error) {
	var chore *chores.Chore
	err := storage.ExecuteAndTrace(ctx, s.tracer, spanName, defaultDBAttributes, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		c, err := scanChore(q.QueryRow(ctx, `SELECT `+choreColumns+` FROM chores WHERE `+where+suffix, arg))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return chores.ErrChoreNotFound
			}
			return fmt.Errorf("failed to load chore: %w", err)
		}
		chore = c
		return nil
	})
	return chore, err
}

// GetChore loads one chore without locking.
func (s *ChoreStore) GetChore(ctx context.Context, id uuid.UUID) (*chores.Chore, error) {
	return s.getChore(ctx, "postgres.get_chore", "id = $1", "", id)
}

// LockChore loads one chore with a row-level update lock.
func (s *ChoreStore) LockChore(ctx context.Context, id uuid.UUID) (*chores.Chore, error) {
	return s.getChore(ctx, "postgres.lock_chore", "id = $1", " FOR UPDATE", id)
}

// GetChoreByJob loads the chore owning a runner job handle.
func (s *ChoreStore) GetChoreByJob(ctx context.Context, jobID uuid.UUID) (*chores.Chore, error) {
	return s.getChore(ctx, "postgres.get_chore_by_job", "job_handle = $1", "", jobID)
}

// FindLiveChore returns the non-obsolete chore for a (kind, paper) key.
func (s *ChoreStore) FindLiveChore(ctx context.Context, kind chores.ChoreKind, paper int) (*chores.Chore, error) {
	var chore *chores.Chore
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("kind", kind.String()),
		attribute.Int("paper_number", paper),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_live_chore", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		c, err := scanChore(q.QueryRow(ctx, `
			SELECT `+choreColumns+`
			FROM chores
			WHERE kind = $1 AND paper_number = $2 AND NOT obsolete`, kind.String(), paper))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return chores.ErrChoreNotFound
			}
			return fmt.Errorf("failed to find live chore: %w", err)
		}
		chore = c
		return nil
	})
	return chore, err
}

// ListLiveChores returns every non-obsolete chore that has not reached a
// terminal status.
func (s *ChoreStore) ListLiveChores(ctx context.Context) ([]*chores.Chore, error) {
	var out []*chores.Chore
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_live_chores", defaultDBAttributes, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		rows, err := q.Query(ctx, `
			SELECT `+choreColumns+`
			FROM chores
			WHERE NOT obsolete AND status NOT IN ('COMPLETE', 'ERROR')
			ORDER BY started_at`)
		if err != nil {
			return fmt.Errorf("failed to list live chores: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanChore(rows)
			if err != nil {
				return fmt.Errorf("failed to scan chore: %w", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateChore persists a changed chore.
func (s *ChoreStore) UpdateChore(ctx context.Context, chore *chores.Chore) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("chore_id", chore.ID().String()),
		attribute.String("status", chore.Status().String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_chore", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		tag, err := q.Exec(ctx, `
			UPDATE chores
			SET status = $2, obsolete = $3, job_handle = $4, artifact_path = $5,
			    message = $6, completed_at = $7, last_update = $8
			WHERE id = $1`,
			chore.ID(), chore.Status().String(), chore.Obsolete(), chore.JobHandle(),
			chore.ArtifactPath(), chore.Message(), completedAtParam(chore.Timeline()),
			chore.Timeline().LastUpdate())
		if err != nil {
			return fmt.Errorf("failed to update chore: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return chores.ErrChoreNotFound
		}
		return nil
	})
}
