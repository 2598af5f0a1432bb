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

	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/infra/storage"
)

var _ papers.PageRepository = (*PageStore)(nil)

// PageStore provides a PostgreSQL implementation of papers.PageRepository.
// Fixed page locks are row-level FOR UPDATE locks taken in (paper, page)
// order so concurrent pushes cannot deadlock on each other.
type PageStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewPageStore creates a PostgreSQL-backed page store.
func NewPageStore(pool *pgxpool.Pool, tracer trace.Tracer) *PageStore {
	return &PageStore{pool: pool, tracer: tracer}
}

const fixedPageColumns = `id, paper_number, page_number, page_type, question_index, version, image_id`

func scanFixedPage(row pgx.Row) (*papers.FixedPage, error) {
	var (
		id          uuid.UUID
		paper, page int
		pageTypeStr string
		question    int
		version     int
		imageID     *uuid.UUID
	)
	if err := row.Scan(&id, &paper, &page, &pageTypeStr, &question, &version, &imageID); err != nil {
		return nil, err
	}
	pageType, err := papers.ParsePageType(pageTypeStr)
	if err != nil {
		return nil, err
	}
	return papers.ReconstructFixedPage(id, paper, page, pageType, question, version, imageID), nil
}

// LockFixedPages loads the named positions FOR UPDATE in deterministic order.
// A position the paper set does not define fails the whole load with
// papers.ErrPageNotFound.
func (s *PageStore) LockFixedPages(ctx context.Context, refs []papers.PageRef) ([]*papers.FixedPage, error) {
	var pages []*papers.FixedPage
	dbAttrs := append(defaultDBAttributes, attribute.Int("page_count", len(refs)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.lock_fixed_pages", dbAttrs, func(ctx context.Context) error {
		if len(refs) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		seen := make(map[papers.PageRef]bool, len(refs))
		pprs := make([]int32, 0, len(refs))
		pgs := make([]int32, 0, len(refs))
		for _, ref := range refs {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			pprs = append(pprs, int32(ref.Paper))
			pgs = append(pgs, int32(ref.Page))
		}

		rows, err := q.Query(ctx, `
			SELECT `+fixedPageColumns+`
			FROM fixed_pages
			WHERE (paper_number, page_number) IN (
				SELECT * FROM unnest($1::int[], $2::int[])
			)
			ORDER BY paper_number, page_number
			FOR UPDATE`, pprs, pgs)
		if err != nil {
			return fmt.Errorf("failed to lock fixed pages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanFixedPage(rows)
			if err != nil {
				return fmt.Errorf("failed to scan fixed page: %w", err)
			}
			pages = append(pages, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read fixed pages: %w", err)
		}
		if len(pages) != len(seen) {
			return fmt.Errorf("%w: %d of %d positions exist", papers.ErrPageNotFound, len(pages), len(seen))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

func (s *PageStore) getFixedPage(ctx context.Context, spanName string, paper, page int, forUpdate bool) (*papers.FixedPage, error) {
	var fp *papers.FixedPage
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("paper_number", paper),
		attribute.Int("page_number", page),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, spanName, dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		query := `SELECT ` + fixedPageColumns + ` FROM fixed_pages WHERE paper_number = $1 AND page_number = $2`
		if forUpdate {
			query += ` FOR UPDATE`
		}
		p, err := scanFixedPage(q.QueryRow(ctx, query, paper, page))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, paper, page)
			}
			return fmt.Errorf("failed to load fixed page: %w", err)
		}
		fp = p
		return nil
	})
	return fp, err
}

// GetFixedPage loads one position without locking.
func (s *PageStore) GetFixedPage(ctx context.Context, paper, page int) (*papers.FixedPage, error) {
	return s.getFixedPage(ctx, "postgres.get_fixed_page", paper, page, false)
}

// LockFixedPage loads one position with a row-level update lock.
func (s *PageStore) LockFixedPage(ctx context.Context, paper, page int) (*papers.FixedPage, error) {
	return s.getFixedPage(ctx, "postgres.lock_fixed_page", paper, page, true)
}

// AttachImages points fixed pages at images in one statement. A shortfall in
// affected rows means a position was imaged (or vanished) between the
// collision check and the write, which the serialized lock should prevent.
func (s *PageStore) AttachImages(ctx context.Context, attaches []papers.ImageAttach) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int("attach_count", len(attaches)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.attach_images", dbAttrs, func(ctx context.Context) error {
		if len(attaches) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		pprs := make([]int32, len(attaches))
		pgs := make([]int32, len(attaches))
		imgs := make([]uuid.UUID, len(attaches))
		for i, att := range attaches {
			pprs[i] = int32(att.Ref.Paper)
			pgs[i] = int32(att.Ref.Page)
			imgs[i] = att.ImageID
		}

		tag, err := q.Exec(ctx, `
			UPDATE fixed_pages f
			SET image_id = a.image_id
			FROM unnest($1::int[], $2::int[], $3::uuid[]) AS a(paper_number, page_number, image_id)
			WHERE f.paper_number = a.paper_number
			  AND f.page_number = a.page_number
			  AND f.image_id IS NULL`, pprs, pgs, imgs)
		if err != nil {
			return fmt.Errorf("failed to attach images: %w", err)
		}
		if int(tag.RowsAffected()) != len(attaches) {
			return fmt.Errorf("%w: attached %d of %d", papers.ErrAlreadyImaged, tag.RowsAffected(), len(attaches))
		}
		return nil
	})
}

// UpdateFixedPageImage persists a changed image pointer for one page.
func (s *PageStore) UpdateFixedPageImage(ctx context.Context, page *papers.FixedPage) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("paper_number", page.PaperNumber()),
		attribute.Int("page_number", page.PageNumber()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_fixed_page_image", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		tag, err := q.Exec(ctx, `
			UPDATE fixed_pages SET image_id = $3
			WHERE paper_number = $1 AND page_number = $2`,
			page.PaperNumber(), page.PageNumber(), page.ImageID())
		if err != nil {
			return fmt.Errorf("failed to update fixed page image: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, page.PaperNumber(), page.PageNumber())
		}
		return nil
	})
}

// CreateMobilePages bulk-creates mobile page rows.
func (s *PageStore) CreateMobilePages(ctx context.Context, pages []*papers.MobilePage) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int("page_count", len(pages)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_mobile_pages", dbAttrs, func(ctx context.Context) error {
		if len(pages) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		ids := make([]uuid.UUID, len(pages))
		pprs := make([]int32, len(pages))
		questions := make([]int32, len(pages))
		vers := make([]int32, len(pages))
		imgs := make([]uuid.UUID, len(pages))
		createdAts := make([]time.Time, len(pages))
		for i, p := range pages {
			ids[i] = p.ID()
			pprs[i] = int32(p.PaperNumber())
			questions[i] = int32(p.QuestionIndex())
			vers[i] = int32(p.Version())
			imgs[i] = p.ImageID()
			createdAts[i] = p.CreatedAt()
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO mobile_pages (id, paper_number, question_index, version, image_id, created_at)
			SELECT * FROM unnest($1::uuid[], $2::int[], $3::int[], $4::int[], $5::uuid[], $6::timestamptz[])`,
			ids, pprs, questions, vers, imgs, createdAts); err != nil {
			return fmt.Errorf("failed to create mobile pages: %w", err)
		}
		return nil
	})
}

func scanMobilePage(row pgx.Row) (*papers.MobilePage, error) {
	var (
		id, imageID     uuid.UUID
		paper, question int
		version         int
		createdAt       time.Time
	)
	if err := row.Scan(&id, &paper, &question, &version, &imageID, &createdAt); err != nil {
		return nil, err
	}
	return papers.ReconstructMobilePage(id, paper, question, version, imageID, createdAt), nil
}

// GetMobilePage loads one mobile page.
func (s *PageStore) GetMobilePage(ctx context.Context, id uuid.UUID) (*papers.MobilePage, error) {
	var page *papers.MobilePage
	dbAttrs := append(defaultDBAttributes, attribute.String("mobile_page_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_mobile_page", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		p, err := scanMobilePage(q.QueryRow(ctx, `
			SELECT id, paper_number, question_index, version, image_id, created_at
			FROM mobile_pages WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return papers.ErrMobilePageNotFound
			}
			return fmt.Errorf("failed to load mobile page: %w", err)
		}
		page = p
		return nil
	})
	return page, err
}

// ListMobilePagesByImage returns every mobile page referencing an image.
func (s *PageStore) ListMobilePagesByImage(ctx context.Context, imageID uuid.UUID) ([]*papers.MobilePage, error) {
	var pages []*papers.MobilePage
	dbAttrs := append(defaultDBAttributes, attribute.String("image_id", imageID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_mobile_pages_by_image", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		rows, err := q.Query(ctx, `
			SELECT id, paper_number, question_index, version, image_id, created_at
			FROM mobile_pages WHERE image_id = $1
			ORDER BY question_index`, imageID)
		if err != nil {
			return fmt.Errorf("failed to list mobile pages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanMobilePage(rows)
			if err != nil {
				return fmt.Errorf("failed to scan mobile page: %w", err)
			}
			pages = append(pages, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// DeleteMobilePages removes mobile page rows by id.
func (s *PageStore) DeleteMobilePages(ctx context.Context, ids []uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int("page_count", len(ids)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_mobile_pages", dbAttrs, func(ctx context.Context) error {
		if len(ids) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)
		if _, err := q.Exec(ctx, `DELETE FROM mobile_pages WHERE id = ANY($1::uuid[])`, ids); err != nil {
			return fmt.Errorf("failed to delete mobile pages: %w", err)
		}
		return nil
	})
}

// CreateDiscardPages bulk-creates discard records.
func (s *PageStore) CreateDiscardPages(ctx context.Context, pages []*papers.DiscardPage) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int("page_count", len(pages)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_discard_pages", dbAttrs, func(ctx context.Context) error {
		if len(pages) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		ids := make([]uuid.UUID, len(pages))
		imgs := make([]uuid.UUID, len(pages))
		reasons := make([]string, len(pages))
		createdAts := make([]time.Time, len(pages))
		for i, d := range pages {
			ids[i] = d.ID()
			imgs[i] = d.ImageID()
			reasons[i] = d.Reason()
			createdAts[i] = d.CreatedAt()
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO discard_pages (id, image_id, reason, created_at)
			SELECT * FROM unnest($1::uuid[], $2::uuid[], $3::text[], $4::timestamptz[])`,
			ids, imgs, reasons, createdAts); err != nil {
			return fmt.Errorf("failed to create discard pages: %w", err)
		}
		return nil
	})
}

// GetDiscardPage loads one discard record.
func (s *PageStore) GetDiscardPage(ctx context.Context, id uuid.UUID) (*papers.DiscardPage, error) {
	var page *papers.DiscardPage
	dbAttrs := append(defaultDBAttributes, attribute.String("discard_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_discard_page", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)

		var (
			discardID, imageID uuid.UUID
			reason             string
			createdAt          time.Time
		)
		err := q.QueryRow(ctx, `
			SELECT id, image_id, reason, created_at FROM discard_pages WHERE id = $1`, id,
		).Scan(&discardID, &imageID, &reason, &createdAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return papers.ErrDiscardNotFound
			}
			return fmt.Errorf("failed to load discard page: %w", err)
		}
		page = papers.ReconstructDiscardPage(discardID, imageID, reason, createdAt)
		return nil
	})
	return page, err
}

// DeleteDiscardPage removes a discard record. The image it referenced lives
// on in its bundle.
func (s *PageStore) DeleteDiscardPage(ctx context.Context, id uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("discard_id", id.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_discard_page", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		tag, err := q.Exec(ctx, `DELETE FROM discard_pages WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete discard page: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return papers.ErrDiscardNotFound
		}
		return nil
	})
}

// SnapshotPapers loads the page state of the given papers in two queries so
// readiness can be evaluated set-wise across a whole push.
func (s *PageStore) SnapshotPapers(ctx context.Context, paperNumbers []int) ([]papers.PaperSnapshot, error) {
	var snapshots []papers.PaperSnapshot
	dbAttrs := append(defaultDBAttributes, attribute.Int("paper_count", len(paperNumbers)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.snapshot_papers", dbAttrs, func(ctx context.Context) error {
		if len(paperNumbers) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		nums := make([]int32, len(paperNumbers))
		for i, n := range paperNumbers {
			nums[i] = int32(n)
		}

		byPaper := make(map[int]*papers.PaperSnapshot, len(paperNumbers))
		snap := func(paper int) *papers.PaperSnapshot {
			sn, ok := byPaper[paper]
			if !ok {
				sn = &papers.PaperSnapshot{PaperNumber: paper}
				byPaper[paper] = sn
			}
			return sn
		}

		fixedRows, err := q.Query(ctx, `
			SELECT paper_number, page_number, question_index, version, image_id IS NOT NULL
			FROM fixed_pages
			WHERE paper_number = ANY($1::int[])
			ORDER BY paper_number, page_number`, nums)
		if err != nil {
			return fmt.Errorf("failed to snapshot fixed pages: %w", err)
		}
		defer fixedRows.Close()
		for fixedRows.Next() {
			var paper int
			var state papers.FixedPageState
			if err := fixedRows.Scan(&paper, &state.PageNumber, &state.QuestionIndex, &state.Version, &state.HasImage); err != nil {
				return fmt.Errorf("failed to scan fixed page state: %w", err)
			}
			sn := snap(paper)
			sn.Fixed = append(sn.Fixed, state)
		}
		if err := fixedRows.Err(); err != nil {
			return fmt.Errorf("failed to read fixed page states: %w", err)
		}

		mobileRows, err := q.Query(ctx, `
			SELECT paper_number, question_index, version
			FROM mobile_pages
			WHERE paper_number = ANY($1::int[])`, nums)
		if err != nil {
			return fmt.Errorf("failed to snapshot mobile pages: %w", err)
		}
		defer mobileRows.Close()
		for mobileRows.Next() {
			var paper int
			var state papers.MobilePageState
			if err := mobileRows.Scan(&paper, &state.QuestionIndex, &state.Version); err != nil {
				return fmt.Errorf("failed to scan mobile page state: %w", err)
			}
			sn := snap(paper)
			sn.Mobile = append(sn.Mobile, state)
		}
		if err := mobileRows.Err(); err != nil {
			return fmt.Errorf("failed to read mobile page states: %w", err)
		}

		for _, n := range paperNumbers {
			if sn, ok := byPaper[n]; ok {
				snapshots = append(snapshots, *sn)
				delete(byPaper, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}
