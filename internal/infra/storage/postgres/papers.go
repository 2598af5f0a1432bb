// Package postgres provides PostgreSQL implementations of the domain
// repositories using hand-written SQL over pgx. Stores join the transaction
// carried by the unit of work when one is in scope.
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

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ papers.PaperRepository = (*PaperStore)(nil)

// PaperStore provides a PostgreSQL implementation of papers.PaperRepository.
type PaperStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewPaperStore creates a PostgreSQL-backed paper store.
func NewPaperStore(pool *pgxpool.Pool, tracer trace.Tracer) *PaperStore {
	return &PaperStore{pool: pool, tracer: tracer}
}

// CreatePaperSet creates the paper rows and their blueprint-defined fixed
// pages in bulk, then flips the assessment to finalized. Fixed pages are
// inserted through one UNNEST statement rather than a per-row loop.
func (s *PaperStore) CreatePaperSet(ctx context.Context, bp *papers.Blueprint, paperNumbers []int, versions map[int]int) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("paper_count", len(paperNumbers)),
		attribute.Int("pages_per_paper", bp.NumPages()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_paper_set", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)

		nums := make([]int32, len(paperNumbers))
		for i, n := range paperNumbers {
			nums[i] = int32(n)
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO papers (paper_number)
			SELECT unnest($1::int[])`, nums); err != nil {
			return fmt.Errorf("failed to create papers: %w", err)
		}

		total := len(paperNumbers) * bp.NumPages()
		ids := make([]uuid.UUID, 0, total)
		pprs := make([]int32, 0, total)
		pages := make([]int32, 0, total)
		types := make([]string, 0, total)
		questions := make([]int32, 0, total)
		vers := make([]int32, 0, total)
		for _, num := range paperNumbers {
			version := versions[num]
			if version == 0 {
				version = 1
			}
			for page := 1; page <= bp.NumPages(); page++ {
				entry, err := bp.Page(page)
				if err != nil {
					return err
				}
				fp := papers.NewFixedPage(num, entry, version)
				ids = append(ids, fp.ID())
				pprs = append(pprs, int32(fp.PaperNumber()))
				pages = append(pages, int32(fp.PageNumber()))
				types = append(types, fp.PageType().String())
				questions = append(questions, int32(fp.QuestionIndex()))
				vers = append(vers, int32(fp.Version()))
			}
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO fixed_pages (id, paper_number, page_number, page_type, question_index, version)
			SELECT * FROM unnest($1::uuid[], $2::int[], $3::int[], $4::page_type[], $5::int[], $6::int[])`,
			ids, pprs, pages, types, questions, vers); err != nil {
			return fmt.Errorf("failed to create fixed pages: %w", err)
		}

		if _, err := q.Exec(ctx, `
			UPDATE assessment_state SET finalized = TRUE, updated_at = now() WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to finalize paper set: %w", err)
		}
		return nil
	})
}

// Finalized reports whether the paper set has been finalized.
func (s *PaperStore) Finalized(ctx context.Context) (bool, error) {
	var finalized bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_finalized", defaultDBAttributes, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		if err := q.QueryRow(ctx, `SELECT finalized FROM assessment_state WHERE id = 1`).Scan(&finalized); err != nil {
			return fmt.Errorf("failed to read assessment state: %w", err)
		}
		return nil
	})
	return finalized, err
}

// Exists reports whether a paper number is part of the paper set.
func (s *PaperStore) Exists(ctx context.Context, paperNumber int) (bool, error) {
	var exists bool
	dbAttrs := append(defaultDBAttributes, attribute.Int("paper_number", paperNumber))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.paper_exists", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM papers WHERE paper_number = $1)`, paperNumber).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check paper existence: %w", err)
		}
		return nil
	})
	return exists, err
}

var _ papers.BundleRepository = (*BundleStore)(nil)

// BundleStore provides a PostgreSQL implementation of papers.BundleRepository.
type BundleStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewBundleStore creates a PostgreSQL-backed bundle store.
func NewBundleStore(pool *pgxpool.Pool, tracer trace.Tracer) *BundleStore {
	return &BundleStore{pool: pool, tracer: tracer}
}

// CreateBundle persists a bundle record.
func (s *BundleStore) CreateBundle(ctx context.Context, bundle *papers.Bundle) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("bundle_id", bundle.ID().String()),
		attribute.String("bundle_name", bundle.Name()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_bundle", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)
		if _, err := q.Exec(ctx, `
			INSERT INTO bundles (id, name, hash, created_at)
			VALUES ($1, $2, $3, $4)`,
			bundle.ID(), bundle.Name(), bundle.Hash(), bundle.CreatedAt()); err != nil {
			return fmt.Errorf("failed to create bundle: %w", err)
		}
		return nil
	})
}

// CreateImages bulk-creates image rows in one UNNEST statement. Absent
// markers travel as zeroes and become NULLs on insert.
func (s *BundleStore) CreateImages(ctx context.Context, images []*papers.Image) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int("image_count", len(images)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_images", dbAttrs, func(ctx context.Context) error {
		if len(images) == 0 {
			return nil
		}
		q := storage.QuerierFrom(ctx, s.pool)

		ids := make([]uuid.UUID, len(images))
		bundleIDs := make([]uuid.UUID, len(images))
		hashes := make([]string, len(images))
		rotations := make([]int32, len(images))
		markerPapers := make([]int32, len(images))
		markerPages := make([]int32, len(images))
		markerVersions := make([]int32, len(images))
		createdAts := make([]time.Time, len(images))
		for i, img := range images {
			ids[i] = img.ID()
			bundleIDs[i] = img.BundleID()
			hashes[i] = img.Hash()
			rotations[i] = int32(img.Rotation())
			if m := img.Marker(); m != nil {
				markerPapers[i] = int32(m.Paper)
				markerPages[i] = int32(m.Page)
				markerVersions[i] = int32(m.Version)
			}
			createdAts[i] = img.CreatedAt()
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO images (id, bundle_id, hash, rotation, marker_paper, marker_page, marker_version, created_at)
			SELECT u.id, u.bundle_id, u.hash, u.rotation,
			       NULLIF(u.marker_paper, 0), NULLIF(u.marker_page, 0), NULLIF(u.marker_version, 0), u.created_at
			FROM unnest($1::uuid[], $2::uuid[], $3::text[], $4::int[], $5::int[], $6::int[], $7::int[], $8::timestamptz[])
			     AS u(id, bundle_id, hash, rotation, marker_paper, marker_page, marker_version, created_at)`,
			ids, bundleIDs, hashes, rotations, markerPapers, markerPages, markerVersions, createdAts); err != nil {
			return fmt.Errorf("failed to create images: %w", err)
		}
		return nil
	})
}

// GetImage loads one image.
func (s *BundleStore) GetImage(ctx context.Context, imageID uuid.UUID) (*papers.Image, error) {
	var image *papers.Image
	dbAttrs := append(defaultDBAttributes, attribute.String("image_id", imageID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_image", dbAttrs, func(ctx context.Context) error {
		q := storage.QuerierFrom(ctx, s.pool)

		var (
			id, bundleID  uuid.UUID
			hash          string
			rotation      int
			mPaper, mPage *int
			mVersion      *int
			createdAt     time.Time
		)
		err := q.QueryRow(ctx, `
			SELECT id, bundle_id, hash, rotation, marker_paper, marker_page, marker_version, created_at
			FROM images WHERE id = $1`, imageID,
		).Scan(&id, &bundleID, &hash, &rotation, &mPaper, &mPage, &mVersion, &createdAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return papers.ErrImageNotFound
			}
			return fmt.Errorf("failed to load image: %w", err)
		}

		var marker *papers.PageMarker
		if mPaper != nil && mPage != nil && mVersion != nil {
			marker = &papers.PageMarker{Paper: *mPaper, Page: *mPage, Version: *mVersion}
		}
		image = papers.ReconstructImage(id, bundleID, hash, rotation, marker, createdAt)
		return nil
	})
	return image, err
}
