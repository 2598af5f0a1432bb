package papers

import (
	"context"

	"github.com/google/uuid"
)

// PageRef names one fixed page position.
type PageRef struct {
	Paper int
	Page  int
}

// ImageAttach pairs an image with the fixed page position it should occupy,
// for bulk attachment in one round trip.
type ImageAttach struct {
	Ref     PageRef
	Version int
	ImageID uuid.UUID
}

// PaperRepository persists papers and the finalization state of the paper
// set. Papers are created once, when the assessment's paper set is finalized,
// and only their pages change afterwards.
type PaperRepository interface {
	// CreatePaperSet creates paper rows and their blueprint-defined fixed
	// pages for the given paper numbers, then marks the set finalized.
	CreatePaperSet(ctx context.Context, bp *Blueprint, paperNumbers []int, versions map[int]int) error

	// Finalized reports whether the paper set has been finalized.
	Finalized(ctx context.Context) (bool, error)

	// Exists reports whether a paper number is part of the paper set.
	Exists(ctx context.Context, paperNumber int) (bool, error)
}

// BundleRepository persists bundles and the images they own.
type BundleRepository interface {
	CreateBundle(ctx context.Context, bundle *Bundle) error

	// CreateImages bulk-creates image rows in one round trip.
	CreateImages(ctx context.Context, images []*Image) error

	GetImage(ctx context.Context, imageID uuid.UUID) (*Image, error)
}

// PageRepository persists fixed, mobile and discard pages. Implementations
// must make LockFixedPages acquire row-level update locks so collision checks
// and subsequent writes happen under the same lock.
type PageRepository interface {
	// LockFixedPages loads the named positions with row-level update locks,
	// in a deterministic order to avoid lock cycles between concurrent
	// pushes. Unknown positions are reported via ErrPageNotFound.
	LockFixedPages(ctx context.Context, refs []PageRef) ([]*FixedPage, error)

	// GetFixedPage loads one position without locking.
	GetFixedPage(ctx context.Context, paper, page int) (*FixedPage, error)

	// LockFixedPage loads one position with a row-level update lock.
	LockFixedPage(ctx context.Context, paper, page int) (*FixedPage, error)

	// AttachImages points fixed pages at images in bulk (one statement, not
	// a per-row loop).
	AttachImages(ctx context.Context, attaches []ImageAttach) error

	// UpdateFixedPageImage persists a changed image pointer for one page.
	UpdateFixedPageImage(ctx context.Context, page *FixedPage) error

	CreateMobilePages(ctx context.Context, pages []*MobilePage) error
	GetMobilePage(ctx context.Context, id uuid.UUID) (*MobilePage, error)
	ListMobilePagesByImage(ctx context.Context, imageID uuid.UUID) ([]*MobilePage, error)
	DeleteMobilePages(ctx context.Context, ids []uuid.UUID) error

	CreateDiscardPages(ctx context.Context, pages []*DiscardPage) error
	GetDiscardPage(ctx context.Context, id uuid.UUID) (*DiscardPage, error)
	DeleteDiscardPage(ctx context.Context, id uuid.UUID) error

	// SnapshotPapers loads the page state of the given papers in one pass
	// for set-wise readiness evaluation.
	SnapshotPapers(ctx context.Context, paperNumbers []int) ([]PaperSnapshot, error)
}
