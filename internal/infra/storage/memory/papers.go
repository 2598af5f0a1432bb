package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/papers"
)

// PaperStore implements papers.PaperRepository in memory.
type PaperStore struct{ db *DB }

// NewPaperStore creates a PaperStore over the shared database.
func NewPaperStore(db *DB) *PaperStore { return &PaperStore{db: db} }

var _ papers.PaperRepository = (*PaperStore)(nil)

func (s *PaperStore) CreatePaperSet(ctx context.Context, bp *papers.Blueprint, paperNumbers []int, versions map[int]int) error {
	defer s.db.lock(ctx)()
	for _, num := range paperNumbers {
		s.db.papers[num] = true
		for page := 1; page <= bp.NumPages(); page++ {
			entry, err := bp.Page(page)
			if err != nil {
				return err
			}
			version := versions[num]
			if version == 0 {
				version = 1
			}
			fp := papers.NewFixedPage(num, entry, version)
			s.db.fixed[papers.PageRef{Paper: num, Page: page}] = fp
		}
	}
	s.db.finalized = true
	return nil
}

func (s *PaperStore) Finalized(ctx context.Context) (bool, error) {
	defer s.db.lock(ctx)()
	return s.db.finalized, nil
}

func (s *PaperStore) Exists(ctx context.Context, paperNumber int) (bool, error) {
	defer s.db.lock(ctx)()
	return s.db.papers[paperNumber], nil
}

// BundleStore implements papers.BundleRepository in memory.
type BundleStore struct{ db *DB }

// NewBundleStore creates a BundleStore over the shared database.
func NewBundleStore(db *DB) *BundleStore { return &BundleStore{db: db} }

var _ papers.BundleRepository = (*BundleStore)(nil)

func (s *BundleStore) CreateBundle(ctx context.Context, bundle *papers.Bundle) error {
	defer s.db.lock(ctx)()
	s.db.bundles[bundle.ID()] = bundle
	return nil
}

func (s *BundleStore) CreateImages(ctx context.Context, images []*papers.Image) error {
	defer s.db.lock(ctx)()
	for _, img := range images {
		s.db.images[img.ID()] = img
	}
	return nil
}

func (s *BundleStore) GetImage(ctx context.Context, imageID uuid.UUID) (*papers.Image, error) {
	defer s.db.lock(ctx)()
	img, ok := s.db.images[imageID]
	if !ok {
		return nil, papers.ErrImageNotFound
	}
	return img, nil
}

// PageStore implements papers.PageRepository in memory.
type PageStore struct{ db *DB }

// NewPageStore creates a PageStore over the shared database.
func NewPageStore(db *DB) *PageStore { return &PageStore{db: db} }

var _ papers.PageRepository = (*PageStore)(nil)

func (s *PageStore) LockFixedPages(ctx context.Context, refs []papers.PageRef) ([]*papers.FixedPage, error) {
	defer s.db.lock(ctx)()
	ordered := make([]papers.PageRef, len(refs))
	copy(ordered, refs)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Paper != ordered[j].Paper {
			return ordered[i].Paper < ordered[j].Paper
		}
		return ordered[i].Page < ordered[j].Page
	})

	pages := make([]*papers.FixedPage, 0, len(ordered))
	for _, ref := range ordered {
		p, ok := s.db.fixed[ref]
		if !ok {
			return nil, fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, ref.Paper, ref.Page)
		}
		pages = append(pages, cloneFixedPage(p))
	}
	return pages, nil
}

func (s *PageStore) GetFixedPage(ctx context.Context, paper, page int) (*papers.FixedPage, error) {
	defer s.db.lock(ctx)()
	p, ok := s.db.fixed[papers.PageRef{Paper: paper, Page: page}]
	if !ok {
		return nil, fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, paper, page)
	}
	return cloneFixedPage(p), nil
}

func (s *PageStore) LockFixedPage(ctx context.Context, paper, page int) (*papers.FixedPage, error) {
	return s.GetFixedPage(ctx, paper, page)
}

func (s *PageStore) AttachImages(ctx context.Context, attaches []papers.ImageAttach) error {
	defer s.db.lock(ctx)()
	for _, att := range attaches {
		p, ok := s.db.fixed[att.Ref]
		if !ok {
			return fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, att.Ref.Paper, att.Ref.Page)
		}
		clone := cloneFixedPage(p)
		if err := clone.AttachImage(att.ImageID); err != nil {
			return err
		}
		s.db.fixed[att.Ref] = clone
	}
	return nil
}

func (s *PageStore) UpdateFixedPageImage(ctx context.Context, page *papers.FixedPage) error {
	defer s.db.lock(ctx)()
	ref := papers.PageRef{Paper: page.PaperNumber(), Page: page.PageNumber()}
	if _, ok := s.db.fixed[ref]; !ok {
		return fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, ref.Paper, ref.Page)
	}
	s.db.fixed[ref] = cloneFixedPage(page)
	return nil
}

func (s *PageStore) CreateMobilePages(ctx context.Context, pages []*papers.MobilePage) error {
	defer s.db.lock(ctx)()
	for _, p := range pages {
		s.db.mobiles[p.ID()] = cloneMobilePage(p)
	}
	return nil
}

func (s *PageStore) GetMobilePage(ctx context.Context, id uuid.UUID) (*papers.MobilePage, error) {
	defer s.db.lock(ctx)()
	p, ok := s.db.mobiles[id]
	if !ok {
		return nil, papers.ErrMobilePageNotFound
	}
	return cloneMobilePage(p), nil
}

func (s *PageStore) ListMobilePagesByImage(ctx context.Context, imageID uuid.UUID) ([]*papers.MobilePage, error) {
	defer s.db.lock(ctx)()
	var out []*papers.MobilePage
	for _, p := range s.db.mobiles {
		if p.ImageID() == imageID {
			out = append(out, cloneMobilePage(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex() < out[j].QuestionIndex() })
	return out, nil
}

func (s *PageStore) DeleteMobilePages(ctx context.Context, ids []uuid.UUID) error {
	defer s.db.lock(ctx)()
	for _, id := range ids {
		delete(s.db.mobiles, id)
	}
	return nil
}

func (s *PageStore) CreateDiscardPages(ctx context.Context, pages []*papers.DiscardPage) error {
	defer s.db.lock(ctx)()
	for _, d := range pages {
		s.db.discards[d.ID()] = cloneDiscardPage(d)
	}
	return nil
}

func (s *PageStore) GetDiscardPage(ctx context.Context, id uuid.UUID) (*papers.DiscardPage, error) {
	defer s.db.lock(ctx)()
	d, ok := s.db.discards[id]
	if !ok {
		return nil, papers.ErrDiscardNotFound
	}
	return cloneDiscardPage(d), nil
}

func (s *PageStore) DeleteDiscardPage(ctx context.Context, id uuid.UUID) error {
	defer s.db.lock(ctx)()
	if _, ok := s.db.discards[id]; !ok {
		return papers.ErrDiscardNotFound
	}
	delete(s.db.discards, id)
	return nil
}

func (s *PageStore) SnapshotPapers(ctx context.Context, paperNumbers []int) ([]papers.PaperSnapshot, error) {
	defer s.db.lock(ctx)()
	want := make(map[int]bool, len(paperNumbers))
	for _, n := range paperNumbers {
		want[n] = true
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

	for ref, p := range s.db.fixed {
		if !want[ref.Paper] {
			continue
		}
		snap(ref.Paper).Fixed = append(snap(ref.Paper).Fixed, papers.FixedPageState{
			PageNumber:    p.PageNumber(),
			QuestionIndex: p.QuestionIndex(),
			Version:       p.Version(),
			HasImage:      p.HasImage(),
		})
	}
	for _, m := range s.db.mobiles {
		if !want[m.PaperNumber()] {
			continue
		}
		snap(m.PaperNumber()).Mobile = append(snap(m.PaperNumber()).Mobile, papers.MobilePageState{
			QuestionIndex: m.QuestionIndex(),
			Version:       m.Version(),
		})
	}

	out := make([]papers.PaperSnapshot, 0, len(byPaper))
	for _, sn := range byPaper {
		sort.Slice(sn.Fixed, func(i, j int) bool { return sn.Fixed[i].PageNumber < sn.Fixed[j].PageNumber })
		out = append(out, *sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaperNumber < out[j].PaperNumber })
	return out, nil
}
