// Package memory provides in-memory implementations of every repository port
// plus a matching unit of work. Used by service tests and local development;
// the postgres stores are the production counterparts.
//
// Stores never hand out or retain live aggregate pointers: reads and writes
// clone, so the unit of work can roll a failed scope back by restoring the
// map state captured at its start.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/internal/domain/work"
)

// DB is the shared in-memory state backing every store.
type DB struct {
	mu sync.Mutex

	finalized bool
	papers    map[int]bool
	bundles   map[uuid.UUID]*papers.Bundle
	images    map[uuid.UUID]*papers.Image
	fixed     map[papers.PageRef]*papers.FixedPage
	mobiles   map[uuid.UUID]*papers.MobilePage
	discards  map[uuid.UUID]*papers.DiscardPage
	tasks     map[uuid.UUID]*work.Task
	actions   map[uuid.UUID]*work.Action
	chores    map[uuid.UUID]*chores.Chore
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		papers:   make(map[int]bool),
		bundles:  make(map[uuid.UUID]*papers.Bundle),
		images:   make(map[uuid.UUID]*papers.Image),
		fixed:    make(map[papers.PageRef]*papers.FixedPage),
		mobiles:  make(map[uuid.UUID]*papers.MobilePage),
		discards: make(map[uuid.UUID]*papers.DiscardPage),
		tasks:    make(map[uuid.UUID]*work.Task),
		actions:  make(map[uuid.UUID]*work.Action),
		chores:   make(map[uuid.UUID]*chores.Chore),
	}
}

// snapshot captures the current map state. Values are immutable by
// convention (stores clone on read and write), so a shallow map copy is a
// full rollback point.
func (db *DB) snapshot() *DB {
	s := NewDB()
	s.finalized = db.finalized
	for k, v := range db.papers {
		s.papers[k] = v
	}
	for k, v := range db.bundles {
		s.bundles[k] = v
	}
	for k, v := range db.images {
		s.images[k] = v
	}
	for k, v := range db.fixed {
		s.fixed[k] = v
	}
	for k, v := range db.mobiles {
		s.mobiles[k] = v
	}
	for k, v := range db.discards {
		s.discards[k] = v
	}
	for k, v := range db.tasks {
		s.tasks[k] = v
	}
	for k, v := range db.actions {
		s.actions[k] = v
	}
	for k, v := range db.chores {
		s.chores[k] = v
	}
	return s
}

func (db *DB) restore(s *DB) {
	db.finalized = s.finalized
	db.papers = s.papers
	db.bundles = s.bundles
	db.images = s.images
	db.fixed = s.fixed
	db.mobiles = s.mobiles
	db.discards = s.discards
	db.tasks = s.tasks
	db.actions = s.actions
	db.chores = s.chores
}

// UnitOfWork serializes scopes with the database mutex and restores the
// pre-scope state when fn fails, matching the all-or-nothing contract of the
// postgres implementation.
type UnitOfWork struct{ db *DB }

// NewUnitOfWork creates a UnitOfWork over the shared database.
func NewUnitOfWork(db *DB) *UnitOfWork { return &UnitOfWork{db: db} }

var _ shared.UnitOfWork = (*UnitOfWork)(nil)

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	before := u.db.snapshot()
	if err := fn(context.WithValue(ctx, inScopeKey{}, true)); err != nil {
		u.db.restore(before)
		return err
	}
	return nil
}

type inScopeKey struct{}

// lock acquires the database mutex unless the caller is already inside a
// unit-of-work scope (which holds it for the whole scope).
func (db *DB) lock(ctx context.Context) func() {
	if ctx.Value(inScopeKey{}) != nil {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

func cloneFixedPage(p *papers.FixedPage) *papers.FixedPage {
	var imageID *uuid.UUID
	if p.ImageID() != nil {
		id := *p.ImageID()
		imageID = &id
	}
	return papers.ReconstructFixedPage(
		p.ID(), p.PaperNumber(), p.PageNumber(), p.PageType(),
		p.QuestionIndex(), p.Version(), imageID,
	)
}

func cloneTask(t *work.Task) *work.Task {
	var actionID *uuid.UUID
	if t.LatestActionID() != nil {
		id := *t.LatestActionID()
		actionID = &id
	}
	tl := t.Timeline()
	return work.ReconstructTask(
		t.ID(), t.Kind(), t.PaperNumber(), t.QuestionIndex(), t.Version(),
		t.Status(), t.Priority(), t.AssignedTo(), actionID,
		shared.ReconstructTimeline(tl.StartedAt(), tl.CompletedAt(), tl.LastUpdate()),
	)
}

func cloneAction(a *work.Action) *work.Action {
	return work.ReconstructAction(
		a.ID(), a.TaskID(), a.Author(), a.Identifier(), a.Payload(), a.Valid(), a.CreatedAt(),
	)
}

func cloneChore(c *chores.Chore) *chores.Chore {
	var handle *uuid.UUID
	if c.JobHandle() != nil {
		id := *c.JobHandle()
		handle = &id
	}
	tl := c.Timeline()
	return chores.ReconstructChore(
		c.ID(), c.Kind(), c.PaperNumber(), c.Status(), c.Obsolete(), handle,
		c.ArtifactPath(), c.Message(),
		shared.ReconstructTimeline(tl.StartedAt(), tl.CompletedAt(), tl.LastUpdate()),
	)
}

func cloneMobilePage(p *papers.MobilePage) *papers.MobilePage {
	return papers.ReconstructMobilePage(
		p.ID(), p.PaperNumber(), p.QuestionIndex(), p.Version(), p.ImageID(), p.CreatedAt(),
	)
}

func cloneDiscardPage(d *papers.DiscardPage) *papers.DiscardPage {
	return papers.ReconstructDiscardPage(d.ID(), d.ImageID(), d.Reason(), d.CreatedAt())
}
