// Package orchestration keeps derived chores consistent with page state by
// reacting to domain events on the bus: a paper whose pages just completed
// gets a fresh reassembly chore, and a paper whose pages changed has its
// stale chore cancelled.
package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/pkg/common/logger"
)

// ChoreManager is the slice of the chore service the scheduler drives.
type ChoreManager interface {
	EnqueueChore(ctx context.Context, kind chores.ChoreKind, paper int, payload json.RawMessage) (*chores.Chore, error)
	CancelChore(ctx context.Context, choreID uuid.UUID) error
}

// LiveChores is the slice of the chore repository the scheduler reads.
type LiveChores interface {
	FindLiveChore(ctx context.Context, kind chores.ChoreKind, paper int) (*chores.Chore, error)
}

// PageSnapshots is the slice of the page repository the scheduler reads.
type PageSnapshots interface {
	SnapshotPapers(ctx context.Context, paperNumbers []int) ([]papers.PaperSnapshot, error)
}

// Scheduler subscribes to page-state events and refreshes each touched
// paper's reassembly chore. Completeness is re-evaluated from a fresh
// snapshot on every event, so a lost or duplicated event converges on the
// next one.
type Scheduler struct {
	choreMgr  ChoreManager
	choreRepo LiveChores
	pageRepo  PageSnapshots
	logger    *logger.Logger
}

// NewScheduler returns a Scheduler wired to the chore service and page state.
func NewScheduler(choreMgr ChoreManager, choreRepo LiveChores, pageRepo PageSnapshots, logger *logger.Logger) *Scheduler {
	return &Scheduler{
		choreMgr:  choreMgr,
		choreRepo: choreRepo,
		pageRepo:  pageRepo,
		logger:    logger.With("component", "chore_scheduler"),
	}
}

// Register subscribes the scheduler to the page-state event types.
func (s *Scheduler) Register(ctx context.Context, bus events.EventBus) error {
	return bus.Subscribe(ctx, []events.EventType{
		papers.EventTypeBundlePushed,
		papers.EventTypePageDiscarded,
		papers.EventTypePageReassigned,
	}, s.handleEvent)
}

func (s *Scheduler) handleEvent(ctx context.Context, envelope events.EventEnvelope) error {
	switch evt := envelope.Payload.(type) {
	case papers.BundlePushedEvent:
		for _, paper := range evt.PaperRange {
			if err := s.refresh(ctx, paper); err != nil {
				return err
			}
		}
		return nil
	case papers.PageDiscardedEvent:
		// A retracted page always invalidates the manifest; whether the
		// paper is complete again is decided when it changes next.
		return s.retire(ctx, evt.Paper)
	case papers.PageReassignedEvent:
		return s.refresh(ctx, evt.Paper)
	default:
		s.logger.Warn(ctx, "Unexpected event type", "event_type", envelope.Type)
		return nil
	}
}

// refresh retires the paper's live reassembly chore and, when every fixed
// page holds an image, enqueues a fresh one against the new page state.
func (s *Scheduler) refresh(ctx context.Context, paper int) error {
	snaps, err := s.pageRepo.SnapshotPapers(ctx, []int{paper})
	if err != nil {
		return fmt.Errorf("snapshotting paper %d: %w", paper, err)
	}
	if len(snaps) == 0 {
		return fmt.Errorf("%w: paper %d", papers.ErrPaperNotFound, paper)
	}

	if err := s.retire(ctx, paper); err != nil {
		return err
	}
	if !complete(snaps[0]) {
		return nil
	}

	payload, err := json.Marshal(struct {
		PaperNumber int `json:"paper_number"`
	}{paper})
	if err != nil {
		return fmt.Errorf("encoding chore payload: %w", err)
	}
	chore, err := s.choreMgr.EnqueueChore(ctx, chores.ChoreKindReassembly, paper, payload)
	if err != nil {
		return fmt.Errorf("enqueuing reassembly for paper %d: %w", paper, err)
	}
	s.logger.Info(ctx, "Reassembly chore scheduled", "paper", paper, "chore_id", chore.ID())
	return nil
}

// retire cancels the paper's live reassembly chore, if any.
func (s *Scheduler) retire(ctx context.Context, paper int) error {
	chore, err := s.choreRepo.FindLiveChore(ctx, chores.ChoreKindReassembly, paper)
	if errors.Is(err, chores.ErrChoreNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding live chore for paper %d: %w", paper, err)
	}
	if err := s.choreMgr.CancelChore(ctx, chore.ID()); err != nil {
		return fmt.Errorf("cancelling chore %s: %w", chore.ID(), err)
	}
	s.logger.Info(ctx, "Stale reassembly chore cancelled", "paper", paper, "chore_id", chore.ID())
	return nil
}

// complete reports whether every fixed page of the snapshot holds an image.
func complete(snap papers.PaperSnapshot) bool {
	if len(snap.Fixed) == 0 {
		return false
	}
	for _, f := range snap.Fixed {
		if !f.HasImage {
			return false
		}
	}
	return true
}
