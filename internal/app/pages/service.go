// Package pages implements page corrections after a push: discarding
// committed pages and reassigning discarded images back into papers. Every
// correction retires the tasks built on the old page state and reopens fresh
// ones where readiness still holds.
package pages

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appwork "github.com/markflow/markflow/internal/app/work"
	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/internal/domain/work"
	"github.com/markflow/markflow/pkg/common/logger"
)

// ReassignTarget names where a discarded image should go: either a fixed page
// position, or a paper plus question list (empty list means do-not-mark).
type ReassignTarget struct {
	FixedRef  *papers.PageRef
	Paper     int
	Questions []int
}

func (t ReassignTarget) validate() error {
	if t.FixedRef != nil {
		return nil
	}
	if t.Paper < 1 {
		return fmt.Errorf("reassign target names neither a fixed position nor a paper")
	}
	return nil
}

// pageCorrectionService owns discard and reassignment. All mutations of one
// correction run inside a single transactional scope under row locks.
type pageCorrectionService struct {
	blueprint *papers.Blueprint

	uow       shared.UnitOfWork
	pageRepo  papers.PageRepository
	taskRepo  work.TaskRepository
	publisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPageCorrectionService returns a pageCorrectionService wired to the given
// repositories and event publisher.
func NewPageCorrectionService(
	blueprint *papers.Blueprint,
	uow shared.UnitOfWork,
	pageRepo papers.PageRepository,
	taskRepo work.TaskRepository,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *pageCorrectionService {
	logger = logger.With("component", "page_correction_service")
	return &pageCorrectionService{
		blueprint: blueprint,
		uow:       uow,
		pageRepo:  pageRepo,
		taskRepo:  taskRepo,
		publisher: publisher,
		logger:    logger,
		tracer:    tracer,
	}
}

// DiscardFixedPage retracts the image held by a fixed page position. The
// position must hold an image (papers.ErrNoImage otherwise). The dependent
// task is retired; for a question page a fresh marking task is opened when
// the question is still ready, while an ID page waits for a replacement image.
func (s *pageCorrectionService) DiscardFixedPage(ctx context.Context, paper, page int, reason string) error {
	logger := s.logger.With("operation", "discard_fixed_page", "paper", paper, "page", page)
	ctx, span := s.tracer.Start(ctx, "page_correction_service.discard_fixed_page",
		trace.WithAttributes(
			attribute.Int("paper", paper),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	var imageID uuid.UUID
	var question int
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		fixed, err := s.pageRepo.LockFixedPage(ctx, paper, page)
		if err != nil {
			return err
		}
		question = fixed.QuestionIndex()

		imageID, err = fixed.ClearImage()
		if err != nil {
			return err
		}
		if err := s.pageRepo.UpdateFixedPageImage(ctx, fixed); err != nil {
			return fmt.Errorf("clearing page image: %w", err)
		}
		discard := papers.NewDiscardPage(imageID, reason)
		if err := s.pageRepo.CreateDiscardPages(ctx, []*papers.DiscardPage{discard}); err != nil {
			return fmt.Errorf("creating discard page: %w", err)
		}

		switch fixed.PageType() {
		case papers.PageTypeID:
			// An ID page is unique per paper: nothing new to assign until
			// a replacement image arrives.
			return s.retireLiveTask(ctx, work.TaskKindIdentify, paper, papers.SentinelQuestion)
		case papers.PageTypeQuestion:
			if err := s.retireLiveTask(ctx, work.TaskKindMark, paper, question); err != nil {
				return err
			}
			return s.reopenMarkTaskIfReady(ctx, paper, question)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discard failed")
		return err
	}
	span.SetStatus(codes.Ok, "page discarded")

	evt := papers.NewPageDiscardedEvent(paper, question, imageID, reason)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(imageID.String())); err != nil {
		logger.Error(ctx, "Failed to publish page discarded event", "error", err)
	}
	logger.Info(ctx, "Fixed page discarded", "image_id", imageID, "reason", reason)
	return nil
}

// DiscardMobilePage deletes a mobile page, or every mobile page sharing its
// image when cascade is set. Affected marking tasks are retired (the
// do-not-mark sentinel has none) and the image is wrapped in a DiscardPage
// once no mobile page references it.
func (s *pageCorrectionService) DiscardMobilePage(ctx context.Context, mobileID uuid.UUID, cascade bool, reason string) error {
	logger := s.logger.With("operation", "discard_mobile_page", "mobile_id", mobileID, "cascade", cascade)
	ctx, span := s.tracer.Start(ctx, "page_correction_service.discard_mobile_page",
		trace.WithAttributes(
			attribute.String("mobile_id", mobileID.String()),
			attribute.Bool("cascade", cascade),
		),
	)
	defer span.End()

	var imageID uuid.UUID
	var paper int
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		mobile, err := s.pageRepo.GetMobilePage(ctx, mobileID)
		if err != nil {
			return err
		}
		imageID = mobile.ImageID()
		paper = mobile.PaperNumber()

		doomed := []*papers.MobilePage{mobile}
		if cascade {
			doomed, err = s.pageRepo.ListMobilePagesByImage(ctx, imageID)
			if err != nil {
				return fmt.Errorf("listing mobile pages by image: %w", err)
			}
		}
		ids := make([]uuid.UUID, len(doomed))
		affected := make(map[papers.QuestionKey]bool)
		for i, m := range doomed {
			ids[i] = m.ID()
			if !m.IsSentinel() {
				affected[papers.QuestionKey{Paper: m.PaperNumber(), Question: m.QuestionIndex()}] = true
			}
		}
		if err := s.pageRepo.DeleteMobilePages(ctx, ids); err != nil {
			return fmt.Errorf("deleting mobile pages: %w", err)
		}

		for key := range affected {
			if err := s.retireLiveTask(ctx, work.TaskKindMark, key.Paper, key.Question); err != nil {
				return err
			}
			if err := s.reopenMarkTaskIfReady(ctx, key.Paper, key.Question); err != nil {
				return err
			}
		}

		remaining, err := s.pageRepo.ListMobilePagesByImage(ctx, imageID)
		if err != nil {
			return fmt.Errorf("listing remaining mobile pages: %w", err)
		}
		if len(remaining) == 0 {
			discard := papers.NewDiscardPage(imageID, reason)
			if err := s.pageRepo.CreateDiscardPages(ctx, []*papers.DiscardPage{discard}); err != nil {
				return fmt.Errorf("creating discard page: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discard failed")
		return err
	}
	span.SetStatus(codes.Ok, "mobile page discarded")

	evt := papers.NewPageDiscardedEvent(paper, papers.SentinelQuestion, imageID, reason)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(imageID.String())); err != nil {
		logger.Error(ctx, "Failed to publish page discarded event", "error", err)
	}
	logger.Info(ctx, "Mobile page discarded", "image_id", imageID)
	return nil
}

// ReassignDiscard attaches a discarded image back into a paper: either onto a
// fixed position (papers.ErrAlreadyImaged when occupied) or as mobile pages
// for named questions. The discard record is deleted and the touched tasks
// retired and re-evaluated for readiness.
func (s *pageCorrectionService) ReassignDiscard(ctx context.Context, discardID uuid.UUID, target ReassignTarget) error {
	logger := s.logger.With("operation", "reassign_discard", "discard_id", discardID)
	ctx, span := s.tracer.Start(ctx, "page_correction_service.reassign_discard",
		trace.WithAttributes(attribute.String("discard_id", discardID.String())),
	)
	defer span.End()

	if err := target.validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid target")
		return err
	}

	var imageID uuid.UUID
	var paper int
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		discard, err := s.pageRepo.GetDiscardPage(ctx, discardID)
		if err != nil {
			return err
		}
		imageID = discard.ImageID()

		if target.FixedRef != nil {
			paper = target.FixedRef.Paper
			if err := s.reassignToFixed(ctx, *target.FixedRef, imageID); err != nil {
				return err
			}
		} else {
			paper = target.Paper
			if err := s.reassignToQuestions(ctx, target.Paper, target.Questions, imageID); err != nil {
				return err
			}
		}
		return s.pageRepo.DeleteDiscardPage(ctx, discardID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reassign failed")
		return err
	}
	span.SetStatus(codes.Ok, "discard reassigned")

	evt := papers.NewPageReassignedEvent(paper, imageID)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(imageID.String())); err != nil {
		logger.Error(ctx, "Failed to publish page reassigned event", "error", err)
	}
	logger.Info(ctx, "Discarded image reassigned", "image_id", imageID, "paper", paper)
	return nil
}

func (s *pageCorrectionService) reassignToFixed(ctx context.Context, ref papers.PageRef, imageID uuid.UUID) error {
	fixed, err := s.pageRepo.LockFixedPage(ctx, ref.Paper, ref.Page)
	if err != nil {
		return err
	}
	if err := fixed.AttachImage(imageID); err != nil {
		return err
	}
	if err := s.pageRepo.UpdateFixedPageImage(ctx, fixed); err != nil {
		return fmt.Errorf("attaching image: %w", err)
	}

	switch fixed.PageType() {
	case papers.PageTypeID:
		if err := s.retireLiveTask(ctx, work.TaskKindIdentify, ref.Paper, papers.SentinelQuestion); err != nil {
			return err
		}
		// A replacement ID image means the paper can be identified again.
		return s.taskRepo.CreateTasks(ctx, []*work.Task{work.NewIdentifyTask(ref.Paper, 0)})
	case papers.PageTypeQuestion:
		if err := s.retireLiveTask(ctx, work.TaskKindMark, ref.Paper, fixed.QuestionIndex()); err != nil {
			return err
		}
		return s.reopenMarkTaskIfReady(ctx, ref.Paper, fixed.QuestionIndex())
	}
	return nil
}

func (s *pageCorrectionService) reassignToQuestions(ctx context.Context, paper int, questions []int, imageID uuid.UUID) error {
	snaps, err := s.pageRepo.SnapshotPapers(ctx, []int{paper})
	if err != nil {
		return fmt.Errorf("snapshotting paper: %w", err)
	}
	var snap papers.PaperSnapshot
	if len(snaps) > 0 {
		snap = snaps[0]
	} else {
		snap = papers.PaperSnapshot{PaperNumber: paper}
	}

	if len(questions) == 0 {
		questions = []int{papers.SentinelQuestion}
	}
	for _, q := range questions {
		if q != papers.SentinelQuestion && (q < 1 || q > s.blueprint.NumQuestions()) {
			return fmt.Errorf("question %d outside 1..%d", q, s.blueprint.NumQuestions())
		}
	}
	mobiles := make([]*papers.MobilePage, 0, len(questions))
	for _, q := range questions {
		version := 1
		if q != papers.SentinelQuestion {
			version = papers.QuestionVersion(snap, q)
		}
		mobiles = append(mobiles, papers.NewMobilePage(paper, q, version, imageID))
	}
	if err := s.pageRepo.CreateMobilePages(ctx, mobiles); err != nil {
		return fmt.Errorf("creating mobile pages: %w", err)
	}

	for _, q := range questions {
		if q == papers.SentinelQuestion {
			continue
		}
		if err := s.retireLiveTask(ctx, work.TaskKindMark, paper, q); err != nil {
			return err
		}
		if err := s.reopenMarkTaskIfReady(ctx, paper, q); err != nil {
			return err
		}
	}
	return nil
}

// retireLiveTask retires the live task for a key, if one exists.
func (s *pageCorrectionService) retireLiveTask(ctx context.Context, kind work.TaskKind, paper, question int) error {
	task, err := s.taskRepo.FindLiveTask(ctx, kind, paper, question)
	if errors.Is(err, work.ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding live task: %w", err)
	}
	if _, err := appwork.OutdateTask(ctx, s.taskRepo, task); err != nil {
		return err
	}
	return nil
}

// reopenMarkTaskIfReady creates a fresh marking task for a (paper, question)
// pair when its pages are still (or newly) ready.
func (s *pageCorrectionService) reopenMarkTaskIfReady(ctx context.Context, paper, question int) error {
	snaps, err := s.pageRepo.SnapshotPapers(ctx, []int{paper})
	if err != nil {
		return fmt.Errorf("snapshotting paper: %w", err)
	}
	if len(snaps) == 0 {
		return nil
	}
	snap := snaps[0]
	if !papers.QuestionReady(snap, question) {
		return nil
	}
	task := work.NewMarkTask(paper, question, papers.QuestionVersion(snap, question))
	return s.taskRepo.CreateTasks(ctx, []*work.Task{task})
}
