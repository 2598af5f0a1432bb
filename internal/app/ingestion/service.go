// Package ingestion implements the bundle push: committing a batch of staged
// scan images into authoritative page assignments and opening the tasks the
// new pages make claimable.
package ingestion

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/internal/domain/work"
	"github.com/markflow/markflow/pkg/common/logger"
)

// bundlePushService coordinates one bundle push end to end. Validation and
// internal-collision detection run on the bundle alone; external-collision
// detection and every write happen inside a single transactional scope under
// row locks, so a failing push never leaves partial state behind.
type bundlePushService struct {
	blueprint *papers.Blueprint

	uow        shared.UnitOfWork
	paperRepo  papers.PaperRepository
	bundleRepo papers.BundleRepository
	pageRepo   papers.PageRepository
	taskRepo   work.TaskRepository
	publisher  events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBundlePushService returns a bundlePushService wired to the given
// repositories and event publisher.
func NewBundlePushService(
	blueprint *papers.Blueprint,
	uow shared.UnitOfWork,
	paperRepo papers.PaperRepository,
	bundleRepo papers.BundleRepository,
	pageRepo papers.PageRepository,
	taskRepo work.TaskRepository,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *bundlePushService {
	logger = logger.With("component", "bundle_push_service")
	return &bundlePushService{
		blueprint:  blueprint,
		uow:        uow,
		paperRepo:  paperRepo,
		bundleRepo: bundleRepo,
		pageRepo:   pageRepo,
		taskRepo:   taskRepo,
		publisher:  publisher,
		logger:     logger,
		tracer:     tracer,
	}
}

// PushBundle commits a bundle of staged images. It fails with
// papers.ErrNotReady before the paper set is finalized, with
// papers.ErrInvalidStagedContent when any image is unclassified, and with a
// *papers.CollisionError naming every colliding group when two images claim
// the same page. On success every image row, page assignment and newly-opened
// task is committed atomically.
func (s *bundlePushService) PushBundle(ctx context.Context, bundle *papers.Bundle) error {
	logger := s.logger.With("operation", "push_bundle", "bundle_id", bundle.ID(), "bundle_name", bundle.Name())
	ctx, span := s.tracer.Start(ctx, "bundle_push_service.push_bundle",
		trace.WithAttributes(
			attribute.String("bundle_id", bundle.ID().String()),
			attribute.String("bundle_name", bundle.Name()),
			attribute.Int("staged_count", len(bundle.Staged())),
		),
	)
	defer span.End()
	logger.Debug(ctx, "Pushing bundle")

	if err := bundle.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bundle validation failed")
		return err
	}
	span.AddEvent("bundle_validated")

	if groups := bundle.InternalCollisions(); len(groups) > 0 {
		err := &papers.CollisionError{Groups: groups}
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal collisions detected")
		return err
	}
	span.AddEvent("no_internal_collisions")

	var (
		imageCount  int
		tasksOpened []*work.Task
		touched     []int
	)
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		finalized, err := s.paperRepo.Finalized(ctx)
		if err != nil {
			return fmt.Errorf("checking paper set finalization: %w", err)
		}
		if !finalized {
			return papers.ErrNotReady
		}

		pageByRef, err := s.lockClaimedPages(ctx, bundle)
		if err != nil {
			return err
		}
		if err := externalCollisions(bundle, pageByRef); err != nil {
			return err
		}
		span.AddEvent("no_external_collisions")

		touched = touchedPapers(bundle)
		snaps, err := s.pageRepo.SnapshotPapers(ctx, touched)
		if err != nil {
			return fmt.Errorf("snapshotting papers: %w", err)
		}
		snapByPaper := make(map[int]*papers.PaperSnapshot, len(snaps))
		for i := range snaps {
			snapByPaper[snaps[i].PaperNumber] = &snaps[i]
		}

		readyBefore := make(map[papers.QuestionKey]bool)
		idImagedBefore := make(map[int]bool, len(snaps))
		for _, snap := range snaps {
			for key, ready := range papers.ReadyQuestions(snap) {
				readyBefore[key] = ready
			}
			idImagedBefore[snap.PaperNumber] = papers.IDPageImaged(s.blueprint, snap)
		}

		if err := s.bundleRepo.CreateBundle(ctx, bundle); err != nil {
			return fmt.Errorf("creating bundle: %w", err)
		}
		images, err := s.writeImages(ctx, bundle, snapByPaper)
		if err != nil {
			return err
		}
		imageCount = len(images)

		tasksOpened = s.openTasks(snapByPaper, touched, readyBefore, idImagedBefore, s.idConfidence(bundle))
		if len(tasksOpened) > 0 {
			if err := s.taskRepo.CreateTasks(ctx, tasksOpened); err != nil {
				return fmt.Errorf("creating tasks: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bundle push failed")
		return err
	}
	span.AddEvent("bundle_committed", trace.WithAttributes(
		attribute.Int("image_count", imageCount),
		attribute.Int("tasks_opened", len(tasksOpened)),
	))
	span.SetStatus(codes.Ok, "bundle pushed")

	evt := papers.NewBundlePushedEvent(bundle.ID(), bundle.Name(), imageCount, touched, len(tasksOpened))
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(bundle.ID().String())); err != nil {
		// The push is committed; a lost notification is log-worthy, not fatal.
		logger.Error(ctx, "Failed to publish bundle pushed event", "error", err)
	}
	if len(tasksOpened) > 0 {
		s.publishTasksCreated(ctx, logger, tasksOpened)
	}

	logger.Info(ctx, "Bundle pushed",
		"image_count", imageCount,
		"papers_touched", len(touched),
		"tasks_opened", len(tasksOpened))
	return nil
}

// lockClaimedPages locks every fixed page position claimed by a KNOWN staged
// image and returns them keyed by position.
func (s *bundlePushService) lockClaimedPages(ctx context.Context, bundle *papers.Bundle) (map[papers.PageRef]*papers.FixedPage, error) {
	seen := make(map[papers.PageRef]bool)
	var refs []papers.PageRef
	for _, known := range bundle.KnownRefs() {
		ref := papers.PageRef{Paper: known.Paper, Page: known.Page}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return map[papers.PageRef]*papers.FixedPage{}, nil
	}

	pages, err := s.pageRepo.LockFixedPages(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("locking fixed pages: %w", err)
	}
	byRef := make(map[papers.PageRef]*papers.FixedPage, len(pages))
	for _, p := range pages {
		byRef[papers.PageRef{Paper: p.PaperNumber(), Page: p.PageNumber()}] = p
	}
	return byRef, nil
}

// externalCollisions checks every KNOWN staged image against the committed
// state of its claimed position, under the row locks already held.
func externalCollisions(bundle *papers.Bundle, pageByRef map[papers.PageRef]*papers.FixedPage) error {
	var groups []papers.CollisionGroup
	for _, staged := range bundle.Staged() {
		if staged.Class() != papers.StagedKnown {
			continue
		}
		known := staged.Known()
		page, ok := pageByRef[papers.PageRef{Paper: known.Paper, Page: known.Page}]
		if !ok {
			return fmt.Errorf("%w: paper %d page %d", papers.ErrPageNotFound, known.Paper, known.Page)
		}
		if page.HasImage() {
			groups = append(groups, papers.CollisionGroup{
				Paper:   known.Paper,
				Page:    known.Page,
				Version: known.Version,
				Members: []string{
					fmt.Sprintf("staged image %d", staged.Order()),
					fmt.Sprintf("committed image %s", page.ImageID()),
				},
			})
		}
	}
	if len(groups) > 0 {
		sort.Slice(groups, func(i, j int) bool {
			if groups[i].Paper != groups[j].Paper {
				return groups[i].Paper < groups[j].Paper
			}
			return groups[i].Page < groups[j].Page
		})
		return &papers.CollisionError{Groups: groups}
	}
	return nil
}

// touchedPapers returns the sorted set of paper numbers this push writes to.
func touchedPapers(bundle *papers.Bundle) []int {
	set := make(map[int]bool)
	for _, staged := range bundle.Staged() {
		switch staged.Class() {
		case papers.StagedKnown:
			set[staged.Known().Paper] = true
		case papers.StagedExtra:
			set[staged.ExtraPaper()] = true
		}
	}
	nums := make([]int, 0, len(set))
	for n := range set {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// writeImages creates one Image per staged image, attaches KNOWN images to
// their fixed positions in bulk, creates mobile rows for EXTRA images and
// discard rows for DISCARD images. The in-memory snapshots are mutated to
// reflect the writes so readiness can be re-evaluated without a re-read.
func (s *bundlePushService) writeImages(
	ctx context.Context,
	bundle *papers.Bundle,
	snapByPaper map[int]*papers.PaperSnapshot,
) ([]*papers.Image, error) {
	var (
		images   []*papers.Image
		attaches []papers.ImageAttach
		mobiles  []*papers.MobilePage
		discards []*papers.DiscardPage
	)
	for _, staged := range bundle.Staged() {
		var marker *papers.PageMarker
		if known := staged.Known(); staged.Class() == papers.StagedKnown && known != nil {
			marker = &papers.PageMarker{Paper: known.Paper, Page: known.Page, Version: known.Version}
		}
		img := papers.NewImage(bundle.ID(), staged.Hash(), staged.Rotation(), marker)
		images = append(images, img)

		switch staged.Class() {
		case papers.StagedKnown:
			known := staged.Known()
			attaches = append(attaches, papers.ImageAttach{
				Ref:     papers.PageRef{Paper: known.Paper, Page: known.Page},
				Version: known.Version,
				ImageID: img.ID(),
			})
			if snap := snapByPaper[known.Paper]; snap != nil {
				for i := range snap.Fixed {
					if snap.Fixed[i].PageNumber == known.Page {
						snap.Fixed[i].HasImage = true
					}
				}
			}
		case papers.StagedExtra:
			snap := snapByPaper[staged.ExtraPaper()]
			questions := staged.ExtraQuestions()
			if len(questions) == 0 {
				questions = []int{papers.SentinelQuestion}
			}
			for _, q := range questions {
				version := 1
				if snap != nil && q != papers.SentinelQuestion {
					version = papers.QuestionVersion(*snap, q)
				}
				mobiles = append(mobiles, papers.NewMobilePage(staged.ExtraPaper(), q, version, img.ID()))
				if snap != nil {
					snap.Mobile = append(snap.Mobile, papers.MobilePageState{QuestionIndex: q, Version: version})
				}
			}
		case papers.StagedDiscard:
			discards = append(discards, papers.NewDiscardPage(img.ID(), staged.DiscardReason()))
		}
	}

	if err := s.bundleRepo.CreateImages(ctx, images); err != nil {
		return nil, fmt.Errorf("creating images: %w", err)
	}
	if len(attaches) > 0 {
		if err := s.pageRepo.AttachImages(ctx, attaches); err != nil {
			return nil, fmt.Errorf("attaching images: %w", err)
		}
	}
	if len(mobiles) > 0 {
		if err := s.pageRepo.CreateMobilePages(ctx, mobiles); err != nil {
			return nil, fmt.Errorf("creating mobile pages: %w", err)
		}
	}
	if len(discards) > 0 {
		if err := s.pageRepo.CreateDiscardPages(ctx, discards); err != nil {
			return nil, fmt.Errorf("creating discard pages: %w", err)
		}
	}
	return images, nil
}

// confidentPrediction is the marker-reading confidence at or above which a
// new identification task is nudged ahead of its peers.
const confidentPrediction = 0.8

// idConfidence returns, per paper, the strongest marker-reading confidence
// among KNOWN staged images claiming that paper's ID page.
func (s *bundlePushService) idConfidence(bundle *papers.Bundle) map[int]float64 {
	idPage := s.blueprint.IDPage()
	conf := make(map[int]float64)
	for _, staged := range bundle.Staged() {
		known := staged.Known()
		if staged.Class() != papers.StagedKnown || known == nil || known.Page != idPage {
			continue
		}
		if staged.Confidence() > conf[known.Paper] {
			conf[known.Paper] = staged.Confidence()
		}
	}
	return conf
}

// openTasks builds the tasks this push makes claimable: marking tasks for
// (paper, question) pairs that just became ready and identification tasks for
// papers whose ID page received its first image. A confidently-predicted ID
// page opens its task with a positive priority so it is claimed first.
func (s *bundlePushService) openTasks(
	snapByPaper map[int]*papers.PaperSnapshot,
	touched []int,
	readyBefore map[papers.QuestionKey]bool,
	idImagedBefore map[int]bool,
	idConfidence map[int]float64,
) []*work.Task {
	var tasks []*work.Task
	for _, paper := range touched {
		snap := snapByPaper[paper]
		if snap == nil {
			continue
		}
		readyAfter := papers.ReadyQuestions(*snap)
		questions := make([]int, 0, len(readyAfter))
		for key := range readyAfter {
			questions = append(questions, key.Question)
		}
		sort.Ints(questions)
		for _, q := range questions {
			key := papers.QuestionKey{Paper: paper, Question: q}
			if readyAfter[key] && !readyBefore[key] {
				tasks = append(tasks, work.NewMarkTask(paper, q, papers.QuestionVersion(*snap, q)))
			}
		}
		if !idImagedBefore[paper] && papers.IDPageImaged(s.blueprint, *snap) {
			var priority int32
			if idConfidence[paper] >= confidentPrediction {
				priority = 1
			}
			tasks = append(tasks, work.NewIdentifyTask(paper, priority))
		}
	}
	return tasks
}

func (s *bundlePushService) publishTasksCreated(ctx context.Context, logger *logger.Logger, tasks []*work.Task) {
	byKind := make(map[work.TaskKind][]*work.Task)
	for _, t := range tasks {
		byKind[t.Kind()] = append(byKind[t.Kind()], t)
	}
	for kind, kindTasks := range byKind {
		ids := make([]uuid.UUID, len(kindTasks))
		for i, t := range kindTasks {
			ids[i] = t.ID()
		}
		evt := work.NewTasksCreatedEvent(kind, ids)
		if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(kind.String())); err != nil {
			logger.Error(ctx, "Failed to publish tasks created event", "kind", kind, "error", err)
		}
	}
}
