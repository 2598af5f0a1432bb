package ingestion

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/domain/work"
	"github.com/markflow/markflow/internal/infra/storage/memory"
	"github.com/markflow/markflow/pkg/common/logger"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *capturingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturingPublisher) byType(t events.EventType) []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.DomainEvent
	for _, evt := range p.events {
		if evt.EventType() == t {
			out = append(out, evt)
		}
	}
	return out
}

// testBlueprint: page 1 ID, page 2 DNM, pages 3-4 question 1, page 5
// question 2, page 6 question 3.
func testBlueprint(t *testing.T) *papers.Blueprint {
	t.Helper()
	bp, err := papers.NewBlueprint([]papers.BlueprintPage{
		{Number: 1, Type: papers.PageTypeID},
		{Number: 2, Type: papers.PageTypeDoNotMark},
		{Number: 3, Type: papers.PageTypeQuestion, QuestionIndex: 1},
		{Number: 4, Type: papers.PageTypeQuestion, QuestionIndex: 1},
		{Number: 5, Type: papers.PageTypeQuestion, QuestionIndex: 2},
		{Number: 6, Type: papers.PageTypeQuestion, QuestionIndex: 3},
	}, 3, 1)
	require.NoError(t, err)
	return bp
}

type pushSuite struct {
	svc       *bundlePushService
	db        *memory.DB
	pageStore *memory.PageStore
	taskStore *memory.TaskStore
	publisher *capturingPublisher
}

func setupPushSuite(t *testing.T, finalize bool) *pushSuite {
	t.Helper()
	db := memory.NewDB()
	paperStore := memory.NewPaperStore(db)
	pageStore := memory.NewPageStore(db)
	taskStore := memory.NewTaskStore(db)
	publisher := new(capturingPublisher)
	bp := testBlueprint(t)

	if finalize {
		require.NoError(t, paperStore.CreatePaperSet(context.Background(), bp, []int{1, 2, 3}, nil))
	}

	svc := NewBundlePushService(
		bp,
		memory.NewUnitOfWork(db),
		paperStore,
		memory.NewBundleStore(db),
		pageStore,
		taskStore,
		publisher,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	return &pushSuite{svc: svc, db: db, pageStore: pageStore, taskStore: taskStore, publisher: publisher}
}

func TestPushBundle_NotReady(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, false)

	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
	})
	err := suite.svc.PushBundle(context.Background(), bundle)
	assert.ErrorIs(t, err, papers.ErrNotReady)
}

func TestPushBundle_InvalidStagedContent(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)

	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewUnclassifiedStaged(0, "h0", 0, papers.StagedUnread),
	})
	err := suite.svc.PushBundle(context.Background(), bundle)
	assert.ErrorIs(t, err, papers.ErrInvalidStagedContent)
}

func TestPushBundle_InternalCollision(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)

	ref := papers.KnownRef{Paper: 1, Page: 3, Version: 1}
	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, ref),
		papers.NewKnownStaged(1, "h1", 0, ref),
	})

	var collisionErr *papers.CollisionError
	err := suite.svc.PushBundle(context.Background(), bundle)
	require.ErrorAs(t, err, &collisionErr)
	require.Len(t, collisionErr.Groups, 1)
	assert.Len(t, collisionErr.Groups[0].Members, 2)

	// Nothing was committed.
	page, err := suite.pageStore.GetFixedPage(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.False(t, page.HasImage())
}

func TestPushBundle_ExternalCollision(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	first := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, first))

	second := papers.NewBundle("b2", "hash2", []papers.StagedImage{
		papers.NewKnownStaged(0, "h1", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
		papers.NewKnownStaged(1, "h2", 0, papers.KnownRef{Paper: 1, Page: 4, Version: 1}),
	})

	var collisionErr *papers.CollisionError
	err := suite.svc.PushBundle(ctx, second)
	require.ErrorAs(t, err, &collisionErr)
	assert.True(t, collisionErr.HasPaper(1))

	// The colliding push left the store untouched: page 4 gained no image.
	page, err := suite.pageStore.GetFixedPage(ctx, 1, 4)
	require.NoError(t, err)
	assert.False(t, page.HasImage())
}

func TestPushBundle_OpensTasksForNewlyReadyQuestions(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 1, Version: 1}),
		papers.NewKnownStaged(1, "h1", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
		papers.NewKnownStaged(2, "h2", 0, papers.KnownRef{Paper: 1, Page: 4, Version: 1}),
		papers.NewKnownStaged(3, "h3", 0, papers.KnownRef{Paper: 1, Page: 5, Version: 1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, bundle))

	// Question 1 (both pages) and question 2 (single page) became ready.
	markQ1, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusToDo, markQ1.Status())

	_, err = suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 1, 2)
	require.NoError(t, err)

	// Question 3 has no imaged pages yet.
	_, err = suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 1, 3)
	assert.ErrorIs(t, err, work.ErrTaskNotFound)

	// The ID page got its first image.
	idTask, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindIdentify, 1, papers.SentinelQuestion)
	require.NoError(t, err)
	assert.Equal(t, work.TaskKindIdentify, idTask.Kind())

	assert.Len(t, suite.publisher.byType(papers.EventTypeBundlePushed), 1)
	assert.NotEmpty(t, suite.publisher.byType(work.EventTypeTasksCreated))
}

func TestPushBundle_ConfidentIDPageOpensPrioritizedTask(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 1, Version: 1}).WithConfidence(0.95),
		papers.NewKnownStaged(1, "h1", 0, papers.KnownRef{Paper: 2, Page: 1, Version: 1}).WithConfidence(0.4),
		papers.NewKnownStaged(2, "h2", 0, papers.KnownRef{Paper: 3, Page: 1, Version: 1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, bundle))

	// The confident decode jumps the identification queue; a weak or absent
	// prediction opens the task at the default priority.
	confident, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindIdentify, 1, papers.SentinelQuestion)
	require.NoError(t, err)
	assert.Equal(t, int32(1), confident.Priority())

	for _, paper := range []int{2, 3} {
		task, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindIdentify, paper, papers.SentinelQuestion)
		require.NoError(t, err)
		assert.Zero(t, task.Priority(), "paper %d", paper)
	}
}

func TestPushBundle_PartialQuestionIsNotReady(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, bundle))

	_, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 1, 1)
	assert.ErrorIs(t, err, work.ErrTaskNotFound)
}

func TestPushBundle_SecondPushCompletesQuestion(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	first := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, first))

	second := papers.NewBundle("b2", "hash2", []papers.StagedImage{
		papers.NewKnownStaged(0, "h1", 0, papers.KnownRef{Paper: 1, Page: 4, Version: 1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, second))

	task, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusToDo, task.Status())
}

func TestPushBundle_ExtraPages(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewExtraStaged(0, "h0", 0, 2, []int{3}),
		papers.NewExtraStaged(1, "h1", 0, 2, nil),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, bundle))

	// Question 3 of paper 2 has no fixed images and one mobile page: ready.
	task, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, task.QuestionIndex())

	// The do-not-mark extra produced a sentinel row and no task.
	_, err = suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 2, papers.SentinelQuestion)
	assert.ErrorIs(t, err, work.ErrTaskNotFound)

	snaps, err := suite.pageStore.SnapshotPapers(ctx, []int{2})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Len(t, snaps[0].Mobile, 2)
}

func TestPushBundle_MixedFixedAndMobileNeverReady(t *testing.T) {
	t.Parallel()
	suite := setupPushSuite(t, true)
	ctx := context.Background()

	// One of question 1's two fixed pages imaged plus a mobile page: the
	// mixed state must not open a task.
	bundle := papers.NewBundle("b1", "hash1", []papers.StagedImage{
		papers.NewKnownStaged(0, "h0", 0, papers.KnownRef{Paper: 1, Page: 3, Version: 1}),
		papers.NewExtraStaged(1, "h1", 0, 1, []int{1}),
	})
	require.NoError(t, suite.svc.PushBundle(ctx, bundle))

	_, err := suite.taskStore.FindLiveTask(ctx, work.TaskKindMark, 1, 1)
	assert.ErrorIs(t, err, work.ErrTaskNotFound)
}
