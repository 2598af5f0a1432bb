package work

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/work"
	"github.com/markflow/markflow/internal/infra/storage/memory"
	"github.com/markflow/markflow/pkg/common/logger"
)

type noopPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *noopPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type taskSuite struct {
	svc       *taskLifecycleService
	taskStore *memory.TaskStore
	publisher *noopPublisher
}

func setupTaskSuite(t *testing.T) *taskSuite {
	t.Helper()
	db := memory.NewDB()
	taskStore := memory.NewTaskStore(db)
	publisher := new(noopPublisher)
	svc := NewTaskLifecycleService(
		memory.NewUnitOfWork(db),
		taskStore,
		publisher,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	return &taskSuite{svc: svc, taskStore: taskStore, publisher: publisher}
}

func seedTasks(t *testing.T, store *memory.TaskStore, tasks ...*work.Task) {
	t.Helper()
	require.NoError(t, store.CreateTasks(context.Background(), tasks))
}

func TestNextTask_Ordering(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	low := work.NewMarkTask(5, 1, 1)
	high := work.NewMarkTask(9, 1, 1)
	high.SetPriority(10)
	tieA := work.NewMarkTask(3, 2, 1)
	tieA.SetPriority(10)
	seedTasks(t, suite.taskStore, low, high, tieA)

	// Highest priority wins; within a priority, the lowest paper number.
	next, err := suite.svc.NextTask(ctx, work.TaskKindMark)
	require.NoError(t, err)
	assert.Equal(t, tieA.ID(), next.ID())
}

func TestNextTask_Empty(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)

	_, err := suite.svc.NextTask(context.Background(), work.TaskKindMark)
	assert.ErrorIs(t, err, work.ErrNoTasksAvailable)
}

func TestClaimTask(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewMarkTask(1, 1, 1)
	seedTasks(t, suite.taskStore, task)

	claimed, err := suite.svc.ClaimTask(ctx, task.ID(), "marker-a")
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusOut, claimed.Status())
	assert.Equal(t, "marker-a", claimed.AssignedTo())

	// A second worker cannot take the claim; the stored task is unchanged.
	_, err = suite.svc.ClaimTask(ctx, task.ID(), "marker-b")
	assert.ErrorIs(t, err, work.ErrAlreadyClaimed)

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, "marker-a", stored.AssignedTo())
}

func TestClaimNextTask(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewIdentifyTask(4, 0)
	seedTasks(t, suite.taskStore, task)

	claimed, err := suite.svc.ClaimNextTask(ctx, work.TaskKindIdentify, "identifier-a")
	require.NoError(t, err)
	assert.Equal(t, task.ID(), claimed.ID())
	assert.Equal(t, work.TaskStatusOut, claimed.Status())

	_, err = suite.svc.ClaimNextTask(ctx, work.TaskKindIdentify, "identifier-b")
	assert.ErrorIs(t, err, work.ErrNoTasksAvailable)
}

func TestClaimTask_ConcurrentClaimers(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewMarkTask(1, 1, 1)
	seedTasks(t, suite.taskStore, task)

	// Two workers race for the same task; exactly one claim lands.
	start := make(chan struct{})
	results := make(chan error, 2)
	for _, identity := range []string{"marker-a", "marker-b"} {
		go func() {
			<-start
			_, err := suite.svc.ClaimTask(ctx, task.ID(), identity)
			results <- err
		}()
	}
	close(start)

	var wins, rejections int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, work.ErrAlreadyClaimed):
			rejections++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, rejections)

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusOut, stored.Status())
	assert.Contains(t, []string{"marker-a", "marker-b"}, stored.AssignedTo())
}

func TestClaimNextTask_ConcurrentClaimersGetDistinctTasks(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	seedTasks(t, suite.taskStore, work.NewIdentifyTask(1, 0), work.NewIdentifyTask(2, 0))

	type claim struct {
		task *work.Task
		err  error
	}
	start := make(chan struct{})
	claims := make(chan claim, 2)
	for _, identity := range []string{"identifier-a", "identifier-b"} {
		go func() {
			<-start
			task, err := suite.svc.ClaimNextTask(ctx, work.TaskKindIdentify, identity)
			claims <- claim{task: task, err: err}
		}()
	}
	close(start)

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 2; i++ {
		c := <-claims
		require.NoError(t, c.err)
		assert.False(t, seen[c.task.ID()], "both claimers received task %s", c.task.ID())
		seen[c.task.ID()] = true
	}
}

func TestSubmitTaskResult(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewMarkTask(1, 2, 1)
	seedTasks(t, suite.taskStore, task)
	_, err := suite.svc.ClaimTask(ctx, task.ID(), "marker-a")
	require.NoError(t, err)

	action, err := suite.svc.SubmitTaskResult(ctx, task.ID(), "marker-a", "", json.RawMessage(`{"score":7}`))
	require.NoError(t, err)
	assert.True(t, action.Valid())

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusComplete, stored.Status())
	require.NotNil(t, stored.LatestActionID())
	assert.Equal(t, action.ID(), *stored.LatestActionID())
}

func TestSubmitTaskResult_NotYours(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewMarkTask(1, 2, 1)
	seedTasks(t, suite.taskStore, task)
	_, err := suite.svc.ClaimTask(ctx, task.ID(), "marker-a")
	require.NoError(t, err)

	_, err = suite.svc.SubmitTaskResult(ctx, task.ID(), "marker-b", "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, work.ErrNotYours)

	// The failed submission left no action behind.
	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Nil(t, stored.LatestActionID())
}

func TestSubmitTaskResult_ResubmissionInvalidatesPrior(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewMarkTask(1, 2, 1)
	seedTasks(t, suite.taskStore, task)
	_, err := suite.svc.ClaimTask(ctx, task.ID(), "marker-a")
	require.NoError(t, err)

	first, err := suite.svc.SubmitTaskResult(ctx, task.ID(), "marker-a", "", json.RawMessage(`{"score":5}`))
	require.NoError(t, err)
	second, err := suite.svc.SubmitTaskResult(ctx, task.ID(), "marker-a", "", json.RawMessage(`{"score":6}`))
	require.NoError(t, err)

	priorStored, err := suite.taskStore.GetAction(ctx, first.ID())
	require.NoError(t, err)
	assert.False(t, priorStored.Valid())

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, second.ID(), *stored.LatestActionID())
}

func TestSubmitTaskResult_DuplicateIdentifier(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	taskA := work.NewIdentifyTask(1, 0)
	taskB := work.NewIdentifyTask(2, 0)
	seedTasks(t, suite.taskStore, taskA, taskB)

	_, err := suite.svc.ClaimTask(ctx, taskA.ID(), "identifier-a")
	require.NoError(t, err)
	_, err = suite.svc.SubmitTaskResult(ctx, taskA.ID(), "identifier-a", "S1234", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = suite.svc.ClaimTask(ctx, taskB.ID(), "identifier-b")
	require.NoError(t, err)
	_, err = suite.svc.SubmitTaskResult(ctx, taskB.ID(), "identifier-b", "S1234", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, work.ErrDuplicateIdentifier)

	// The duplicate submission mutated nothing.
	stored, err := suite.taskStore.GetTask(ctx, taskB.ID())
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusOut, stored.Status())
	assert.Nil(t, stored.LatestActionID())
}

func TestSubmitTaskResult_BlankIdentifierExempt(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	taskA := work.NewIdentifyTask(1, 0)
	taskB := work.NewIdentifyTask(2, 0)
	seedTasks(t, suite.taskStore, taskA, taskB)

	for i, tc := range []struct {
		task     *work.Task
		identity string
	}{
		{taskA, "identifier-a"},
		{taskB, "identifier-b"},
	} {
		_, err := suite.svc.ClaimTask(ctx, tc.task.ID(), tc.identity)
		require.NoError(t, err, "claim %d", i)
		_, err = suite.svc.SubmitTaskResult(ctx, tc.task.ID(), tc.identity, "", json.RawMessage(`{"blank":true}`))
		require.NoError(t, err, "submit %d", i)
	}
}

func TestSetTaskOutdated(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewIdentifyTask(1, 0)
	seedTasks(t, suite.taskStore, task)
	_, err := suite.svc.ClaimTask(ctx, task.ID(), "identifier-a")
	require.NoError(t, err)
	action, err := suite.svc.SubmitTaskResult(ctx, task.ID(), "identifier-a", "S9999", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, suite.svc.SetTaskOutdated(ctx, task.ID()))

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusOutOfDate, stored.Status())
	assert.Empty(t, stored.AssignedTo())
	assert.Nil(t, stored.LatestActionID())

	// Identification retirement invalidates its action, freeing the
	// identifier for a fresh task.
	storedAction, err := suite.taskStore.GetAction(ctx, action.ID())
	require.NoError(t, err)
	assert.False(t, storedAction.Valid())

	inUse, err := suite.taskStore.IdentifierInUse(ctx, "S9999", task.ID())
	require.NoError(t, err)
	assert.False(t, inUse)

	// Retiring again is a quiet no-op.
	require.NoError(t, suite.svc.SetTaskOutdated(ctx, task.ID()))
}

func TestSurrenderTask(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewMarkTask(1, 1, 1)
	seedTasks(t, suite.taskStore, task)
	_, err := suite.svc.ClaimTask(ctx, task.ID(), "marker-a")
	require.NoError(t, err)

	require.NoError(t, suite.svc.SurrenderTask(ctx, task.ID(), "marker-a"))

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, work.TaskStatusToDo, stored.Status())
}

func TestSetTaskPriority(t *testing.T) {
	t.Parallel()
	suite := setupTaskSuite(t)
	ctx := context.Background()

	task := work.NewIdentifyTask(1, 0)
	seedTasks(t, suite.taskStore, task)

	require.NoError(t, suite.svc.SetTaskPriority(ctx, task.ID(), 42))

	stored, err := suite.taskStore.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, int32(42), stored.Priority())
}
