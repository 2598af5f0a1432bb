package chores

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/events"
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

// fakeRunner records submissions and lets tests steer revocation and wait
// outcomes.
type fakeRunner struct {
	mu         sync.Mutex
	submitted  map[uuid.UUID]uuid.UUID // job id -> chore id
	submitErr  error
	revokable  bool
	revoked    []uuid.UUID
	awaitErr   error
	awaitCalls int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{submitted: make(map[uuid.UUID]uuid.UUID), revokable: true}
}

func (r *fakeRunner) Submit(_ context.Context, choreID uuid.UUID, _ chores.ChoreKind, _ json.RawMessage) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return uuid.Nil, r.submitErr
	}
	jobID := uuid.New()
	r.submitted[jobID] = choreID
	return jobID, nil
}

func (r *fakeRunner) Revoke(_ context.Context, jobID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.submitted[jobID]; !ok {
		return false, chores.ErrJobNotFound
	}
	if r.revokable {
		r.revoked = append(r.revoked, jobID)
		return true, nil
	}
	return false, nil
}

func (r *fakeRunner) Poll(_ context.Context, jobID uuid.UUID) (chores.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.submitted[jobID]; !ok {
		return "", chores.ErrJobNotFound
	}
	return chores.JobStateQueued, nil
}

func (r *fakeRunner) Await(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awaitCalls++
	return r.awaitErr
}

type removingArtifacts struct {
	mu      sync.Mutex
	removed []string
}

func (a *removingArtifacts) Remove(_ context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, path)
	return nil
}

type choreSuite struct {
	svc       *choreService
	store     *memory.ChoreStore
	runner    *fakeRunner
	artifacts *removingArtifacts
	publisher *noopPublisher
}

func setupChoreSuite(t *testing.T) *choreSuite {
	t.Helper()
	db := memory.NewDB()
	store := memory.NewChoreStore(db)
	runner := newFakeRunner()
	artifacts := new(removingArtifacts)
	publisher := new(noopPublisher)

	svc := NewChoreService(
		memory.NewUnitOfWork(db),
		store,
		runner,
		artifacts,
		publisher,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	return &choreSuite{svc: svc, store: store, runner: runner, artifacts: artifacts, publisher: publisher}
}

func TestEnqueueChore(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	ctx := context.Background()

	chore, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 7, json.RawMessage(`{"paper":7}`))
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusQueued, chore.Status())
	require.NotNil(t, chore.JobHandle())

	stored, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusQueued, stored.Status())
}

func TestEnqueueChore_Conflict(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	ctx := context.Background()

	_, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 7, nil)
	require.NoError(t, err)

	_, err = suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 7, nil)
	assert.ErrorIs(t, err, chores.ErrChoreConflict)

	// Different kind or paper does not conflict.
	_, err = suite.svc.EnqueueChore(ctx, chores.ChoreKindSolution, 7, nil)
	assert.NoError(t, err)
	_, err = suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 8, nil)
	assert.NoError(t, err)
}

func TestEnqueueChore_SubmissionFailureCaptured(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	suite.runner.submitErr = errors.New("queue full")

	chore, err := suite.svc.EnqueueChore(context.Background(), chores.ChoreKindReport, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusError, chore.Status())
	assert.Contains(t, chore.Message(), "queue full")
}

func TestOnJobStartedAndDone(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	ctx := context.Background()

	chore, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 3, nil)
	require.NoError(t, err)
	jobID := *chore.JobHandle()

	require.NoError(t, suite.svc.OnJobStarted(ctx, jobID))
	running, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusRunning, running.Status())

	require.NoError(t, suite.svc.OnJobDone(ctx, chores.JobResult{
		JobID:        jobID,
		ChoreID:      chore.ID(),
		State:        chores.JobStateDone,
		ArtifactPath: "artifacts/p3.pdf",
	}))

	done, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusComplete, done.Status())
	assert.Equal(t, "artifacts/p3.pdf", done.ArtifactPath())
	assert.Empty(t, suite.artifacts.removed)
}

func TestOnJobDone_Failure(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	ctx := context.Background()

	chore, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindSolution, 2, nil)
	require.NoError(t, err)

	require.NoError(t, suite.svc.OnJobDone(ctx, chores.JobResult{
		JobID:   *chore.JobHandle(),
		ChoreID: chore.ID(),
		State:   chores.JobStateFailed,
		Err:     errors.New("missing solution source"),
	}))

	stored, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusError, stored.Status())
	assert.Equal(t, "missing solution source", stored.Message())
}

func TestCancelChore_RevokedBeforeStart(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	ctx := context.Background()

	chore, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 5, nil)
	require.NoError(t, err)

	require.NoError(t, suite.svc.CancelChore(ctx, chore.ID()))

	stored, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.True(t, stored.Obsolete())
	assert.Equal(t, chores.ChoreStatusError, stored.Status())
	assert.Equal(t, "revoked before start", stored.Message())

	// The key is free again.
	_, err = suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 5, nil)
	assert.NoError(t, err)
}

func TestCancelChore_RunningJobFinishesObsolete(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	suite.runner.revokable = false
	ctx := context.Background()

	chore, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 5, nil)
	require.NoError(t, err)
	require.NoError(t, suite.svc.OnJobStarted(ctx, *chore.JobHandle()))

	require.NoError(t, suite.svc.CancelChore(ctx, chore.ID()))

	cancelled, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.True(t, cancelled.Obsolete())
	assert.Equal(t, chores.ChoreStatusRunning, cancelled.Status())

	// The job completes anyway: the chore reaches COMPLETE but the
	// artifact is discarded.
	require.NoError(t, suite.svc.OnJobDone(ctx, chores.JobResult{
		JobID:        *chore.JobHandle(),
		ChoreID:      chore.ID(),
		State:        chores.JobStateDone,
		ArtifactPath: "artifacts/p5.pdf",
	}))

	done, err := suite.store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusComplete, done.Status())
	assert.Empty(t, done.ArtifactPath())
	assert.Equal(t, []string{"artifacts/p5.pdf"}, suite.artifacts.removed)
}

func TestResetChores(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	ctx := context.Background()

	a, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 1, nil)
	require.NoError(t, err)
	b, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindSolution, 2, nil)
	require.NoError(t, err)

	require.NoError(t, suite.svc.ResetChores(ctx, 0))

	for _, id := range []uuid.UUID{a.ID(), b.ID()} {
		stored, err := suite.store.GetChore(ctx, id)
		require.NoError(t, err)
		assert.True(t, stored.Obsolete())
	}
	// Fire-and-forget does not wait on the runner.
	assert.Zero(t, suite.runner.awaitCalls)
}

func TestResetChores_WaitTimesOut(t *testing.T) {
	t.Parallel()
	suite := setupChoreSuite(t)
	suite.runner.revokable = false
	suite.runner.awaitErr = chores.ErrTimedOut
	ctx := context.Background()

	_, err := suite.svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 1, nil)
	require.NoError(t, err)

	err = suite.svc.ResetChores(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, chores.ErrTimedOut)
	assert.Equal(t, 1, suite.runner.awaitCalls)
}

// holdingChoreStore pauses one UpdateChore call so another goroutine can race
// the write. Arm it right before the write under test.
type holdingChoreStore struct {
	*memory.ChoreStore
	mu     sync.Mutex
	armed  bool
	paused chan struct{}
	resume chan struct{}
}

func (s *holdingChoreStore) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *holdingChoreStore) UpdateChore(ctx context.Context, chore *chores.Chore) error {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	s.mu.Unlock()
	if armed {
		close(s.paused)
		<-s.resume
	}
	return s.ChoreStore.UpdateChore(ctx, chore)
}

func TestOnJobDone_ConcurrentCancelNotLost(t *testing.T) {
	t.Parallel()
	db := memory.NewDB()
	store := &holdingChoreStore{
		ChoreStore: memory.NewChoreStore(db),
		paused:     make(chan struct{}),
		resume:     make(chan struct{}),
	}
	runner := newFakeRunner()
	runner.revokable = false
	svc := NewChoreService(
		memory.NewUnitOfWork(db),
		store,
		runner,
		new(removingArtifacts),
		new(noopPublisher),
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	ctx := context.Background()

	chore, err := svc.EnqueueChore(ctx, chores.ChoreKindReassembly, 7, nil)
	require.NoError(t, err)
	jobID := *chore.JobHandle()
	require.NoError(t, svc.OnJobStarted(ctx, jobID))

	// Pause the completion write and cancel the chore in the window. The
	// cancellation must survive no matter which side commits first.
	store.arm()
	doneErr := make(chan error, 1)
	go func() {
		doneErr <- svc.OnJobDone(ctx, chores.JobResult{
			JobID:        jobID,
			ChoreID:      chore.ID(),
			State:        chores.JobStateDone,
			ArtifactPath: "artifacts/p7.pdf",
		})
	}()
	<-store.paused

	cancelErr := make(chan error, 1)
	go func() { cancelErr <- svc.CancelChore(ctx, chore.ID()) }()
	time.Sleep(20 * time.Millisecond)
	close(store.resume)

	require.NoError(t, <-doneErr)
	require.NoError(t, <-cancelErr)

	final, err := store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.True(t, final.Obsolete())
	assert.Equal(t, chores.ChoreStatusComplete, final.Status())
}
