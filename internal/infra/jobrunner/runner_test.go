package jobrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/pkg/common/logger"
)

func newTestRunner(workers int) *Runner {
	return NewRunner(workers, 16, 0, nil, logger.Noop())
}

func TestRunner_SubmitAndComplete(t *testing.T) {
	t.Parallel()
	runner := newTestRunner(2)

	var started atomic.Int32
	runner.OnStart(func(_ context.Context, _ uuid.UUID) { started.Add(1) })

	results := make(chan chores.JobResult, 1)
	runner.OnDone(func(_ context.Context, r chores.JobResult) { results <- r })

	runner.RegisterHandler(chores.ChoreKindReassembly, func(_ context.Context, job Job) (string, error) {
		return "artifacts/out.pdf", nil
	})
	runner.Start(context.Background())
	defer runner.Stop()

	choreID := uuid.New()
	jobID, err := runner.Submit(context.Background(), choreID, chores.ChoreKindReassembly, nil)
	require.NoError(t, err)

	select {
	case result := <-results:
		assert.Equal(t, jobID, result.JobID)
		assert.Equal(t, choreID, result.ChoreID)
		assert.Equal(t, chores.JobStateDone, result.State)
		assert.Equal(t, "artifacts/out.pdf", result.ArtifactPath)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	assert.Equal(t, int32(1), started.Load())

	state, err := runner.Poll(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, chores.JobStateDone, state)
}

func TestRunner_UnknownKind(t *testing.T) {
	t.Parallel()
	runner := newTestRunner(1)
	runner.Start(context.Background())
	defer runner.Stop()

	_, err := runner.Submit(context.Background(), uuid.New(), chores.ChoreKindReport, nil)
	assert.Error(t, err)
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	runner := NewRunner(1, 4, 3, nil, logger.Noop())

	var attempts atomic.Int32
	runner.RegisterHandler(chores.ChoreKindSolution, func(_ context.Context, _ Job) (string, error) {
		if attempts.Add(1) < 3 {
			return "", errors.New("flaky storage")
		}
		return "artifacts/solution.pdf", nil
	})
	results := make(chan chores.JobResult, 1)
	runner.OnDone(func(_ context.Context, r chores.JobResult) { results <- r })
	runner.Start(context.Background())
	defer runner.Stop()

	_, err := runner.Submit(context.Background(), uuid.New(), chores.ChoreKindSolution, nil)
	require.NoError(t, err)

	select {
	case result := <-results:
		assert.Equal(t, chores.JobStateDone, result.State)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for retried completion")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRunner_FailureReported(t *testing.T) {
	t.Parallel()
	runner := newTestRunner(1)

	runner.RegisterHandler(chores.ChoreKindReport, func(_ context.Context, _ Job) (string, error) {
		return "", backoff.Permanent(errors.New("bad input"))
	})
	results := make(chan chores.JobResult, 1)
	runner.OnDone(func(_ context.Context, r chores.JobResult) { results <- r })
	runner.Start(context.Background())
	defer runner.Stop()

	jobID, err := runner.Submit(context.Background(), uuid.New(), chores.ChoreKindReport, nil)
	require.NoError(t, err)

	select {
	case result := <-results:
		assert.Equal(t, chores.JobStateFailed, result.State)
		assert.Error(t, result.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}

	state, err := runner.Poll(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, chores.JobStateFailed, state)
}

func TestRunner_RevokeQueuedJob(t *testing.T) {
	t.Parallel()
	// One worker held busy so a second submission stays queued.
	runner := newTestRunner(1)

	release := make(chan struct{})
	var mu sync.Mutex
	var ran []uuid.UUID
	runner.RegisterHandler(chores.ChoreKindReassembly, func(_ context.Context, job Job) (string, error) {
		mu.Lock()
		ran = append(ran, job.ID)
		mu.Unlock()
		<-release
		return "", nil
	})
	runner.Start(context.Background())
	defer runner.Stop()

	first, err := runner.Submit(context.Background(), uuid.New(), chores.ChoreKindReassembly, nil)
	require.NoError(t, err)

	// Wait for the worker to pick the first job up.
	require.Eventually(t, func() bool {
		state, err := runner.Poll(context.Background(), first)
		return err == nil && state == chores.JobStateRunning
	}, 5*time.Second, 10*time.Millisecond)

	second, err := runner.Submit(context.Background(), uuid.New(), chores.ChoreKindReassembly, nil)
	require.NoError(t, err)

	// The queued job can be revoked; the running one cannot.
	revoked, err := runner.Revoke(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = runner.Revoke(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, revoked)

	close(release)
	require.NoError(t, runner.Await(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uuid.UUID{first}, ran)
}

func TestRunner_AwaitTimesOut(t *testing.T) {
	t.Parallel()
	runner := newTestRunner(1)

	release := make(chan struct{})
	runner.RegisterHandler(chores.ChoreKindReassembly, func(_ context.Context, _ Job) (string, error) {
		<-release
		return "", nil
	})
	runner.Start(context.Background())
	defer runner.Stop()
	defer close(release)

	_, err := runner.Submit(context.Background(), uuid.New(), chores.ChoreKindReassembly, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, runner.Await(ctx), chores.ErrTimedOut)
}

func TestRunner_RevokeUnknownJob(t *testing.T) {
	t.Parallel()
	runner := newTestRunner(1)

	_, err := runner.Revoke(context.Background(), uuid.New())
	assert.ErrorIs(t, err, chores.ErrJobNotFound)
}
