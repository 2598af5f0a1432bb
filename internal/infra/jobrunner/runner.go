// Package jobrunner provides an in-process worker pool implementing the
// chore Runner port. Jobs are queued per submission, executed by a fixed set
// of workers, and their outcomes delivered to registered callbacks.
package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/pkg/common"
	"github.com/markflow/markflow/pkg/common/logger"
)

// Job is one submitted unit of background work.
type Job struct {
	ID      uuid.UUID
	ChoreID uuid.UUID
	Kind    chores.ChoreKind
	Payload json.RawMessage
}

// Handler executes one job kind, returning the path of the artifact it
// produced. Transient failures should be returned as-is; the runner retries
// with exponential backoff before reporting the job failed.
type Handler func(ctx context.Context, job Job) (artifactPath string, err error)

// StartCallback is invoked when a worker picks a job up.
type StartCallback func(ctx context.Context, jobID uuid.UUID)

// DoneCallback is invoked when a job reaches a terminal state.
type DoneCallback func(ctx context.Context, result chores.JobResult)

type jobEntry struct {
	job   Job
	state chores.JobState
}

// Runner is the in-process implementation of the chores.Runner port. A
// bounded queue feeds a fixed worker pool; submission rate is capped by the
// shared limiter so a burst of enqueues cannot starve the request path.
type Runner struct {
	workers    int
	maxRetries uint64
	limiter    *common.RateLimiter

	handlers map[chores.ChoreKind]Handler
	onStart  StartCallback
	onDone   DoneCallback

	mu    sync.Mutex
	jobs  map[uuid.UUID]*jobEntry
	queue chan uuid.UUID

	inflight sync.WaitGroup // submitted jobs not yet terminal
	wg       sync.WaitGroup // worker goroutines
	stopOnce sync.Once

	logger *logger.Logger
}

var _ chores.Runner = (*Runner)(nil)

// NewRunner creates a Runner with the given pool size and queue capacity.
func NewRunner(workers, queueSize int, maxRetries uint64, limiter *common.RateLimiter, logger *logger.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		workers:    workers,
		maxRetries: maxRetries,
		limiter:    limiter,
		handlers:   make(map[chores.ChoreKind]Handler),
		jobs:       make(map[uuid.UUID]*jobEntry),
		queue:      make(chan uuid.UUID, queueSize),
		logger:     logger.With("component", "job_runner"),
	}
}

// RegisterHandler binds a handler to a job kind. Must be called before Start.
func (r *Runner) RegisterHandler(kind chores.ChoreKind, h Handler) {
	r.handlers[kind] = h
}

// OnStart registers the start callback. Must be called before Start.
func (r *Runner) OnStart(cb StartCallback) { r.onStart = cb }

// OnDone registers the completion callback. Must be called before Start.
func (r *Runner) OnDone(cb DoneCallback) { r.onDone = cb }

// Start launches the worker pool. Workers run until Stop is called and drain
// the queue before exiting.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.work(ctx)
		}()
	}
	r.logger.Info(ctx, "Job runner started", "workers", r.workers)
}

// Stop closes the queue and waits for the workers to drain it.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.queue) })
	r.wg.Wait()
}

// Submit enqueues a job for its kind's handler and returns the job handle.
func (r *Runner) Submit(ctx context.Context, choreID uuid.UUID, kind chores.ChoreKind, payload json.RawMessage) (uuid.UUID, error) {
	if _, ok := r.handlers[kind]; !ok {
		return uuid.Nil, fmt.Errorf("no handler registered for job kind %s", kind)
	}
	if r.limiter != nil {
		if err := r.limiter.Acquire(ctx); err != nil {
			return uuid.Nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	jobID := uuid.New()
	entry := &jobEntry{
		job:   Job{ID: jobID, ChoreID: choreID, Kind: kind, Payload: payload},
		state: chores.JobStateQueued,
	}

	r.mu.Lock()
	r.jobs[jobID] = entry
	r.mu.Unlock()
	r.inflight.Add(1)

	select {
	case r.queue <- jobID:
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.jobs, jobID)
		r.mu.Unlock()
		r.inflight.Done()
		return uuid.Nil, ctx.Err()
	}
	return jobID, nil
}

// Revoke pulls a queued job back. It reports true only when no worker had
// started the job; running and finished jobs are left alone.
func (r *Runner) Revoke(_ context.Context, jobID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[jobID]
	if !ok {
		return false, chores.ErrJobNotFound
	}
	if entry.state != chores.JobStateQueued {
		return false, nil
	}
	entry.state = chores.JobStateRevoked
	return true, nil
}

// Poll reports the current state of a job.
func (r *Runner) Poll(_ context.Context, jobID uuid.UUID) (chores.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[jobID]
	if !ok {
		return "", chores.ErrJobNotFound
	}
	return entry.state, nil
}

// Await blocks until every submitted job has reached a terminal state or the
// context deadline passes.
func (r *Runner) Await(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return chores.ErrTimedOut
	}
}

func (r *Runner) work(ctx context.Context) {
	for jobID := range r.queue {
		r.runOne(ctx, jobID)
	}
}

func (r *Runner) runOne(ctx context.Context, jobID uuid.UUID) {
	defer r.inflight.Done()

	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	if !ok || entry.state != chores.JobStateQueued {
		// Revoked while queued; nothing to run and nothing to report.
		r.mu.Unlock()
		return
	}
	entry.state = chores.JobStateRunning
	job := entry.job
	r.mu.Unlock()

	if r.onStart != nil {
		r.onStart(ctx, jobID)
	}

	handler := r.handlers[job.Kind]
	var artifactPath string
	operation := func() error {
		var err error
		artifactPath, err = handler(ctx, job)
		return err
	}
	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx))

	result := chores.JobResult{JobID: jobID, ChoreID: job.ChoreID}
	r.mu.Lock()
	if err != nil {
		entry.state = chores.JobStateFailed
		result.State = chores.JobStateFailed
		result.Err = err
	} else {
		entry.state = chores.JobStateDone
		result.State = chores.JobStateDone
		result.ArtifactPath = artifactPath
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error(ctx, "Job failed", "job_id", jobID, "kind", job.Kind, "error", err)
	} else {
		r.logger.Debug(ctx, "Job finished", "job_id", jobID, "kind", job.Kind)
	}
	if r.onDone != nil {
		r.onDone(ctx, result)
	}
}
