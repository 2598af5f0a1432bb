package chores

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// JobState is the runner's view of one submitted job.
type JobState string

const (
	JobStateQueued  JobState = "QUEUED"
	JobStateRunning JobState = "RUNNING"
	JobStateDone    JobState = "DONE"
	JobStateFailed  JobState = "FAILED"
	JobStateRevoked JobState = "REVOKED"
)

// JobResult is delivered to the completion handler when a job ends.
type JobResult struct {
	JobID        uuid.UUID
	ChoreID      uuid.UUID
	State        JobState
	ArtifactPath string
	Err          error
}

// Runner executes chore jobs outside the request path. Implementations own
// the worker pool; the chore service only sees handles and results.
type Runner interface {
	// Submit enqueues a job and returns its handle. The payload is the
	// job-kind specific input, serialized.
	Submit(ctx context.Context, choreID uuid.UUID, kind ChoreKind, payload json.RawMessage) (uuid.UUID, error)

	// Revoke removes a queued job. It reports true when the job was pulled
	// before any worker started it; false means the job is running or
	// already done and must be allowed to finish.
	Revoke(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Poll reports the current state of a job.
	Poll(ctx context.Context, jobID uuid.UUID) (JobState, error)

	// Await blocks until every in-flight job has reached a terminal state or
	// the context deadline passes, returning ErrTimedOut in the latter case.
	Await(ctx context.Context) error
}
