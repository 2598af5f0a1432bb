// Package chores implements the background chore lifecycle: enqueuing
// reassembly, solution and report jobs, tracking runner progress, and
// resolving the obsolescence race when a chore is cancelled mid-flight.
package chores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/pkg/common/logger"
)

// ArtifactStore removes artifacts produced by jobs whose chore went obsolete
// before completion.
type ArtifactStore interface {
	Remove(ctx context.Context, path string) error
}

// choreService owns chore rows and mediates between callers and the job
// runner. Cancellation is mark-then-check: the obsolete flag is set
// immediately, revocation of a queued job is best effort, and a job that
// runs anyway has its artifact discarded by the completion handler.
type choreService struct {
	uow       shared.UnitOfWork
	choreRepo chores.ChoreRepository
	runner    chores.Runner
	artifacts ArtifactStore
	publisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewChoreService returns a choreService wired to the given repository,
// runner and event publisher. artifacts may be nil when no artifact cleanup
// is wanted.
func NewChoreService(
	uow shared.UnitOfWork,
	choreRepo chores.ChoreRepository,
	runner chores.Runner,
	artifacts ArtifactStore,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *choreService {
	logger = logger.With("component", "chore_service")
	return &choreService{
		uow:       uow,
		choreRepo: choreRepo,
		runner:    runner,
		artifacts: artifacts,
		publisher: publisher,
		logger:    logger,
		tracer:    tracer,
	}
}

// EnqueueChore creates a chore for a (kind, paper) key and submits its job.
// A live chore for the same key fails the enqueue with
// chores.ErrChoreConflict; callers must cancel it first. A submission failure
// is captured on the chore (ERROR), not propagated.
func (s *choreService) EnqueueChore(ctx context.Context, kind chores.ChoreKind, paper int, payload json.RawMessage) (*chores.Chore, error) {
	logger := s.logger.With("operation", "enqueue_chore", "kind", kind, "paper", paper)
	ctx, span := s.tracer.Start(ctx, "chore_service.enqueue_chore",
		trace.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.Int("paper", paper),
		),
	)
	defer span.End()

	chore := chores.NewChore(kind, paper)
	if err := s.choreRepo.CreateChore(ctx, chore); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chore creation failed")
		return nil, err
	}
	span.AddEvent("chore_created")

	handle, err := s.runner.Submit(ctx, chore.ID(), kind, payload)
	if err != nil {
		logger.Error(ctx, "Job submission failed", "chore_id", chore.ID(), "error", err)
		if ferr := chore.Fail(fmt.Sprintf("job submission failed: %v", err)); ferr == nil {
			if uerr := s.choreRepo.UpdateChore(ctx, chore); uerr != nil {
				logger.Error(ctx, "Failed to persist chore failure", "chore_id", chore.ID(), "error", uerr)
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "job submission failed")
		return chore, nil
	}

	if err := chore.MarkSubmitted(handle); err != nil {
		return nil, err
	}
	if err := s.choreRepo.UpdateChore(ctx, chore); err != nil {
		return nil, fmt.Errorf("persisting submitted chore: %w", err)
	}
	span.SetStatus(codes.Ok, "chore enqueued")
	logger.Info(ctx, "Chore enqueued", "chore_id", chore.ID(), "job_id", handle)
	return chore, nil
}

// GetChore loads one chore.
func (s *choreService) GetChore(ctx context.Context, id uuid.UUID) (*chores.Chore, error) {
	return s.choreRepo.GetChore(ctx, id)
}

// OnJobStarted is the runner's start callback: the chore moves to RUNNING. A
// late notification against a terminal chore is ignored. The chore is
// re-read under a row lock before the write so a concurrent cancellation is
// never overwritten.
func (s *choreService) OnJobStarted(ctx context.Context, jobID uuid.UUID) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		chore, err := s.choreRepo.GetChoreByJob(ctx, jobID)
		if err != nil {
			return err
		}
		chore, err = s.choreRepo.LockChore(ctx, chore.ID())
		if err != nil {
			return err
		}
		if err := chore.MarkRunning(); err != nil {
			return err
		}
		return s.choreRepo.UpdateChore(ctx, chore)
	})
}

// OnJobDone is the runner's completion callback. An obsolete chore still
// reaches COMPLETE, but its artifact is discarded instead of recorded. Job
// failures are captured on the chore and never propagated to the enqueuer.
func (s *choreService) OnJobDone(ctx context.Context, result chores.JobResult) error {
	logger := s.logger.With("operation", "on_job_done", "job_id", result.JobID, "state", result.State)
	ctx, span := s.tracer.Start(ctx, "chore_service.on_job_done",
		trace.WithAttributes(
			attribute.String("job_id", result.JobID.String()),
			attribute.String("state", string(result.State)),
		),
	)
	defer span.End()

	// The terminal write must commit while the row lock is held: a
	// cancellation racing this handler either lands before the lock (the
	// obsolete flag is seen and the artifact discarded) or blocks until the
	// completion is committed.
	var chore *chores.Chore
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		chore, err = s.choreRepo.LockChore(ctx, result.ChoreID)
		if err != nil {
			return err
		}

		switch result.State {
		case chores.JobStateDone:
			if chore.Obsolete() {
				// The chore was cancelled while the job ran; its output
				// must not become authoritative.
				if s.artifacts != nil && result.ArtifactPath != "" {
					if err := s.artifacts.Remove(ctx, result.ArtifactPath); err != nil {
						logger.Warn(ctx, "Failed to remove obsolete artifact",
							"path", result.ArtifactPath, "error", err)
					}
				}
				if err := chore.CompleteWith(""); err != nil {
					return err
				}
			} else if err := chore.CompleteWith(result.ArtifactPath); err != nil {
				return err
			}
		case chores.JobStateRevoked:
			if err := chore.Fail("revoked before start"); err != nil {
				return err
			}
		default:
			msg := "job failed"
			if result.Err != nil {
				msg = result.Err.Error()
			}
			if err := chore.Fail(msg); err != nil {
				return err
			}
		}
		return s.choreRepo.UpdateChore(ctx, chore)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion handling failed")
		return err
	}
	span.SetStatus(codes.Ok, "job completion handled")

	s.publishOutcome(ctx, logger, chore)
	return nil
}

func (s *choreService) publishOutcome(ctx context.Context, logger *logger.Logger, chore *chores.Chore) {
	var evt events.DomainEvent
	switch chore.Status() {
	case chores.ChoreStatusComplete:
		evt = chores.NewChoreCompletedEvent(chore)
	case chores.ChoreStatusError:
		evt = chores.NewChoreFailedEvent(chore)
	default:
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(chore.ID().String())); err != nil {
		logger.Error(ctx, "Failed to publish chore outcome event", "chore_id", chore.ID(), "error", err)
	}
}

// CancelChore marks a chore obsolete and tries to pull its job back. A job
// revoked before any worker started it fails the chore immediately
// ("revoked before start"); a running job is left to finish and the
// completion handler discards its artifact.
func (s *choreService) CancelChore(ctx context.Context, choreID uuid.UUID) error {
	logger := s.logger.With("operation", "cancel_chore", "chore_id", choreID)
	ctx, span := s.tracer.Start(ctx, "chore_service.cancel_chore",
		trace.WithAttributes(attribute.String("chore_id", choreID.String())),
	)
	defer span.End()

	var chore *chores.Chore
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		chore, err = s.choreRepo.LockChore(ctx, choreID)
		if err != nil {
			return err
		}
		chore.MarkObsolete()

		if handle := chore.JobHandle(); handle != nil && !chore.Status().IsTerminal() {
			revoked, err := s.runner.Revoke(ctx, *handle)
			if err != nil {
				return fmt.Errorf("revoking job: %w", err)
			}
			if revoked {
				if err := chore.Fail("revoked before start"); err != nil {
					return err
				}
			}
		}
		return s.choreRepo.UpdateChore(ctx, chore)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return err
	}
	span.SetStatus(codes.Ok, "chore cancelled")
	logger.Info(ctx, "Chore cancelled", "status", chore.Status())
	return nil
}

// ResetChores cancels every live chore. With wait zero it is fire-and-forget;
// otherwise it blocks until in-flight jobs finish or the wait elapses,
// returning chores.ErrTimedOut in the latter case.
func (s *choreService) ResetChores(ctx context.Context, wait time.Duration) error {
	logger := s.logger.With("operation", "reset_chores", "wait", wait)
	ctx, span := s.tracer.Start(ctx, "chore_service.reset_chores",
		trace.WithAttributes(attribute.String("wait", wait.String())),
	)
	defer span.End()

	live, err := s.choreRepo.ListLiveChores(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing live chores failed")
		return err
	}
	for _, chore := range live {
		if err := s.CancelChore(ctx, chore.ID()); err != nil {
			return fmt.Errorf("cancelling chore %s: %w", chore.ID(), err)
		}
	}
	logger.Info(ctx, "Live chores cancelled", "count", len(live))

	if wait <= 0 {
		span.SetStatus(codes.Ok, "reset fire-and-forget")
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := s.runner.Await(waitCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait timed out")
		return err
	}
	span.SetStatus(codes.Ok, "reset complete")
	return nil
}
