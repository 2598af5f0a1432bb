// Package work implements the task lifecycle: claiming, completing,
// surrendering and retiring identification and marking tasks.
package work

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/shared"
	"github.com/markflow/markflow/internal/domain/work"
	"github.com/markflow/markflow/pkg/common/logger"
)

// taskLifecycleService drives tasks through TO_DO, OUT, COMPLETE and
// OUT_OF_DATE. Every mutation locks the task row first and runs inside one
// transactional scope, so two workers never race a claim and a submitted
// result is committed together with its action bookkeeping.
type taskLifecycleService struct {
	uow       shared.UnitOfWork
	taskRepo  work.TaskRepository
	publisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewTaskLifecycleService returns a taskLifecycleService wired to the given
// repository and event publisher.
func NewTaskLifecycleService(
	uow shared.UnitOfWork,
	taskRepo work.TaskRepository,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *taskLifecycleService {
	logger = logger.With("component", "task_lifecycle_service")
	return &taskLifecycleService{
		uow:       uow,
		taskRepo:  taskRepo,
		publisher: publisher,
		logger:    logger,
		tracer:    tracer,
	}
}

// NextTask returns the most eligible TO_DO task of a kind without claiming
// it: highest priority first, ties broken by ascending paper number.
func (s *taskLifecycleService) NextTask(ctx context.Context, kind work.TaskKind) (*work.Task, error) {
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.next_task",
		trace.WithAttributes(attribute.String("kind", kind.String())),
	)
	defer span.End()

	task, err := s.taskRepo.NextToDo(ctx, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no task available")
		return nil, err
	}
	span.SetStatus(codes.Ok, "task found")
	return task, nil
}

// ClaimTask assigns a task to a worker identity under a row lock. Claiming a
// task held by another worker fails with work.ErrAlreadyClaimed; a completed
// task fails with work.ErrAlreadyComplete.
func (s *taskLifecycleService) ClaimTask(ctx context.Context, taskID uuid.UUID, identity string) (*work.Task, error) {
	logger := s.logger.With("operation", "claim_task", "task_id", taskID, "identity", identity)
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.claim_task",
		trace.WithAttributes(
			attribute.String("task_id", taskID.String()),
			attribute.String("identity", identity),
		),
	)
	defer span.End()

	var task *work.Task
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		task, err = s.taskRepo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := task.Claim(identity); err != nil {
			return err
		}
		return s.taskRepo.UpdateTask(ctx, task)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "task claimed")
	logger.Debug(ctx, "Task claimed")
	return task, nil
}

// ClaimNextTask picks the most eligible TO_DO task of a kind and claims it
// for the identity, in one scope. Concurrently locked rows are skipped, so
// parallel callers receive distinct tasks.
func (s *taskLifecycleService) ClaimNextTask(ctx context.Context, kind work.TaskKind, identity string) (*work.Task, error) {
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.claim_next_task",
		trace.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.String("identity", identity),
		),
	)
	defer span.End()

	var task *work.Task
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		task, err = s.taskRepo.NextToDo(ctx, kind)
		if err != nil {
			return err
		}
		if err := task.Claim(identity); err != nil {
			return err
		}
		return s.taskRepo.UpdateTask(ctx, task)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim next failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "task claimed")
	return task, nil
}

// SubmitTaskResult records a worker's result as a new immutable action,
// invalidating any prior action and moving the task's latest-valid-action
// pointer. For identification tasks a non-blank subject identifier must not
// be named by any other valid identification (work.ErrDuplicateIdentifier).
func (s *taskLifecycleService) SubmitTaskResult(
	ctx context.Context,
	taskID uuid.UUID,
	identity, identifier string,
	payload json.RawMessage,
) (*work.Action, error) {
	logger := s.logger.With("operation", "submit_task_result", "task_id", taskID, "identity", identity)
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.submit_task_result",
		trace.WithAttributes(
			attribute.String("task_id", taskID.String()),
			attribute.String("identity", identity),
		),
	)
	defer span.End()

	var (
		task   *work.Task
		action *work.Action
	)
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		task, err = s.taskRepo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}

		if task.Kind() != work.TaskKindIdentify {
			identifier = ""
		}
		// Blank identifiers are exempt from cross-task uniqueness.
		if identifier != "" {
			inUse, err := s.taskRepo.IdentifierInUse(ctx, identifier, taskID)
			if err != nil {
				return fmt.Errorf("checking identifier uniqueness: %w", err)
			}
			if inUse {
				return work.ErrDuplicateIdentifier
			}
		}

		prior := task.LatestActionID()
		action = work.NewAction(taskID, identity, identifier, payload)
		if err := task.Complete(identity, action.ID()); err != nil {
			return err
		}
		if prior != nil {
			if err := s.taskRepo.InvalidateAction(ctx, *prior); err != nil {
				return fmt.Errorf("invalidating prior action: %w", err)
			}
		}
		if err := s.taskRepo.CreateAction(ctx, action); err != nil {
			return fmt.Errorf("creating action: %w", err)
		}
		return s.taskRepo.UpdateTask(ctx, task)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.AddEvent("task_completed")
	span.SetStatus(codes.Ok, "result recorded")

	evt := work.NewTaskCompletedEvent(task, identity)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(taskID.String())); err != nil {
		logger.Error(ctx, "Failed to publish task completed event", "error", err)
	}
	logger.Info(ctx, "Task result submitted", "kind", task.Kind())
	return action, nil
}

// SurrenderTask releases a worker's claim, returning the task to the pool.
func (s *taskLifecycleService) SurrenderTask(ctx context.Context, taskID uuid.UUID, identity string) error {
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.surrender_task",
		trace.WithAttributes(
			attribute.String("task_id", taskID.String()),
			attribute.String("identity", identity),
		),
	)
	defer span.End()

	err := s.uow.Do(ctx, func(ctx context.Context) error {
		task, err := s.taskRepo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := task.Surrender(identity); err != nil {
			return err
		}
		return s.taskRepo.UpdateTask(ctx, task)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "surrender failed")
		return err
	}
	span.SetStatus(codes.Ok, "task surrendered")
	return nil
}

// SetTaskOutdated retires a task because its pages changed. It is idempotent:
// retiring an already retired task is a no-op. Identification tasks also get
// their current action invalidated, since the identity it named may no longer
// hold. A fresh task is created by the caller when the pages are still ready.
func (s *taskLifecycleService) SetTaskOutdated(ctx context.Context, taskID uuid.UUID) error {
	logger := s.logger.With("operation", "set_task_outdated", "task_id", taskID)
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.set_task_outdated",
		trace.WithAttributes(attribute.String("task_id", taskID.String())),
	)
	defer span.End()

	var (
		task    *work.Task
		changed bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		task, err = s.taskRepo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		changed, err = OutdateTask(ctx, s.taskRepo, task)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "outdate failed")
		return err
	}
	if !changed {
		span.AddEvent("already_out_of_date")
		span.SetStatus(codes.Ok, "no change")
		return nil
	}
	span.SetStatus(codes.Ok, "task retired")

	evt := work.NewTaskOutdatedEvent(task)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(taskID.String())); err != nil {
		logger.Error(ctx, "Failed to publish task outdated event", "error", err)
	}
	logger.Info(ctx, "Task retired", "kind", task.Kind(), "paper", task.PaperNumber())
	return nil
}

// SetTaskPriority adjusts a task's claim priority, feeding upstream
// prediction confidence into the assignment order.
func (s *taskLifecycleService) SetTaskPriority(ctx context.Context, taskID uuid.UUID, priority int32) error {
	ctx, span := s.tracer.Start(ctx, "task_lifecycle_service.set_task_priority",
		trace.WithAttributes(
			attribute.String("task_id", taskID.String()),
			attribute.Int("priority", int(priority)),
		),
	)
	defer span.End()

	err := s.uow.Do(ctx, func(ctx context.Context) error {
		task, err := s.taskRepo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		task.SetPriority(priority)
		return s.taskRepo.UpdateTask(ctx, task)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "priority update failed")
		return err
	}
	span.SetStatus(codes.Ok, "priority updated")
	return nil
}

// OutdateTask applies the retirement bookkeeping to a locked task: mark it
// OUT_OF_DATE and, for identification, invalidate the action it produced.
// Shared with the pages service, which retires tasks inside its own scopes.
func OutdateTask(ctx context.Context, repo work.TaskRepository, task *work.Task) (bool, error) {
	if !task.MarkOutOfDate() {
		return false, nil
	}
	if task.Kind() == work.TaskKindIdentify && task.LatestActionID() != nil {
		if err := repo.InvalidateAction(ctx, *task.LatestActionID()); err != nil {
			return false, fmt.Errorf("invalidating identification action: %w", err)
		}
		task.ClearLatestAction()
	}
	if err := repo.UpdateTask(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}
