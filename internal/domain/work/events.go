package work

import (
	"time"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/events"
)

const (
	EventTypeTasksCreated  events.EventType = "TasksCreated"
	EventTypeTaskCompleted events.EventType = "TaskCompleted"
	EventTypeTaskOutdated  events.EventType = "TaskOutdated"
)

// TasksCreatedEvent signals that new claimable tasks entered the pool.
type TasksCreatedEvent struct {
	occurredAt time.Time

	Kind    TaskKind
	TaskIDs []uuid.UUID
}

// NewTasksCreatedEvent creates a new TasksCreatedEvent.
func NewTasksCreatedEvent(kind TaskKind, taskIDs []uuid.UUID) TasksCreatedEvent {
	return TasksCreatedEvent{occurredAt: time.Now(), Kind: kind, TaskIDs: taskIDs}
}

func (e TasksCreatedEvent) EventType() events.EventType { return EventTypeTasksCreated }
func (e TasksCreatedEvent) OccurredAt() time.Time       { return e.occurredAt }

// TaskCompletedEvent signals that a worker submitted a result.
type TaskCompletedEvent struct {
	occurredAt time.Time

	TaskID   uuid.UUID
	Kind     TaskKind
	Paper    int
	Question int
	Author   string
}

// NewTaskCompletedEvent creates a new TaskCompletedEvent.
func NewTaskCompletedEvent(task *Task, author string) TaskCompletedEvent {
	return TaskCompletedEvent{
		occurredAt: time.Now(),
		TaskID:     task.ID(),
		Kind:       task.Kind(),
		Paper:      task.PaperNumber(),
		Question:   task.QuestionIndex(),
		Author:     author,
	}
}

func (e TaskCompletedEvent) EventType() events.EventType { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// TaskOutdatedEvent signals that a task was retired because its pages
// changed.
type TaskOutdatedEvent struct {
	occurredAt time.Time

	TaskID   uuid.UUID
	Kind     TaskKind
	Paper    int
	Question int
}

// NewTaskOutdatedEvent creates a new TaskOutdatedEvent.
func NewTaskOutdatedEvent(task *Task) TaskOutdatedEvent {
	return TaskOutdatedEvent{
		occurredAt: time.Now(),
		TaskID:     task.ID(),
		Kind:       task.Kind(),
		Paper:      task.PaperNumber(),
		Question:   task.QuestionIndex(),
	}
}

func (e TaskOutdatedEvent) EventType() events.EventType { return EventTypeTaskOutdated }
func (e TaskOutdatedEvent) OccurredAt() time.Time       { return e.occurredAt }
