package chores

import (
	"time"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/events"
)

const (
	EventTypeChoreCompleted events.EventType = "ChoreCompleted"
	EventTypeChoreFailed    events.EventType = "ChoreFailed"
)

// ChoreCompletedEvent signals that a chore reached COMPLETE. Obsolete is true
// when the artifact was discarded rather than kept.
type ChoreCompletedEvent struct {
	occurredAt time.Time

	ChoreID      uuid.UUID
	Kind         ChoreKind
	Paper        int
	ArtifactPath string
	Obsolete     bool
}

// NewChoreCompletedEvent creates a new ChoreCompletedEvent.
func NewChoreCompletedEvent(chore *Chore) ChoreCompletedEvent {
	return ChoreCompletedEvent{
		occurredAt:   time.Now(),
		ChoreID:      chore.ID(),
		Kind:         chore.Kind(),
		Paper:        chore.PaperNumber(),
		ArtifactPath: chore.ArtifactPath(),
		Obsolete:     chore.Obsolete(),
	}
}

func (e ChoreCompletedEvent) EventType() events.EventType { return EventTypeChoreCompleted }
func (e ChoreCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// ChoreFailedEvent signals that a chore reached ERROR.
type ChoreFailedEvent struct {
	occurredAt time.Time

	ChoreID uuid.UUID
	Kind    ChoreKind
	Paper   int
	Message string
}

// NewChoreFailedEvent creates a new ChoreFailedEvent.
func NewChoreFailedEvent(chore *Chore) ChoreFailedEvent {
	return ChoreFailedEvent{
		occurredAt: time.Now(),
		ChoreID:    chore.ID(),
		Kind:       chore.Kind(),
		Paper:      chore.PaperNumber(),
		Message:    chore.Message(),
	}
}

func (e ChoreFailedEvent) EventType() events.EventType { return EventTypeChoreFailed }
func (e ChoreFailedEvent) OccurredAt() time.Time       { return e.occurredAt }
