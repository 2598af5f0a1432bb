package work

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is the immutable record of one submitted task result: who submitted
// it, when, and the payload. Actions are never deleted; superseded or retired
// actions are marked invalid and a task's latest-valid-action pointer moves
// on.
//
// For identification actions, Identifier carries the submitted subject
// identifier so cross-task uniqueness can be enforced; it is empty for
// marking actions and for blank identifications (which are exempt from the
// uniqueness constraint).
type Action struct {
	id         uuid.UUID
	taskID     uuid.UUID
	author     string
	identifier string
	payload    json.RawMessage
	valid      bool
	createdAt  time.Time
}

// NewAction creates a valid action for a task.
func NewAction(taskID uuid.UUID, author, identifier string, payload json.RawMessage) *Action {
	return &Action{
		id:         uuid.New(),
		taskID:     taskID,
		author:     author,
		identifier: identifier,
		payload:    payload,
		valid:      true,
		createdAt:  time.Now(),
	}
}

// ReconstructAction rebuilds an Action from persisted fields.
func ReconstructAction(
	id, taskID uuid.UUID,
	author, identifier string,
	payload json.RawMessage,
	valid bool,
	createdAt time.Time,
) *Action {
	return &Action{
		id:         id,
		taskID:     taskID,
		author:     author,
		identifier: identifier,
		payload:    payload,
		valid:      valid,
		createdAt:  createdAt,
	}
}

func (a *Action) ID() uuid.UUID            { return a.id }
func (a *Action) TaskID() uuid.UUID        { return a.taskID }
func (a *Action) Author() string           { return a.author }
func (a *Action) Identifier() string       { return a.identifier }
func (a *Action) Payload() json.RawMessage { return a.payload }
func (a *Action) Valid() bool              { return a.valid }
func (a *Action) CreatedAt() time.Time     { return a.createdAt }

// Invalidate marks the action as superseded or retired.
func (a *Action) Invalidate() { a.valid = false }
