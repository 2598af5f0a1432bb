package work

import (
	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/domain/shared"
)

// Task is one unit of claimable work derived from committed pages: either
// identifying a paper or marking one of its questions. A task is claimed by
// exactly one worker at a time, completed by an Action, and retired
// (OUT_OF_DATE) when the pages underneath it change.
type Task struct {
	id             uuid.UUID
	kind           TaskKind
	paperNumber    int
	questionIndex  int // papers.SentinelQuestion for identification tasks
	version        int
	status         TaskStatus
	priority       int32
	assignedTo     string // empty when unclaimed
	latestActionID *uuid.UUID
	timeline       *shared.Timeline
}

// NewMarkTask creates a TO_DO marking task for a (paper, question) pair.
func NewMarkTask(paperNumber, questionIndex, version int) *Task {
	return &Task{
		id:            uuid.New(),
		kind:          TaskKindMark,
		paperNumber:   paperNumber,
		questionIndex: questionIndex,
		version:       version,
		status:        TaskStatusToDo,
		timeline:      shared.NewTimeline(new(shared.RealTimeProvider)),
	}
}

// NewIdentifyTask creates a TO_DO identification task for a paper. Priority
// above zero makes the task claimable ahead of its peers; upstream prediction
// confidence feeds it.
func NewIdentifyTask(paperNumber int, priority int32) *Task {
	return &Task{
		id:            uuid.New(),
		kind:          TaskKindIdentify,
		paperNumber:   paperNumber,
		questionIndex: papers.SentinelQuestion,
		version:       1,
		status:        TaskStatusToDo,
		priority:      priority,
		timeline:      shared.NewTimeline(new(shared.RealTimeProvider)),
	}
}

// ReconstructTask rebuilds a Task from persisted fields, bypassing creation
// invariants. This should only be used by repositories when loading from
// storage.
func ReconstructTask(
	id uuid.UUID,
	kind TaskKind,
	paperNumber, questionIndex, version int,
	status TaskStatus,
	priority int32,
	assignedTo string,
	latestActionID *uuid.UUID,
	timeline *shared.Timeline,
) *Task {
	return &Task{
		id:             id,
		kind:           kind,
		paperNumber:    paperNumber,
		questionIndex:  questionIndex,
		version:        version,
		status:         status,
		priority:       priority,
		assignedTo:     assignedTo,
		latestActionID: latestActionID,
		timeline:       timeline,
	}
}

func (t *Task) ID() uuid.UUID         { return t.id }
func (t *Task) Kind() TaskKind        { return t.kind }
func (t *Task) PaperNumber() int      { return t.paperNumber }
func (t *Task) QuestionIndex() int    { return t.questionIndex }
func (t *Task) Version() int          { return t.version }
func (t *Task) Status() TaskStatus    { return t.status }
func (t *Task) Priority() int32       { return t.priority }
func (t *Task) AssignedTo() string    { return t.assignedTo }

// LatestActionID returns the task's latest valid action, or nil if none.
func (t *Task) LatestActionID() *uuid.UUID { return t.latestActionID }

// Timeline provides access to the task's timeline information.
func (t *Task) Timeline() *shared.Timeline { return t.timeline }

// SetPriority adjusts the claim priority.
func (t *Task) SetPriority(priority int32) { t.priority = priority }

// Claim assigns the task to a worker identity. It fails with
// ErrAlreadyComplete for completed tasks, ErrTaskOutdated for retired ones,
// and ErrAlreadyClaimed when another identity holds the claim.
func (t *Task) Claim(identity string) error {
	switch t.status {
	case TaskStatusComplete:
		return ErrAlreadyComplete
	case TaskStatusOutOfDate:
		return ErrTaskOutdated
	case TaskStatusOut:
		if t.assignedTo != identity {
			return ErrAlreadyClaimed
		}
		return nil // re-claim by the same worker is a no-op
	}
	if err := t.status.validateTransition(TaskStatusOut); err != nil {
		return err
	}
	t.status = TaskStatusOut
	t.assignedTo = identity
	t.timeline.UpdateLastUpdate()
	return nil
}

// Complete records a submitted result. The submitting identity must hold the
// claim (ErrNotYours otherwise); the task's latest-valid-action pointer moves
// to the given action. The holder may resubmit on an already completed task,
// superseding the previous result.
func (t *Task) Complete(identity string, actionID uuid.UUID) error {
	if t.status == TaskStatusOutOfDate {
		return ErrTaskOutdated
	}
	if t.assignedTo != identity {
		return ErrNotYours
	}
	if t.status != TaskStatusComplete {
		if err := t.status.validateTransition(TaskStatusComplete); err != nil {
			return err
		}
	}
	t.status = TaskStatusComplete
	id := actionID
	t.latestActionID = &id
	t.timeline.MarkCompleted()
	return nil
}

// Surrender releases a claim, returning the task to the TO_DO pool. The
// releasing identity must hold the claim.
func (t *Task) Surrender(identity string) error {
	if t.assignedTo != identity {
		return ErrNotYours
	}
	if err := t.status.validateTransition(TaskStatusToDo); err != nil {
		return err
	}
	t.status = TaskStatusToDo
	t.assignedTo = ""
	t.timeline.UpdateLastUpdate()
	return nil
}

// MarkOutOfDate retires the task because its pages changed, clearing any
// claim. It is idempotent: the second call reports no change and is not an
// error.
func (t *Task) MarkOutOfDate() bool {
	if t.status == TaskStatusOutOfDate {
		return false
	}
	t.status = TaskStatusOutOfDate
	t.assignedTo = ""
	t.timeline.MarkCompleted()
	return true
}

// ClearLatestAction drops the latest-valid-action pointer. Used when an
// identification task is retired and its action invalidated.
func (t *Task) ClearLatestAction() { t.latestActionID = nil }
