package chores

import (
	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/shared"
)

// Chore tracks one background job: a reassembly, solution build, or report.
// At most one non-obsolete chore exists per (kind, paper) key; enqueuing a
// second is a conflict. Obsolescence is a flag, not a status: an obsolete
// chore still runs to a terminal status, but its artifact is discarded when
// the job completes.
type Chore struct {
	id           uuid.UUID
	kind         ChoreKind
	paperNumber  int // zero for report chores
	status       ChoreStatus
	obsolete     bool
	jobHandle    *uuid.UUID // runner's job id, set once submitted
	artifactPath string
	message      string
	timeline     *shared.Timeline
}

// NewChore creates a STARTING chore for a (kind, paper) key.
func NewChore(kind ChoreKind, paperNumber int) *Chore {
	return &Chore{
		id:          uuid.New(),
		kind:        kind,
		paperNumber: paperNumber,
		status:      ChoreStatusStarting,
		timeline:    shared.NewTimeline(new(shared.RealTimeProvider)),
	}
}

// ReconstructChore rebuilds a Chore from persisted fields, bypassing creation
// invariants. This should only be used by repositories when loading from
// storage.
func ReconstructChore(
	id uuid.UUID,
	kind ChoreKind,
	paperNumber int,
	status ChoreStatus,
	obsolete bool,
	jobHandle *uuid.UUID,
	artifactPath, message string,
	timeline *shared.Timeline,
) *Chore {
	return &Chore{
		id:           id,
		kind:         kind,
		paperNumber:  paperNumber,
		status:       status,
		obsolete:     obsolete,
		jobHandle:    jobHandle,
		artifactPath: artifactPath,
		message:      message,
		timeline:     timeline,
	}
}

func (c *Chore) ID() uuid.UUID        { return c.id }
func (c *Chore) Kind() ChoreKind      { return c.kind }
func (c *Chore) PaperNumber() int     { return c.paperNumber }
func (c *Chore) Status() ChoreStatus  { return c.status }
func (c *Chore) Obsolete() bool       { return c.obsolete }
func (c *Chore) ArtifactPath() string { return c.artifactPath }
func (c *Chore) Message() string      { return c.message }

// JobHandle returns the runner's job id, or nil if not yet submitted.
func (c *Chore) JobHandle() *uuid.UUID { return c.jobHandle }

// Timeline provides access to the chore's timeline information.
func (c *Chore) Timeline() *shared.Timeline { return c.timeline }

// MarkSubmitted records the runner's job handle and moves the chore to
// QUEUED.
func (c *Chore) MarkSubmitted(handle uuid.UUID) error {
	if err := c.status.validateTransition(ChoreStatusQueued); err != nil {
		return err
	}
	h := handle
	c.jobHandle = &h
	c.status = ChoreStatusQueued
	c.timeline.UpdateLastUpdate()
	return nil
}

// MarkRunning records that a worker picked the job up. A start notification
// arriving after the chore already reached a terminal status is ignored.
func (c *Chore) MarkRunning() error {
	if c.status.IsTerminal() {
		return nil
	}
	if err := c.status.validateTransition(ChoreStatusRunning); err != nil {
		return err
	}
	c.status = ChoreStatusRunning
	c.timeline.UpdateLastUpdate()
	return nil
}

// MarkObsolete flags the chore so its artifact is discarded on completion.
// It is idempotent: the second call reports no change.
func (c *Chore) MarkObsolete() bool {
	if c.obsolete {
		return false
	}
	c.obsolete = true
	c.timeline.UpdateLastUpdate()
	return true
}

// CompleteWith transitions the chore to COMPLETE, recording where its
// artifact lives. Obsolete chores complete with an empty path since the
// artifact is discarded.
func (c *Chore) CompleteWith(artifactPath string) error {
	if err := c.status.validateTransition(ChoreStatusComplete); err != nil {
		return err
	}
	c.status = ChoreStatusComplete
	c.artifactPath = artifactPath
	c.timeline.MarkCompleted()
	return nil
}

// Fail transitions the chore to ERROR with a reason.
func (c *Chore) Fail(message string) error {
	if err := c.status.validateTransition(ChoreStatusError); err != nil {
		return err
	}
	c.status = ChoreStatusError
	c.message = message
	c.timeline.MarkCompleted()
	return nil
}
