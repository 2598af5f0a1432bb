package papers

import (
	"time"

	"github.com/google/uuid"

	"github.com/markflow/markflow/internal/domain/events"
)

const (
	EventTypeBundlePushed   events.EventType = "BundlePushed"
	EventTypePageDiscarded  events.EventType = "PageDiscarded"
	EventTypePageReassigned events.EventType = "PageReassigned"
)

// BundlePushedEvent signals that a bundle was committed: its images are now
// authoritative page assignments and any derived tasks exist.
type BundlePushedEvent struct {
	occurredAt time.Time

	BundleID    uuid.UUID
	BundleName  string
	ImageCount  int
	PaperRange  []int // papers touched by the push
	TasksOpened int
}

// NewBundlePushedEvent creates a new BundlePushedEvent.
func NewBundlePushedEvent(bundleID uuid.UUID, name string, imageCount int, papersTouched []int, tasksOpened int) BundlePushedEvent {
	return BundlePushedEvent{
		occurredAt:  time.Now(),
		BundleID:    bundleID,
		BundleName:  name,
		ImageCount:  imageCount,
		PaperRange:  papersTouched,
		TasksOpened: tasksOpened,
	}
}

func (e BundlePushedEvent) EventType() events.EventType { return EventTypeBundlePushed }
func (e BundlePushedEvent) OccurredAt() time.Time       { return e.occurredAt }

// PageDiscardedEvent signals that a committed page was retracted.
type PageDiscardedEvent struct {
	occurredAt time.Time

	Paper    int
	Question int // SentinelQuestion for ID/DNM pages
	ImageID  uuid.UUID
	Reason   string
}

// NewPageDiscardedEvent creates a new PageDiscardedEvent.
func NewPageDiscardedEvent(paper, question int, imageID uuid.UUID, reason string) PageDiscardedEvent {
	return PageDiscardedEvent{
		occurredAt: time.Now(),
		Paper:      paper,
		Question:   question,
		ImageID:    imageID,
		Reason:     reason,
	}
}

func (e PageDiscardedEvent) EventType() events.EventType { return EventTypePageDiscarded }
func (e PageDiscardedEvent) OccurredAt() time.Time       { return e.occurredAt }

// PageReassignedEvent signals that a discarded image was attached back to a
// fixed position or to questions.
type PageReassignedEvent struct {
	occurredAt time.Time

	Paper   int
	ImageID uuid.UUID
}

// NewPageReassignedEvent creates a new PageReassignedEvent.
func NewPageReassignedEvent(paper int, imageID uuid.UUID) PageReassignedEvent {
	return PageReassignedEvent{occurredAt: time.Now(), Paper: paper, ImageID: imageID}
}

func (e PageReassignedEvent) EventType() events.EventType { return EventTypePageReassigned }
func (e PageReassignedEvent) OccurredAt() time.Time       { return e.occurredAt }
