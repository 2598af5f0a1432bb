package papers

import (
	"time"

	"github.com/google/uuid"
)

// FixedPage is a page position (paper_number, page_number) defined by the
// blueprint. It exists for the lifetime of the paper and is never deleted,
// only re-pointed at a different image (or cleared).
type FixedPage struct {
	id            uuid.UUID
	paperNumber   int
	pageNumber    int
	pageType      PageType
	questionIndex int // SentinelQuestion for ID and DNM pages
	version       int
	imageID       *uuid.UUID
}

// NewFixedPage creates an unimaged fixed page for a paper from its blueprint
// entry.
func NewFixedPage(paperNumber int, entry BlueprintPage, version int) *FixedPage {
	q := SentinelQuestion
	if entry.Type == PageTypeQuestion {
		q = entry.QuestionIndex
	}
	return &FixedPage{
		id:            uuid.New(),
		paperNumber:   paperNumber,
		pageNumber:    entry.Number,
		pageType:      entry.Type,
		questionIndex: q,
		version:       version,
	}
}

// ReconstructFixedPage rebuilds a FixedPage from persisted fields.
func ReconstructFixedPage(
	id uuid.UUID,
	paperNumber, pageNumber int,
	pageType PageType,
	questionIndex, version int,
	imageID *uuid.UUID,
) *FixedPage {
	return &FixedPage{
		id:            id,
		paperNumber:   paperNumber,
		pageNumber:    pageNumber,
		pageType:      pageType,
		questionIndex: questionIndex,
		version:       version,
		imageID:       imageID,
	}
}

func (p *FixedPage) ID() uuid.UUID      { return p.id }
func (p *FixedPage) PaperNumber() int   { return p.paperNumber }
func (p *FixedPage) PageNumber() int    { return p.pageNumber }
func (p *FixedPage) PageType() PageType { return p.pageType }
func (p *FixedPage) QuestionIndex() int { return p.questionIndex }
func (p *FixedPage) Version() int       { return p.version }

// ImageID returns the referenced image, or nil when the position is unimaged.
func (p *FixedPage) ImageID() *uuid.UUID { return p.imageID }

// HasImage reports whether the position currently holds an image.
func (p *FixedPage) HasImage() bool { return p.imageID != nil }

// AttachImage points the position at an image. It fails with ErrAlreadyImaged
// when the position already holds one; committed positions never collide.
func (p *FixedPage) AttachImage(imageID uuid.UUID) error {
	if p.imageID != nil {
		return ErrAlreadyImaged
	}
	id := imageID
	p.imageID = &id
	return nil
}

// ClearImage detaches and returns the current image reference. It fails with
// ErrNoImage when the position is unimaged.
func (p *FixedPage) ClearImage() (uuid.UUID, error) {
	if p.imageID == nil {
		return uuid.Nil, ErrNoImage
	}
	id := *p.imageID
	p.imageID = nil
	return id, nil
}

// MobilePage is an ad-hoc association between a paper, a question and an
// image, used for scanned material that does not map to a fixed position
// (e.g. a student-added extra sheet). A question index of SentinelQuestion
// means the page is kept but not marked.
type MobilePage struct {
	id            uuid.UUID
	paperNumber   int
	questionIndex int
	version       int
	imageID       uuid.UUID
	createdAt     time.Time
}

// NewMobilePage creates a mobile page attaching an image to a question.
func NewMobilePage(paperNumber, questionIndex, version int, imageID uuid.UUID) *MobilePage {
	return &MobilePage{
		id:            uuid.New(),
		paperNumber:   paperNumber,
		questionIndex: questionIndex,
		version:       version,
		imageID:       imageID,
		createdAt:     time.Now(),
	}
}

// ReconstructMobilePage rebuilds a MobilePage from persisted fields.
func ReconstructMobilePage(
	id uuid.UUID,
	paperNumber, questionIndex, version int,
	imageID uuid.UUID,
	createdAt time.Time,
) *MobilePage {
	return &MobilePage{
		id:            id,
		paperNumber:   paperNumber,
		questionIndex: questionIndex,
		version:       version,
		imageID:       imageID,
		createdAt:     createdAt,
	}
}

func (p *MobilePage) ID() uuid.UUID        { return p.id }
func (p *MobilePage) PaperNumber() int     { return p.paperNumber }
func (p *MobilePage) QuestionIndex() int   { return p.questionIndex }
func (p *MobilePage) Version() int         { return p.version }
func (p *MobilePage) ImageID() uuid.UUID   { return p.imageID }
func (p *MobilePage) CreatedAt() time.Time { return p.createdAt }

// IsSentinel reports whether this mobile page is do-not-mark material.
func (p *MobilePage) IsSentinel() bool { return p.questionIndex == SentinelQuestion }

// DiscardPage is an image that has been retracted from identification and
// marking, with a human-readable reason. Deleting a DiscardPage (on
// reassignment) does not delete the image it references.
type DiscardPage struct {
	id        uuid.UUID
	imageID   uuid.UUID
	reason    string
	createdAt time.Time
}

// NewDiscardPage wraps an image in a discard record.
func NewDiscardPage(imageID uuid.UUID, reason string) *DiscardPage {
	return &DiscardPage{
		id:        uuid.New(),
		imageID:   imageID,
		reason:    reason,
		createdAt: time.Now(),
	}
}

// ReconstructDiscardPage rebuilds a DiscardPage from persisted fields.
func ReconstructDiscardPage(id, imageID uuid.UUID, reason string, createdAt time.Time) *DiscardPage {
	return &DiscardPage{id: id, imageID: imageID, reason: reason, createdAt: createdAt}
}

func (d *DiscardPage) ID() uuid.UUID        { return d.id }
func (d *DiscardPage) ImageID() uuid.UUID   { return d.imageID }
func (d *DiscardPage) Reason() string       { return d.reason }
func (d *DiscardPage) CreatedAt() time.Time { return d.createdAt }
