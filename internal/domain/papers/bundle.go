package papers

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StagedClass is the classification a staged image arrives with. Only KNOWN,
// EXTRA and DISCARD images may be pushed; the remaining classes mark images
// that still need human or machine attention.
type StagedClass string

const (
	// StagedKnown carries a decoded (paper, page, version) marker.
	StagedKnown StagedClass = "KNOWN"

	// StagedExtra is an extra sheet targeting a resolved list of questions.
	StagedExtra StagedClass = "EXTRA"

	// StagedDiscard is an image retracted at staging time, with a reason.
	StagedDiscard StagedClass = "DISCARD"

	// StagedUnknown is an image whose marker did not match any paper.
	StagedUnknown StagedClass = "UNKNOWN"

	// StagedUnread is an image whose marker could not be decoded.
	StagedUnread StagedClass = "UNREAD"

	// StagedError is an image that failed processing.
	StagedError StagedClass = "ERROR"
)

func (c StagedClass) String() string { return string(c) }

// Pushable reports whether an image of this class may be committed.
func (c StagedClass) Pushable() bool {
	return c == StagedKnown || c == StagedExtra || c == StagedDiscard
}

// KnownRef locates a KNOWN staged image within the assessment.
type KnownRef struct {
	Paper   int
	Page    int
	Version int
}

// StagedImage is one image of a bundle awaiting commit, already classified
// by the upstream marker-reading step.
type StagedImage struct {
	order         int
	hash          string
	rotation      int
	class         StagedClass
	known         *KnownRef
	extraPaper    int
	extraQs       []int
	extraResolved bool
	discardReason string
	confidence    float64
}

// NewKnownStaged stages an image with a decoded marker.
func NewKnownStaged(order int, hash string, rotation int, ref KnownRef) StagedImage {
	return StagedImage{order: order, hash: hash, rotation: rotation, class: StagedKnown, known: &ref}
}

// NewExtraStaged stages an extra sheet assigned to a paper and targeting the
// given questions. An empty (but resolved) question list means do-not-mark.
func NewExtraStaged(order int, hash string, rotation, paper int, questions []int) StagedImage {
	return StagedImage{
		order:         order,
		hash:          hash,
		rotation:      rotation,
		class:         StagedExtra,
		extraPaper:    paper,
		extraQs:       questions,
		extraResolved: true,
	}
}

// NewUnresolvedExtraStaged stages an extra sheet whose target questions have
// not been chosen yet. Such a bundle cannot be pushed.
func NewUnresolvedExtraStaged(order int, hash string, rotation int) StagedImage {
	return StagedImage{order: order, hash: hash, rotation: rotation, class: StagedExtra}
}

// NewDiscardStaged stages an image as discarded with a reason.
func NewDiscardStaged(order int, hash string, rotation int, reason string) StagedImage {
	return StagedImage{order: order, hash: hash, rotation: rotation, class: StagedDiscard, discardReason: reason}
}

// NewUnclassifiedStaged stages an image in one of the non-pushable classes.
func NewUnclassifiedStaged(order int, hash string, rotation int, class StagedClass) StagedImage {
	return StagedImage{order: order, hash: hash, rotation: rotation, class: class}
}

// WithConfidence records how sure the upstream marker-reading step was about
// this image's classification, in [0, 1]. Zero means no prediction was made.
func (s StagedImage) WithConfidence(c float64) StagedImage {
	s.confidence = c
	return s
}

func (s StagedImage) Order() int            { return s.order }
func (s StagedImage) Hash() string          { return s.hash }
func (s StagedImage) Rotation() int         { return s.rotation }
func (s StagedImage) Class() StagedClass    { return s.class }
func (s StagedImage) Known() *KnownRef      { return s.known }
func (s StagedImage) ExtraPaper() int       { return s.extraPaper }
func (s StagedImage) ExtraQuestions() []int { return s.extraQs }
func (s StagedImage) ExtraResolved() bool   { return s.extraResolved }
func (s StagedImage) DiscardReason() string { return s.discardReason }
func (s StagedImage) Confidence() float64   { return s.confidence }

// Bundle is the unit of one ingestion batch. It owns the images it
// contributes to the system.
type Bundle struct {
	id        uuid.UUID
	name      string
	hash      string
	staged    []StagedImage
	createdAt time.Time
}

// NewBundle creates a bundle of staged images ready for validation and push.
func NewBundle(name, hash string, staged []StagedImage) *Bundle {
	return &Bundle{
		id:        uuid.New(),
		name:      name,
		hash:      hash,
		staged:    staged,
		createdAt: time.Now(),
	}
}

// ReconstructBundle rebuilds a Bundle from persisted fields.
func ReconstructBundle(id uuid.UUID, name, hash string, staged []StagedImage, createdAt time.Time) *Bundle {
	return &Bundle{id: id, name: name, hash: hash, staged: staged, createdAt: createdAt}
}

func (b *Bundle) ID() uuid.UUID         { return b.id }
func (b *Bundle) Name() string          { return b.name }
func (b *Bundle) Hash() string          { return b.hash }
func (b *Bundle) Staged() []StagedImage { return b.staged }
func (b *Bundle) CreatedAt() time.Time  { return b.createdAt }

// Validate checks that every staged image is in a pushable state. It returns
// ErrInvalidStagedContent (wrapped with detail) when any image is UNKNOWN,
// UNREAD or ERROR, or when an EXTRA image lacks its question-list resolution.
func (b *Bundle) Validate() error {
	if len(b.staged) == 0 {
		return fmt.Errorf("%w: bundle %q is empty", ErrInvalidStagedContent, b.name)
	}
	for _, s := range b.staged {
		if !s.class.Pushable() {
			return fmt.Errorf("%w: image %d is %s", ErrInvalidStagedContent, s.order, s.class)
		}
		if s.class == StagedExtra && !s.extraResolved {
			return fmt.Errorf("%w: extra image %d has no question list", ErrInvalidStagedContent, s.order)
		}
		if s.class == StagedExtra && s.extraResolved && s.extraPaper < 1 {
			return fmt.Errorf("%w: extra image %d has no paper assignment", ErrInvalidStagedContent, s.order)
		}
		if s.class == StagedKnown && s.known == nil {
			return fmt.Errorf("%w: known image %d has no marker", ErrInvalidStagedContent, s.order)
		}
	}
	return nil
}

// InternalCollisions finds groups of KNOWN images within this bundle that
// claim the same (paper, page, version) triple. The returned groups name
// every colliding member so the caller can act on all of them at once.
func (b *Bundle) InternalCollisions() []CollisionGroup {
	byRef := make(map[KnownRef][]string)
	for _, s := range b.staged {
		if s.class != StagedKnown || s.known == nil {
			continue
		}
		byRef[*s.known] = append(byRef[*s.known], fmt.Sprintf("staged image %d", s.order))
	}

	var groups []CollisionGroup
	for ref, members := range byRef {
		if len(members) > 1 {
			groups = append(groups, CollisionGroup{
				Paper:   ref.Paper,
				Page:    ref.Page,
				Version: ref.Version,
				Members: members,
			})
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Paper != groups[j].Paper {
			return groups[i].Paper < groups[j].Paper
		}
		return groups[i].Page < groups[j].Page
	})
	return groups
}

// KnownRefs returns the (paper, page, version) references of all KNOWN
// staged images, in staging order.
func (b *Bundle) KnownRefs() []KnownRef {
	var refs []KnownRef
	for _, s := range b.staged {
		if s.class == StagedKnown && s.known != nil {
			refs = append(refs, *s.known)
		}
	}
	return refs
}
