package papers

import (
	"time"

	"github.com/google/uuid"
)

// PageMarker is the machine-readable code decoded from a scanned page,
// locating it as (paper, page, version) within the assessment.
type PageMarker struct {
	Paper   int
	Page    int
	Version int
}

// Image is one physical scanned page image. An image is owned by exactly one
// bundle for its whole life; page records only ever reference it.
type Image struct {
	id        uuid.UUID
	bundleID  uuid.UUID
	hash      string
	rotation  int
	marker    *PageMarker
	createdAt time.Time
}

// NewImage creates an Image owned by the given bundle. The marker is nil for
// images whose code could not be (or was never) decoded.
func NewImage(bundleID uuid.UUID, hash string, rotation int, marker *PageMarker) *Image {
	return &Image{
		id:        uuid.New(),
		bundleID:  bundleID,
		hash:      hash,
		rotation:  rotation,
		marker:    marker,
		createdAt: time.Now(),
	}
}

// ReconstructImage rebuilds an Image from persisted fields.
// This should only be used by repositories when loading from storage.
func ReconstructImage(
	id uuid.UUID,
	bundleID uuid.UUID,
	hash string,
	rotation int,
	marker *PageMarker,
	createdAt time.Time,
) *Image {
	return &Image{
		id:        id,
		bundleID:  bundleID,
		hash:      hash,
		rotation:  rotation,
		marker:    marker,
		createdAt: createdAt,
	}
}

// ID returns the unique identifier of this image.
func (i *Image) ID() uuid.UUID { return i.id }

// BundleID returns the owning bundle's identifier.
func (i *Image) BundleID() uuid.UUID { return i.bundleID }

// Hash returns the content hash of the image file.
func (i *Image) Hash() string { return i.hash }

// Rotation returns the rotation (degrees, multiples of 90) applied at ingest.
func (i *Image) Rotation() int { return i.rotation }

// Marker returns the decoded page marker, or nil if none was read.
func (i *Image) Marker() *PageMarker { return i.marker }

// CreatedAt returns when the image record was created.
func (i *Image) CreatedAt() time.Time { return i.createdAt }
