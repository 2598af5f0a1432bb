package papers

import "errors"

var (
	// ErrNotReady is returned when a bundle is pushed before the paper set
	// has been finalized.
	ErrNotReady = errors.New("paper set has not been finalized")

	// ErrInvalidStagedContent is returned when a bundle contains images that
	// are not in a pushable state.
	ErrInvalidStagedContent = errors.New("bundle contains invalid staged content")

	// ErrNoImage is returned when discarding a fixed page that holds no image.
	ErrNoImage = errors.New("fixed page has no image")

	// ErrAlreadyImaged is returned when attaching an image to a fixed page
	// that already holds one.
	ErrAlreadyImaged = errors.New("fixed page already holds an image")

	// ErrPaperNotFound is returned for operations naming an unknown paper.
	ErrPaperNotFound = errors.New("paper not found")

	// ErrPageNotFound is returned for operations naming an unknown page.
	ErrPageNotFound = errors.New("page not found")

	// ErrImageNotFound is returned for operations naming an unknown image.
	ErrImageNotFound = errors.New("image not found")

	// ErrDiscardNotFound is returned for operations naming an unknown
	// discard record.
	ErrDiscardNotFound = errors.New("discard page not found")

	// ErrMobilePageNotFound is returned for operations naming an unknown
	// mobile page.
	ErrMobilePageNotFound = errors.New("mobile page not found")
)
