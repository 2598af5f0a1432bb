package papers

import "fmt"

// PageType classifies a fixed page position defined by the assessment
// blueprint. It determines which kind of work the page feeds: identification
// for ID pages, marking for question pages, nothing for do-not-mark pages.
type PageType string

const (
	// PageTypeID is the page carrying the student's identity information.
	PageTypeID PageType = "ID"

	// PageTypeDoNotMark is a page that is scanned and kept but never marked.
	PageTypeDoNotMark PageType = "DNM"

	// PageTypeQuestion is a page belonging to a markable question.
	PageTypeQuestion PageType = "QUESTION"
)

func (t PageType) String() string { return string(t) }

// Int32 returns the stable wire value for the page type.
func (t PageType) Int32() int32 {
	switch t {
	case PageTypeID:
		return 1
	case PageTypeDoNotMark:
		return 2
	case PageTypeQuestion:
		return 3
	default:
		return 0
	}
}

// ParsePageType converts a string to a PageType.
func ParsePageType(s string) (PageType, error) {
	switch s {
	case "ID":
		return PageTypeID, nil
	case "DNM":
		return PageTypeDoNotMark, nil
	case "QUESTION":
		return PageTypeQuestion, nil
	default:
		return "", fmt.Errorf("unknown page type %q", s)
	}
}
