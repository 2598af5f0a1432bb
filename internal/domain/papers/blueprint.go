package papers

import "fmt"

// SentinelQuestion is the question index used for pages that are not attached
// to any markable question (do-not-mark material).
const SentinelQuestion = 0

// BlueprintPage describes one fixed page position of the assessment.
type BlueprintPage struct {
	Number        int
	Type          PageType
	QuestionIndex int // 1-based, only meaningful for question pages
}

// Blueprint is an immutable snapshot of the assessment structure: the ordered
// set of fixed page positions every paper carries. It is read once per
// operation and passed explicitly rather than consulted as global state.
//
// Pages are held in an array indexed by page number, and the 1:1
// correspondence between page numbers and array slots is validated at
// construction time.
type Blueprint struct {
	pages        []BlueprintPage // index i holds page number i+1
	questionPgs  map[int][]int   // question index -> page numbers
	idPage       int
	numQuestions int
	numVersions  int
}

// NewBlueprint validates and builds a Blueprint from its page list. Pages must
// be numbered contiguously from 1, contain exactly one ID page, and every
// question index in [1, numQuestions] must own at least one page.
func NewBlueprint(pages []BlueprintPage, numQuestions, numVersions int) (*Blueprint, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("blueprint has no pages")
	}
	if numQuestions < 1 {
		return nil, fmt.Errorf("blueprint needs at least one question, got %d", numQuestions)
	}
	if numVersions < 1 {
		return nil, fmt.Errorf("blueprint needs at least one version, got %d", numVersions)
	}

	ordered := make([]BlueprintPage, len(pages))
	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		if p.Number < 1 || p.Number > len(pages) {
			return nil, fmt.Errorf("page number %d out of range 1..%d", p.Number, len(pages))
		}
		if seen[p.Number] {
			return nil, fmt.Errorf("duplicate page number %d", p.Number)
		}
		seen[p.Number] = true
		ordered[p.Number-1] = p
	}

	bp := &Blueprint{
		pages:        ordered,
		questionPgs:  make(map[int][]int, numQuestions),
		numQuestions: numQuestions,
		numVersions:  numVersions,
	}

	for _, p := range ordered {
		switch p.Type {
		case PageTypeID:
			if bp.idPage != 0 {
				return nil, fmt.Errorf("blueprint has more than one ID page (%d and %d)", bp.idPage, p.Number)
			}
			bp.idPage = p.Number
		case PageTypeQuestion:
			if p.QuestionIndex < 1 || p.QuestionIndex > numQuestions {
				return nil, fmt.Errorf("page %d references question %d outside 1..%d",
					p.Number, p.QuestionIndex, numQuestions)
			}
			bp.questionPgs[p.QuestionIndex] = append(bp.questionPgs[p.QuestionIndex], p.Number)
		case PageTypeDoNotMark:
			// Nothing to index.
		default:
			return nil, fmt.Errorf("page %d has unknown type %q", p.Number, p.Type)
		}
	}

	if bp.idPage == 0 {
		return nil, fmt.Errorf("blueprint has no ID page")
	}
	for q := 1; q <= numQuestions; q++ {
		if len(bp.questionPgs[q]) == 0 {
			return nil, fmt.Errorf("question %d owns no pages", q)
		}
	}

	return bp, nil
}

// NumPages returns the number of fixed page positions per paper.
func (b *Blueprint) NumPages() int { return len(b.pages) }

// NumQuestions returns the number of markable questions.
func (b *Blueprint) NumQuestions() int { return b.numQuestions }

// NumVersions returns the number of versions the assessment was built with.
func (b *Blueprint) NumVersions() int { return b.numVersions }

// IDPage returns the page number of the identification page.
func (b *Blueprint) IDPage() int { return b.idPage }

// Page returns the blueprint entry for a page number.
func (b *Blueprint) Page(number int) (BlueprintPage, error) {
	if number < 1 || number > len(b.pages) {
		return BlueprintPage{}, fmt.Errorf("%w: page %d", ErrPageNotFound, number)
	}
	return b.pages[number-1], nil
}

// PagesOfQuestion returns the page numbers owned by a question, in order.
func (b *Blueprint) PagesOfQuestion(question int) []int {
	return b.questionPgs[question]
}

// QuestionOfPage returns the question index a page belongs to, or
// SentinelQuestion for ID and do-not-mark pages.
func (b *Blueprint) QuestionOfPage(number int) int {
	if number < 1 || number > len(b.pages) {
		return SentinelQuestion
	}
	p := b.pages[number-1]
	if p.Type != PageTypeQuestion {
		return SentinelQuestion
	}
	return p.QuestionIndex
}
