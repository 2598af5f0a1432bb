package papers

// FixedPageState is the slice of a fixed page relevant to readiness: where it
// sits, which version it carries and whether it holds an image.
type FixedPageState struct {
	PageNumber    int
	QuestionIndex int
	Version       int
	HasImage      bool
}

// MobilePageState is the slice of a mobile page relevant to readiness.
type MobilePageState struct {
	QuestionIndex int
	Version       int
}

// PaperSnapshot is a point-in-time view of one paper's pages, fetched in bulk
// by the page repository so readiness can be evaluated set-wise across a
// whole push rather than page by page.
type PaperSnapshot struct {
	PaperNumber int
	Fixed       []FixedPageState
	Mobile      []MobilePageState
}

// QuestionKey identifies one (paper, question) unit of markable work.
type QuestionKey struct {
	Paper    int
	Question int
}

// questionTally accumulates per-question counts in a single pass.
type questionTally struct {
	fixedTotal  int
	fixedImaged int
	mobile      int
}

// ReadyQuestions evaluates the readiness rule over a snapshot in one pass:
// a (paper, question) pair is ready when every fixed page of the question
// holds an image, or when none do but at least one mobile page targets the
// question. Mixed states are never ready. The sentinel question is skipped.
func ReadyQuestions(snap PaperSnapshot) map[QuestionKey]bool {
	tallies := make(map[int]*questionTally)
	tally := func(q int) *questionTally {
		t, ok := tallies[q]
		if !ok {
			t = &questionTally{}
			tallies[q] = t
		}
		return t
	}

	for _, f := range snap.Fixed {
		if f.QuestionIndex == SentinelQuestion {
			continue
		}
		t := tally(f.QuestionIndex)
		t.fixedTotal++
		if f.HasImage {
			t.fixedImaged++
		}
	}
	for _, m := range snap.Mobile {
		if m.QuestionIndex == SentinelQuestion {
			continue
		}
		tally(m.QuestionIndex).mobile++
	}

	ready := make(map[QuestionKey]bool, len(tallies))
	for q, t := range tallies {
		key := QuestionKey{Paper: snap.PaperNumber, Question: q}
		switch {
		case t.fixedTotal > 0 && t.fixedImaged == t.fixedTotal:
			ready[key] = true
		case t.fixedImaged == 0 && t.mobile > 0:
			ready[key] = true
		default:
			ready[key] = false
		}
	}
	return ready
}

// QuestionReady evaluates the readiness rule for a single (paper, question)
// pair of a snapshot.
func QuestionReady(snap PaperSnapshot, question int) bool {
	return ReadyQuestions(snap)[QuestionKey{Paper: snap.PaperNumber, Question: question}]
}

// IDPageImaged reports whether the snapshot's ID page holds an image. The
// blueprint supplies which page number is the ID page.
func IDPageImaged(bp *Blueprint, snap PaperSnapshot) bool {
	for _, f := range snap.Fixed {
		if f.PageNumber == bp.IDPage() {
			return f.HasImage
		}
	}
	return false
}

// QuestionVersion returns the version a question carries on this paper, taken
// from its fixed pages (or mobile pages when the question has none). Defaults
// to 1 for questions the snapshot does not know about.
func QuestionVersion(snap PaperSnapshot, question int) int {
	for _, f := range snap.Fixed {
		if f.QuestionIndex == question && f.Version > 0 {
			return f.Version
		}
	}
	for _, m := range snap.Mobile {
		if m.QuestionIndex == question && m.Version > 0 {
			return m.Version
		}
	}
	return 1
}
