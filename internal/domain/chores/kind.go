package chores

import "fmt"

// ChoreKind names the family of background work a chore performs.
type ChoreKind string

const (
	// ChoreKindReassembly rebuilds a finished paper into a single document.
	ChoreKindReassembly ChoreKind = "REASSEMBLY"

	// ChoreKindSolution assembles the solution document for a paper's
	// version mix.
	ChoreKindSolution ChoreKind = "SOLUTION"

	// ChoreKindReport builds an aggregate progress report. Report chores are
	// not keyed to a paper; they use paper number zero.
	ChoreKindReport ChoreKind = "REPORT"
)

// ParseChoreKind converts a string to a ChoreKind.
func ParseChoreKind(s string) (ChoreKind, error) {
	switch s {
	case "REASSEMBLY":
		return ChoreKindReassembly, nil
	case "SOLUTION":
		return ChoreKindSolution, nil
	case "REPORT":
		return ChoreKindReport, nil
	default:
		return "", fmt.Errorf("unknown chore kind: %q", s)
	}
}

func (k ChoreKind) String() string { return string(k) }
