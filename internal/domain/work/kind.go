package work

import "fmt"

// TaskKind distinguishes the two kinds of human work derived from scanned
// pages: identifying whose paper this is, and marking a question.
type TaskKind string

const (
	// TaskKindIdentify is the work of reading a paper's ID page.
	TaskKindIdentify TaskKind = "IDENTIFY"

	// TaskKindMark is the work of marking one (paper, question) pair.
	TaskKindMark TaskKind = "MARK"
)

func (k TaskKind) String() string { return string(k) }

// ParseTaskKind converts a string to a TaskKind.
func ParseTaskKind(s string) (TaskKind, error) {
	switch s {
	case "IDENTIFY":
		return TaskKindIdentify, nil
	case "MARK":
		return TaskKindMark, nil
	default:
		return "", fmt.Errorf("unknown task kind %q", s)
	}
}
