package papers

import (
	"fmt"
	"strings"
)

// CollisionGroup names every image involved in one page collision: the
// claimed position and the members (staged images or committed images)
// contending for it.
type CollisionGroup struct {
	Paper   int
	Page    int
	Version int
	Members []string
}

func (g CollisionGroup) String() string {
	return fmt.Sprintf("paper %d page %d version %d: %s",
		g.Paper, g.Page, g.Version, strings.Join(g.Members, ", "))
}

// CollisionError reports that a bundle push would place two images at the
// same page position, either within the bundle (internal) or against an
// already committed page (external). Pushing such a bundle leaves the store
// untouched; every colliding group is named so the operator can resolve all
// of them in one round.
type CollisionError struct {
	Groups []CollisionGroup
}

func (e *CollisionError) Error() string {
	parts := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		parts[i] = g.String()
	}
	return fmt.Sprintf("page collisions: [%s]", strings.Join(parts, "; "))
}

// HasPaper reports whether any colliding group involves the given paper.
func (e *CollisionError) HasPaper(paper int) bool {
	for _, g := range e.Groups {
		if g.Paper == paper {
			return true
		}
	}
	return false
}
