package classifier

import (
	"fmt"

	"github.com/barrowworks/barrow/internal/model"
)

// Decision says what to do with a classified event.
type Decision int

const (
	// DecisionSkip marks events that need no archiving.
	DecisionSkip Decision = iota
	// DecisionArchive marks deletions whose final state must be preserved.
	DecisionArchive
)

// Result pairs a decision with a human-readable explanation for skips.
type Result struct {
	Decision Decision
	Reason   string
}

// Classify decides whether an event represents a deletion to archive.
// Only removals archive; inserts, modifications and unrecognized kinds are
// skipped. Expiry-driven removals are treated exactly like explicit ones.
func Classify(ev model.ChangeEvent) Result {
	switch ev.Kind {
	case model.KindRemove:
		return Result{Decision: DecisionArchive}
	case model.KindInsert, model.KindModify:
		return Result{Decision: DecisionSkip, Reason: fmt.Sprintf("event kind %q is not a deletion", ev.Kind)}
	default:
		return Result{Decision: DecisionSkip, Reason: "unrecognized event kind"}
	}
}
