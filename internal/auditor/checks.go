package auditor

import (
	"fmt"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

// Names of the consistency checks, used as the check metric label.
const (
	CheckOrderMissing       = "order_missing"
	CheckHistoryEmpty       = "history_empty"
	CheckFirstEntryPlaced   = "first_entry_placed"
	CheckHistoryOrdered     = "history_ordered"
	CheckHeaderMatchesLast  = "header_matches_last"
	CheckUpdatedAtMatches   = "updated_at_matches"
	CheckEventInHistory     = "event_in_history"
	CheckForwardTransitions = "forward_transitions"
)

type Violation struct {
	Check  string
	Detail string
}

// CheckView verifies an order view fetched after event was published. The
// view may already include later transitions; every check holds regardless.
func CheckView(order *domain.Order, event domain.OrderStatusChangedEvent, policy domain.TransitionPolicy) []Violation {
	var violations []Violation
	add := func(check, format string, args ...any) {
		violations = append(violations, Violation{Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	if len(order.History) == 0 {
		add(CheckHistoryEmpty, "order %s has no status history", order.ID)
		return violations
	}

	if first := order.History[0]; first.Status != domain.OrderStatusPlaced {
		add(CheckFirstEntryPlaced, "first history entry is %s", first.Status)
	}

	seen := false
	for i, entry := range order.History {
		if entry.Status == event.Status {
			seen = true
		}
		if i == 0 {
			continue
		}
		prev := order.History[i-1]
		if entry.ChangedAt.Before(prev.ChangedAt) {
			add(CheckHistoryOrdered, "entry %d (%s) is older than entry %d (%s)", entry.ID, entry.ChangedAt, prev.ID, prev.ChangedAt)
		}
		if policy == domain.PolicyForward && !policy.Allows(prev.Status, entry.Status) {
			add(CheckForwardTransitions, "history moves backwards from %s to %s", prev.Status, entry.Status)
		}
	}

	last, _ := order.LatestEntry()
	if last.Status != order.Status {
		add(CheckHeaderMatchesLast, "header status %s, last history entry %s", order.Status, last.Status)
	}
	if !order.UpdatedAt.Equal(last.ChangedAt) {
		add(CheckUpdatedAtMatches, "updated_at %s, last changed_at %s", order.UpdatedAt, last.ChangedAt)
	}
	if !seen {
		add(CheckEventInHistory, "event status %s missing from history", event.Status)
	}

	return violations
}
