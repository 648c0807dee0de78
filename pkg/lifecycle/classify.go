package lifecycle

import "time"

// ExpiringWindowDays is the near-term window: a subscription due today through
// ExpiringWindowDays calendar days out (inclusive) is Expiring.
const ExpiringWindowDays = 10

// Classify recomputes a subscription's status from its due date and the current
// instant. Pure: the caller decides whether to persist the result.
//
// Cancelled is sticky and short-circuits before any date math. A nil due date
// leaves the current status as-is: without a due date there is nothing to
// classify, and these paths are periodic and self-healing.
func Classify(current Status, due *time.Time, now time.Time) Status {
	if current == StatusCancelled {
		return StatusCancelled
	}
	if due == nil {
		return current
	}

	switch diff := daysUntil(*due, now); {
	case diff < 0:
		return StatusExpired
	case diff <= ExpiringWindowDays:
		return StatusExpiring
	default:
		return StatusActive
	}
}
