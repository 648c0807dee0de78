package lifecycle

import "time"

// AdvanceDueDate rolls due forward one billing period at a time until its
// calendar date is strictly after now's. A due date equal to today still
// advances; a due date already in the future is returned unchanged, so running
// the advance twice with the same now is a no-op.
//
// The loop converges in O(periods elapsed) steps: a record left unrecalculated
// for a long stretch may cross many periods in one call.
func AdvanceDueDate(due time.Time, freq Frequency, now time.Time) time.Time {
	next := due.UTC()
	today := startOfDayUTC(now)
	for !startOfDayUTC(next).After(today) {
		if freq == FrequencyYearly {
			next = addCalendarMonths(next, 12)
		} else {
			next = addCalendarMonths(next, 1)
		}
	}
	return next
}

// addCalendarMonths adds whole months with calendar-aware rollover: when the
// source day does not exist in the target month (Jan 31 + 1 month), the result
// clips to the last valid day (Feb 28/29) instead of overflowing into the next
// month. time.AddDate would silently overflow, so the day is clipped by hand.
func addCalendarMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	// Day 1 of the target month never overflows.
	anchor := time.Date(year, month+time.Month(months), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	// Day 0 of the following month is the last day of the target month.
	lastDay := time.Date(anchor.Year(), anchor.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(anchor.Year(), anchor.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
