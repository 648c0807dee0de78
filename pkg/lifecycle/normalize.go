package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// Stored due dates arrive either as native timestamps or as ISO-8601 extended
// strings, with or without a trailing zone marker. Strings ending in a literal
// "Z" are rewritten to an explicit "+00:00" offset before parsing; naive
// strings (no offset at all) are read as UTC.
const (
	isoOffsetLayout = "2006-01-02T15:04:05.999999999-07:00"
	isoNaiveLayout  = "2006-01-02T15:04:05.999999999"
	isoDateLayout   = "2006-01-02"
)

// NormalizeDueDate converts a stored due-date value into a UTC instant.
// A nil or empty input yields (nil, nil): the record simply has no due date.
// Any other value that cannot be parsed is an error; the caller decides whether
// that is fatal (payment confirmation) or a skip (reconciliation paths).
func NormalizeDueDate(raw any) (*time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t := v.UTC()
		return &t, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t := v.UTC()
		return &t, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		if strings.HasSuffix(s, "Z") {
			s = strings.TrimSuffix(s, "Z") + "+00:00"
		}
		for _, layout := range []string{isoOffsetLayout, isoNaiveLayout, isoDateLayout} {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				u := t.UTC()
				return &u, nil
			}
		}
		return nil, fmt.Errorf("unparseable due date %q", v)
	default:
		return nil, fmt.Errorf("unsupported due date type %T", raw)
	}
}

// startOfDayUTC truncates t to its UTC calendar date.
func startOfDayUTC(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
}

// daysUntil returns due.date - now.date in whole calendar days. Day differences
// are taken on the date portion only: "10 days out" means 10 calendar dates,
// not 240 hours. UTC days have no DST, so the division is exact.
func daysUntil(due, now time.Time) int {
	return int(startOfDayUTC(due).Sub(startOfDayUTC(now)) / (24 * time.Hour))
}
