package cli

import (
	"fmt"
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Layouts accepted for times on the command line, besides durations.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseTime reads a command-line time relative to now. Accepted forms are
// RFC 3339, a local "2006-01-02T15:04", a local "15:04" on now's day and a
// signed duration such as "-90m". Empty means now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		day := ir.StartOfDay(now)
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339, 2006-01-02T15:04, 15:04 or a duration like -30m", s)
}

// parseOptionalTime is parseTime for flags where empty means unset.
func parseOptionalTime(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s, now)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseDay reads a date key, or today when s is empty.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return ir.StartOfDay(now), nil
	}
	day, err := ir.ParseDateKey(s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use 2006-01-02", s)
	}
	return day, nil
}

// parseMonth reads a month key, or the current month when s is empty.
func parseMonth(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return ir.StartOfMonth(now), nil
	}
	month, err := ir.ParseMonthKey(s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: use 2006-01", s)
	}
	return month, nil
}
