package ir

import (
	"fmt"
	"time"
)

// Layouts for document keys.
const (
	DateKeyLayout  = "2006-01-02"
	MonthKeyLayout = "2006-01"
)

// StartOfDay normalizes t to local midnight in t's own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartOfMonth returns midnight on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// EndOfMonth returns midnight on the last day of t's month.
func EndOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, DaysInMonth(y, m), 0, 0, 0, 0, t.Location())
}

// DaysInMonth returns 28..31 for the given month, leap-year aware.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayIndex returns the zero-based day-of-month index of t.
func DayIndex(t time.Time) int {
	return t.Day() - 1
}

// DateKey formats the day document key, e.g. "2026-10-16".
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// MonthKey formats the month document key, e.g. "2026-10".
func MonthKey(t time.Time) string {
	return t.Format(MonthKeyLayout)
}

// WeekKey formats the ISO week document key, e.g. "2026-W42".
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// ParseDateKey parses a day key as local midnight in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date key %q: %w", key, err)
	}
	return t, nil
}

// ParseMonthKey parses a month key as midnight on the first of the month in loc.
func ParseMonthKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(MonthKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month key %q: %w", key, err)
	}
	return t, nil
}
