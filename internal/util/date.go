package util

import "time"

// MidnightUTC truncates t to 00:00:00 UTC of its calendar day. Trading days
// are keyed on this normalised instant throughout the store.
func MidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from earlier to
// later, flooring partial days. Negative if later precedes earlier.
func DaysBetween(earlier, later time.Time) int {
	return int(later.Sub(earlier).Hours() / 24)
}
