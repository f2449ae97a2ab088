package generic

import (
	"time"
)

// =============================================================================
// CLOCK - Time seam for deterministic tests
// =============================================================================

// Clock returns the current time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) Clock { return func() time.Time { return t } }

// =============================================================================
// DATE UTILITIES
// =============================================================================

// DateLayout is the compact date used in site codes.
const DateLayout = "20060102"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func StartOfYear(year int) time.Time { return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC) }

// YearRange returns the years from..to inclusive.
func YearRange(from, to int) []int {
	if to < from {
		return nil
	}
	years := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		years = append(years, y)
	}
	return years
}
