package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATES - Calendar days in UTC
// =============================================================================

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }
func EndOfMonth(year int, month time.Month) time.Time {
	return Date(year, month+1, 1).AddDate(0, 0, -1)
}

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate fails when End is before Start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidPeriod
	}
	if DateOf(p.End).Before(DateOf(p.Start)) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains reports whether t falls on a day inside the period.
func (p Period) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(DateOf(p.Start)) && !d.After(DateOf(p.End))
}

// Overlaps reports whether [from, to] intersects the period. A nil bound is open.
func (p Period) Overlaps(from, to *time.Time) bool {
	if from != nil && DateOf(*from).After(DateOf(p.End)) {
		return false
	}
	if to != nil && DateOf(*to).Before(DateOf(p.Start)) {
		return false
	}
	return true
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// =============================================================================
// PAY FREQUENCY
// =============================================================================

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// PeriodsPerYear returns how many pay periods of this frequency fit a year.
func (f Frequency) PeriodsPerYear() (int, error) {
	switch f {
	case FrequencyWeekly:
		return 52, nil
	case FrequencyBiweekly:
		return 26, nil
	case FrequencyMonthly, "":
		return 12, nil
	default:
		return 0, &ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown pay frequency %q", f)}
	}
}
