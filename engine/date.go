package engine

import "time"

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

// Date is a calendar date at day granularity. Milestone windows and statement
// deadlines are dates; declaration dates keep their time-of-day and are
// compared against a Date's start or end of day.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, m, d)
}

// StartOfDay returns 00:00:00 UTC on the date.
func (d Date) StartOfDay() time.Time {
	return d.normalize()
}

// EndOfDay returns the last nanosecond of the date.
func (d Date) EndOfDay() time.Time {
	return d.normalize().AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// Comparison (day granularity)
func (d Date) Before(other Date) bool { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool  { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool  { return d.normalize().After(other.normalize()) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }

// Passed reports whether the date is behind the given instant, i.e. the whole
// day is over.
func (d Date) Passed(now time.Time) bool {
	return d.EndOfDay().Before(now)
}

// Reached reports whether the given instant is on or after the date.
func (d Date) Reached(now time.Time) bool {
	return !now.Before(d.normalize())
}

func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) normalize() time.Time {
	y, m, day := d.Time.UTC().Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return d.normalize().Format("2006-01-02")
}

// =============================================================================
// CLOCK - Explicit time source
// =============================================================================

// Clock supplies the current time. Statement phases and submission validation
// are functions of the clock, so tests and replays pass a fixed one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
