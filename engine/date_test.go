package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/declaration-engine/engine"
)

func TestDate_DayBounds(t *testing.T) {
	d := engine.NewDate(2021, time.November, 30)

	assert.Equal(t, time.Date(2021, time.November, 30, 0, 0, 0, 0, time.UTC), d.StartOfDay())
	assert.Equal(t, time.Date(2021, time.November, 30, 23, 59, 59, 999999999, time.UTC), d.EndOfDay())
}

func TestDate_Passed(t *testing.T) {
	// GIVEN: A deadline of 2021-11-30
	// THEN: It has not passed at any instant of that day, and has passed
	//       from the first instant of the next

	deadline := engine.NewDate(2021, time.November, 30)

	assert.False(t, deadline.Passed(time.Date(2021, time.November, 30, 23, 59, 59, 999999999, time.UTC)))
	assert.True(t, deadline.Passed(time.Date(2021, time.December, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDate_Reached(t *testing.T) {
	payment := engine.NewDate(2021, time.November, 30)

	assert.False(t, payment.Reached(time.Date(2021, time.November, 29, 23, 59, 59, 0, time.UTC)))
	assert.True(t, payment.Reached(time.Date(2021, time.November, 30, 0, 0, 0, 0, time.UTC)))
	assert.True(t, payment.Reached(time.Date(2021, time.December, 25, 12, 0, 0, 0, time.UTC)))
}

func TestDateOf_DropsTimeOfDay(t *testing.T) {
	at := time.Date(2021, time.October, 5, 14, 30, 12, 0, time.UTC)
	assert.Equal(t, "2021-10-05", engine.DateOf(at).String())
}

func TestMilestone_Contains_WindowBounds(t *testing.T) {
	// GIVEN: A milestone window 2021-09-01 .. 2021-11-30
	// THEN: Any time-of-day on a boundary day is inside; a nanosecond
	//       outside either bound is not

	m := engine.Milestone{
		DeclarationType: engine.DeclarationStarted,
		StartDate:       engine.NewDate(2021, time.September, 1),
		MilestoneDate:   engine.NewDate(2021, time.November, 30),
	}

	assert.True(t, m.Contains(time.Date(2021, time.September, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, m.Contains(time.Date(2021, time.September, 1, 18, 45, 0, 0, time.UTC)))
	assert.True(t, m.Contains(time.Date(2021, time.November, 30, 23, 59, 59, 999999999, time.UTC)))

	assert.False(t, m.Contains(time.Date(2021, time.August, 31, 23, 59, 59, 999999999, time.UTC)))
	assert.False(t, m.Contains(time.Date(2021, time.December, 1, 0, 0, 0, 0, time.UTC)))
}

func TestStatement_Phase(t *testing.T) {
	// GIVEN: A statement with deadline 2021-11-30 and payment date 2021-12-25
	st := engine.Statement{
		Deadline:    engine.NewDate(2021, time.November, 30),
		PaymentDate: engine.NewDate(2021, time.December, 25),
	}

	// Phase is derived from the clock, never stored
	assert.Equal(t, engine.PhaseOpen, st.Phase(time.Date(2021, time.November, 30, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, engine.PhaseCurrent, st.Phase(time.Date(2021, time.December, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, engine.PhasePayable, st.Phase(time.Date(2021, time.December, 25, 0, 0, 0, 0, time.UTC)))
}

func TestStatement_Covers(t *testing.T) {
	st := engine.Statement{
		PeriodStart: engine.NewDate(2021, time.November, 1),
		PeriodEnd:   engine.NewDate(2021, time.November, 30),
	}

	assert.True(t, st.Covers(time.Date(2021, time.November, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, st.Covers(time.Date(2021, time.November, 30, 23, 0, 0, 0, time.UTC)))
	assert.False(t, st.Covers(time.Date(2021, time.October, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, st.Covers(time.Date(2021, time.December, 1, 0, 0, 0, 0, time.UTC)))
}
