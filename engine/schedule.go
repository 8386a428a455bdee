/*
schedule.go - Milestone schedules (immutable reference data)

PURPOSE:
  A Schedule maps a cohort and participant category to an ordered list of
  Milestones. Each milestone has a validity window (start date to cutoff
  date) and a payment date. Declarations are validated against the milestone
  matching their declaration type on the participant's bound schedule.

WINDOW SEMANTICS:
  A declaration date is valid for a milestone iff
    start_date <= date <= milestone_date
  at day granularity on the bounds: start is beginning-of-day, the cutoff is
  end-of-day. Declaration dates keep their time-of-day and are compared
  against those normalized bounds.

ALIAS LOOKUP:
  A schedule may be resolved by its canonical identifier or by a secondary
  alias. Lookup tries canonical first, then alias (see Store.FindSchedule).

SEE ALSO:
  - ledger/: submission validation and the schedule-change guard
  - courses.go: which schedule kinds a course permits
*/
package engine

import "time"

// =============================================================================
// MILESTONE
// =============================================================================

// Milestone is one checkpoint in a schedule.
// Invariant: StartDate <= MilestoneDate <= PaymentDate.
// Immutable once referenced by a live declaration.
type Milestone struct {
	ID              string
	ScheduleID      ScheduleID
	Name            string
	DeclarationType DeclarationType
	StartDate       Date
	MilestoneDate   Date // cutoff
	PaymentDate     Date
}

// Contains reports whether a declaration date falls inside the validity
// window. The start bound is beginning-of-day, the cutoff end-of-day.
func (m Milestone) Contains(at time.Time) bool {
	if at.Before(m.StartDate.StartOfDay()) {
		return false
	}
	return !at.After(m.MilestoneDate.EndOfDay())
}

// =============================================================================
// SCHEDULE
// =============================================================================

// ScheduleKind distinguishes the schedule families; a course only permits
// certain kinds (see courses.go).
type ScheduleKind string

const (
	ScheduleInduction  ScheduleKind = "induction"
	ScheduleMentor     ScheduleKind = "mentor"
	ScheduleSpecialist ScheduleKind = "specialist"
	ScheduleLeadership ScheduleKind = "leadership"
)

// Schedule is the ordered set of milestones a participant's declarations are
// validated against. A participant profile is bound to exactly one schedule
// at a time.
type Schedule struct {
	ID         ScheduleID
	Identifier string
	// IdentifierAlias is a secondary lookup key; empty when the schedule has
	// no alias.
	IdentifierAlias string
	Name            string
	Cohort          Cohort
	Kind            ScheduleKind
	Milestones      []Milestone
}

// MilestoneFor resolves the single milestone with the given declaration type.
func (s *Schedule) MilestoneFor(dt DeclarationType) (Milestone, bool) {
	for _, m := range s.Milestones {
		if m.DeclarationType == dt {
			return m, true
		}
	}
	return Milestone{}, false
}
