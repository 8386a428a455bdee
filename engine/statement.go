/*
statement.go - Payment periods

PURPOSE:
  A Statement is a periodic batch of declarations for one provider and
  cohort. It has a deadline date (after which new declarations for that
  period are rejected) and a payment date (when providers are actually
  paid). Declarations accrue to the statement whose period window contains
  their declaration date.

PHASE:
  A statement's phase is never stored. It is a pure function of the two
  stored dates and an explicit clock:
    open    - before the deadline
    current - deadline passed, payment date not reached
    payable - payment date reached
  Recomputing historical breakdowns must use the stored declaration ->
  statement linkage, not a re-derived phase.

SEE ALSO:
  - statement/: the batcher that assigns declarations and runs sweeps
  - payments/: reads a statement's declarations to produce the breakdown
*/
package engine

import "time"

// =============================================================================
// STATEMENT
// =============================================================================

type Statement struct {
	ID         StatementID
	ProviderID ProviderID
	Cohort     Cohort
	Name       string // e.g. "November 2021"

	// The payment-period window (inclusive) a declaration date must fall in
	// to accrue here.
	PeriodStart Date
	PeriodEnd   Date

	Deadline    Date
	PaymentDate Date
}

// Covers reports whether the declaration date falls in the statement's
// period window.
func (s *Statement) Covers(at time.Time) bool {
	if at.Before(s.PeriodStart.StartOfDay()) {
		return false
	}
	return !at.After(s.PeriodEnd.EndOfDay())
}

// =============================================================================
// PHASE - Time-derived, never persisted
// =============================================================================

type StatementPhase string

const (
	PhaseOpen    StatementPhase = "open"
	PhaseCurrent StatementPhase = "current"
	PhasePayable StatementPhase = "payable"
)

// Phase computes the statement's phase at the given instant.
func (s *Statement) Phase(now time.Time) StatementPhase {
	switch {
	case s.PaymentDate.Reached(now):
		return PhasePayable
	case s.Deadline.Passed(now):
		return PhaseCurrent
	default:
		return PhaseOpen
	}
}

// DeadlinePassed reports whether the statement no longer accepts new
// declarations.
func (s *Statement) DeadlinePassed(now time.Time) bool {
	return s.Deadline.Passed(now)
}
