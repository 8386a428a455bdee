/*
Package engine provides the shared domain model for the declaration ledger
and payment-calculation engine.

PURPOSE:
  A provider claims that a participant reached a training milestone by
  submitting a Declaration. The declaration advances through a strict state
  machine driven by payment periods (statements), accrues to exactly one
  statement, and is aggregated by the payment calculator into the provider's
  contractual payment.

KEY CONCEPTS IN THIS FILE (declaration.go):
  - Declaration: a provider's claim with type, date and evidence
  - DeclarationState: submitted → eligible → payable → paid, plus the
    voided/ineligible exits
  - StateChange: an append-only history entry; the declaration's current
    state always equals the last entry
  - Transition table: the single source of truth for permitted moves

DESIGN PRINCIPLES:
  1. Declarations are never deleted - voiding is a state, not a removal
  2. State changes only through the transition table, each one recorded
  3. Clawback is a flag layered on paid, not a state: the money moved
  4. GroupingKey detects resubmission of the same underlying fact

SEE ALSO:
  - ledger/: the service that owns declaration lifecycle
  - schedule.go: milestone windows declarations are validated against
  - statement.go: the payment period a declaration accrues to
*/
package engine

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	DeclarationID string
	ProfileID     string
	ProviderID    string
	ScheduleID    string
	StatementID   string
	ContractID    string
	SchoolID      string
)

// Cohort is an annual intake, identified by its start year.
type Cohort int

// =============================================================================
// DECLARATION TYPES
// =============================================================================

// DeclarationType is an enumerated milestone name. The exact set permitted
// depends on the course (see courses.go).
type DeclarationType string

const (
	DeclarationStarted   DeclarationType = "started"
	DeclarationRetained1 DeclarationType = "retained-1"
	DeclarationRetained2 DeclarationType = "retained-2"
	DeclarationRetained3 DeclarationType = "retained-3"
	DeclarationRetained4 DeclarationType = "retained-4"
	DeclarationCompleted DeclarationType = "completed"
)

// EvidenceType tags the evidence a provider holds for a declaration.
// Allowed values are course-specific (see courses.go).
type EvidenceType string

const (
	EvidenceTrainingEventAttended EvidenceType = "training-event-attended"
	EvidenceSelfStudyCompleted    EvidenceType = "self-study-material-completed"
	EvidenceMaterialsEngagement   EvidenceType = "materials-engagement"
	EvidenceOther                 EvidenceType = "other"
)

// =============================================================================
// DECLARATION STATES
// =============================================================================

type DeclarationState string

const (
	StateSubmitted  DeclarationState = "submitted"
	StateEligible   DeclarationState = "eligible"
	StatePayable    DeclarationState = "payable"
	StatePaid       DeclarationState = "paid"
	StateVoided     DeclarationState = "voided"
	StateIneligible DeclarationState = "ineligible"
)

// transitions is the explicit state-transition table. A transition is legal
// iff the target appears under the current state. Terminal states have no
// entries; a voided declaration is superseded by a fresh declaration, never
// revived.
var transitions = map[DeclarationState][]DeclarationState{
	StateSubmitted:  {StateEligible, StateIneligible, StateVoided},
	StateEligible:   {StatePayable, StateIneligible, StateVoided},
	StatePayable:    {StatePaid, StateVoided},
	StatePaid:       {},
	StateVoided:     {},
	StateIneligible: {StateVoided},
}

// CanTransition reports whether moving from -> to is permitted.
func CanTransition(from, to DeclarationState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BillableStates are the states in which a declaration counts towards (or has
// already produced) payment.
var BillableStates = []DeclarationState{StateSubmitted, StateEligible, StatePayable, StatePaid}

func (s DeclarationState) Billable() bool {
	for _, b := range BillableStates {
		if s == b {
			return true
		}
	}
	return false
}

// Voidable reports whether a declaration in this state may still be voided.
// Paid declarations are clawed back instead.
func (s DeclarationState) Voidable() bool {
	return CanTransition(s, StateVoided)
}

// =============================================================================
// DECLARATION
// =============================================================================

type Declaration struct {
	ID               DeclarationID
	ProfileID        ProfileID
	ProviderID       ProviderID
	CourseIdentifier string
	Type             DeclarationType
	Date             time.Time // declaration_date; keeps time-of-day
	EvidenceHeld     EvidenceType
	State            DeclarationState
	Clawback         bool // money already paid must be recovered

	// StatementID is empty until the batcher assigns a payment period.
	StatementID StatementID

	// GroupingKey is stable across resubmissions of the same underlying fact:
	// participant external identifier + course + declaration type. Payment
	// calculation counts distinct keys so superseded resubmissions never
	// double-count.
	GroupingKey string

	CreatedAt time.Time
}

func (d *Declaration) Billable() bool { return d.State.Billable() }
func (d *Declaration) Voidable() bool { return d.State.Voidable() }
func (d *Declaration) Voided() bool   { return d.State == StateVoided }
func (d *Declaration) Paid() bool     { return d.State == StatePaid }

// Live reports whether the declaration occupies its participant's slot for
// this type and provider. Mirrors the store's live-uniqueness rule: anything
// not voided and not clawed back blocks another declaration of the same kind,
// ineligible ones included.
func (d *Declaration) Live() bool { return d.State != StateVoided && !d.Clawback }

// GroupingKeyFor builds the stable resubmission key.
func GroupingKeyFor(participantExternalID, courseIdentifier string, dt DeclarationType) string {
	return participantExternalID + ":" + courseIdentifier + ":" + string(dt)
}

// =============================================================================
// STATE HISTORY - Append-only log of transitions
// =============================================================================

// StateChange records one transition. Entries are never mutated or deleted;
// the declaration's current state is the most recent entry.
type StateChange struct {
	ID            string
	DeclarationID DeclarationID
	State         DeclarationState
	Reason        string
	Actor         string
	CreatedAt     time.Time
}
