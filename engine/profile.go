/*
profile.go - Participant profiles and induction history

PURPOSE:
  A ParticipantProfile is the person being trained: a category, a bound
  schedule, declarations, and a chronological list of induction records
  (periods of training at one institution). Only one induction record may be
  current at a time.

SEE ALSO:
  - dedup/: merges two profiles representing the same person
  - ledger/: resolves profiles for provider submissions
*/
package engine

import "time"

// =============================================================================
// PARTICIPANT PROFILE
// =============================================================================

type ParticipantCategory string

const (
	CategoryInduction  ParticipantCategory = "induction"
	CategoryMentor     ParticipantCategory = "mentor"
	CategorySpecialist ParticipantCategory = "specialist"
)

type TrainingStatus string

const (
	TrainingActive    TrainingStatus = "active"
	TrainingDeferred  TrainingStatus = "deferred"
	TrainingWithdrawn TrainingStatus = "withdrawn"
)

type ParticipantProfile struct {
	ID ProfileID

	// ExternalID is the participant identifier providers submit against.
	// Unique per category: the same person may hold an induction profile and
	// a mentor profile.
	ExternalID string

	Category       ParticipantCategory
	ProviderID     ProviderID
	ScheduleID     ScheduleID
	TrainingStatus TrainingStatus
	CreatedAt      time.Time
}

func (p *ParticipantProfile) Withdrawn() bool { return p.TrainingStatus == TrainingWithdrawn }

// =============================================================================
// INDUCTION RECORDS
// =============================================================================

type InductionStatus string

const (
	InductionActive    InductionStatus = "active"
	InductionWithdrawn InductionStatus = "withdrawn"
	InductionChanged   InductionStatus = "changed"
	InductionLeaving   InductionStatus = "leaving"
	InductionCompleted InductionStatus = "completed"
)

// InductionRecord is a period of training at a given institution.
type InductionRecord struct {
	ID        string
	ProfileID ProfileID
	SchoolID  SchoolID

	// TrainingProgramme identifies the programme delivered during this
	// period (e.g. "provider-led", "school-led"). Dedup refuses to merge
	// profiles whose programmes do not match.
	TrainingProgramme string

	Status     InductionStatus
	ScheduleID ScheduleID
	StartDate  time.Time
	EndDate    *time.Time // nil while the record is open

	// SchoolTransfer marks the record as the start of a cross-institution
	// transfer.
	SchoolTransfer bool

	CreatedAt time.Time
}

// Current reports whether the record is the participant's active period: no
// end date, or an end date in the future while leaving.
func (r *InductionRecord) Current(now time.Time) bool {
	if r.EndDate == nil {
		return r.Status == InductionActive || r.Status == InductionLeaving
	}
	return r.Status == InductionLeaving && r.EndDate.After(now)
}

// =============================================================================
// SINGLETON CHILD RECORDS
// =============================================================================

// EligibilityRecord is the one-time result of upstream eligibility checks.
// At most one per profile; dedup moves it to the primary only if the primary
// has none.
type EligibilityRecord struct {
	ID        string
	ProfileID ProfileID
	Status    string
	CreatedAt time.Time
}

// ValidationData is the identity-verification data captured for a profile.
// Singleton, transferred on dedup under the same never-overwrite rule.
type ValidationData struct {
	ID          string
	ProfileID   ProfileID
	FullName    string
	TRN         string
	DateOfBirth Date
	CreatedAt   time.Time
}

// =============================================================================
// DUPLICATE-MERGE AUDIT RECORD
// =============================================================================

// DeletedDuplicate stores a serialized snapshot of a profile destroyed by a
// merge, for audit and rollback reference. Created atomically with the
// merge; never mutated.
type DeletedDuplicate struct {
	ID               string
	PrimaryProfileID ProfileID
	Data             []byte // JSON snapshot of the duplicate
	CreatedAt        time.Time
}
