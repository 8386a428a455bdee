/*
Package ledger owns the lifecycle of participant declarations.

PURPOSE:
  Records a provider's claim that a participant reached a training
  milestone, advances the claim through the state machine, and guards
  retroactive edits (schedule changes) against invalidating accepted claims.

SUBMISSION FLOW:
  1. Static validation: course, declaration type, evidence, date shape
  2. Inside one unit of work:
     - resolve participant for the submitting provider
     - check the declaration date against the bound schedule's milestone
     - reject when an un-voided declaration already exists for the same
       (participant, type, provider)
     - create the declaration in "submitted" with its first history entry

  All failures are reported synchronously with structured reasons; nothing
  is persisted on failure. The live-declaration uniqueness is additionally
  enforced by a database constraint, so two concurrent submissions cannot
  both win - the loser gets a clean conflict.

SEE ALSO:
  - transitions.go: the per-declaration state machine operations
  - schedule_change.go: the schedule-change guard
  - statement/: batch transitions driven by statement deadlines
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/declaration-engine/engine"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service is the declaration ledger. All mutating operations run inside a
// single unit of work on Store.
type Service struct {
	Store engine.TxStore
	Clock engine.Clock

	// NewID generates identifiers for declarations and history entries.
	NewID func() string
}

func NewService(store engine.TxStore) *Service {
	return &Service{
		Store: store,
		Clock: engine.SystemClock{},
		NewID: uuid.NewString,
	}
}

// WithStore returns a copy of the service bound to the given store. Used by
// callers that already hold a unit of work (dedup, batcher) so nested ledger
// operations join their transaction.
func (s *Service) WithStore(store engine.TxStore) *Service {
	return &Service{Store: store, Clock: s.Clock, NewID: s.NewID}
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submission is a provider's claim as it arrives from the API layer.
type Submission struct {
	ParticipantID    string
	CourseIdentifier string
	DeclarationType  engine.DeclarationType
	DeclarationDate  time.Time
	EvidenceHeld     engine.EvidenceType
	ProviderID       engine.ProviderID
}

// Submit validates the claim and records it in "submitted". Returns the
// created declaration, a *engine.ValidationError with field-level failures,
// or engine.ErrDuplicateDeclaration when a live declaration already exists.
func (s *Service) Submit(ctx context.Context, sub Submission) (*engine.Declaration, error) {
	course, err := s.validateSubmission(sub)
	if err != nil {
		return nil, err
	}

	var created *engine.Declaration
	err = s.Store.WithTx(ctx, func(tx engine.TxStore) error {
		profile, schedule, err := s.resolveParticipant(ctx, tx, sub.ParticipantID, course, sub.ProviderID)
		if err != nil {
			return err
		}

		milestone, ok := schedule.MilestoneFor(sub.DeclarationType)
		if !ok {
			return (&engine.ValidationError{}).Add("declaration_type", engine.ReasonInvalidDeclarationType)
		}
		if !milestone.Contains(sub.DeclarationDate) {
			return (&engine.ValidationError{}).Add("declaration_date", engine.ReasonInvalidDeclarationDate)
		}

		// Read-then-decide: the database constraint backs this up for
		// concurrent writers.
		existing, err := tx.DeclarationsForProfile(ctx, profile.ID)
		if err != nil {
			return err
		}
		for _, d := range existing {
			if d.Type == sub.DeclarationType && d.ProviderID == sub.ProviderID && !d.Voided() && !d.Clawback {
				return engine.ErrDuplicateDeclaration
			}
		}

		now := s.Clock.Now()
		created = &engine.Declaration{
			ID:               engine.DeclarationID(s.NewID()),
			ProfileID:        profile.ID,
			ProviderID:       sub.ProviderID,
			CourseIdentifier: sub.CourseIdentifier,
			Type:             sub.DeclarationType,
			Date:             sub.DeclarationDate,
			EvidenceHeld:     sub.EvidenceHeld,
			State:            engine.StateSubmitted,
			GroupingKey:      engine.GroupingKeyFor(profile.ExternalID, sub.CourseIdentifier, sub.DeclarationType),
			CreatedAt:        now,
		}
		if err := tx.CreateDeclaration(ctx, created); err != nil {
			return err
		}

		return tx.AppendStateChange(ctx, engine.StateChange{
			ID:            s.NewID(),
			DeclarationID: created.ID,
			State:         engine.StateSubmitted,
			Reason:        "declaration submitted",
			Actor:         string(sub.ProviderID),
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// validateSubmission performs the static checks that need no storage access.
func (s *Service) validateSubmission(sub Submission) (engine.Course, error) {
	v := &engine.ValidationError{}

	if sub.ParticipantID == "" {
		v.Add("participant_id", engine.ReasonMissingParticipantID)
	}

	course, ok := engine.CourseFor(sub.CourseIdentifier)
	if !ok {
		v.Add("course_identifier", engine.ReasonInvalidCourse)
		return engine.Course{}, v
	}

	if !course.ValidDeclarationType(sub.DeclarationType) {
		v.Add("declaration_type", engine.ReasonInvalidDeclarationType)
	}

	if course.EvidenceRequired(sub.DeclarationType) {
		switch {
		case sub.EvidenceHeld == "":
			v.Add("evidence_held", engine.ReasonMissingEvidenceHeld)
		case !course.ValidEvidence(sub.DeclarationType, sub.EvidenceHeld):
			v.Add("evidence_held", engine.ReasonInvalidEvidenceType)
		}
	}

	switch {
	case sub.DeclarationDate.IsZero():
		v.Add("declaration_date", engine.ReasonInvalidDeclarationDate)
	case sub.DeclarationDate.After(s.Clock.Now()):
		v.Add("declaration_date", engine.ReasonFutureDeclarationDate)
	}

	if !v.Empty() {
		return engine.Course{}, v
	}
	return course, nil
}

// resolveParticipant finds the profile for the submitting provider and its
// bound schedule. A profile belonging to a different provider is reported
// the same way as a missing one: providers learn nothing about other
// providers' participants.
func (s *Service) resolveParticipant(
	ctx context.Context,
	tx engine.Store,
	participantID string,
	course engine.Course,
	providerID engine.ProviderID,
) (*engine.ParticipantProfile, *engine.Schedule, error) {
	profile, err := tx.FindProfile(ctx, participantID, course.Category)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, nil, (&engine.ValidationError{}).Add("participant_id", engine.ReasonInvalidParticipant)
		}
		return nil, nil, err
	}
	if profile.ProviderID != providerID {
		return nil, nil, (&engine.ValidationError{}).Add("participant_id", engine.ReasonInvalidParticipant)
	}

	schedule, err := tx.GetSchedule(ctx, profile.ScheduleID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading bound schedule: %w", err)
	}
	return profile, schedule, nil
}
