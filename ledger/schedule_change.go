/*
schedule_change.go - Changing a participant's bound schedule

PURPOSE:
  Rebinding a profile to a different schedule is a first-class operation
  with a guard: the change is rejected if any existing live declaration's
  date, under the NEW schedule's milestone for that declaration type, would
  fall before the milestone's start or after its end-of-day cutoff. Without
  the guard a schedule change could silently invalidate already-accepted
  claims.

LOOKUP:
  The target schedule is resolved by canonical identifier first, then by
  alias; failure on both is invalid_schedule.
*/
package ledger

import (
	"context"

	"github.com/warp/declaration-engine/engine"
)

// ChangeScheduleRequest mirrors the external schedule-change interface.
type ChangeScheduleRequest struct {
	ParticipantID      string
	CourseIdentifier   string
	ProviderID         engine.ProviderID
	ScheduleIdentifier string
	Cohort             engine.Cohort
}

// ChangeSchedule rebinds the participant's profile (and its latest induction
// record) to the requested schedule. Failures are structured:
// invalid_schedule, schedule_invalid_for_course, withdrawn_participant,
// schedule_invalidates_declaration.
func (s *Service) ChangeSchedule(ctx context.Context, req ChangeScheduleRequest) (*engine.ParticipantProfile, error) {
	course, ok := engine.CourseFor(req.CourseIdentifier)
	if !ok {
		return nil, (&engine.ValidationError{}).Add("course_identifier", engine.ReasonInvalidCourse)
	}

	var profile *engine.ParticipantProfile
	err := s.Store.WithTx(ctx, func(tx engine.TxStore) error {
		var err error
		profile, _, err = s.resolveParticipant(ctx, tx, req.ParticipantID, course, req.ProviderID)
		if err != nil {
			return err
		}
		if profile.Withdrawn() {
			return (&engine.ValidationError{}).Add("participant_id", engine.ReasonWithdrawnParticipant)
		}

		schedule, err := tx.FindSchedule(ctx, req.ScheduleIdentifier, req.Cohort)
		if err != nil {
			if engine.IsNotFound(err) {
				return (&engine.ValidationError{}).Add("schedule_identifier", engine.ReasonInvalidSchedule)
			}
			return err
		}
		if !course.PermitsSchedule(schedule.Kind) {
			return (&engine.ValidationError{}).Add("schedule_identifier", engine.ReasonScheduleInvalidForCourse)
		}

		declarations, err := tx.DeclarationsForProfile(ctx, profile.ID)
		if err != nil {
			return err
		}
		if err := GuardScheduleChange(schedule, declarations); err != nil {
			return err
		}

		if err := tx.UpdateProfileSchedule(ctx, profile.ID, schedule.ID); err != nil {
			return err
		}
		profile.ScheduleID = schedule.ID

		// Keep the current induction record in step with the profile.
		records, err := tx.InductionRecords(ctx, profile.ID)
		if err != nil {
			return err
		}
		for i := len(records) - 1; i >= 0; i-- {
			if records[i].Current(s.Clock.Now()) {
				records[i].ScheduleID = schedule.ID
				return tx.UpdateInductionRecord(ctx, &records[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GuardScheduleChange rejects a schedule when any live declaration would
// fall outside its milestone window. Dates keep their time-of-day; the
// cutoff is end-of-day. The start bound is strict, stricter than the
// submission window: a declaration dated exactly at the new milestone's
// start-of-day is already invalidated by the move.
func GuardScheduleChange(schedule *engine.Schedule, declarations []engine.Declaration) error {
	for _, d := range declarations {
		if !d.Billable() {
			continue
		}
		milestone, ok := schedule.MilestoneFor(d.Type)
		if !ok ||
			!d.Date.After(milestone.StartDate.StartOfDay()) ||
			d.Date.After(milestone.MilestoneDate.EndOfDay()) {
			return (&engine.ValidationError{}).Add("schedule_identifier", engine.ReasonScheduleInvalidatesDeclaration)
		}
	}
	return nil
}
