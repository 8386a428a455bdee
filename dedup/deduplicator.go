/*
Package dedup merges two participant profiles that represent the same
person.

PURPOSE:
  Given a primary profile to keep and a duplicate to retire, move every
  ledger-relevant child (declarations, schedules, eligibility, induction
  history) onto the primary and destroy the duplicate, preserving billing
  correctness throughout. The whole merge is one unit of work: a failure at
  any step rolls back everything, there is no partial-merge state.

DRY RUN:
  A dry run executes the identical code path and produces the identical
  change log; the unit of work is rolled back at the end instead of
  committed. This is a real rollback, not a separate preview
  implementation.

ORDER OF OPERATIONS:
  1. schedule reconciliation  - the profile holding the earliest billable
     declaration is authoritative; conflicting declarations on the other
     profile are voided (or clawed back if paid), and the primary's
     schedule is changed if it was the non-authoritative one, through the
     ledger's schedule-change guard
  2. declaration transfer     - duplicate declarations move to the primary;
     a conflicting live declaration pair is resolved by voiding the more
     recently created (ties break on the higher declaration ID)
  3. validation/eligibility   - singletons move only if the primary has none
  4. school change            - the primary's oldest induction record is
     flagged as a transfer; the duplicate's latest record is re-pointed to
     the primary as "leaving" with a computed end date
  5. remaining induction records re-pointed with the same end-date rule
  6. retirement               - audit snapshot, then the duplicate and its
     now-empty children are destroyed

SEE ALSO:
  - ledger/: the void/clawback/transfer primitives this calls back into
*/
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/declaration-engine/engine"
	"github.com/warp/declaration-engine/ledger"
)

// errDryRun aborts the unit of work after all steps ran; the caller treats
// it as success.
var errDryRun = errors.New("dry run rollback")

// =============================================================================
// DEDUPLICATOR
// =============================================================================

type Deduplicator struct {
	Store  engine.TxStore
	Ledger *ledger.Service
	Clock  engine.Clock
}

func NewDeduplicator(store engine.TxStore, led *ledger.Service) *Deduplicator {
	return &Deduplicator{Store: store, Ledger: led, Clock: engine.SystemClock{}}
}

// Dedup merges duplicate into primary. Returns the ordered human-readable
// change log, or a *engine.DeduplicationError and no partial log. With
// dryRun the same steps run and the same log is returned, but nothing is
// committed.
func (d *Deduplicator) Dedup(ctx context.Context, primaryID, duplicateID engine.ProfileID, dryRun bool) ([]string, error) {
	primary, err := d.Store.GetProfile(ctx, primaryID)
	if err != nil {
		return nil, err
	}
	duplicate, err := d.Store.GetProfile(ctx, duplicateID)
	if err != nil {
		return nil, err
	}

	r := &run{
		dedup:     d,
		primary:   primary,
		duplicate: duplicate,
	}

	if dryRun {
		r.log("~~~ DRY RUN ~~~")
	}
	r.log("Primary profile: %s", primaryID)
	r.log("Duplicate profile: %s", duplicateID)

	if err := r.checkPreconditions(ctx, d.Store); err != nil {
		return nil, err
	}
	if err := r.warnings(ctx, d.Store); err != nil {
		return nil, err
	}

	err = d.Store.WithTx(ctx, func(tx engine.TxStore) error {
		r.store = tx
		r.ledger = d.Ledger.WithStore(tx)

		if err := r.reconcileSchedules(ctx); err != nil {
			return err
		}
		if err := r.reconcileDeclarations(ctx); err != nil {
			return err
		}
		if err := r.transferValidationData(ctx); err != nil {
			return err
		}
		if err := r.transferEligibility(ctx); err != nil {
			return err
		}
		if err := r.handleSchoolChange(ctx); err != nil {
			return err
		}
		if err := r.reconcileRemainingInductionRecords(ctx); err != nil {
			return err
		}
		if err := r.retireDuplicate(ctx); err != nil {
			return err
		}

		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	return r.changes, nil
}

// =============================================================================
// RUN STATE
// =============================================================================

type run struct {
	dedup     *Deduplicator
	store     engine.Store
	ledger    *ledger.Service
	primary   *engine.ParticipantProfile
	duplicate *engine.ParticipantProfile
	changes   []string
}

func (r *run) log(format string, args ...any) {
	r.changes = append(r.changes, fmt.Sprintf(format, args...))
}

// =============================================================================
// PRECONDITIONS & WARNINGS
// =============================================================================

// checkPreconditions aborts the merge - no mutation - for the two
// unsupported configurations.
func (r *run) checkPreconditions(ctx context.Context, st engine.Store) error {
	primarySchool, err := currentSchool(ctx, st, r.primary.ID)
	if err != nil {
		return err
	}
	duplicateSchool, err := currentSchool(ctx, st, r.duplicate.ID)
	if err != nil {
		return err
	}

	if r.primary.ProviderID != r.duplicate.ProviderID && primarySchool == duplicateSchool && primarySchool != "" {
		return &engine.DeduplicationError{Message: "Different providers at the same school are not yet supported."}
	}

	primaryProgrammes, err := trainingProgrammes(ctx, st, r.primary.ID)
	if err != nil {
		return err
	}
	duplicateProgrammes, err := trainingProgrammes(ctx, st, r.duplicate.ID)
	if err != nil {
		return err
	}
	if len(primaryProgrammes) > 0 && len(duplicateProgrammes) > 0 {
		for p := range duplicateProgrammes {
			if _, ok := primaryProgrammes[p]; !ok {
				return &engine.DeduplicationError{Message: "Only duplicates with the same training programme are supported."}
			}
		}
	}
	return nil
}

// warnings are advisory change-log lines; they never abort the merge.
func (r *run) warnings(ctx context.Context, st engine.Store) error {
	if r.duplicate.Category == engine.CategoryInduction && r.primary.Category == engine.CategoryMentor {
		r.log("WARNING: transition from induction participant to mentor may not indicate a duplication.")
	}

	primaryDecls, err := st.DeclarationsForProfile(ctx, r.primary.ID)
	if err != nil {
		return err
	}
	duplicateDecls, err := st.DeclarationsForProfile(ctx, r.duplicate.ID)
	if err != nil {
		return err
	}
	allVoided := len(primaryDecls) > 0
	for _, d := range primaryDecls {
		if !d.Voided() {
			allVoided = false
			break
		}
	}
	anyVoidable := false
	for _, d := range duplicateDecls {
		if d.Voidable() {
			anyVoidable = true
			break
		}
	}
	if allVoided && anyVoidable {
		r.log("WARNING: voided declarations on primary suggest the duplicate may be the primary. You may want to swap before continuing.")
	}
	return nil
}

// =============================================================================
// STEP 1 - SCHEDULE RECONCILIATION
// =============================================================================

func (r *run) reconcileSchedules(ctx context.Context) error {
	if r.primary.ScheduleID == r.duplicate.ScheduleID {
		return nil
	}

	earliest, err := r.earliestBillableDeclaration(ctx)
	if err != nil || earliest == nil {
		return err
	}

	authoritative, other := r.primary, r.duplicate
	if earliest.ProfileID == r.duplicate.ID {
		authoritative, other = r.duplicate, r.primary
	}

	// Declarations on the non-authoritative profile conflict with the
	// surviving schedule.
	otherDecls, err := r.store.DeclarationsForProfile(ctx, other.ID)
	if err != nil {
		return err
	}
	for i := range otherDecls {
		if err := r.voidOrClawback(ctx, &otherDecls[i]); err != nil {
			return err
		}
	}

	if authoritative == r.primary {
		return nil
	}
	return r.changePrimarySchedule(ctx, authoritative.ScheduleID)
}

func (r *run) changePrimarySchedule(ctx context.Context, scheduleID engine.ScheduleID) error {
	schedule, err := r.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	course := courseFor(r.primary.Category)
	_, err = r.ledger.ChangeSchedule(ctx, ledger.ChangeScheduleRequest{
		ParticipantID:      r.primary.ExternalID,
		CourseIdentifier:   course,
		ProviderID:         r.primary.ProviderID,
		ScheduleIdentifier: schedule.Identifier,
		Cohort:             schedule.Cohort,
	})
	if err != nil {
		return &engine.DeduplicationError{Message: fmt.Sprintf("schedule change on primary failed: %v", err)}
	}
	r.primary.ScheduleID = scheduleID

	r.log("Changed schedule on primary profile: %s, %d (%s).", schedule.Identifier, schedule.Cohort, schedule.ID)
	return nil
}

// earliestBillableDeclaration finds, across both profiles, the billable
// declaration with the earliest declaration date. Ties break on the lower
// declaration ID so the outcome never depends on insertion order.
func (r *run) earliestBillableDeclaration(ctx context.Context) (*engine.Declaration, error) {
	primaryDecls, err := r.store.DeclarationsForProfile(ctx, r.primary.ID)
	if err != nil {
		return nil, err
	}
	duplicateDecls, err := r.store.DeclarationsForProfile(ctx, r.duplicate.ID)
	if err != nil {
		return nil, err
	}

	var earliest *engine.Declaration
	for _, decls := range [][]engine.Declaration{primaryDecls, duplicateDecls} {
		for i := range decls {
			d := &decls[i]
			if !d.Billable() {
				continue
			}
			if earliest == nil ||
				d.Date.Before(earliest.Date) ||
				(d.Date.Equal(earliest.Date) && d.ID < earliest.ID) {
				earliest = d
			}
		}
	}
	return earliest, nil
}

// =============================================================================
// STEP 2 - DECLARATION TRANSFER
// =============================================================================

func (r *run) reconcileDeclarations(ctx context.Context) error {
	duplicateDecls, err := r.store.DeclarationsForProfile(ctx, r.duplicate.ID)
	if err != nil {
		return err
	}

	for i := range duplicateDecls {
		d := &duplicateDecls[i]

		if err := r.voidConflictingDeclaration(ctx, d); err != nil {
			return err
		}

		key := engine.GroupingKeyFor(r.primary.ExternalID, d.CourseIdentifier, d.Type)
		if err := r.store.ReassignDeclarationProfile(ctx, d.ID, r.primary.ID, key); err != nil {
			return err
		}
		r.log("Transferred declaration: %s, %s (%s).", d.Type, d.State, d.ID)
	}
	return nil
}

// voidConflictingDeclaration resolves a pair of live declarations of the
// same type before the incoming one moves onto the primary. Every un-voided,
// un-clawed declaration holds the live slot (ineligible included), so each
// such pair must be resolved or the transfer hits the unique index. A
// billable declaration always survives a non-billable one; between equals,
// the more recently created is voided (or clawed back if paid). Equal
// creation times break on the higher declaration ID.
func (r *run) voidConflictingDeclaration(ctx context.Context, incoming *engine.Declaration) error {
	if !incoming.Live() {
		return nil
	}

	primaryDecls, err := r.store.DeclarationsForProfile(ctx, r.primary.ID)
	if err != nil {
		return err
	}
	var conflicting *engine.Declaration
	for i := range primaryDecls {
		p := &primaryDecls[i]
		if p.Type == incoming.Type && p.Live() {
			conflicting = p
			break
		}
	}
	if conflicting == nil {
		return nil
	}

	loser := conflicting
	switch {
	case incoming.Billable() != conflicting.Billable():
		if !incoming.Billable() {
			loser = incoming
		}
	case incoming.CreatedAt.After(conflicting.CreatedAt),
		incoming.CreatedAt.Equal(conflicting.CreatedAt) && incoming.ID > conflicting.ID:
		loser = incoming
	}
	return r.voidOrClawback(ctx, loser)
}

func (r *run) voidOrClawback(ctx context.Context, d *engine.Declaration) error {
	// The log records the state the declaration was in when the conflict
	// was resolved, not the state it was left in.
	stateBefore := d.State
	changed, err := r.ledger.VoidOrClawback(ctx, d, "duplicate profile merge", "dedup")
	if err != nil {
		return err
	}
	if changed {
		r.log("Voided declaration: %s, %s (%s).", d.Type, stateBefore, d.ID)
	}
	return nil
}

// =============================================================================
// STEP 3 - SINGLETON TRANSFERS
// =============================================================================

func (r *run) transferValidationData(ctx context.Context) error {
	existing, err := r.store.GetValidationData(ctx, r.primary.ID)
	if err != nil {
		return err
	}
	duplicateData, err := r.store.GetValidationData(ctx, r.duplicate.ID)
	if err != nil {
		return err
	}
	if existing != nil || duplicateData == nil {
		return nil
	}
	if err := r.store.ReassignValidationData(ctx, r.duplicate.ID, r.primary.ID); err != nil {
		return err
	}
	r.log("Validation data transferred.")
	return nil
}

func (r *run) transferEligibility(ctx context.Context) error {
	existing, err := r.store.GetEligibility(ctx, r.primary.ID)
	if err != nil {
		return err
	}
	duplicateEligibility, err := r.store.GetEligibility(ctx, r.duplicate.ID)
	if err != nil {
		return err
	}
	if existing != nil || duplicateEligibility == nil {
		return nil
	}
	if err := r.store.ReassignEligibility(ctx, r.duplicate.ID, r.primary.ID); err != nil {
		return err
	}
	r.log("Eligibility transferred.")
	return nil
}

// =============================================================================
// STEPS 4 & 5 - INDUCTION HISTORY
// =============================================================================

func (r *run) handleSchoolChange(ctx context.Context) error {
	primarySchool, err := currentSchool(ctx, r.store, r.primary.ID)
	if err != nil {
		return err
	}
	duplicateSchool, err := currentSchool(ctx, r.store, r.duplicate.ID)
	if err != nil {
		return err
	}
	if primarySchool == duplicateSchool {
		return nil
	}

	oldest, err := r.oldestPrimaryRecord(ctx)
	if err != nil {
		return err
	}
	if oldest == nil {
		return nil
	}

	oldest.SchoolTransfer = true
	if err := r.store.UpdateInductionRecord(ctx, oldest); err != nil {
		return err
	}
	r.log("Primary profile oldest induction record set as school transfer. Current school: %s.", primarySchool)

	duplicateRecords, err := r.store.InductionRecords(ctx, r.duplicate.ID)
	if err != nil {
		return err
	}
	if len(duplicateRecords) == 0 {
		return nil
	}
	latest := &duplicateRecords[len(duplicateRecords)-1]

	endDate := r.inductionEndDate(oldest, latest)
	latest.ProfileID = r.primary.ID
	latest.Status = engine.InductionLeaving
	latest.EndDate = &endDate
	if err := r.store.UpdateInductionRecord(ctx, latest); err != nil {
		return err
	}
	r.log("Duplicate profile latest induction record transferred. End date: %s.", endDate.Format(time.RFC3339))
	return nil
}

func (r *run) reconcileRemainingInductionRecords(ctx context.Context) error {
	oldest, err := r.oldestPrimaryRecord(ctx)
	if err != nil {
		return err
	}

	remaining, err := r.store.InductionRecords(ctx, r.duplicate.ID)
	if err != nil {
		return err
	}
	for i := range remaining {
		record := &remaining[i]
		endDate := r.inductionEndDate(oldest, record)
		record.ProfileID = r.primary.ID
		record.EndDate = &endDate
		if err := r.store.UpdateInductionRecord(ctx, record); err != nil {
			return err
		}
		r.log("Duplicate profile induction record transferred. End date: %s.", endDate.Format(time.RFC3339))
	}
	return nil
}

// inductionEndDate computes the transfer end date: the duplicate record's
// own end date if present; the primary's oldest start when the two starts
// coincide; otherwise one minute before the primary's oldest start, which
// guarantees no overlap.
func (r *run) inductionEndDate(oldestPrimary, duplicateRecord *engine.InductionRecord) time.Time {
	if oldestPrimary == nil {
		if duplicateRecord.EndDate != nil {
			return *duplicateRecord.EndDate
		}
		return r.dedup.Clock.Now()
	}
	if oldestPrimary.StartDate.Before(duplicateRecord.StartDate) {
		r.log("WARNING: induction record on the duplicate profile is after the oldest induction record on the primary profile. You may want to swap before continuing.")
	}
	if duplicateRecord.EndDate != nil {
		return *duplicateRecord.EndDate
	}
	if oldestPrimary.StartDate.Equal(duplicateRecord.StartDate) {
		return oldestPrimary.StartDate
	}
	return oldestPrimary.StartDate.Add(-time.Minute)
}

func (r *run) oldestPrimaryRecord(ctx context.Context) (*engine.InductionRecord, error) {
	records, err := r.store.InductionRecords(ctx, r.primary.ID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// =============================================================================
// STEP 6 - RETIREMENT
// =============================================================================

func (r *run) retireDuplicate(ctx context.Context) error {
	snapshot, err := r.serializeDuplicate(ctx)
	if err != nil {
		return err
	}
	if err := r.store.CreateDeletedDuplicate(ctx, &engine.DeletedDuplicate{
		ID:               uuid.NewString(),
		PrimaryProfileID: r.primary.ID,
		Data:             snapshot,
		CreatedAt:        r.dedup.Clock.Now(),
	}); err != nil {
		return err
	}

	// Singletons that were not transferred (primary already had its own)
	// die with the duplicate.
	if err := r.store.DeleteValidationData(ctx, r.duplicate.ID); err != nil {
		return err
	}
	if err := r.store.DeleteEligibility(ctx, r.duplicate.ID); err != nil {
		return err
	}
	if err := r.store.DeleteProfile(ctx, r.duplicate.ID); err != nil {
		return err
	}
	r.log("Destroyed duplicate profile.")
	return nil
}

// serializeDuplicate captures the duplicate and whatever children it still
// holds, for the audit record.
func (r *run) serializeDuplicate(ctx context.Context) ([]byte, error) {
	validationData, err := r.store.GetValidationData(ctx, r.duplicate.ID)
	if err != nil {
		return nil, err
	}
	eligibility, err := r.store.GetEligibility(ctx, r.duplicate.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"profile":         r.duplicate,
		"validation_data": validationData,
		"eligibility":     eligibility,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// currentSchool derives a profile's school from its latest induction record.
func currentSchool(ctx context.Context, st engine.Store, profileID engine.ProfileID) (engine.SchoolID, error) {
	records, err := st.InductionRecords(ctx, profileID)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[len(records)-1].SchoolID, nil
}

func trainingProgrammes(ctx context.Context, st engine.Store, profileID engine.ProfileID) (map[string]struct{}, error) {
	records, err := st.InductionRecords(ctx, profileID)
	if err != nil {
		return nil, err
	}
	programmes := make(map[string]struct{}, len(records))
	for _, r := range records {
		programmes[r.TrainingProgramme] = struct{}{}
	}
	return programmes, nil
}

func courseFor(category engine.ParticipantCategory) string {
	switch category {
	case engine.CategoryMentor:
		return "teacher-mentor"
	case engine.CategorySpecialist:
		return "specialist-leading-teaching"
	default:
		return "teacher-induction"
	}
}
