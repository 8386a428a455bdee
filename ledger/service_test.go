package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/declaration-engine/engine"
	"github.com/warp/declaration-engine/ledger"
	"github.com/warp/declaration-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// The fixed test clock sits mid-way through the 2021 started milestone.
var testNow = time.Date(2021, time.October, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*ledger.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := ledger.NewService(store)
	svc.Clock = engine.FixedClock{At: testNow}
	return svc, store
}

// seedParticipant creates a provider, the September 2021 induction schedule
// and an active profile submitting providers can declare against.
func seedParticipant(t *testing.T, store *sqlite.Store) *engine.ParticipantProfile {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateProvider(ctx, &engine.Provider{
		ID: "prov-1", Name: "Teach First", VATChargeable: true,
	}))
	require.NoError(t, store.CreateSchedule(ctx, septemberSchedule("sched-sept", 2021)))

	profile := &engine.ParticipantProfile{
		ID:             "profile-1",
		ExternalID:     "tp-1",
		Category:       engine.CategoryInduction,
		ProviderID:     "prov-1",
		ScheduleID:     "sched-sept",
		TrainingStatus: engine.TrainingActive,
		CreatedAt:      testNow,
	}
	require.NoError(t, store.CreateProfile(ctx, profile))
	return profile
}

func septemberSchedule(id engine.ScheduleID, cohort engine.Cohort) *engine.Schedule {
	return &engine.Schedule{
		ID:              id,
		Identifier:      "ecf-standard-september",
		IdentifierAlias: "ecf-september-standard-2021",
		Name:            "ECF Standard September",
		Cohort:          cohort,
		Kind:            engine.ScheduleInduction,
		Milestones: []engine.Milestone{
			{
				ID: string(id) + "-m1", ScheduleID: id, Name: "Output 1",
				DeclarationType: engine.DeclarationStarted,
				StartDate:       engine.NewDate(2021, time.September, 1),
				MilestoneDate:   engine.NewDate(2021, time.November, 30),
				PaymentDate:     engine.NewDate(2021, time.November, 30),
			},
			{
				ID: string(id) + "-m2", ScheduleID: id, Name: "Output 2",
				DeclarationType: engine.DeclarationRetained1,
				StartDate:       engine.NewDate(2021, time.November, 1),
				MilestoneDate:   engine.NewDate(2022, time.January, 31),
				PaymentDate:     engine.NewDate(2022, time.February, 28),
			},
		},
	}
}

func startedSubmission() ledger.Submission {
	return ledger.Submission{
		ParticipantID:    "tp-1",
		CourseIdentifier: "teacher-induction",
		DeclarationType:  engine.DeclarationStarted,
		DeclarationDate:  time.Date(2021, time.September, 10, 9, 30, 0, 0, time.UTC),
		ProviderID:       "prov-1",
	}
}

func failureReasons(t *testing.T, err error) map[string]string {
	t.Helper()
	var v *engine.ValidationError
	require.ErrorAs(t, err, &v)
	reasons := make(map[string]string, len(v.Failures))
	for _, f := range v.Failures {
		reasons[f.Field] = f.Reason
	}
	return reasons
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestSubmit_RecordsDeclaration(t *testing.T) {
	// GIVEN: An active participant on the September schedule
	// WHEN: The provider declares "started" inside the milestone window
	// THEN: The declaration lands in "submitted" with one history entry

	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	assert.Equal(t, engine.StateSubmitted, decl.State)
	assert.Equal(t, engine.DeclarationStarted, decl.Type)
	assert.Equal(t, engine.GroupingKeyFor("tp-1", "teacher-induction", engine.DeclarationStarted), decl.GroupingKey)
	assert.Empty(t, decl.StatementID, "batching happens later, not at submission")

	history, err := store.StateHistory(ctx, decl.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, engine.StateSubmitted, history[0].State)
}

func TestSubmit_StaticValidationFailures(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	t.Run("missing participant id", func(t *testing.T) {
		sub := startedSubmission()
		sub.ParticipantID = ""
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonMissingParticipantID, failureReasons(t, err)["participant_id"])
	})

	t.Run("unknown course", func(t *testing.T) {
		sub := startedSubmission()
		sub.CourseIdentifier = "underwater-basket-weaving"
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonInvalidCourse, failureReasons(t, err)["course_identifier"])
	})

	t.Run("type not permitted for course", func(t *testing.T) {
		sub := startedSubmission()
		sub.CourseIdentifier = "teacher-mentor"
		sub.DeclarationType = engine.DeclarationRetained4
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonInvalidDeclarationType, failureReasons(t, err)["declaration_type"])
	})

	t.Run("missing evidence for retained milestone", func(t *testing.T) {
		sub := startedSubmission()
		sub.DeclarationType = engine.DeclarationRetained1
		sub.DeclarationDate = time.Date(2021, time.November, 10, 9, 0, 0, 0, time.UTC)
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonMissingEvidenceHeld, failureReasons(t, err)["evidence_held"])
	})

	t.Run("evidence outside allow-list", func(t *testing.T) {
		sub := startedSubmission()
		sub.DeclarationType = engine.DeclarationRetained1
		sub.DeclarationDate = time.Date(2021, time.November, 10, 9, 0, 0, 0, time.UTC)
		sub.EvidenceHeld = engine.EvidenceType("a-note-from-my-mum")
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonInvalidEvidenceType, failureReasons(t, err)["evidence_held"])
	})

	t.Run("zero date", func(t *testing.T) {
		sub := startedSubmission()
		sub.DeclarationDate = time.Time{}
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonInvalidDeclarationDate, failureReasons(t, err)["declaration_date"])
	})

	t.Run("future date", func(t *testing.T) {
		sub := startedSubmission()
		sub.DeclarationDate = testNow.Add(24 * time.Hour)
		_, err := svc.Submit(ctx, sub)
		assert.Equal(t, engine.ReasonFutureDeclarationDate, failureReasons(t, err)["declaration_date"])
	})
}

func TestSubmit_UnknownParticipant(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	sub := startedSubmission()
	sub.ParticipantID = "tp-unknown"
	_, err := svc.Submit(ctx, sub)
	assert.Equal(t, engine.ReasonInvalidParticipant, failureReasons(t, err)["participant_id"])
}

func TestSubmit_OtherProvidersParticipant(t *testing.T) {
	// GIVEN: A participant trained by prov-1
	// WHEN: prov-2 declares against them
	// THEN: The failure is indistinguishable from an unknown participant

	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()
	require.NoError(t, store.CreateProvider(ctx, &engine.Provider{ID: "prov-2", Name: "Other"}))

	sub := startedSubmission()
	sub.ProviderID = "prov-2"
	_, err := svc.Submit(ctx, sub)
	assert.Equal(t, engine.ReasonInvalidParticipant, failureReasons(t, err)["participant_id"])
}

func TestSubmit_DateOutsideMilestoneWindow(t *testing.T) {
	// GIVEN: The started milestone runs 2021-09-01 .. 2021-11-30
	// WHEN: The declaration date is the day before the window opens
	// THEN: invalid_declaration_date, nothing persisted

	svc, store := newTestService(t)
	profile := seedParticipant(t, store)
	ctx := context.Background()

	sub := startedSubmission()
	sub.DeclarationDate = time.Date(2021, time.August, 31, 16, 0, 0, 0, time.UTC)
	_, err := svc.Submit(ctx, sub)
	assert.Equal(t, engine.ReasonInvalidDeclarationDate, failureReasons(t, err)["declaration_date"])

	decls, err := store.DeclarationsForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Empty(t, decls)
}

func TestSubmit_MilestoneWindowBoundaryDays(t *testing.T) {
	// Any time-of-day on the cutoff day is still inside the window.
	svc, store := newTestService(t)
	seedParticipant(t, store)
	svc.Clock = engine.FixedClock{At: time.Date(2021, time.December, 1, 0, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	sub := startedSubmission()
	sub.DeclarationDate = time.Date(2021, time.November, 30, 23, 15, 0, 0, time.UTC)
	_, err := svc.Submit(ctx, sub)
	assert.NoError(t, err)
}

// =============================================================================
// DUPLICATE REJECTION
// =============================================================================

func TestSubmit_DuplicateRejected(t *testing.T) {
	// GIVEN: A live "started" declaration for the participant
	// WHEN: The same provider declares "started" again
	// THEN: The second submission fails and the ledger is unchanged

	svc, store := newTestService(t)
	profile := seedParticipant(t, store)
	ctx := context.Background()

	_, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	_, err = svc.Submit(ctx, startedSubmission())
	assert.ErrorIs(t, err, engine.ErrDuplicateDeclaration)

	decls, err := store.DeclarationsForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Len(t, decls, 1)
}

func TestSubmit_DifferentTypeNotADuplicate(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	svc.Clock = engine.FixedClock{At: time.Date(2021, time.November, 10, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	_, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	retained := startedSubmission()
	retained.DeclarationType = engine.DeclarationRetained1
	retained.DeclarationDate = time.Date(2021, time.November, 5, 9, 0, 0, 0, time.UTC)
	retained.EvidenceHeld = engine.EvidenceTrainingEventAttended
	_, err = svc.Submit(ctx, retained)
	assert.NoError(t, err)
}

func TestSubmit_AfterVoidSucceeds(t *testing.T) {
	// GIVEN: A voided "started" declaration
	// WHEN: The provider resubmits the same milestone
	// THEN: The new declaration is accepted; both rows share a grouping key

	svc, store := newTestService(t)
	profile := seedParticipant(t, store)
	ctx := context.Background()

	first, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)
	require.NoError(t, svc.Void(ctx, first.ID, "provider error", "test"))

	second, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)
	assert.Equal(t, first.GroupingKey, second.GroupingKey)

	decls, err := store.DeclarationsForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Len(t, decls, 2, "the voided row stays behind for audit")
}
