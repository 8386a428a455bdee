package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/declaration-engine/engine"
)

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestTransitions_FullBillableLifecycle(t *testing.T) {
	// GIVEN: A submitted declaration
	// WHEN: It clears eligibility, the deadline passes, the payment date passes
	// THEN: Each step lands and the history reads submitted -> eligible ->
	//       payable -> paid

	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	require.NoError(t, svc.MakeEligible(ctx, decl.ID, "checker"))
	require.NoError(t, svc.MakePayable(ctx, decl.ID, "batcher"))
	require.NoError(t, svc.MakePaid(ctx, decl.ID, "batcher"))

	got, err := store.GetDeclaration(ctx, decl.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePaid, got.State)

	history, err := store.StateHistory(ctx, decl.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	states := []engine.DeclarationState{}
	for _, c := range history {
		states = append(states, c.State)
	}
	assert.Equal(t, []engine.DeclarationState{
		engine.StateSubmitted, engine.StateEligible, engine.StatePayable, engine.StatePaid,
	}, states)
	assert.Equal(t, got.State, history[len(history)-1].State,
		"current state is always the last history entry")
}

func TestTransitions_SkippingStatesRejected(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	// submitted -> payable skips eligibility
	err = svc.MakePayable(ctx, decl.ID, "batcher")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	// Nothing was recorded for the failed attempt
	history, err := store.StateHistory(ctx, decl.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransitions_IneligibleIsTerminalExceptVoid(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)
	require.NoError(t, svc.MakeIneligible(ctx, decl.ID, "TRN not validated", "checker"))

	err = svc.MakeEligible(ctx, decl.ID, "checker")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)

	assert.NoError(t, svc.Void(ctx, decl.ID, "cleanup", "admin"))
}

// =============================================================================
// VOID TESTS
// =============================================================================

func TestVoid_Idempotent(t *testing.T) {
	// GIVEN: A voided declaration
	// WHEN: It is voided again
	// THEN: No error and no extra history entry

	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	require.NoError(t, svc.Void(ctx, decl.ID, "provider error", "api"))
	require.NoError(t, svc.Void(ctx, decl.ID, "provider error", "api"))

	history, err := store.StateHistory(ctx, decl.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2) // submitted + voided
}

func TestVoid_PaidDeclarationRejected(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)
	require.NoError(t, svc.MakeEligible(ctx, decl.ID, "checker"))
	require.NoError(t, svc.MakePayable(ctx, decl.ID, "batcher"))
	require.NoError(t, svc.MakePaid(ctx, decl.ID, "batcher"))

	err = svc.Void(ctx, decl.ID, "too late", "api")
	assert.ErrorIs(t, err, engine.ErrAlreadyPaid)
}

// =============================================================================
// CLAWBACK TESTS
// =============================================================================

func TestClawback_PaidDeclaration(t *testing.T) {
	// GIVEN: A paid declaration
	// WHEN: It is clawed back
	// THEN: The state stays paid, the flag is set, history records the reason

	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)
	require.NoError(t, svc.MakeEligible(ctx, decl.ID, "checker"))
	require.NoError(t, svc.MakePayable(ctx, decl.ID, "batcher"))
	require.NoError(t, svc.MakePaid(ctx, decl.ID, "batcher"))

	require.NoError(t, svc.Clawback(ctx, decl.ID, "participant withdrew", "admin"))

	got, err := store.GetDeclaration(ctx, decl.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePaid, got.State, "the money moved; the state stands")
	assert.True(t, got.Clawback)

	history, err := store.StateHistory(ctx, decl.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, "clawback: participant withdrew", last.Reason)
}

func TestClawback_UnpaidDeclarationRejected(t *testing.T) {
	svc, store := newTestService(t)
	seedParticipant(t, store)
	ctx := context.Background()

	decl, err := svc.Submit(ctx, startedSubmission())
	require.NoError(t, err)

	err = svc.Clawback(ctx, decl.ID, "nothing to recover", "admin")
	assert.ErrorIs(t, err, engine.ErrNotPaid)
}
