/*
handlers_test.go - HTTP round-trip tests for the declaration API

Tests drive the real router over httptest with an in-memory store, so the
full chain (routing, provider identity, JSON codecs, domain error mapping)
is exercised exactly as a provider client would.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/declaration-engine/api"
	"github.com/warp/declaration-engine/engine"
	"github.com/warp/declaration-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2021, time.October, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*api.Handler, *httptest.Server, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)

	h := api.NewHandler(store)
	clock := engine.FixedClock{At: testNow}
	h.Clock = clock
	h.Ledger.Clock = clock
	h.Batcher.Clock = clock
	h.Dedup.Clock = clock

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return h, srv, store
}

func seedParticipant(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateProvider(ctx, &engine.Provider{
		ID: "prov-1", Name: "Teach First", VATChargeable: true,
	}))
	require.NoError(t, store.CreateSchedule(ctx, &engine.Schedule{
		ID:         "sched-sept",
		Identifier: "ecf-standard-september",
		Name:       "ECF Standard September",
		Cohort:     2021,
		Kind:       engine.ScheduleInduction,
		Milestones: []engine.Milestone{{
			ID: "sched-sept-m1", ScheduleID: "sched-sept", Name: "Output 1",
			DeclarationType: engine.DeclarationStarted,
			StartDate:       engine.NewDate(2021, time.September, 1),
			MilestoneDate:   engine.NewDate(2021, time.November, 30),
			PaymentDate:     engine.NewDate(2021, time.November, 30),
		}},
	}))
	require.NoError(t, store.CreateProfile(ctx, &engine.ParticipantProfile{
		ID:             "profile-1",
		ExternalID:     "tp-1",
		Category:       engine.CategoryInduction,
		ProviderID:     "prov-1",
		ScheduleID:     "sched-sept",
		TrainingStatus: engine.TrainingActive,
		CreatedAt:      testNow,
	}))
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, providerID string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if providerID != "" {
		req.Header.Set("X-Provider-ID", providerID)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func submitBody() api.SubmitDeclarationRequest {
	return api.SubmitDeclarationRequest{
		ParticipantID:    "tp-1",
		CourseIdentifier: "teacher-induction",
		DeclarationType:  "started",
		DeclarationDate:  "2021-09-10T09:30:00Z",
	}
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestAPI_SubmitDeclaration(t *testing.T) {
	// GIVEN: A seeded participant
	// WHEN: The provider POSTs a valid declaration
	// THEN: 201 with the submitted declaration

	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var decl api.DeclarationDTO
	require.NoError(t, json.Unmarshal(body, &decl))
	assert.NotEmpty(t, decl.ID)
	assert.Equal(t, "tp-1", decl.ParticipantID)
	assert.Equal(t, "started", decl.DeclarationType)
	assert.Equal(t, "submitted", decl.State)
	assert.Empty(t, decl.StatementID)
}

func TestAPI_SubmitWithoutProviderHeader(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SubmitValidationFailure(t *testing.T) {
	// An unknown course comes back as a 422 with a field-level failure list.

	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	body := submitBody()
	body.CourseIdentifier = "underwater-basket-weaving"
	resp, raw := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", body, "prov-1")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &errResp))
	require.Len(t, errResp.Errors, 1)
	assert.Equal(t, "course_identifier", errResp.Errors[0].Field)
}

func TestAPI_SubmitMalformedDate(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	body := submitBody()
	body.DeclarationDate = "September 10th"
	resp, raw := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", body, "prov-1")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &errResp))
	require.Len(t, errResp.Errors, 1)
	assert.Equal(t, "declaration_date", errResp.Errors[0].Field)
}

func TestAPI_DuplicateSubmissionConflicts(t *testing.T) {
	// GIVEN: A live declaration
	// WHEN: The provider submits the same type again
	// THEN: 409, and the ledger still holds a single declaration

	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	declarations, err := store.DeclarationsForProfile(context.Background(), "profile-1")
	require.NoError(t, err)
	assert.Len(t, declarations, 1)
}

// =============================================================================
// READ & VOID TESTS
// =============================================================================

func TestAPI_GetDeclarationWithHistory(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	_, raw := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	var created api.DeclarationDTO
	require.NoError(t, json.Unmarshal(raw, &created))

	resp, raw := doJSON(t, srv, http.MethodGet, "/api/participant-declarations/"+created.ID, nil, "prov-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Declaration  api.DeclarationDTO   `json:"declaration"`
		StateHistory []api.StateChangeDTO `json:"state_history"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, created.ID, out.Declaration.ID)
	require.Len(t, out.StateHistory, 1)
	assert.Equal(t, "submitted", out.StateHistory[0].State)
}

func TestAPI_GetUnknownDeclaration(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	resp, _ := doJSON(t, srv, http.MethodGet, "/api/participant-declarations/no-such-id", nil, "prov-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_VoidIsIdempotent(t *testing.T) {
	// Voiding twice is two 200s; the second is a no-op.

	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	_, raw := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	var created api.DeclarationDTO
	require.NoError(t, json.Unmarshal(raw, &created))

	resp, raw := doJSON(t, srv, http.MethodPut, "/api/participant-declarations/"+created.ID+"/void",
		api.VoidDeclarationRequest{Reason: "entered in error"}, "prov-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var voided api.DeclarationDTO
	require.NoError(t, json.Unmarshal(raw, &voided))
	assert.Equal(t, "voided", voided.State)

	resp, raw = doJSON(t, srv, http.MethodPut, "/api/participant-declarations/"+created.ID+"/void", nil, "prov-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	history, err := store.StateHistory(context.Background(), engine.DeclarationID(created.ID))
	require.NoError(t, err)
	assert.Len(t, history, 2, "the repeat void appends nothing")
}

// =============================================================================
// SCHEDULE CHANGE TESTS
// =============================================================================

func TestAPI_ChangeSchedule(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	require.NoError(t, store.CreateSchedule(context.Background(), &engine.Schedule{
		ID:         "sched-jan",
		Identifier: "ecf-standard-january",
		Name:       "ECF Standard January",
		Cohort:     2021,
		Kind:       engine.ScheduleInduction,
		Milestones: []engine.Milestone{{
			ID: "sched-jan-m1", ScheduleID: "sched-jan", Name: "Output 1",
			DeclarationType: engine.DeclarationStarted,
			StartDate:       engine.NewDate(2022, time.January, 1),
			MilestoneDate:   engine.NewDate(2022, time.March, 31),
			PaymentDate:     engine.NewDate(2022, time.April, 30),
		}},
	}))

	resp, raw := doJSON(t, srv, http.MethodPut, "/api/participants/tp-1/change-schedule",
		api.ChangeScheduleRequest{
			CourseIdentifier: "teacher-induction",
			Schedule:         "ecf-standard-january",
			Cohort:           2021,
		}, "prov-1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var profile api.ProfileDTO
	require.NoError(t, json.Unmarshal(raw, &profile))
	assert.Equal(t, "ecf-standard-january", profile.Schedule)
	assert.Equal(t, 2021, profile.Cohort)
}

func TestAPI_ChangeScheduleGuarded(t *testing.T) {
	// A live September declaration blocks a move onto the January schedule.

	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	require.NoError(t, store.CreateSchedule(context.Background(), &engine.Schedule{
		ID:         "sched-jan",
		Identifier: "ecf-standard-january",
		Name:       "ECF Standard January",
		Cohort:     2021,
		Kind:       engine.ScheduleInduction,
		Milestones: []engine.Milestone{{
			ID: "sched-jan-m1", ScheduleID: "sched-jan", Name: "Output 1",
			DeclarationType: engine.DeclarationStarted,
			StartDate:       engine.NewDate(2022, time.January, 1),
			MilestoneDate:   engine.NewDate(2022, time.March, 31),
			PaymentDate:     engine.NewDate(2022, time.April, 30),
		}},
	}))

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := doJSON(t, srv, http.MethodPut, "/api/participants/tp-1/change-schedule",
		api.ChangeScheduleRequest{
			CourseIdentifier: "teacher-induction",
			Schedule:         "ecf-standard-january",
			Cohort:           2021,
		}, "prov-1")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &errResp))
	require.Len(t, errResp.Errors, 1)
	assert.Equal(t, "schedule_identifier", errResp.Errors[0].Field)
}

// =============================================================================
// DEDUPLICATION TESTS
// =============================================================================

func TestAPI_DedupDryRun(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)
	ctx := context.Background()

	require.NoError(t, store.CreateProfile(ctx, &engine.ParticipantProfile{
		ID:             "profile-2",
		ExternalID:     "tp-2",
		Category:       engine.CategoryInduction,
		ProviderID:     "prov-1",
		ScheduleID:     "sched-sept",
		TrainingStatus: engine.TrainingActive,
		CreatedAt:      testNow,
	}))

	resp, raw := doJSON(t, srv, http.MethodPost, "/api/duplicates/dedup",
		api.DedupRequest{PrimaryID: "profile-1", DuplicateID: "profile-2", DryRun: true}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out api.DedupResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.DryRun)
	require.NotEmpty(t, out.Changes)
	assert.Equal(t, "~~~ DRY RUN ~~~", out.Changes[0])

	_, err := store.GetProfile(ctx, "profile-2")
	require.NoError(t, err, "a dry run never destroys the duplicate")
}

func TestAPI_DedupUnknownProfile(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/duplicates/dedup",
		api.DedupRequest{PrimaryID: "profile-1", DuplicateID: "no-such-profile"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// STATEMENT TESTS
// =============================================================================

func seedStatementAndContract(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateStatement(ctx, &engine.Statement{
		ID:          "stmt-nov",
		ProviderID:  "prov-1",
		Cohort:      2021,
		Name:        "November 2021",
		PeriodStart: engine.NewDate(2021, time.September, 1),
		PeriodEnd:   engine.NewDate(2021, time.November, 30),
		Deadline:    engine.NewDate(2021, time.November, 30),
		PaymentDate: engine.NewDate(2021, time.December, 25),
	}))
	require.NoError(t, store.CreateContract(ctx, &engine.Contract{
		ID:                      "contract-1",
		ProviderID:              "prov-1",
		Cohort:                  2021,
		CourseIdentifier:        "teacher-induction",
		Version:                 "0.0.1",
		RecruitmentTarget:       2000,
		PerParticipant:          decimal.NewFromInt(995),
		ServiceFeeInstallments:  19,
		ServiceFeePercentage:    40,
		OutputPaymentPercentage: 60,
	}))
}

func TestAPI_PaymentBreakdown(t *testing.T) {
	// GIVEN: A submitted declaration not yet on any statement
	// WHEN: The breakdown is requested
	// THEN: The declaration is batched onto the statement first and counted

	_, srv, store := newTestServer(t)
	seedParticipant(t, store)
	seedStatementAndContract(t, store)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := doJSON(t, srv, http.MethodGet, "/api/statements/stmt-nov/payment-breakdown", nil, "prov-1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out struct {
		Summary struct {
			Name           string `json:"name"`
			Participants   int    `json:"participants"`
			StatementPhase string `json:"statement_phase"`
		} `json:"breakdown_summary"`
		OutputPayments []struct {
			DeclarationType string `json:"declaration_type"`
			Participants    int    `json:"participants"`
		} `json:"output_payments"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "Teach First", out.Summary.Name)
	assert.Equal(t, 1, out.Summary.Participants)
	assert.Equal(t, "open", out.Summary.StatementPhase)
	require.NotEmpty(t, out.OutputPayments)
	assert.Equal(t, "started", out.OutputPayments[0].DeclarationType)
	assert.Equal(t, 1, out.OutputPayments[0].Participants)
}

func TestAPI_PaymentBreakdownUnknownStatement(t *testing.T) {
	_, srv, store := newTestServer(t)
	seedParticipant(t, store)

	resp, _ := doJSON(t, srv, http.MethodGet, "/api/statements/no-such-stmt/payment-breakdown", nil, "prov-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_SweepStatements(t *testing.T) {
	// GIVEN: An eligible, batched declaration and a clock past the deadline
	// WHEN: The sweep endpoint runs
	// THEN: The declaration advances to payable

	h, srv, store := newTestServer(t)
	seedParticipant(t, store)
	seedStatementAndContract(t, store)
	ctx := context.Background()

	_, raw := doJSON(t, srv, http.MethodPost, "/api/participant-declarations", submitBody(), "prov-1")
	var created api.DeclarationDTO
	require.NoError(t, json.Unmarshal(raw, &created))
	require.NoError(t, h.Ledger.MakeEligible(ctx, engine.DeclarationID(created.ID), "test"))
	_, err := h.Batcher.Rebatch(ctx, "prov-1", 2021)
	require.NoError(t, err)

	h.Batcher.Clock = engine.FixedClock{At: time.Date(2021, time.December, 1, 9, 0, 0, 0, time.UTC)}

	resp, raw := doJSON(t, srv, http.MethodPost, "/api/admin/statements/sweep", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out api.SweepResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out.Payable)
	assert.Equal(t, 0, out.Paid, "the payment date is still weeks away")

	decl, err := store.GetDeclaration(ctx, engine.DeclarationID(created.ID))
	require.NoError(t, err)
	assert.Equal(t, engine.StatePayable, decl.State)
}
