/*
scenarios_test.go - Tests for demo scenario loaders

Each scenario must load a coherent world: reference data in place,
declarations with genuine state histories, and the API endpoints working
against the loaded data. These double as end-to-end lifecycle tests.
*/
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/declaration-engine/api"
	"github.com/warp/declaration-engine/engine"
)

func loadScenario(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp, raw := doJSON(t, srv, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": id}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
}

func TestScenario_ListAndCurrent(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp, raw := doJSON(t, srv, http.MethodGet, "/api/scenarios/", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []api.ScenarioDTO
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list, 3)

	// Nothing loaded yet
	resp, raw = doJSON(t, srv, http.MethodGet, "/api/scenarios/current", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(bytesTrimmed(raw)))

	loadScenario(t, srv, "standard-cohort")

	resp, raw = doJSON(t, srv, http.MethodGet, "/api/scenarios/current", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current api.ScenarioDTO
	require.NoError(t, json.Unmarshal(raw, &current))
	assert.Equal(t, "standard-cohort", current.ID)
}

func TestScenario_LoadUnknown(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "no-such-scenario"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScenario_StandardCohort(t *testing.T) {
	// GIVEN: The standard-cohort scenario
	// THEN: Three participants exist; alpha's declaration is eligible,
	//       bravo's submitted, charlie has not declared

	_, srv, store := newTestServer(t)
	loadScenario(t, srv, "standard-cohort")
	ctx := context.Background()

	for _, externalID := range []string{"tp-alpha", "tp-bravo", "tp-charlie"} {
		profile, err := store.FindProfile(ctx, externalID, engine.CategoryInduction)
		require.NoError(t, err, externalID)
		require.NotNil(t, profile)
	}

	alpha, err := store.FindProfile(ctx, "tp-alpha", engine.CategoryInduction)
	require.NoError(t, err)
	alphaDecls, err := store.DeclarationsForProfile(ctx, alpha.ID)
	require.NoError(t, err)
	require.Len(t, alphaDecls, 1)
	assert.Equal(t, engine.StateEligible, alphaDecls[0].State)

	history, err := store.StateHistory(ctx, alphaDecls[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 2, "submitted then eligible")

	charlie, err := store.FindProfile(ctx, "tp-charlie", engine.CategoryInduction)
	require.NoError(t, err)
	charlieDecls, err := store.DeclarationsForProfile(ctx, charlie.ID)
	require.NoError(t, err)
	assert.Empty(t, charlieDecls)
}

func TestScenario_PaymentRun(t *testing.T) {
	// GIVEN: The payment-run scenario
	// THEN: All three declarations sit paid on the November statement with
	//       full four-step histories, and the breakdown endpoint prices them

	_, srv, store := newTestServer(t)
	loadScenario(t, srv, "payment-run")
	ctx := context.Background()

	declarations, err := store.DeclarationsForStatement(ctx, "stmt-nov-2021")
	require.NoError(t, err)
	require.Len(t, declarations, 3)
	for _, d := range declarations {
		assert.Equal(t, engine.StatePaid, d.State)
		history, err := store.StateHistory(ctx, d.ID)
		require.NoError(t, err)
		assert.Len(t, history, 4, "submitted, eligible, payable, paid")
	}

	resp, raw := doJSON(t, srv, http.MethodGet, "/api/statements/stmt-nov-2021/payment-breakdown", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out struct {
		Summary struct {
			Participants int `json:"participants"`
		} `json:"breakdown_summary"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 3, out.Summary.Participants)
}

func TestScenario_DuplicateProfiles(t *testing.T) {
	// GIVEN: The duplicate-profiles scenario
	// WHEN: A dedup dry run is requested over the API
	// THEN: The preview shows the declaration conflict without touching data

	_, srv, store := newTestServer(t)
	loadScenario(t, srv, "duplicate-profiles")
	ctx := context.Background()

	resp, raw := doJSON(t, srv, http.MethodPost, "/api/duplicates/dedup",
		api.DedupRequest{PrimaryID: "profile-001", DuplicateID: "profile-002", DryRun: true}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out api.DedupResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.DryRun)
	assert.Contains(t, out.Changes, "Destroyed duplicate profile.")

	_, err := store.GetProfile(ctx, "profile-002")
	require.NoError(t, err, "the dry run must leave the duplicate in place")
}

func TestScenario_ReloadResets(t *testing.T) {
	// Loading a second scenario clears the first one's data.

	_, srv, store := newTestServer(t)
	loadScenario(t, srv, "payment-run")
	loadScenario(t, srv, "standard-cohort")
	ctx := context.Background()

	declarations, err := store.DeclarationsForStatement(ctx, "stmt-nov-2021")
	require.NoError(t, err)
	assert.Empty(t, declarations, "the payment run's batched declarations are gone")
}

func bytesTrimmed(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
