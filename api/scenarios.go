/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a provider, schedules,
	a contract, statements and participants, then drives real ledger
	operations so every loaded declaration has a genuine state history.

AVAILABLE SCENARIOS:

	standard-cohort:    A 2021 cohort mid-recruitment, declarations awaiting
	                    review
	payment-run:        A closed statement after the deadline and payment
	                    sweeps, ready for a breakdown
	duplicate-profiles: One person registered twice, ready for a dedup dry
	                    run

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create reference data: provider, schedules, contract, statements
 3. Create participant profiles with induction records
 4. Submit declarations through the ledger
 5. Optionally advance states and batch onto statements

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payment-run"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: The endpoints the loaded data is explored through
  - ledger/: Submit and the transition operations the loaders drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/declaration-engine/engine"
	"github.com/warp/declaration-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-cohort",
		Name:        "Standard Cohort",
		Description: "2021 cohort mid-recruitment: three participants, declarations submitted and under review",
	},
	{
		ID:          "payment-run",
		Name:        "Payment Run",
		Description: "A statement past its deadline and payment date, declarations swept through to paid",
	},
	{
		ID:          "duplicate-profiles",
		Name:        "Duplicate Profiles",
		Description: "One person registered twice with declarations on both profiles, ready for a dedup dry run",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "standard-cohort":
		err = h.loadStandardCohortScenario(ctx)
	case "payment-run":
		err = h.loadPaymentRunScenario(ctx)
	case "duplicate-profiles":
		err = h.loadDuplicateProfilesScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadCohortBase resets the store and creates the 2021 reference data every
// scenario builds on: one provider, the September schedule, the induction
// contract and the November statement.
func (h *Handler) loadCohortBase(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}

	if err := h.Store.CreateProvider(ctx, &engine.Provider{
		ID:            "prov-ambition",
		Name:          "Ambition Institute",
		VATChargeable: true,
	}); err != nil {
		return err
	}

	if err := h.Store.CreateSchedule(ctx, &engine.Schedule{
		ID:              "sched-sept-2021",
		Identifier:      "ecf-standard-september",
		IdentifierAlias: "ecf-september-standard-2021",
		Name:            "ECF Standard September",
		Cohort:          2021,
		Kind:            engine.ScheduleInduction,
		Milestones: []engine.Milestone{
			{
				ID: "sched-sept-2021-m1", ScheduleID: "sched-sept-2021", Name: "Output 1",
				DeclarationType: engine.DeclarationStarted,
				StartDate:       engine.NewDate(2021, time.September, 1),
				MilestoneDate:   engine.NewDate(2021, time.November, 30),
				PaymentDate:     engine.NewDate(2021, time.November, 30),
			},
			{
				ID: "sched-sept-2021-m2", ScheduleID: "sched-sept-2021", Name: "Output 2",
				DeclarationType: engine.DeclarationRetained1,
				StartDate:       engine.NewDate(2021, time.November, 1),
				MilestoneDate:   engine.NewDate(2022, time.January, 31),
				PaymentDate:     engine.NewDate(2022, time.February, 28),
			},
		},
	}); err != nil {
		return err
	}

	if err := h.Store.CreateContract(ctx, &engine.Contract{
		ID:                      "contract-ambition-2021",
		ProviderID:              "prov-ambition",
		Cohort:                  2021,
		CourseIdentifier:        "teacher-induction",
		Version:                 "0.0.1",
		RecruitmentTarget:       2000,
		PerParticipant:          decimal.NewFromInt(995),
		ServiceFeeInstallments:  19,
		ServiceFeePercentage:    40,
		OutputPaymentPercentage: 60,
	}); err != nil {
		return err
	}

	return h.Store.CreateStatement(ctx, &engine.Statement{
		ID:          "stmt-nov-2021",
		ProviderID:  "prov-ambition",
		Cohort:      2021,
		Name:        "November 2021",
		PeriodStart: engine.NewDate(2021, time.September, 1),
		PeriodEnd:   engine.NewDate(2021, time.November, 30),
		Deadline:    engine.NewDate(2021, time.November, 30),
		PaymentDate: engine.NewDate(2021, time.December, 25),
	})
}

func (h *Handler) createParticipant(ctx context.Context, n int, externalID string) error {
	profileID := engine.ProfileID(fmt.Sprintf("profile-%03d", n))
	if err := h.Store.CreateProfile(ctx, &engine.ParticipantProfile{
		ID:             profileID,
		ExternalID:     externalID,
		Category:       engine.CategoryInduction,
		ProviderID:     "prov-ambition",
		ScheduleID:     "sched-sept-2021",
		TrainingStatus: engine.TrainingActive,
		CreatedAt:      h.Clock.Now(),
	}); err != nil {
		return err
	}
	return h.Store.CreateInductionRecord(ctx, &engine.InductionRecord{
		ID:                fmt.Sprintf("ir-%03d", n),
		ProfileID:         profileID,
		SchoolID:          "school-greenfield",
		TrainingProgramme: "provider-led",
		Status:            engine.InductionActive,
		ScheduleID:        "sched-sept-2021",
		StartDate:         time.Date(2021, time.September, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:         h.Clock.Now(),
	})
}

func (h *Handler) submitStarted(ctx context.Context, externalID string) (*engine.Declaration, error) {
	return h.Ledger.Submit(ctx, ledger.Submission{
		ParticipantID:    externalID,
		CourseIdentifier: "teacher-induction",
		DeclarationType:  engine.DeclarationStarted,
		DeclarationDate:  time.Date(2021, time.October, 4, 10, 0, 0, 0, time.UTC),
		ProviderID:       "prov-ambition",
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadStandardCohortScenario: three participants, started declarations in
// flight, one already accepted.
func (h *Handler) loadStandardCohortScenario(ctx context.Context) error {
	if err := h.loadCohortBase(ctx); err != nil {
		return err
	}

	for n, externalID := range []string{"tp-alpha", "tp-bravo", "tp-charlie"} {
		if err := h.createParticipant(ctx, n+1, externalID); err != nil {
			return err
		}
	}

	first, err := h.submitStarted(ctx, "tp-alpha")
	if err != nil {
		return err
	}
	if _, err := h.submitStarted(ctx, "tp-bravo"); err != nil {
		return err
	}
	// tp-charlie has not declared yet.

	return h.Ledger.MakeEligible(ctx, first.ID, "scenario")
}

// loadPaymentRunScenario: the standard cohort after the November deadline
// and the December payment date, fully swept.
func (h *Handler) loadPaymentRunScenario(ctx context.Context) error {
	if err := h.loadCohortBase(ctx); err != nil {
		return err
	}

	for n, externalID := range []string{"tp-alpha", "tp-bravo", "tp-charlie"} {
		if err := h.createParticipant(ctx, n+1, externalID); err != nil {
			return err
		}
		decl, err := h.submitStarted(ctx, externalID)
		if err != nil {
			return err
		}
		if err := h.Ledger.MakeEligible(ctx, decl.ID, "scenario"); err != nil {
			return err
		}
	}

	if _, err := h.Batcher.Rebatch(ctx, "prov-ambition", 2021); err != nil {
		return err
	}

	declarations, err := h.Store.DeclarationsForStatement(ctx, "stmt-nov-2021")
	if err != nil {
		return err
	}
	for _, d := range declarations {
		if err := h.Ledger.MakePayable(ctx, d.ID, "scenario"); err != nil {
			return err
		}
		if err := h.Ledger.MakePaid(ctx, d.ID, "scenario"); err != nil {
			return err
		}
	}
	return nil
}

// loadDuplicateProfilesScenario: tp-delta registered twice, a live started
// declaration on each profile. POST /api/duplicates/dedup with
// {"primary_id": "profile-001", "duplicate_id": "profile-002",
// "dry_run": true} previews the merge.
func (h *Handler) loadDuplicateProfilesScenario(ctx context.Context) error {
	if err := h.loadCohortBase(ctx); err != nil {
		return err
	}

	if err := h.createParticipant(ctx, 1, "tp-delta"); err != nil {
		return err
	}
	if err := h.createParticipant(ctx, 2, "tp-delta-dup"); err != nil {
		return err
	}

	first, err := h.submitStarted(ctx, "tp-delta")
	if err != nil {
		return err
	}
	if err := h.Ledger.MakeEligible(ctx, first.ID, "scenario"); err != nil {
		return err
	}
	_, err = h.submitStarted(ctx, "tp-delta-dup")
	return err
}
