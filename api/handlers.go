/*
handlers.go - HTTP API handlers for the declaration ledger

PURPOSE:
  Exposes the declaration engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Declarations:
    POST   /api/participant-declarations          Submit a declaration
    GET    /api/participant-declarations/{id}     Get declaration + history
    PUT    /api/participant-declarations/{id}/void Void a declaration

  Participants:
    PUT    /api/participants/{id}/change-schedule Move onto another schedule

  Duplicates:
    POST   /api/duplicates/dedup                  Merge two profiles

  Statements:
    GET    /api/statements/{id}/payment-breakdown Calculate the breakdown

  Admin:
    POST   /api/admin/statements/sweep            Deadline + payment sweeps

PROVIDER IDENTITY:
  The calling provider is taken from the X-Provider-ID header. In
  production this comes from the API token; there is no authentication
  middleware here.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed request body
  - 404: Resource not found
  - 409: Conflict (duplicate live declaration)
  - 422: Validation failures (field list) and business-rule rejections
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/declaration-engine/dedup"
	"github.com/warp/declaration-engine/engine"
	"github.com/warp/declaration-engine/ledger"
	"github.com/warp/declaration-engine/payments"
	"github.com/warp/declaration-engine/statement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   engine.TxStore
	Ledger  *ledger.Service
	Batcher *statement.Batcher
	Dedup   *dedup.Deduplicator
	Clock   engine.Clock

	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store engine.TxStore) *Handler {
	led := ledger.NewService(store)
	return &Handler{
		Store:   store,
		Ledger:  led,
		Batcher: statement.NewBatcher(store, led),
		Dedup:   dedup.NewDeduplicator(store, led),
		Clock:   engine.SystemClock{},
	}
}

// =============================================================================
// DECLARATION HANDLERS
// =============================================================================

// SubmitDeclaration records a provider's claim.
// POST /api/participant-declarations
func (h *Handler) SubmitDeclaration(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerID(w, r)
	if !ok {
		return
	}

	var req SubmitDeclarationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var declarationDate time.Time
	if req.DeclarationDate != "" {
		var err error
		declarationDate, err = time.Parse(time.RFC3339, req.DeclarationDate)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Errors: []engine.FieldFailure{{Field: "declaration_date", Reason: engine.ReasonInvalidDeclarationDate}},
			})
			return
		}
	}

	decl, err := h.Ledger.Submit(r.Context(), ledger.Submission{
		ParticipantID:    req.ParticipantID,
		CourseIdentifier: req.CourseIdentifier,
		DeclarationType:  engine.DeclarationType(req.DeclarationType),
		DeclarationDate:  declarationDate,
		EvidenceHeld:     engine.EvidenceType(req.EvidenceHeld),
		ProviderID:       providerID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDeclarationDTO(decl, req.ParticipantID))
}

// GetDeclaration returns a declaration with its state history.
// GET /api/participant-declarations/{id}
func (h *Handler) GetDeclaration(w http.ResponseWriter, r *http.Request) {
	id := engine.DeclarationID(chi.URLParam(r, "id"))

	decl, err := h.Store.GetDeclaration(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	profile, err := h.Store.GetProfile(r.Context(), decl.ProfileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	history, err := h.Store.StateHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load state history", err)
		return
	}

	historyDTOs := make([]StateChangeDTO, len(history))
	for i, c := range history {
		historyDTOs[i] = StateChangeDTO{
			State:     string(c.State),
			Reason:    c.Reason,
			Actor:     c.Actor,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"declaration":   toDeclarationDTO(decl, profile.ExternalID),
		"state_history": historyDTOs,
	})
}

// VoidDeclaration voids a declaration. Idempotent: voiding a voided
// declaration is a no-op success.
// PUT /api/participant-declarations/{id}/void
func (h *Handler) VoidDeclaration(w http.ResponseWriter, r *http.Request) {
	id := engine.DeclarationID(chi.URLParam(r, "id"))

	var req VoidDeclarationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "voided by provider"
	}

	if err := h.Ledger.Void(r.Context(), id, reason, "api"); err != nil {
		writeDomainError(w, err)
		return
	}

	decl, err := h.Store.GetDeclaration(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	profile, err := h.Store.GetProfile(r.Context(), decl.ProfileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeclarationDTO(decl, profile.ExternalID))
}

// =============================================================================
// PARTICIPANT HANDLERS
// =============================================================================

// ChangeSchedule moves a participant onto another schedule, guarded against
// invalidating existing billable declarations.
// PUT /api/participants/{id}/change-schedule
func (h *Handler) ChangeSchedule(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerID(w, r)
	if !ok {
		return
	}
	participantID := chi.URLParam(r, "id")

	var req ChangeScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	profile, err := h.Ledger.ChangeSchedule(r.Context(), ledger.ChangeScheduleRequest{
		ParticipantID:      participantID,
		CourseIdentifier:   req.CourseIdentifier,
		ProviderID:         providerID,
		ScheduleIdentifier: req.Schedule,
		Cohort:             engine.Cohort(req.Cohort),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	schedule, err := h.Store.GetSchedule(r.Context(), profile.ScheduleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileDTO{
		ID:             string(profile.ID),
		ParticipantID:  profile.ExternalID,
		Category:       string(profile.Category),
		Schedule:       schedule.Identifier,
		Cohort:         int(schedule.Cohort),
		TrainingStatus: string(profile.TrainingStatus),
	})
}

// =============================================================================
// DEDUPLICATION HANDLERS
// =============================================================================

// DedupProfiles merges a duplicate profile into a primary.
// POST /api/duplicates/dedup
func (h *Handler) DedupProfiles(w http.ResponseWriter, r *http.Request) {
	var req DedupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	changes, err := h.Dedup.Dedup(r.Context(),
		engine.ProfileID(req.PrimaryID), engine.ProfileID(req.DuplicateID), req.DryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DedupResponse{DryRun: req.DryRun, Changes: changes})
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

// PaymentBreakdown calculates a statement's payment breakdown. Unbatched
// declarations for the statement's provider and cohort are assigned first,
// so the breakdown always reflects the full ledger.
// GET /api/statements/{id}/payment-breakdown?course=...
func (h *Handler) PaymentBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.StatementID(chi.URLParam(r, "id"))

	stmt, err := h.Store.GetStatement(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if _, err := h.Batcher.Rebatch(ctx, stmt.ProviderID, stmt.Cohort); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to batch declarations", err)
		return
	}

	declarations, err := h.Store.DeclarationsForStatement(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load declarations", err)
		return
	}

	course := r.URL.Query().Get("course")
	if course == "" {
		course, err = soleCourse(declarations)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
			return
		}
	}

	contract, err := h.Store.FindContract(ctx, stmt.ProviderID, stmt.Cohort, course)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	provider, err := h.Store.GetProvider(ctx, stmt.ProviderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	breakdown := payments.Calculate(payments.Input{
		Statement:    *stmt,
		Contract:     *contract,
		Provider:     *provider,
		Phase:        stmt.Phase(h.Clock.Now()),
		Declarations: declarations,
	})
	writeJSON(w, http.StatusOK, breakdown)
}

// soleCourse resolves the course when the caller did not name one, which
// only works if the statement's declarations all share a course.
func soleCourse(declarations []engine.Declaration) (string, error) {
	course := ""
	for _, d := range declarations {
		switch {
		case course == "":
			course = d.CourseIdentifier
		case course != d.CourseIdentifier:
			return "", errors.New("statement spans multiple courses; pass ?course=")
		}
	}
	if course == "" {
		return "", errors.New("statement has no declarations; pass ?course=")
	}
	return course, nil
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SweepStatements runs the deadline and payment sweeps. Normally driven by
// a scheduled job; exposed for operators and tests.
// POST /api/admin/statements/sweep
func (h *Handler) SweepStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payable, err := h.Batcher.SweepDeadlines(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Deadline sweep failed", err)
		return
	}
	paid, err := h.Batcher.SweepPayments(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Payment sweep failed", err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{Payable: payable, Paid: paid})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) providerID(w http.ResponseWriter, r *http.Request) (engine.ProviderID, bool) {
	id := r.Header.Get("X-Provider-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing X-Provider-ID header", nil)
		return "", false
	}
	return engine.ProviderID(id), true
}

func toDeclarationDTO(d *engine.Declaration, participantID string) DeclarationDTO {
	return DeclarationDTO{
		ID:               string(d.ID),
		ParticipantID:    participantID,
		CourseIdentifier: d.CourseIdentifier,
		DeclarationType:  string(d.Type),
		DeclarationDate:  d.Date.Format(time.RFC3339),
		EvidenceHeld:     string(d.EvidenceHeld),
		State:            string(d.State),
		Clawback:         d.Clawback,
		StatementID:      string(d.StatementID),
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses: field validation
// and rule rejections are 422, missing records 404, duplicate live
// declarations 409.
func writeDomainError(w http.ResponseWriter, err error) {
	var validation *engine.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Errors: validation.Failures})
		return
	}

	var rule *engine.RuleError
	if errors.As(err, &rule) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: rule.Reason, Details: rule.Message})
		return
	}

	var dedupErr *engine.DeduplicationError
	if errors.As(err, &dedupErr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: dedupErr.Message})
		return
	}

	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, engine.ErrAlreadyPaid), errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "Invalid state", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
