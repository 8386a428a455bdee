/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in the ledger service, not in DTOs. DTOs are pure data
  carriers; field-level failures come back as ErrorResponse.Errors.

SEE ALSO:
  - handlers.go: Uses these types
  - payments/calculator.go: Breakdown, returned as-is
*/
package api

import "github.com/warp/declaration-engine/engine"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitDeclarationRequest is a provider's declaration claim.
type SubmitDeclarationRequest struct {
	ParticipantID    string `json:"participant_id"`
	CourseIdentifier string `json:"course_identifier"`
	DeclarationType  string `json:"declaration_type"`
	DeclarationDate  string `json:"declaration_date"` // RFC 3339
	EvidenceHeld     string `json:"evidence_held,omitempty"`
}

// ChangeScheduleRequest moves a participant onto another schedule.
type ChangeScheduleRequest struct {
	CourseIdentifier string `json:"course_identifier"`
	Schedule         string `json:"schedule_identifier"`
	Cohort           int    `json:"cohort"`
}

// VoidDeclarationRequest carries the optional audit reason.
type VoidDeclarationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// DedupRequest merges a duplicate profile into a primary one.
type DedupRequest struct {
	PrimaryID   string `json:"primary_id"`
	DuplicateID string `json:"duplicate_id"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DeclarationDTO represents a declaration in API responses.
type DeclarationDTO struct {
	ID               string `json:"id"`
	ParticipantID    string `json:"participant_id"`
	CourseIdentifier string `json:"course_identifier"`
	DeclarationType  string `json:"declaration_type"`
	DeclarationDate  string `json:"declaration_date"`
	EvidenceHeld     string `json:"evidence_held,omitempty"`
	State            string `json:"state"`
	Clawback         bool   `json:"clawback,omitempty"`
	StatementID      string `json:"statement_id,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// StateChangeDTO is one entry of a declaration's state history.
type StateChangeDTO struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ProfileDTO represents a participant profile in API responses.
type ProfileDTO struct {
	ID             string `json:"id"`
	ParticipantID  string `json:"participant_id"`
	Category       string `json:"category"`
	Schedule       string `json:"schedule_identifier"`
	Cohort         int    `json:"cohort"`
	TrainingStatus string `json:"training_status"`
}

// DedupResponse is the ordered change log of a profile merge.
type DedupResponse struct {
	DryRun  bool     `json:"dry_run"`
	Changes []string `json:"changes"`
}

// SweepResponse reports how many declarations each sweep moved.
type SweepResponse struct {
	Payable int `json:"payable"`
	Paid    int `json:"paid"`
}

// ErrorResponse is the JSON error envelope. Errors carries field-level
// validation failures; Error everything else.
type ErrorResponse struct {
	Error   string                `json:"error,omitempty"`
	Errors  []engine.FieldFailure `json:"errors,omitempty"`
	Details string                `json:"details,omitempty"`
}
