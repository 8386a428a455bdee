/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place. Four categories, so callers can distinguish
  "bad request" from "bad reference" from "rule violation":

  1. Validation errors  - malformed/missing fields, reported per-field
  2. Business-rule violations - named reason, operation aborted
  3. Irreconcilable-state errors - dedup preconditions, whole merge aborted
  4. Not-found errors - unresolvable participant/schedule/statement

  Every failure is deterministic given the same input; the engine never
  auto-retries.

USAGE:
  Callers match with errors.Is / errors.As:

    var v *engine.ValidationError
    if errors.As(err, &v) { ... v.Failures ... }
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProfileNotFound is returned when a participant cannot be resolved.
	ErrProfileNotFound = errors.New("participant profile not found")

	// ErrScheduleNotFound is returned when neither the canonical identifier
	// nor the alias resolves a schedule.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrStatementNotFound is returned when a referenced statement doesn't exist.
	ErrStatementNotFound = errors.New("statement not found")

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = errors.New("contract not found")

	// ErrDeclarationNotFound is returned when a referenced declaration doesn't exist.
	ErrDeclarationNotFound = errors.New("declaration not found")

	// ErrProviderNotFound is returned when a referenced provider doesn't exist.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrDuplicateDeclaration is returned when an un-voided declaration
	// already exists for the same (participant, type, provider). Backed by a
	// database uniqueness constraint, so a losing concurrent writer fails
	// cleanly with this error too.
	ErrDuplicateDeclaration = errors.New("duplicate declaration")

	// ErrInvalidTransition is returned for a move the transition table
	// does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyPaid is returned when voiding a paid declaration; callers
	// claw back instead.
	ErrAlreadyPaid = errors.New("declaration already paid")

	// ErrNotPaid is returned when clawing back a declaration that was never paid.
	ErrNotPaid = errors.New("declaration not paid")
)

// =============================================================================
// VALIDATION ERRORS - Per-field failures, nothing persisted
// =============================================================================

// Failure reasons surfaced to API callers.
const (
	ReasonMissingParticipantID            = "missing_participant_id"
	ReasonInvalidCourse                   = "invalid_course"
	ReasonInvalidParticipant              = "invalid_participant"
	ReasonInvalidDeclarationType          = "invalid_declaration_type"
	ReasonInvalidDeclarationDate          = "invalid_declaration_date"
	ReasonFutureDeclarationDate           = "future_declaration_date"
	ReasonMissingEvidenceHeld             = "missing_evidence_held"
	ReasonInvalidEvidenceType             = "invalid_evidence_type"
	ReasonDuplicateDeclaration            = "duplicate_declaration"
	ReasonInvalidSchedule                 = "invalid_schedule"
	ReasonScheduleInvalidatesDeclaration  = "schedule_invalidates_declaration"
	ReasonScheduleInvalidForCourse        = "schedule_invalid_for_course"
	ReasonWithdrawnParticipant            = "withdrawn_participant"
)

// FieldFailure is a single field-level validation failure.
type FieldFailure struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError aggregates field-level failures. The operation that
// produced it mutated nothing.
type ValidationError struct {
	Failures []FieldFailure
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Add appends a failure and returns the error for chaining.
func (e *ValidationError) Add(field, reason string) *ValidationError {
	e.Failures = append(e.Failures, FieldFailure{Field: field, Reason: reason})
	return e
}

func (e *ValidationError) Empty() bool { return len(e.Failures) == 0 }

// =============================================================================
// BUSINESS-RULE VIOLATIONS - Named reason, operation aborted
// =============================================================================

type RuleError struct {
	Reason  string
	Message string
}

func (e *RuleError) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// =============================================================================
// DEDUPLICATION ERRORS - Whole merge aborted, no partial log
// =============================================================================

type DeduplicationError struct {
	Message string
}

func (e *DeduplicationError) Error() string { return e.Message }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a bad reference rather
// than a bad request.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrStatementNotFound) ||
		errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrDeclarationNotFound) ||
		errors.Is(err, ErrProviderNotFound)
}

// IsConflict reports whether the error is a uniqueness conflict that a
// caller should surface as such, not retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateDeclaration)
}

// IsClientError reports whether the error is due to invalid client input.
func IsClientError(err error) bool {
	var v *ValidationError
	var r *RuleError
	return errors.As(err, &v) || errors.As(err, &r) || IsConflict(err)
}
