/*
store.go - Persistence interface for the declaration ledger

PURPOSE:
  Defines the interface between the domain logic and the database. The
  engine is persistence-agnostic: store/sqlite implements this for SQLite
  and the same shape applies to PostgreSQL.

UNIT OF WORK:
  Every state-mutating operation runs read-then-decide-then-write inside
  WithTx. A failure at any step rolls back all prior steps in that
  invocation. The deduplication dry run is a real run of the same code path
  whose unit of work is rolled back at the end.

APPEND-ONLY CONTRACT:
  declaration state history has AppendStateChange and StateHistory only -
  no update, no delete. Declarations themselves are never deleted; voiding
  is a state.

UNIQUENESS:
  CreateDeclaration must fail with ErrDuplicateDeclaration when a live
  (non-voided, non-clawback) declaration already exists for the same
  (participant, type, provider), enforced by a database constraint so the
  second of two concurrent writers fails cleanly.

SEE ALSO:
  - store/sqlite/sqlite.go: concrete implementation
  - ledger/, statement/, dedup/: the services driving this interface
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// --- Providers ---

	GetProvider(ctx context.Context, id ProviderID) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error

	// --- Schedules (immutable reference data) ---

	GetSchedule(ctx context.Context, id ScheduleID) (*Schedule, error)

	// FindSchedule resolves by canonical identifier first, then by alias.
	// Returns ErrScheduleNotFound when neither matches.
	FindSchedule(ctx context.Context, identifier string, cohort Cohort) (*Schedule, error)

	CreateSchedule(ctx context.Context, s *Schedule) error

	// --- Participant profiles ---

	GetProfile(ctx context.Context, id ProfileID) (*ParticipantProfile, error)
	FindProfile(ctx context.Context, externalID string, category ParticipantCategory) (*ParticipantProfile, error)
	CreateProfile(ctx context.Context, p *ParticipantProfile) error
	UpdateProfileSchedule(ctx context.Context, id ProfileID, scheduleID ScheduleID) error
	UpdateProfileTrainingStatus(ctx context.Context, id ProfileID, status TrainingStatus) error

	// DeleteProfile removes a profile row. Callers must have transferred or
	// destroyed all children first.
	DeleteProfile(ctx context.Context, id ProfileID) error

	// --- Induction records (ordered by start date ascending) ---

	InductionRecords(ctx context.Context, profileID ProfileID) ([]InductionRecord, error)
	CreateInductionRecord(ctx context.Context, r *InductionRecord) error
	UpdateInductionRecord(ctx context.Context, r *InductionRecord) error

	// --- Declarations ---

	GetDeclaration(ctx context.Context, id DeclarationID) (*Declaration, error)
	DeclarationsForProfile(ctx context.Context, profileID ProfileID) ([]Declaration, error)
	DeclarationsForStatement(ctx context.Context, statementID StatementID) ([]Declaration, error)

	// UnbatchedDeclarations returns billable declarations for the provider
	// and cohort with no statement assigned.
	UnbatchedDeclarations(ctx context.Context, providerID ProviderID, cohort Cohort) ([]Declaration, error)

	CreateDeclaration(ctx context.Context, d *Declaration) error
	SetDeclarationState(ctx context.Context, id DeclarationID, state DeclarationState) error
	SetDeclarationClawback(ctx context.Context, id DeclarationID) error
	AssignDeclarationToStatement(ctx context.Context, id DeclarationID, statementID StatementID) error

	// ReassignDeclarationProfile moves a declaration to another profile and
	// rewrites its grouping key (dedup transfer primitive).
	ReassignDeclarationProfile(ctx context.Context, id DeclarationID, profileID ProfileID, groupingKey string) error

	// --- Declaration state history (append-only) ---

	AppendStateChange(ctx context.Context, c StateChange) error
	StateHistory(ctx context.Context, id DeclarationID) ([]StateChange, error)

	// --- Statements ---

	GetStatement(ctx context.Context, id StatementID) (*Statement, error)
	StatementsForProvider(ctx context.Context, providerID ProviderID, cohort Cohort) ([]Statement, error)

	// StatementsWithDeadlineBefore / StatementsWithPaymentDateReached feed
	// the batcher's sweeps.
	StatementsWithDeadlineBefore(ctx context.Context, at time.Time) ([]Statement, error)
	StatementsWithPaymentDateReached(ctx context.Context, at time.Time) ([]Statement, error)

	CreateStatement(ctx context.Context, s *Statement) error

	// --- Contracts ---

	GetContract(ctx context.Context, id ContractID) (*Contract, error)
	FindContract(ctx context.Context, providerID ProviderID, cohort Cohort, courseIdentifier string) (*Contract, error)
	CreateContract(ctx context.Context, c *Contract) error

	// --- Singleton child records ---

	GetEligibility(ctx context.Context, profileID ProfileID) (*EligibilityRecord, error)
	CreateEligibility(ctx context.Context, r *EligibilityRecord) error
	ReassignEligibility(ctx context.Context, from, to ProfileID) error
	DeleteEligibility(ctx context.Context, profileID ProfileID) error

	GetValidationData(ctx context.Context, profileID ProfileID) (*ValidationData, error)
	CreateValidationData(ctx context.Context, v *ValidationData) error
	ReassignValidationData(ctx context.Context, from, to ProfileID) error
	DeleteValidationData(ctx context.Context, profileID ProfileID) error

	// --- Duplicate-merge audit records ---

	CreateDeletedDuplicate(ctx context.Context, d *DeletedDuplicate) error

	// Reset clears all data (for demo scenarios and testing).
	Reset(ctx context.Context) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with unit-of-work support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed. Calling WithTx on a
	// store that is already inside a transaction joins the existing unit of
	// work instead of nesting.
	WithTx(ctx context.Context, fn func(TxStore) error) error
}
