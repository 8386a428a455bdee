/*
Package sqlite provides a SQLite-backed implementation of the storage
interface.

PURPOSE:
  Implements engine.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - declarations are never deleted; voiding is a state and clawback a flag
  - declaration_states has INSERT and SELECT only

LIVE UNIQUENESS:
  idx_live_declaration is a partial unique index over
  (profile_id, declaration_type, provider_id) restricted to live rows
  (state != 'voided' AND clawback = 0). The second of two concurrent
  submitters fails at the database, which CreateDeclaration maps to
  ErrDuplicateDeclaration. Voiding a declaration frees the slot for a
  resubmission.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) plus foreign keys:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/declarations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: interface definition
  - ledger/, statement/, dedup/: the services driving this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/declaration-engine/engine"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every query method
// works unchanged inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements engine.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB

	// mu serializes units of work. Plain reads rely on the driver's own
	// locking and WAL's snapshot isolation.
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one so
	// every query sees the same database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		vat_chargeable BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Schedules are immutable reference data seeded per cohort.
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL,
		identifier_alias TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		cohort INTEGER NOT NULL,
		kind TEXT NOT NULL,
		UNIQUE(identifier, cohort)
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_alias
		ON schedules(identifier_alias, cohort) WHERE identifier_alias != '';

	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		name TEXT NOT NULL,
		declaration_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		milestone_date TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		UNIQUE(schedule_id, declaration_type)
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		cohort INTEGER NOT NULL,
		course_identifier TEXT NOT NULL,
		version TEXT NOT NULL,
		recruitment_target INTEGER NOT NULL,
		per_participant TEXT NOT NULL,
		service_fee_installments INTEGER NOT NULL,
		service_fee_percentage INTEGER NOT NULL,
		output_payment_percentage INTEGER NOT NULL,
		UNIQUE(provider_id, cohort, course_identifier)
	);

	CREATE TABLE IF NOT EXISTS statements (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		cohort INTEGER NOT NULL,
		name TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		deadline TEXT NOT NULL,
		payment_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_statements_provider
		ON statements(provider_id, cohort);
	CREATE INDEX IF NOT EXISTS idx_statements_deadline
		ON statements(deadline);
	CREATE INDEX IF NOT EXISTS idx_statements_payment_date
		ON statements(payment_date);

	CREATE TABLE IF NOT EXISTS participant_profiles (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		category TEXT NOT NULL,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		training_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(external_id, category)
	);

	CREATE TABLE IF NOT EXISTS induction_records (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL REFERENCES participant_profiles(id),
		school_id TEXT NOT NULL,
		training_programme TEXT NOT NULL,
		status TEXT NOT NULL,
		schedule_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		school_transfer BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_induction_records_profile
		ON induction_records(profile_id, start_date);

	-- Declarations (append-only: no DELETE, voiding is a state)
	CREATE TABLE IF NOT EXISTS declarations (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL REFERENCES participant_profiles(id),
		provider_id TEXT NOT NULL REFERENCES providers(id),
		course_identifier TEXT NOT NULL,
		declaration_type TEXT NOT NULL,
		declaration_date TEXT NOT NULL,
		evidence_held TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		clawback INTEGER NOT NULL DEFAULT 0,
		statement_id TEXT,
		grouping_key TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one live declaration per (participant, type, provider).
	-- Voided or clawed-back rows stay behind for audit but free the slot.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_live_declaration
		ON declarations(profile_id, declaration_type, provider_id)
		WHERE state != 'voided' AND clawback = 0;

	CREATE INDEX IF NOT EXISTS idx_declarations_profile
		ON declarations(profile_id);
	CREATE INDEX IF NOT EXISTS idx_declarations_statement
		ON declarations(statement_id) WHERE statement_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_declarations_unbatched
		ON declarations(provider_id) WHERE statement_id IS NULL;

	-- Declaration state history (append-only)
	CREATE TABLE IF NOT EXISTS declaration_states (
		id TEXT PRIMARY KEY,
		declaration_id TEXT NOT NULL REFERENCES declarations(id),
		state TEXT NOT NULL,
		reason TEXT,
		actor TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_declaration_states_declaration
		ON declaration_states(declaration_id, created_at);

	CREATE TABLE IF NOT EXISTS eligibility_records (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS validation_data (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		trn TEXT NOT NULL,
		date_of_birth TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Audit snapshots of profiles destroyed by a merge
	CREATE TABLE IF NOT EXISTS deleted_duplicates (
		id TEXT PRIMARY KEY,
		primary_profile_id TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{db: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	queries
}

// WithTx on a store already inside a transaction joins the existing unit of
// work: the inner fn commits or rolls back with the outer one.
func (ts *txStore) WithTx(ctx context.Context, fn func(engine.TxStore) error) error {
	return fn(ts)
}

// =============================================================================
// QUERIES - shared by Store and txStore
// =============================================================================

type queries struct {
	db dbtx
}

// --- Providers ---

func (q queries) GetProvider(ctx context.Context, id engine.ProviderID) (*engine.Provider, error) {
	var p engine.Provider
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, vat_chargeable FROM providers WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.VATChargeable)
	if err == sql.ErrNoRows {
		return nil, engine.ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) CreateProvider(ctx context.Context, p *engine.Provider) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO providers (id, name, vat_chargeable) VALUES (?, ?, ?)",
		p.ID, p.Name, p.VATChargeable,
	)
	return err
}

// --- Schedules ---

const scheduleColumns = "id, identifier, identifier_alias, name, cohort, kind"

func (q queries) GetSchedule(ctx context.Context, id engine.ScheduleID) (*engine.Schedule, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	return q.scanSchedule(ctx, row)
}

func (q queries) FindSchedule(ctx context.Context, identifier string, cohort engine.Cohort) (*engine.Schedule, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE identifier = ? AND cohort = ?",
		identifier, cohort)
	s, err := q.scanSchedule(ctx, row)
	if err != engine.ErrScheduleNotFound {
		return s, err
	}

	// Canonical identifier missed; fall back to the alias.
	row = q.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE identifier_alias = ? AND cohort = ?",
		identifier, cohort)
	return q.scanSchedule(ctx, row)
}

func (q queries) scanSchedule(ctx context.Context, row *sql.Row) (*engine.Schedule, error) {
	var s engine.Schedule
	err := row.Scan(&s.ID, &s.Identifier, &s.IdentifierAlias, &s.Name, &s.Cohort, &s.Kind)
	if err == sql.ErrNoRows {
		return nil, engine.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, schedule_id, name, declaration_type, start_date, milestone_date, payment_date
		FROM milestones WHERE schedule_id = ? ORDER BY start_date ASC`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m engine.Milestone
		var start, milestone, payment string
		if err := rows.Scan(&m.ID, &m.ScheduleID, &m.Name, &m.DeclarationType, &start, &milestone, &payment); err != nil {
			return nil, err
		}
		m.StartDate = parseDate(start)
		m.MilestoneDate = parseDate(milestone)
		m.PaymentDate = parseDate(payment)
		s.Milestones = append(s.Milestones, m)
	}
	return &s, rows.Err()
}

func (q queries) CreateSchedule(ctx context.Context, s *engine.Schedule) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO schedules ("+scheduleColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		s.ID, s.Identifier, s.IdentifierAlias, s.Name, s.Cohort, s.Kind,
	)
	if err != nil {
		return err
	}
	for _, m := range s.Milestones {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO milestones (id, schedule_id, name, declaration_type, start_date, milestone_date, payment_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, s.ID, m.Name, m.DeclarationType,
			formatDate(m.StartDate), formatDate(m.MilestoneDate), formatDate(m.PaymentDate),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Participant profiles ---

const profileColumns = "id, external_id, category, provider_id, schedule_id, training_status, created_at"

func (q queries) GetProfile(ctx context.Context, id engine.ProfileID) (*engine.ParticipantProfile, error) {
	return scanProfile(q.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM participant_profiles WHERE id = ?", id))
}

func (q queries) FindProfile(ctx context.Context, externalID string, category engine.ParticipantCategory) (*engine.ParticipantProfile, error) {
	return scanProfile(q.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM participant_profiles WHERE external_id = ? AND category = ?",
		externalID, category))
}

func scanProfile(row *sql.Row) (*engine.ParticipantProfile, error) {
	var p engine.ParticipantProfile
	var createdAt string
	err := row.Scan(&p.ID, &p.ExternalID, &p.Category, &p.ProviderID, &p.ScheduleID, &p.TrainingStatus, &createdAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (q queries) CreateProfile(ctx context.Context, p *engine.ParticipantProfile) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO participant_profiles ("+profileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.ExternalID, p.Category, p.ProviderID, p.ScheduleID, p.TrainingStatus,
		formatTime(p.CreatedAt),
	)
	return err
}

func (q queries) UpdateProfileSchedule(ctx context.Context, id engine.ProfileID, scheduleID engine.ScheduleID) error {
	return q.updateProfile(ctx, id, "schedule_id", string(scheduleID))
}

func (q queries) UpdateProfileTrainingStatus(ctx context.Context, id engine.ProfileID, status engine.TrainingStatus) error {
	return q.updateProfile(ctx, id, "training_status", string(status))
}

func (q queries) updateProfile(ctx context.Context, id engine.ProfileID, column, value string) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE participant_profiles SET "+column+" = ? WHERE id = ?", value, id)
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrProfileNotFound)
}

func (q queries) DeleteProfile(ctx context.Context, id engine.ProfileID) error {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM participant_profiles WHERE id = ?", id)
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrProfileNotFound)
}

// --- Induction records ---

const inductionColumns = "id, profile_id, school_id, training_programme, status, schedule_id, start_date, end_date, school_transfer, created_at"

func (q queries) InductionRecords(ctx context.Context, profileID engine.ProfileID) ([]engine.InductionRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+inductionColumns+" FROM induction_records WHERE profile_id = ? ORDER BY start_date ASC, rowid ASC",
		profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []engine.InductionRecord
	for rows.Next() {
		var r engine.InductionRecord
		var start, createdAt string
		var end sql.NullString
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.SchoolID, &r.TrainingProgramme, &r.Status,
			&r.ScheduleID, &start, &end, &r.SchoolTransfer, &createdAt); err != nil {
			return nil, err
		}
		r.StartDate = parseTime(start)
		r.CreatedAt = parseTime(createdAt)
		if end.Valid {
			t := parseTime(end.String)
			r.EndDate = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (q queries) CreateInductionRecord(ctx context.Context, r *engine.InductionRecord) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO induction_records ("+inductionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.ProfileID, r.SchoolID, r.TrainingProgramme, r.Status, r.ScheduleID,
		formatTime(r.StartDate), nullTime(r.EndDate), r.SchoolTransfer, formatTime(r.CreatedAt),
	)
	return err
}

func (q queries) UpdateInductionRecord(ctx context.Context, r *engine.InductionRecord) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE induction_records
		SET profile_id = ?, school_id = ?, training_programme = ?, status = ?,
		    schedule_id = ?, start_date = ?, end_date = ?, school_transfer = ?
		WHERE id = ?`,
		r.ProfileID, r.SchoolID, r.TrainingProgramme, r.Status, r.ScheduleID,
		formatTime(r.StartDate), nullTime(r.EndDate), r.SchoolTransfer, r.ID,
	)
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrProfileNotFound)
}

// --- Declarations ---

const declarationColumns = "id, profile_id, provider_id, course_identifier, declaration_type, declaration_date, evidence_held, state, clawback, statement_id, grouping_key, created_at"

func (q queries) GetDeclaration(ctx context.Context, id engine.DeclarationID) (*engine.Declaration, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+declarationColumns+" FROM declarations WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	decls, err := collectDeclarations(rows)
	if err != nil {
		return nil, err
	}
	if len(decls) == 0 {
		return nil, engine.ErrDeclarationNotFound
	}
	return &decls[0], nil
}

func (q queries) DeclarationsForProfile(ctx context.Context, profileID engine.ProfileID) ([]engine.Declaration, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+declarationColumns+" FROM declarations WHERE profile_id = ? ORDER BY created_at ASC, rowid ASC",
		profileID)
	if err != nil {
		return nil, err
	}
	return collectDeclarations(rows)
}

func (q queries) DeclarationsForStatement(ctx context.Context, statementID engine.StatementID) ([]engine.Declaration, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+declarationColumns+" FROM declarations WHERE statement_id = ? ORDER BY created_at ASC, rowid ASC",
		statementID)
	if err != nil {
		return nil, err
	}
	return collectDeclarations(rows)
}

func (q queries) UnbatchedDeclarations(ctx context.Context, providerID engine.ProviderID, cohort engine.Cohort) ([]engine.Declaration, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+prefixColumns("d", declarationColumns)+`
		FROM declarations d
		JOIN participant_profiles p ON p.id = d.profile_id
		JOIN schedules s ON s.id = p.schedule_id
		WHERE d.provider_id = ? AND s.cohort = ?
		  AND d.statement_id IS NULL
		  AND d.state IN ('submitted', 'eligible', 'payable', 'paid')
		  AND d.clawback = 0
		ORDER BY d.created_at ASC, d.rowid ASC`,
		providerID, cohort)
	if err != nil {
		return nil, err
	}
	return collectDeclarations(rows)
}

func collectDeclarations(rows *sql.Rows) ([]engine.Declaration, error) {
	defer rows.Close()

	var decls []engine.Declaration
	for rows.Next() {
		var d engine.Declaration
		var date, createdAt string
		var statementID sql.NullString
		if err := rows.Scan(&d.ID, &d.ProfileID, &d.ProviderID, &d.CourseIdentifier, &d.Type,
			&date, &d.EvidenceHeld, &d.State, &d.Clawback, &statementID, &d.GroupingKey, &createdAt); err != nil {
			return nil, err
		}
		d.Date = parseTime(date)
		d.CreatedAt = parseTime(createdAt)
		d.StatementID = engine.StatementID(statementID.String)
		decls = append(decls, d)
	}
	return decls, rows.Err()
}

func (q queries) CreateDeclaration(ctx context.Context, d *engine.Declaration) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO declarations ("+declarationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		d.ID, d.ProfileID, d.ProviderID, d.CourseIdentifier, d.Type,
		formatTime(d.Date), d.EvidenceHeld, d.State, d.Clawback,
		nullString(string(d.StatementID)), d.GroupingKey, formatTime(d.CreatedAt),
	)
	if isLiveUniquenessError(err) {
		return engine.ErrDuplicateDeclaration
	}
	return err
}

func (q queries) SetDeclarationState(ctx context.Context, id engine.DeclarationID, state engine.DeclarationState) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE declarations SET state = ? WHERE id = ?", state, id)
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrDeclarationNotFound)
}

func (q queries) SetDeclarationClawback(ctx context.Context, id engine.DeclarationID) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE declarations SET clawback = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrDeclarationNotFound)
}

func (q queries) AssignDeclarationToStatement(ctx context.Context, id engine.DeclarationID, statementID engine.StatementID) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE declarations SET statement_id = ? WHERE id = ?", statementID, id)
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrDeclarationNotFound)
}

func (q queries) ReassignDeclarationProfile(ctx context.Context, id engine.DeclarationID, profileID engine.ProfileID, groupingKey string) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE declarations SET profile_id = ?, grouping_key = ? WHERE id = ?",
		profileID, groupingKey, id)
	if isLiveUniquenessError(err) {
		return engine.ErrDuplicateDeclaration
	}
	if err != nil {
		return err
	}
	return noneUpdated(res, engine.ErrDeclarationNotFound)
}

// --- Declaration state history ---

func (q queries) AppendStateChange(ctx context.Context, c engine.StateChange) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO declaration_states (id, declaration_id, state, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DeclarationID, c.State, nullString(c.Reason), nullString(c.Actor),
		formatTime(c.CreatedAt),
	)
	return err
}

func (q queries) StateHistory(ctx context.Context, id engine.DeclarationID) ([]engine.StateChange, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, declaration_id, state, reason, actor, created_at
		FROM declaration_states WHERE declaration_id = ?
		ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []engine.StateChange
	for rows.Next() {
		var c engine.StateChange
		var reason, actor sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DeclarationID, &c.State, &reason, &actor, &createdAt); err != nil {
			return nil, err
		}
		c.Reason = reason.String
		c.Actor = actor.String
		c.CreatedAt = parseTime(createdAt)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// --- Statements ---

const statementColumns = "id, provider_id, cohort, name, period_start, period_end, deadline, payment_date"

func (q queries) GetStatement(ctx context.Context, id engine.StatementID) (*engine.Statement, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	statements, err := collectStatements(rows)
	if err != nil {
		return nil, err
	}
	if len(statements) == 0 {
		return nil, engine.ErrStatementNotFound
	}
	return &statements[0], nil
}

func (q queries) StatementsForProvider(ctx context.Context, providerID engine.ProviderID, cohort engine.Cohort) ([]engine.Statement, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE provider_id = ? AND cohort = ? ORDER BY period_start ASC",
		providerID, cohort)
	if err != nil {
		return nil, err
	}
	return collectStatements(rows)
}

func (q queries) StatementsWithDeadlineBefore(ctx context.Context, at time.Time) ([]engine.Statement, error) {
	// Deadline is a day bound; it has passed once its end-of-day is behind
	// the clock, so compare against the date portion.
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE deadline < ? ORDER BY deadline ASC",
		engine.DateOf(at).String())
	if err != nil {
		return nil, err
	}
	return collectStatements(rows)
}

func (q queries) StatementsWithPaymentDateReached(ctx context.Context, at time.Time) ([]engine.Statement, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE payment_date <= ? ORDER BY payment_date ASC",
		engine.DateOf(at).String())
	if err != nil {
		return nil, err
	}
	return collectStatements(rows)
}

func collectStatements(rows *sql.Rows) ([]engine.Statement, error) {
	defer rows.Close()

	var statements []engine.Statement
	for rows.Next() {
		var s engine.Statement
		var periodStart, periodEnd, deadline, paymentDate string
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Cohort, &s.Name,
			&periodStart, &periodEnd, &deadline, &paymentDate); err != nil {
			return nil, err
		}
		s.PeriodStart = parseDate(periodStart)
		s.PeriodEnd = parseDate(periodEnd)
		s.Deadline = parseDate(deadline)
		s.PaymentDate = parseDate(paymentDate)
		statements = append(statements, s)
	}
	return statements, rows.Err()
}

func (q queries) CreateStatement(ctx context.Context, s *engine.Statement) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO statements ("+statementColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.ID, s.ProviderID, s.Cohort, s.Name,
		formatDate(s.PeriodStart), formatDate(s.PeriodEnd),
		formatDate(s.Deadline), formatDate(s.PaymentDate),
	)
	return err
}

// --- Contracts ---

const contractColumns = "id, provider_id, cohort, course_identifier, version, recruitment_target, per_participant, service_fee_installments, service_fee_percentage, output_payment_percentage"

func (q queries) GetContract(ctx context.Context, id engine.ContractID) (*engine.Contract, error) {
	return scanContract(q.db.QueryRowContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE id = ?", id))
}

func (q queries) FindContract(ctx context.Context, providerID engine.ProviderID, cohort engine.Cohort, courseIdentifier string) (*engine.Contract, error) {
	return scanContract(q.db.QueryRowContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE provider_id = ? AND cohort = ? AND course_identifier = ?",
		providerID, cohort, courseIdentifier))
}

func scanContract(row *sql.Row) (*engine.Contract, error) {
	var c engine.Contract
	var perParticipant string
	err := row.Scan(&c.ID, &c.ProviderID, &c.Cohort, &c.CourseIdentifier, &c.Version,
		&c.RecruitmentTarget, &perParticipant, &c.ServiceFeeInstallments,
		&c.ServiceFeePercentage, &c.OutputPaymentPercentage)
	if err == sql.ErrNoRows {
		return nil, engine.ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PerParticipant, err = decimal.NewFromString(perParticipant)
	if err != nil {
		return nil, fmt.Errorf("contract %s: bad per_participant %q: %w", c.ID, perParticipant, err)
	}
	return &c, nil
}

func (q queries) CreateContract(ctx context.Context, c *engine.Contract) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO contracts ("+contractColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.ProviderID, c.Cohort, c.CourseIdentifier, c.Version,
		c.RecruitmentTarget, c.PerParticipant.String(), c.ServiceFeeInstallments,
		c.ServiceFeePercentage, c.OutputPaymentPercentage,
	)
	return err
}

// --- Singleton child records ---

func (q queries) GetEligibility(ctx context.Context, profileID engine.ProfileID) (*engine.EligibilityRecord, error) {
	var r engine.EligibilityRecord
	var createdAt string
	err := q.db.QueryRowContext(ctx,
		"SELECT id, profile_id, status, created_at FROM eligibility_records WHERE profile_id = ?",
		profileID,
	).Scan(&r.ID, &r.ProfileID, &r.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func (q queries) CreateEligibility(ctx context.Context, r *engine.EligibilityRecord) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO eligibility_records (id, profile_id, status, created_at) VALUES (?, ?, ?, ?)",
		r.ID, r.ProfileID, r.Status, formatTime(r.CreatedAt),
	)
	return err
}

func (q queries) ReassignEligibility(ctx context.Context, from, to engine.ProfileID) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE eligibility_records SET profile_id = ? WHERE profile_id = ?", to, from)
	return err
}

func (q queries) DeleteEligibility(ctx context.Context, profileID engine.ProfileID) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM eligibility_records WHERE profile_id = ?", profileID)
	return err
}

func (q queries) GetValidationData(ctx context.Context, profileID engine.ProfileID) (*engine.ValidationData, error) {
	var v engine.ValidationData
	var dateOfBirth, createdAt string
	err := q.db.QueryRowContext(ctx,
		"SELECT id, profile_id, full_name, trn, date_of_birth, created_at FROM validation_data WHERE profile_id = ?",
		profileID,
	).Scan(&v.ID, &v.ProfileID, &v.FullName, &v.TRN, &dateOfBirth, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.DateOfBirth = parseDate(dateOfBirth)
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

func (q queries) CreateValidationData(ctx context.Context, v *engine.ValidationData) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO validation_data (id, profile_id, full_name, trn, date_of_birth, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		v.ID, v.ProfileID, v.FullName, v.TRN, formatDate(v.DateOfBirth), formatTime(v.CreatedAt),
	)
	return err
}

func (q queries) ReassignValidationData(ctx context.Context, from, to engine.ProfileID) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE validation_data SET profile_id = ? WHERE profile_id = ?", to, from)
	return err
}

func (q queries) DeleteValidationData(ctx context.Context, profileID engine.ProfileID) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM validation_data WHERE profile_id = ?", profileID)
	return err
}

// --- Duplicate-merge audit records ---

func (q queries) CreateDeletedDuplicate(ctx context.Context, d *engine.DeletedDuplicate) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO deleted_duplicates (id, primary_profile_id, data_json, created_at) VALUES (?, ?, ?, ?)",
		d.ID, d.PrimaryProfileID, string(d.Data), formatTime(d.CreatedAt),
	)
	return err
}

// Reset clears all data (for demo scenarios and testing). Children before
// parents so foreign keys never block.
func (q queries) Reset(ctx context.Context) error {
	tables := []string{
		"declaration_states",
		"declarations",
		"induction_records",
		"eligibility_records",
		"validation_data",
		"deleted_duplicates",
		"participant_profiles",
		"milestones",
		"contracts",
		"statements",
		"schedules",
		"providers",
	}
	for _, table := range tables {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatDate(d engine.Date) string {
	return d.String()
}

func parseDate(s string) engine.Date {
	t, _ := time.Parse("2006-01-02", s)
	return engine.Date{Time: t}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func noneUpdated(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// prefixColumns qualifies a comma separated column list with a table alias
// for use in joined queries.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// isLiveUniquenessError reports whether err is a violation of the partial
// unique index over live declarations. The driver reports these as a UNIQUE
// constraint failure naming the indexed columns, not the index name.
func isLiveUniquenessError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), "declarations.")
}
