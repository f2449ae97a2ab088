/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store using SQLite. This is the default store for
  single-node deployments and for tests (":memory:").

INTERFACES IMPLEMENTED:
  generic.CounterStore:       Sequence counters and override audit
  generic.AccidentSource:     Accident rows with victims
  generic.AccidentWriter:     Report persistence
  generic.WorkingHoursSource: Annual working-hours settings
  generic.WorkingHoursWriter

KEY TABLES:
  sequence_counters:  One row per (scope, company, site, year). Never deleted.
  sequence_overrides: Audit log of manual counter changes
  accidents:          Stored reports, keyed by the site code
  victims:            Victims per accident
  working_hours:      Exposure hours per year

ATOMIC INCREMENT:
  Next is a single statement:

    INSERT ... VALUES (..., 1)
    ON CONFLICT (scope, company_code, site_code, year)
    DO UPDATE SET seq = seq + 1 WHERE seq < 999
    RETURNING seq

  No row returned means the counter was already at 999. The statement runs
  in a write transaction (BEGIN IMMEDIATE via _txlock) under the store mutex.

OVERRIDES:
  Override reads the counter and the highest seq in stored codes, applies
  the caller's check, then writes the counter and the audit row, all inside
  one write transaction.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/accidents.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). The PostgreSQL store uses versioned
  migrations instead (store/postgres/migrations).

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: Multi-instance implementation
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

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/sequence"
)

// Store implements generic.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now generic.Clock
}

var _ generic.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: generic.SystemClock}
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

// SetClock replaces the timestamp source for audit rows.
func (s *Store) SetClock(now generic.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sequence counters (never deleted)
	CREATE TABLE IF NOT EXISTS sequence_counters (
		scope TEXT NOT NULL CHECK (scope IN ('global', 'site')),
		company_code TEXT NOT NULL,
		site_code TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL,
		seq INTEGER NOT NULL CHECK (seq BETWEEN 1 AND 999),
		updated_at TEXT NOT NULL,
		PRIMARY KEY (scope, company_code, site_code, year)
	);

	-- Manual override audit log
	CREATE TABLE IF NOT EXISTS sequence_overrides (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		company_code TEXT NOT NULL,
		site_code TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL,
		old_seq INTEGER NOT NULL,
		new_seq INTEGER NOT NULL,
		actor TEXT,
		reason TEXT,
		applied_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_overrides_key
		ON sequence_overrides(scope, company_code, site_code, year, applied_at);

	-- Accident reports, keyed by the site code
	CREATE TABLE IF NOT EXISTS accidents (
		id TEXT PRIMARY KEY,
		global_id TEXT NOT NULL UNIQUE,
		company_code TEXT NOT NULL,
		site_code TEXT NOT NULL,
		year INTEGER NOT NULL,
		is_contractor INTEGER NOT NULL DEFAULT 0,
		occurred_at TEXT NOT NULL,
		direct_damage_cost INTEGER NOT NULL DEFAULT 0 CHECK (direct_damage_cost >= 0),
		created_at TEXT NOT NULL
	);

	-- Aggregation reads a whole year (hot path)
	CREATE INDEX IF NOT EXISTS idx_accidents_year
		ON accidents(year);

	-- Highest issued seq per key
	CREATE INDEX IF NOT EXISTS idx_accidents_company_year
		ON accidents(company_code, year, site_code);

	CREATE TABLE IF NOT EXISTS victims (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		accident_id TEXT NOT NULL REFERENCES accidents(id) ON DELETE CASCADE,
		injury_label TEXT,
		injury_category TEXT NOT NULL,
		loss_days INTEGER NOT NULL DEFAULT 0 CHECK (loss_days >= 0),
		employee_type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_victims_accident
		ON victims(accident_id);

	-- Annual working hours
	CREATE TABLE IF NOT EXISTS working_hours (
		year INTEGER PRIMARY KEY,
		total INTEGER NOT NULL DEFAULT 0,
		employee INTEGER NOT NULL DEFAULT 0,
		contractor INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COUNTER STORE (generic.CounterStore interface)
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Next atomically increments the counter for key.
func (s *Store) Next(ctx context.Context, key generic.CounterKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO sequence_counters (scope, company_code, site_code, year, seq, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (scope, company_code, site_code, year)
		DO UPDATE SET seq = sequence_counters.seq + 1, updated_at = excluded.updated_at
		WHERE sequence_counters.seq < ?
		RETURNING seq
	`

	var seq int
	err = sqlTx.QueryRowContext(ctx, query,
		key.Scope, key.CompanyCode, key.SiteCode, key.Year,
		s.now().Format(time.RFC3339), generic.MaxSeq,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &generic.SequenceExhaustedError{Key: key, Max: generic.MaxSeq}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit counter %s: %w", key, err)
	}
	return seq, nil
}

// Current returns the counter value for key.
func (s *Store) Current(ctx context.Context, key generic.CounterKey) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok, err := currentSeq(ctx, s.db, key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return seq, ok, nil
}

func currentSeq(ctx context.Context, q queryer, key generic.CounterKey) (int, bool, error) {
	var seq int
	err := q.QueryRowContext(ctx, `
		SELECT seq FROM sequence_counters
		WHERE scope = ? AND company_code = ? AND site_code = ? AND year = ?
	`, key.Scope, key.CompanyCode, key.SiteCode, key.Year).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

// Override applies req.Apply inside a write transaction.
func (s *Store) Override(ctx context.Context, req generic.OverrideRequest) (generic.ManualOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	key := req.Key
	cur, _, err := currentSeq(ctx, sqlTx, key)
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	maxIssued, err := maxIssuedSeq(ctx, sqlTx, key)
	if err != nil {
		return generic.ManualOverride{}, err
	}

	next, err := req.Apply(cur, maxIssued)
	if err != nil {
		return generic.ManualOverride{}, err
	}

	now := s.now()
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO sequence_counters (scope, company_code, site_code, year, seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, company_code, site_code, year)
		DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at
	`, key.Scope, key.CompanyCode, key.SiteCode, key.Year, next, now.Format(time.RFC3339))
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("failed to set counter %s: %w", key, err)
	}

	o := generic.ManualOverride{
		ID:        uuid.NewString(),
		Key:       key,
		OldSeq:    cur,
		NewSeq:    next,
		Actor:     req.Actor,
		Reason:    req.Reason,
		AppliedAt: now,
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO sequence_overrides
		(id, scope, company_code, site_code, year, old_seq, new_seq, actor, reason, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, key.Scope, key.CompanyCode, key.SiteCode, key.Year,
		o.OldSeq, o.NewSeq, nullString(o.Actor), nullString(o.Reason), now.Format(time.RFC3339Nano))
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("failed to record override: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return generic.ManualOverride{}, fmt.Errorf("failed to commit override: %w", err)
	}
	return o, nil
}

// Overrides returns the audit entries for key, oldest first.
func (s *Store) Overrides(ctx context.Context, key generic.CounterKey) ([]generic.ManualOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, old_seq, new_seq, actor, reason, applied_at
		FROM sequence_overrides
		WHERE scope = ? AND company_code = ? AND site_code = ? AND year = ?
		ORDER BY applied_at ASC, rowid ASC
	`, key.Scope, key.CompanyCode, key.SiteCode, key.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var result []generic.ManualOverride
	for rows.Next() {
		var (
			o         generic.ManualOverride
			actor     sql.NullString
			reason    sql.NullString
			appliedAt string
		)
		if err := rows.Scan(&o.ID, &o.OldSeq, &o.NewSeq, &actor, &reason, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		o.Key = key
		o.Actor = actor.String
		o.Reason = reason.String
		o.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		result = append(result, o)
	}
	return result, rows.Err()
}

// maxIssuedSeq scans the stored codes of key's company and year.
func maxIssuedSeq(ctx context.Context, q queryer, key generic.CounterKey) (int, error) {
	query := `SELECT id, global_id FROM accidents WHERE company_code = ? AND year = ?`
	args := []any{key.CompanyCode, key.Year}
	if key.Scope == generic.ScopeSite {
		query += ` AND site_code = ?`
		args = append(args, key.SiteCode)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query issued codes: %w", err)
	}
	defer rows.Close()

	maxSeq := 0
	for rows.Next() {
		var id, globalID string
		if err := rows.Scan(&id, &globalID); err != nil {
			return 0, fmt.Errorf("failed to scan issued code: %w", err)
		}
		code := id
		if key.Scope == generic.ScopeGlobal {
			code = globalID
		}
		if seq, ok := sequence.SeqFor(key, code); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, rows.Err()
}

// =============================================================================
// ACCIDENT STORE
// =============================================================================

// SaveAccident inserts rec or replaces it (and its victims) by ID.
func (s *Store) SaveAccident(ctx context.Context, rec generic.AccidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO accidents
		(id, global_id, company_code, site_code, year, is_contractor, occurred_at, direct_damage_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			global_id = excluded.global_id,
			company_code = excluded.company_code,
			site_code = excluded.site_code,
			year = excluded.year,
			is_contractor = excluded.is_contractor,
			occurred_at = excluded.occurred_at,
			direct_damage_cost = excluded.direct_damage_cost
	`,
		rec.ID, rec.GlobalID, rec.CompanyCode, rec.SiteCode, rec.Year,
		rec.IsContractor, rec.OccurredAt.UTC().Format(time.RFC3339), rec.DirectDamageCost,
		s.now().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.InputError{Field: "global_id", Reason: fmt.Sprintf("%s already used by another report", rec.GlobalID)}
		}
		return fmt.Errorf("failed to save accident: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM victims WHERE accident_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to replace victims: %w", err)
	}
	for _, v := range rec.Victims {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO victims (accident_id, injury_label, injury_category, loss_days, employee_type)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, nullString(v.InjuryLabel), v.InjuryCategory, v.LossDays, v.EmployeeType)
		if err != nil {
			return fmt.Errorf("failed to save victim: %w", err)
		}
	}

	return sqlTx.Commit()
}

// ListAccidents returns every accident of year with its victims, by ID.
func (s *Store) ListAccidents(ctx context.Context, year int) ([]generic.AccidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryAccidents(ctx, year)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	index := make(map[string]int, len(records))
	for i, r := range records {
		index[r.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.accident_id, v.injury_label, v.injury_category, v.loss_days, v.employee_type
		FROM victims v
		JOIN accidents a ON a.id = v.accident_id
		WHERE a.year = ?
		ORDER BY v.id ASC
	`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query victims: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v     generic.VictimRecord
			label sql.NullString
		)
		if err := rows.Scan(&v.AccidentID, &label, &v.InjuryCategory, &v.LossDays, &v.EmployeeType); err != nil {
			return nil, fmt.Errorf("failed to scan victim: %w", err)
		}
		v.InjuryLabel = label.String
		if i, ok := index[v.AccidentID]; ok {
			records[i].Victims = append(records[i].Victims, v)
		}
	}
	return records, rows.Err()
}

func (s *Store) queryAccidents(ctx context.Context, year int) ([]generic.AccidentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, global_id, company_code, site_code, year, is_contractor, occurred_at, direct_damage_cost
		FROM accidents
		WHERE year = ?
		ORDER BY id ASC
	`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query accidents: %w", err)
	}
	defer rows.Close()

	records := []generic.AccidentRecord{}
	for rows.Next() {
		var (
			r          generic.AccidentRecord
			occurredAt string
		)
		err := rows.Scan(&r.ID, &r.GlobalID, &r.CompanyCode, &r.SiteCode, &r.Year,
			&r.IsContractor, &occurredAt, &r.DirectDamageCost)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accident: %w", err)
		}
		r.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// WORKING HOURS
// =============================================================================

func (s *Store) SaveWorkingHours(ctx context.Context, h generic.WorkingHours) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_hours (year, total, employee, contractor, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (year) DO UPDATE SET
			total = excluded.total,
			employee = excluded.employee,
			contractor = excluded.contractor,
			updated_at = excluded.updated_at
	`, h.Year, h.Total, h.Employee, h.Contractor, s.now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save working hours: %w", err)
	}
	return nil
}

func (s *Store) WorkingHours(ctx context.Context, year int) (generic.WorkingHours, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := generic.WorkingHours{Year: year}
	err := s.db.QueryRowContext(ctx,
		`SELECT total, employee, contractor FROM working_hours WHERE year = ?`, year,
	).Scan(&h.Total, &h.Employee, &h.Contractor)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.WorkingHours{}, false, nil
	}
	if err != nil {
		return generic.WorkingHours{}, false, fmt.Errorf("failed to read working hours: %w", err)
	}
	return h, true, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios only).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"victims", "accidents", "sequence_overrides", "sequence_counters", "working_hours"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
