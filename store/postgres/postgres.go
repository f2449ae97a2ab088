/*
Package postgres provides a PostgreSQL-backed generic.Store for deployments
running more than one server instance against the same database.

ATOMIC INCREMENT:
  Next is one statement; the row lock taken by ON CONFLICT serializes
  concurrent callers across processes:

    INSERT ... VALUES (..., 1)
    ON CONFLICT (...) DO UPDATE SET seq = seq + 1
    WHERE sequence_counters.seq < 999
    RETURNING seq

OVERRIDES:
  Override runs in a transaction holding SELECT ... FOR UPDATE on the
  counter row. When the row does not exist yet there is nothing to lock, so
  the final upsert only applies if the stored value is still <= the new
  one; otherwise the override fails and the caller retries.

SCHEMA:
  Versioned migrations in migrations/, applied by Migrate.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/sequence"
)

// Store implements generic.Store on PostgreSQL.
type Store struct {
	db  *sql.DB
	now generic.Clock
}

var _ generic.Store = (*Store)(nil)

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: generic.SystemClock}
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SetClock replaces the timestamp source for audit rows.
func (s *Store) SetClock(now generic.Clock) { s.now = now }

// =============================================================================
// COUNTERS
// =============================================================================

const nextSeqQuery = `INSERT INTO sequence_counters (scope, company_code, site_code, year, seq, updated_at)
VALUES ($1, $2, $3, $4, 1, $5)
ON CONFLICT (scope, company_code, site_code, year)
DO UPDATE SET seq = sequence_counters.seq + 1, updated_at = EXCLUDED.updated_at
WHERE sequence_counters.seq < $6
RETURNING seq`

// Next atomically increments the counter for key.
func (s *Store) Next(ctx context.Context, key generic.CounterKey) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, nextSeqQuery,
		string(key.Scope), key.CompanyCode, key.SiteCode, key.Year, s.now(), generic.MaxSeq,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &generic.SequenceExhaustedError{Key: key, Max: generic.MaxSeq}
	}
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return seq, nil
}

const currentSeqQuery = `SELECT seq FROM sequence_counters WHERE scope = $1 AND company_code = $2 AND site_code = $3 AND year = $4`

// Current returns the counter value for key.
func (s *Store) Current(ctx context.Context, key generic.CounterKey) (int, bool, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, currentSeqQuery,
		string(key.Scope), key.CompanyCode, key.SiteCode, key.Year,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read counter %s: %w", key, err)
	}
	return seq, true, nil
}

const setSeqQuery = `INSERT INTO sequence_counters (scope, company_code, site_code, year, seq, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (scope, company_code, site_code, year)
DO UPDATE SET seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
WHERE sequence_counters.seq <= EXCLUDED.seq
RETURNING seq`

const insertOverrideQuery = `INSERT INTO sequence_overrides
(id, scope, company_code, site_code, year, old_seq, new_seq, actor, reason, applied_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Override applies req.Apply while holding the counter row lock.
func (s *Store) Override(ctx context.Context, req generic.OverrideRequest) (generic.ManualOverride, error) {
	key := req.Key

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("begin override: %w", err)
	}
	defer tx.Rollback()

	var cur int
	err = tx.QueryRowContext(ctx, currentSeqQuery+" FOR UPDATE",
		string(key.Scope), key.CompanyCode, key.SiteCode, key.Year,
	).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return generic.ManualOverride{}, fmt.Errorf("lock counter %s: %w", key, err)
	}

	maxIssued, err := maxIssuedSeq(ctx, tx, key)
	if err != nil {
		return generic.ManualOverride{}, err
	}

	next, err := req.Apply(cur, maxIssued)
	if err != nil {
		return generic.ManualOverride{}, err
	}

	now := s.now()
	var stored int
	err = tx.QueryRowContext(ctx, setSeqQuery,
		string(key.Scope), key.CompanyCode, key.SiteCode, key.Year, next, now,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.ManualOverride{}, &generic.InvalidSequenceError{
			Key: key, Requested: next, Min: next + 1, Max: generic.MaxSeq,
			Reason: "counter advanced concurrently",
		}
	}
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("set counter %s: %w", key, err)
	}

	o := generic.ManualOverride{
		ID:        uuid.NewString(),
		Key:       key,
		OldSeq:    cur,
		NewSeq:    stored,
		Actor:     req.Actor,
		Reason:    req.Reason,
		AppliedAt: now,
	}
	_, err = tx.ExecContext(ctx, insertOverrideQuery,
		o.ID, string(key.Scope), key.CompanyCode, key.SiteCode, key.Year,
		o.OldSeq, o.NewSeq, nullString(o.Actor), nullString(o.Reason), o.AppliedAt,
	)
	if err != nil {
		return generic.ManualOverride{}, fmt.Errorf("record override: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return generic.ManualOverride{}, fmt.Errorf("commit override: %w", err)
	}
	return o, nil
}

const listOverridesQuery = `SELECT id, old_seq, new_seq, actor, reason, applied_at FROM sequence_overrides
WHERE scope = $1 AND company_code = $2 AND site_code = $3 AND year = $4
ORDER BY applied_at ASC, position ASC`

// Overrides returns the audit entries for key, oldest first.
func (s *Store) Overrides(ctx context.Context, key generic.CounterKey) ([]generic.ManualOverride, error) {
	rows, err := s.db.QueryContext(ctx, listOverridesQuery,
		string(key.Scope), key.CompanyCode, key.SiteCode, key.Year)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var result []generic.ManualOverride
	for rows.Next() {
		var (
			o      generic.ManualOverride
			actor  sql.NullString
			reason sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.OldSeq, &o.NewSeq, &actor, &reason, &o.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.Key = key
		o.Actor = actor.String
		o.Reason = reason.String
		result = append(result, o)
	}
	return result, rows.Err()
}

const issuedCodesQuery = `SELECT id, global_id FROM accidents WHERE company_code = $1 AND year = $2`

func maxIssuedSeq(ctx context.Context, tx *sql.Tx, key generic.CounterKey) (int, error) {
	query := issuedCodesQuery
	args := []any{key.CompanyCode, key.Year}
	if key.Scope == generic.ScopeSite {
		query += " AND site_code = $3"
		args = append(args, key.SiteCode)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query issued codes: %w", err)
	}
	defer rows.Close()

	maxSeq := 0
	for rows.Next() {
		var id, globalID string
		if err := rows.Scan(&id, &globalID); err != nil {
			return 0, fmt.Errorf("scan issued code: %w", err)
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
// ACCIDENTS
// =============================================================================

const upsertAccidentQuery = `INSERT INTO accidents
(id, global_id, company_code, site_code, year, is_contractor, occurred_at, direct_damage_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
global_id = EXCLUDED.global_id, company_code = EXCLUDED.company_code, site_code = EXCLUDED.site_code,
year = EXCLUDED.year, is_contractor = EXCLUDED.is_contractor, occurred_at = EXCLUDED.occurred_at,
direct_damage_cost = EXCLUDED.direct_damage_cost`

const insertVictimQuery = `INSERT INTO victims (accident_id, injury_label, injury_category, loss_days, employee_type)
VALUES ($1, $2, $3, $4, $5)`

// SaveAccident inserts rec or replaces it (and its victims) by ID.
func (s *Store) SaveAccident(ctx context.Context, rec generic.AccidentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save accident: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, upsertAccidentQuery,
		rec.ID, rec.GlobalID, rec.CompanyCode, rec.SiteCode, rec.Year,
		rec.IsContractor, rec.OccurredAt.UTC(), rec.DirectDamageCost,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &generic.InputError{Field: "global_id", Reason: fmt.Sprintf("%s already used by another report", rec.GlobalID)}
		}
		return fmt.Errorf("save accident: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM victims WHERE accident_id = $1`, rec.ID); err != nil {
		return fmt.Errorf("replace victims: %w", err)
	}
	for _, v := range rec.Victims {
		_, err := tx.ExecContext(ctx, insertVictimQuery,
			rec.ID, nullString(v.InjuryLabel), string(v.InjuryCategory), v.LossDays, string(v.EmployeeType))
		if err != nil {
			return fmt.Errorf("save victim: %w", err)
		}
	}

	return tx.Commit()
}

const listAccidentsQuery = `SELECT id, global_id, company_code, site_code, year, is_contractor, occurred_at, direct_damage_cost
FROM accidents WHERE year = $1 ORDER BY id`

const listVictimsQuery = `SELECT v.accident_id, v.injury_label, v.injury_category, v.loss_days, v.employee_type
FROM victims v JOIN accidents a ON a.id = v.accident_id
WHERE a.year = $1 ORDER BY v.id`

// ListAccidents returns every accident of year with its victims.
func (s *Store) ListAccidents(ctx context.Context, year int) ([]generic.AccidentRecord, error) {
	rows, err := s.db.QueryContext(ctx, listAccidentsQuery, year)
	if err != nil {
		return nil, fmt.Errorf("query accidents: %w", err)
	}
	defer rows.Close()

	records := []generic.AccidentRecord{}
	index := map[string]int{}
	for rows.Next() {
		var r generic.AccidentRecord
		if err := rows.Scan(&r.ID, &r.GlobalID, &r.CompanyCode, &r.SiteCode, &r.Year,
			&r.IsContractor, &r.OccurredAt, &r.DirectDamageCost); err != nil {
			return nil, fmt.Errorf("scan accident: %w", err)
		}
		index[r.ID] = len(records)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	vrows, err := s.db.QueryContext(ctx, listVictimsQuery, year)
	if err != nil {
		return nil, fmt.Errorf("query victims: %w", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		var (
			v        generic.VictimRecord
			label    sql.NullString
			category string
			empType  string
		)
		if err := vrows.Scan(&v.AccidentID, &label, &category, &v.LossDays, &empType); err != nil {
			return nil, fmt.Errorf("scan victim: %w", err)
		}
		v.InjuryLabel = label.String
		v.InjuryCategory = generic.InjuryCategory(category)
		v.EmployeeType = generic.EmployeeType(empType)
		if i, ok := index[v.AccidentID]; ok {
			records[i].Victims = append(records[i].Victims, v)
		}
	}
	return records, vrows.Err()
}

// =============================================================================
// WORKING HOURS
// =============================================================================

const upsertHoursQuery = `INSERT INTO working_hours (year, total, employee, contractor, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (year) DO UPDATE SET
total = EXCLUDED.total, employee = EXCLUDED.employee, contractor = EXCLUDED.contractor, updated_at = EXCLUDED.updated_at`

func (s *Store) SaveWorkingHours(ctx context.Context, h generic.WorkingHours) error {
	_, err := s.db.ExecContext(ctx, upsertHoursQuery, h.Year, h.Total, h.Employee, h.Contractor, s.now())
	if err != nil {
		return fmt.Errorf("save working hours: %w", err)
	}
	return nil
}

const hoursQuery = `SELECT total, employee, contractor FROM working_hours WHERE year = $1`

func (s *Store) WorkingHours(ctx context.Context, year int) (generic.WorkingHours, bool, error) {
	h := generic.WorkingHours{Year: year}
	err := s.db.QueryRowContext(ctx, hoursQuery, year).Scan(&h.Total, &h.Employee, &h.Contractor)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.WorkingHours{}, false, nil
	}
	if err != nil {
		return generic.WorkingHours{}, false, fmt.Errorf("read working hours: %w", err)
	}
	return h, true, nil
}

// Reset clears all data (for demo scenarios only).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`TRUNCATE victims, accidents, sequence_overrides, sequence_counters, working_hours`)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
