/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements dicose.TxStore (and through it ledger.TxStore) on SQLite. Every
  query is written once against a querier, so the same code runs on the
  connection pool and inside a *sql.Tx.

INTERFACES IMPLEMENTED:
  ledger.Store:   Sheets, entries + lines, balances, audit log
  dicose.Store:   Events, guides, premises, subjects, withdrawals, violations
  dicose.TxStore: WithTx over a real database transaction

APPEND-ONLY ENFORCEMENT:
  - ledger_entries: only the void columns are ever updated
  - ledger_entry_lines, category_balances, audit_log: insert only
  - events: only the status transition columns are updated, and only
    while status = 'PENDING'

KEY TABLES:
  events, guides, ledger_sheets, ledger_entries, ledger_entry_lines,
  category_balances, compliance_violations
  Supporting: premises, subjects, withdrawal_periods, audit_log

INDEXES:
  - idx_one_open_sheet: At most one OPEN sheet per (premise, type)
  - idx_events_guide: Duplicate-guide and mirror lookups
  - idx_violations_type_event: Detector idempotency

CONCURRENCY:
  SQLite allows one writer. The pool is capped at one connection and WithTx
  additionally holds the store mutex, so transactions are serialized.

USAGE:
  store, err := sqlite.New("./data/contralor.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := dicose.NewEngine(store, dicose.Options{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go, dicose/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
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

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/contralor/dicose"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

// querier is the subset of *sql.DB and *sql.Tx the store uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds every query; Store runs it on the pool, WithTx on a *sql.Tx.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite has
	// a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
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
	-- Ledger sheets (period containers)
	CREATE TABLE IF NOT EXISTS ledger_sheets (
		id TEXT PRIMARY KEY,
		premise_id TEXT NOT NULL,
		type_code TEXT NOT NULL,
		registration_number TEXT,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
		opened_by TEXT,
		created_at TEXT NOT NULL,
		closed_by TEXT,
		closed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sheets_key
		ON ledger_sheets(premise_id, type_code, period_start);

	-- At most one OPEN sheet per premise and species group
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_sheet
		ON ledger_sheets(premise_id, type_code) WHERE status = 'OPEN';

	-- Ledger entries (append-only; void columns are the only update)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		sheet_id TEXT NOT NULL REFERENCES ledger_sheets(id),
		source_event_id TEXT,
		entry_date TEXT NOT NULL,
		operation TEXT NOT NULL,
		guide_series TEXT,
		guide_number TEXT,
		voided INTEGER NOT NULL DEFAULT 0,
		void_reason TEXT,
		voided_by TEXT,
		voided_at TEXT,
		corrected_entry_id TEXT REFERENCES ledger_entries(id),
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_sheet_date
		ON ledger_entries(sheet_id, entry_date);
	CREATE INDEX IF NOT EXISTS idx_entries_corrected
		ON ledger_entries(corrected_entry_id) WHERE corrected_entry_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS ledger_entry_lines (
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		line_no INTEGER NOT NULL,
		category_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('IN', 'OUT')),
		heads INTEGER NOT NULL CHECK (heads > 0),
		PRIMARY KEY (entry_id, line_no)
	);

	-- Closing snapshots; written once per (sheet, category)
	CREATE TABLE IF NOT EXISTS category_balances (
		sheet_id TEXT NOT NULL REFERENCES ledger_sheets(id),
		category_id TEXT NOT NULL,
		initial_heads INTEGER NOT NULL,
		total_in INTEGER NOT NULL,
		total_out INTEGER NOT NULL,
		final_heads INTEGER NOT NULL,
		PRIMARY KEY (sheet_id, category_id),
		CHECK (final_heads = initial_heads + total_in - total_out)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		premise_id TEXT,
		subject TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_premise_ts
		ON audit_log(premise_id, ts);

	-- Events
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		firm_id TEXT,
		premise_id TEXT NOT NULL,
		type TEXT NOT NULL,
		scope TEXT,
		species TEXT,
		animal_id TEXT,
		herd_id TEXT,
		heads INTEGER NOT NULL DEFAULT 0,
		heads_to INTEGER NOT NULL DEFAULT 0,
		kilograms TEXT,
		category_id TEXT,
		category_from TEXT,
		category_to TEXT,
		guide_series TEXT,
		guide_number TEXT,
		counterpart_registration TEXT,
		withdrawal_days INTEGER NOT NULL DEFAULT 0,
		event_date TEXT,
		notes TEXT,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		mirror_event_id TEXT,
		entry_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_guide
		ON events(guide_series, guide_number) WHERE guide_series IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_events_status
		ON events(status, created_at);

	-- Guides
	CREATE TABLE IF NOT EXISTS guides (
		series TEXT NOT NULL,
		number TEXT NOT NULL,
		species TEXT,
		status TEXT NOT NULL,
		origin_registration TEXT,
		destination_registration TEXT,
		registered_by_event TEXT,
		registered_at TEXT NOT NULL,
		PRIMARY KEY (series, number)
	);

	-- Reference data
	CREATE TABLE IF NOT EXISTS premises (
		id TEXT PRIMARY KEY,
		firm_id TEXT,
		name TEXT,
		registration_number TEXT
	);

	CREATE TABLE IF NOT EXISTS subjects (
		scope TEXT NOT NULL,
		id TEXT NOT NULL,
		premise_id TEXT,
		species TEXT,
		category_id TEXT,
		PRIMARY KEY (scope, id)
	);

	CREATE TABLE IF NOT EXISTS withdrawal_periods (
		subject_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		from_date TEXT NOT NULL,
		until_date TEXT NOT NULL,
		PRIMARY KEY (subject_id, event_id)
	);

	-- Compliance violations
	CREATE TABLE IF NOT EXISTS compliance_violations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		premise_id TEXT,
		event_id TEXT,
		subject_id TEXT,
		days_exceeded INTEGER NOT NULL DEFAULT 0,
		description TEXT,
		detected_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_violations_type_event
		ON compliance_violations(type, event_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (dicose.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store dicose.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: conn{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	conn
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"ledger_entry_lines", "category_balances", "ledger_entries", "ledger_sheets",
		"audit_log", "compliance_violations", "withdrawal_periods", "guides",
		"events", "subjects", "premises",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var (
	_ dicose.TxStore = (*Store)(nil)
	_ dicose.Store   = (*txStore)(nil)
)
