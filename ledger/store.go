/*
store.go - Persistence interface for sheets, entries, balances and audit

PURPOSE:
  Defines the interface between ledger logic and the database.
  Different implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  - Entries and lines are inserted, never rewritten
  - The only entry mutation is MarkEntryVoided (voided flag + void metadata)
  - The only sheet mutation is MarkSheetClosed (OPEN -> CLOSED)
  - Balances are written once, at close
  - NO Delete methods exist

ATOMIC UNITS:
  Close (compute -> persist balances -> flip status) and correction
  (void original -> insert corrective entry) run through TxStore.WithTx.
  Either every write in fn lands or none does.

IMPLEMENTATIONS:
  - store/sqlite: SQLite with real transactions
  - store/memory: In-memory with snapshot rollback, for tests
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of the ledger's logical tables.
type Store interface {
	AuditLog

	CreateSheet(ctx context.Context, sheet Sheet) error
	// GetSheet returns ErrSheetNotFound when missing.
	GetSheet(ctx context.Context, id SheetID) (*Sheet, error)
	// FindOpenSheet returns nil, nil when no sheet is OPEN for the key.
	FindOpenSheet(ctx context.Context, key SheetKey) (*Sheet, error)
	// ListSheets returns all sheets for the key ordered by period start.
	ListSheets(ctx context.Context, key SheetKey) ([]Sheet, error)
	MarkSheetClosed(ctx context.Context, id SheetID, closedBy string, at time.Time) error

	// AppendEntry inserts an entry and its lines. The parent sheet must exist.
	AppendEntry(ctx context.Context, entry Entry) error
	// GetEntry returns ErrEntryNotFound when missing.
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)
	// ListEntries returns every entry of a sheet, voided included, by entry date.
	ListEntries(ctx context.Context, sheetID SheetID) ([]Entry, error)
	MarkEntryVoided(ctx context.Context, id EntryID, reason, voidedBy string, at time.Time) error

	// SaveBalances inserts balances; fails if any (sheet, category) exists.
	SaveBalances(ctx context.Context, balances []CategoryBalance) error
	ListBalances(ctx context.Context, sheetID SheetID) ([]CategoryBalance, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Who did what when
// =============================================================================

type AuditAction string

const (
	AuditEventApproved   AuditAction = "event_approved"
	AuditEventRejected   AuditAction = "event_rejected"
	AuditGuideRegistered AuditAction = "guide_registered"
	AuditEntryVoided     AuditAction = "entry_voided"
	AuditEntryCorrected  AuditAction = "entry_corrected"
	AuditSheetOpened     AuditAction = "sheet_opened"
	AuditSheetClosed     AuditAction = "sheet_closed"
)

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	PremiseID string
	Subject   string // id of the record acted upon
	Payload   map[string]string
}

// AuditLog is append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	PremiseID string
	Subject   string
	ActorID   string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}

// Matches reports whether e passes the filter. Stores share this for
// in-process filtering.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.PremiseID != "" && e.PremiseID != f.PremiseID {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
