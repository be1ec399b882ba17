/*
Package ledger provides the head-count reconciliation ledger.

PURPOSE:
  This package contains the regulator-agnostic pieces of the internal-control
  register: period sheets, entries with typed lines, balance computation,
  period closing, and the void/correction amendment chain. It has NO knowledge
  of which livestock events produce which lines; the dicose package owns that
  mapping and hands finished entries to this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Sheet: A period container for one premise and one sheet type (species group)
  - Entry: One approved event's footprint inside a sheet
  - Line: A category/direction/heads movement within an entry
  - CategoryBalance: Frozen per-category result written when a sheet closes

DESIGN PRINCIPLES:
  1. Append-only: Entries are never edited, only voided and superseded
  2. Reconciliation: final = initial + in - out, for every category, always
  3. Explicit scope: premise and actor identifiers are always parameters

SEE ALSO:
  - balance.go: Balance computation from entries
  - period.go: Opening and closing sheets
  - correction.go: Voids and corrective entries
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SheetID string
type EntryID string
type CategoryID string

// SheetKey identifies the lock and "one OPEN sheet" scope.
type SheetKey struct {
	PremiseID string
	TypeCode  string
}

func (k SheetKey) String() string { return k.PremiseID + "/" + k.TypeCode }

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive date range [Start, End], day granularity.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Valid() bool { return !p.Start.IsZero() && !DayOf(p.End).Before(DayOf(p.Start)) }

func (p Period) Contains(t time.Time) bool {
	d := DayOf(t)
	return !d.Before(DayOf(p.Start)) && !d.After(DayOf(p.End))
}

func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}

// =============================================================================
// SHEET - Period container
// =============================================================================

type SheetStatus string

const (
	SheetOpen   SheetStatus = "OPEN"
	SheetClosed SheetStatus = "CLOSED"
)

type Sheet struct {
	ID                 SheetID
	PremiseID          string
	TypeCode           string // species group sheet code
	RegistrationNumber string // DICOSE number of the premise
	Period             Period
	Status             SheetStatus

	OpenedBy  string
	CreatedAt time.Time
	ClosedBy  string
	ClosedAt  *time.Time
}

func (s Sheet) Key() SheetKey { return SheetKey{PremiseID: s.PremiseID, TypeCode: s.TypeCode} }
func (s Sheet) IsOpen() bool  { return s.Status == SheetOpen }

// =============================================================================
// ENTRY & LINES
// =============================================================================

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

type Line struct {
	CategoryID CategoryID
	Direction  Direction
	Heads      int
}

type Entry struct {
	ID            EntryID
	SheetID       SheetID
	SourceEventID string
	EntryDate     time.Time
	Operation     string
	GuideSeries   string
	GuideNumber   string
	Lines         []Line

	Voided     bool
	VoidReason string
	VoidedBy   string
	VoidedAt   *time.Time

	// Set on corrective entries; points at the entry this one supersedes.
	CorrectedEntryID *EntryID

	CreatedBy string
	CreatedAt time.Time
}

// Totals returns the IN and OUT head sums of the entry's lines.
func (e Entry) Totals() (in, out int) {
	for _, l := range e.Lines {
		switch l.Direction {
		case DirectionIn:
			in += l.Heads
		case DirectionOut:
			out += l.Heads
		}
	}
	return in, out
}

// IsTransfer reports whether the entry moves heads between categories
// (both directions present and net zero), as CATEGORY_CHANGE entries do.
func (e Entry) IsTransfer() bool {
	in, out := e.Totals()
	return in > 0 && out > 0 && in == out
}

func cloneLines(lines []Line) []Line {
	if lines == nil {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// =============================================================================
// CATEGORY BALANCE - Frozen at close
// =============================================================================

type CategoryBalance struct {
	SheetID    SheetID
	CategoryID CategoryID
	Initial    int
	TotalIn    int
	TotalOut   int
	Final      int
}

// Reconciles reports whether final = initial + in - out.
func (b CategoryBalance) Reconciles() bool {
	return b.Final == b.Initial+b.TotalIn-b.TotalOut
}

// =============================================================================
// CATEGORY CATALOG
// =============================================================================

type Category struct {
	ID      CategoryID
	Species string
	Name    string
	Order   int
}

// CategoryCatalog is the read-only category reference.
type CategoryCatalog interface {
	Lookup(id CategoryID) (Category, bool)
}

// SheetCatalog also knows which species each sheet type books.
type SheetCatalog interface {
	CategoryCatalog
	SheetSpecies(typeCode string) (string, bool)
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

const DateLayout = "2006-01-02"

// DayOf truncates t to its calendar day in t's own location, returned as UTC midnight.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole calendar days from -> to.
func DaysBetween(from, to time.Time) int {
	return int(DayOf(to).Sub(DayOf(from)).Hours() / 24)
}

func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
