// Package memory provides an in-memory dicose.TxStore for tests and dev runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps every table in maps guarded by one RWMutex. Reads outside a
// transaction take the read lock; WithTx holds the write lock for the whole
// unit of work, so transactions are serialized.
type Store struct {
	mu sync.RWMutex
	t  *tables
}

type subjectKey struct {
	Scope dicose.Scope
	ID    string
}

type balanceKey struct {
	SheetID    ledger.SheetID
	CategoryID ledger.CategoryID
}

type tables struct {
	sheets      map[ledger.SheetID]ledger.Sheet
	entries     []ledger.Entry
	entryIdx    map[ledger.EntryID]int
	balances    map[balanceKey]ledger.CategoryBalance
	audit       []ledger.AuditEntry
	events      []dicose.Event
	eventIdx    map[dicose.EventID]int
	guides      map[dicose.GuideKey]dicose.Guide
	premises    map[string]dicose.Premise
	subjects    map[subjectKey]dicose.Subject
	withdrawals map[string][]dicose.Withdrawal
	violations  []dicose.ComplianceViolation
	violIdx     map[string]int
}

func newTables() *tables {
	return &tables{
		sheets:      make(map[ledger.SheetID]ledger.Sheet),
		entryIdx:    make(map[ledger.EntryID]int),
		balances:    make(map[balanceKey]ledger.CategoryBalance),
		eventIdx:    make(map[dicose.EventID]int),
		guides:      make(map[dicose.GuideKey]dicose.Guide),
		premises:    make(map[string]dicose.Premise),
		subjects:    make(map[subjectKey]dicose.Subject),
		withdrawals: make(map[string][]dicose.Withdrawal),
		violIdx:     make(map[string]int),
	}
}

func New() *Store {
	return &Store{t: newTables()}
}

// Reset clears all data.
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = newTables()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(dicose.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.t.clone()
	if err := fn(&view{t: m.t}); err != nil {
		m.t = snapshot
		return err
	}
	return nil
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.sheets {
		c.sheets[k] = v
	}
	c.entries = append([]ledger.Entry{}, t.entries...)
	for k, v := range t.entryIdx {
		c.entryIdx[k] = v
	}
	for k, v := range t.balances {
		c.balances[k] = v
	}
	c.audit = append([]ledger.AuditEntry{}, t.audit...)
	c.events = append([]dicose.Event{}, t.events...)
	for k, v := range t.eventIdx {
		c.eventIdx[k] = v
	}
	for k, v := range t.guides {
		c.guides[k] = v
	}
	for k, v := range t.premises {
		c.premises[k] = v
	}
	for k, v := range t.subjects {
		c.subjects[k] = v
	}
	for k, v := range t.withdrawals {
		c.withdrawals[k] = append([]dicose.Withdrawal{}, v...)
	}
	c.violations = append([]dicose.ComplianceViolation{}, t.violations...)
	for k, v := range t.violIdx {
		c.violIdx[k] = v
	}
	return c
}

// read runs fn against the current tables under the read lock.
func (m *Store) read(fn func(v *view)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&view{t: m.t})
}

// write runs fn against the current tables under the write lock. Single
// statements outside WithTx need no rollback.
func (m *Store) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{t: m.t})
}

// =============================================================================
// LOCKED ACCESSORS - Store methods used outside WithTx
// =============================================================================

func (m *Store) CreateSheet(ctx context.Context, s ledger.Sheet) error {
	return m.write(func(v *view) error { return v.CreateSheet(ctx, s) })
}

func (m *Store) GetSheet(ctx context.Context, id ledger.SheetID) (out *ledger.Sheet, err error) {
	m.read(func(v *view) { out, err = v.GetSheet(ctx, id) })
	return
}

func (m *Store) FindOpenSheet(ctx context.Context, key ledger.SheetKey) (out *ledger.Sheet, err error) {
	m.read(func(v *view) { out, err = v.FindOpenSheet(ctx, key) })
	return
}

func (m *Store) ListSheets(ctx context.Context, key ledger.SheetKey) (out []ledger.Sheet, err error) {
	m.read(func(v *view) { out, err = v.ListSheets(ctx, key) })
	return
}

func (m *Store) MarkSheetClosed(ctx context.Context, id ledger.SheetID, closedBy string, at time.Time) error {
	return m.write(func(v *view) error { return v.MarkSheetClosed(ctx, id, closedBy, at) })
}

func (m *Store) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return m.write(func(v *view) error { return v.AppendEntry(ctx, e) })
}

func (m *Store) GetEntry(ctx context.Context, id ledger.EntryID) (out *ledger.Entry, err error) {
	m.read(func(v *view) { out, err = v.GetEntry(ctx, id) })
	return
}

func (m *Store) ListEntries(ctx context.Context, sheetID ledger.SheetID) (out []ledger.Entry, err error) {
	m.read(func(v *view) { out, err = v.ListEntries(ctx, sheetID) })
	return
}

func (m *Store) MarkEntryVoided(ctx context.Context, id ledger.EntryID, reason, voidedBy string, at time.Time) error {
	return m.write(func(v *view) error { return v.MarkEntryVoided(ctx, id, reason, voidedBy, at) })
}

func (m *Store) SaveBalances(ctx context.Context, balances []ledger.CategoryBalance) error {
	return m.WithTx(ctx, func(s dicose.Store) error { return s.SaveBalances(ctx, balances) })
}

func (m *Store) ListBalances(ctx context.Context, sheetID ledger.SheetID) (out []ledger.CategoryBalance, err error) {
	m.read(func(v *view) { out, err = v.ListBalances(ctx, sheetID) })
	return
}

func (m *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	return m.write(func(v *view) error { return v.AppendAudit(ctx, e) })
}

func (m *Store) QueryAudit(ctx context.Context, f ledger.AuditFilter) (out []ledger.AuditEntry, err error) {
	m.read(func(v *view) { out, err = v.QueryAudit(ctx, f) })
	return
}

func (m *Store) CreateEvent(ctx context.Context, e dicose.Event) error {
	return m.write(func(v *view) error { return v.CreateEvent(ctx, e) })
}

func (m *Store) GetEvent(ctx context.Context, id dicose.EventID) (out *dicose.Event, err error) {
	m.read(func(v *view) { out, err = v.GetEvent(ctx, id) })
	return
}

func (m *Store) TransitionEvent(ctx context.Context, e dicose.Event) error {
	return m.write(func(v *view) error { return v.TransitionEvent(ctx, e) })
}

func (m *Store) ListEventsByGuide(ctx context.Context, key dicose.GuideKey) (out []dicose.Event, err error) {
	m.read(func(v *view) { out, err = v.ListEventsByGuide(ctx, key) })
	return
}

func (m *Store) ListEventsByStatus(ctx context.Context, status dicose.EventStatus) (out []dicose.Event, err error) {
	m.read(func(v *view) { out, err = v.ListEventsByStatus(ctx, status) })
	return
}

func (m *Store) GetGuide(ctx context.Context, key dicose.GuideKey) (out *dicose.Guide, err error) {
	m.read(func(v *view) { out, err = v.GetGuide(ctx, key) })
	return
}

func (m *Store) InsertGuide(ctx context.Context, g dicose.Guide) error {
	return m.write(func(v *view) error { return v.InsertGuide(ctx, g) })
}

func (m *Store) SavePremise(ctx context.Context, p dicose.Premise) error {
	return m.write(func(v *view) error { return v.SavePremise(ctx, p) })
}

func (m *Store) GetPremise(ctx context.Context, id string) (out *dicose.Premise, err error) {
	m.read(func(v *view) { out, err = v.GetPremise(ctx, id) })
	return
}

func (m *Store) SaveSubject(ctx context.Context, s dicose.Subject) error {
	return m.write(func(v *view) error { return v.SaveSubject(ctx, s) })
}

func (m *Store) GetSubject(ctx context.Context, scope dicose.Scope, id string) (out *dicose.Subject, err error) {
	m.read(func(v *view) { out, err = v.GetSubject(ctx, scope, id) })
	return
}

func (m *Store) SaveWithdrawal(ctx context.Context, w dicose.Withdrawal) error {
	return m.write(func(v *view) error { return v.SaveWithdrawal(ctx, w) })
}

func (m *Store) ListWithdrawals(ctx context.Context, subjectID string) (out []dicose.Withdrawal, err error) {
	m.read(func(v *view) { out, err = v.ListWithdrawals(ctx, subjectID) })
	return
}

func (m *Store) SaveViolation(ctx context.Context, cv dicose.ComplianceViolation) error {
	return m.write(func(v *view) error { return v.SaveViolation(ctx, cv) })
}

func (m *Store) ListViolations(ctx context.Context, openOnly bool) (out []dicose.ComplianceViolation, err error) {
	m.read(func(v *view) { out, err = v.ListViolations(ctx, openOnly) })
	return
}

func (m *Store) ResolveViolation(ctx context.Context, id string, at time.Time) error {
	return m.write(func(v *view) error { return v.ResolveViolation(ctx, id, at) })
}

// =============================================================================
// VIEW - Unlocked table access, used inside WithTx
// =============================================================================

type view struct {
	t *tables
}

func (v *view) CreateSheet(_ context.Context, s ledger.Sheet) error {
	if _, ok := v.t.sheets[s.ID]; ok {
		return fmt.Errorf("sheet %s already exists", s.ID)
	}
	v.t.sheets[s.ID] = s
	return nil
}

func (v *view) GetSheet(_ context.Context, id ledger.SheetID) (*ledger.Sheet, error) {
	s, ok := v.t.sheets[id]
	if !ok {
		return nil, ledger.ErrSheetNotFound
	}
	return &s, nil
}

func (v *view) FindOpenSheet(_ context.Context, key ledger.SheetKey) (*ledger.Sheet, error) {
	for _, s := range v.t.sheets {
		if s.Key() == key && s.IsOpen() {
			return &s, nil
		}
	}
	return nil, nil
}

func (v *view) ListSheets(_ context.Context, key ledger.SheetKey) ([]ledger.Sheet, error) {
	var out []ledger.Sheet
	for _, s := range v.t.sheets {
		if s.Key() == key {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out, nil
}

func (v *view) MarkSheetClosed(_ context.Context, id ledger.SheetID, closedBy string, at time.Time) error {
	s, ok := v.t.sheets[id]
	if !ok {
		return ledger.ErrSheetNotFound
	}
	s.Status = ledger.SheetClosed
	s.ClosedBy = closedBy
	s.ClosedAt = &at
	v.t.sheets[id] = s
	return nil
}

func (v *view) AppendEntry(_ context.Context, e ledger.Entry) error {
	if _, ok := v.t.sheets[e.SheetID]; !ok {
		return ledger.ErrSheetNotFound
	}
	if _, ok := v.t.entryIdx[e.ID]; ok {
		return fmt.Errorf("entry %s already exists", e.ID)
	}
	e.Lines = append([]ledger.Line(nil), e.Lines...)
	v.t.entryIdx[e.ID] = len(v.t.entries)
	v.t.entries = append(v.t.entries, e)
	return nil
}

func (v *view) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	i, ok := v.t.entryIdx[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	e := v.t.entries[i]
	e.Lines = append([]ledger.Line(nil), e.Lines...)
	return &e, nil
}

func (v *view) ListEntries(_ context.Context, sheetID ledger.SheetID) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range v.t.entries {
		if e.SheetID == sheetID {
			e.Lines = append([]ledger.Line(nil), e.Lines...)
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntryDate.Before(out[j].EntryDate) })
	return out, nil
}

func (v *view) MarkEntryVoided(_ context.Context, id ledger.EntryID, reason, voidedBy string, at time.Time) error {
	i, ok := v.t.entryIdx[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	e := v.t.entries[i]
	e.Voided = true
	e.VoidReason = reason
	e.VoidedBy = voidedBy
	e.VoidedAt = &at
	v.t.entries[i] = e
	return nil
}

func (v *view) SaveBalances(_ context.Context, balances []ledger.CategoryBalance) error {
	for _, b := range balances {
		k := balanceKey{SheetID: b.SheetID, CategoryID: b.CategoryID}
		if _, ok := v.t.balances[k]; ok {
			return fmt.Errorf("balance for sheet %s category %s already exists", b.SheetID, b.CategoryID)
		}
		v.t.balances[k] = b
	}
	return nil
}

func (v *view) ListBalances(_ context.Context, sheetID ledger.SheetID) ([]ledger.CategoryBalance, error) {
	var out []ledger.CategoryBalance
	for k, b := range v.t.balances {
		if k.SheetID == sheetID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out, nil
}

func (v *view) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	v.t.audit = append(v.t.audit, e)
	return nil
}

func (v *view) QueryAudit(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for _, e := range v.t.audit {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) CreateEvent(_ context.Context, e dicose.Event) error {
	if _, ok := v.t.eventIdx[e.ID]; ok {
		return &ledger.ConflictError{Op: "create_event", Ref: string(e.ID), Err: dicose.ErrEventExists}
	}
	v.t.eventIdx[e.ID] = len(v.t.events)
	v.t.events = append(v.t.events, e)
	return nil
}

func (v *view) GetEvent(_ context.Context, id dicose.EventID) (*dicose.Event, error) {
	i, ok := v.t.eventIdx[id]
	if !ok {
		return nil, dicose.ErrEventNotFound
	}
	e := v.t.events[i]
	return &e, nil
}

func (v *view) TransitionEvent(_ context.Context, e dicose.Event) error {
	i, ok := v.t.eventIdx[e.ID]
	if !ok {
		return dicose.ErrEventNotFound
	}
	if v.t.events[i].Status != dicose.StatusPending {
		return &ledger.ConflictError{Op: "transition_event", Ref: string(e.ID), Err: dicose.ErrEventNotPending}
	}
	v.t.events[i] = e
	return nil
}

func (v *view) ListEventsByGuide(_ context.Context, key dicose.GuideKey) ([]dicose.Event, error) {
	var out []dicose.Event
	for _, e := range v.t.events {
		if e.HasGuide() && e.GuideKey() == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) ListEventsByStatus(_ context.Context, status dicose.EventStatus) ([]dicose.Event, error) {
	var out []dicose.Event
	for _, e := range v.t.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) GetGuide(_ context.Context, key dicose.GuideKey) (*dicose.Guide, error) {
	g, ok := v.t.guides[key]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (v *view) InsertGuide(_ context.Context, g dicose.Guide) error {
	if _, ok := v.t.guides[g.Key()]; !ok {
		v.t.guides[g.Key()] = g
	}
	return nil
}

func (v *view) SavePremise(_ context.Context, p dicose.Premise) error {
	v.t.premises[p.ID] = p
	return nil
}

func (v *view) GetPremise(_ context.Context, id string) (*dicose.Premise, error) {
	p, ok := v.t.premises[id]
	if !ok {
		return nil, dicose.ErrPremiseNotFound
	}
	return &p, nil
}

func (v *view) SaveSubject(_ context.Context, s dicose.Subject) error {
	v.t.subjects[subjectKey{Scope: s.Scope, ID: s.ID}] = s
	return nil
}

func (v *view) GetSubject(_ context.Context, scope dicose.Scope, id string) (*dicose.Subject, error) {
	s, ok := v.t.subjects[subjectKey{Scope: scope, ID: id}]
	if !ok {
		return nil, dicose.ErrSubjectNotFound
	}
	return &s, nil
}

func (v *view) SaveWithdrawal(_ context.Context, w dicose.Withdrawal) error {
	v.t.withdrawals[w.SubjectID] = append(v.t.withdrawals[w.SubjectID], w)
	return nil
}

func (v *view) ListWithdrawals(_ context.Context, subjectID string) ([]dicose.Withdrawal, error) {
	return append([]dicose.Withdrawal(nil), v.t.withdrawals[subjectID]...), nil
}

func (v *view) SaveViolation(_ context.Context, cv dicose.ComplianceViolation) error {
	for _, existing := range v.t.violations {
		if existing.Type == cv.Type && existing.EventID == cv.EventID {
			return nil
		}
	}
	v.t.violIdx[cv.ID] = len(v.t.violations)
	v.t.violations = append(v.t.violations, cv)
	return nil
}

func (v *view) ListViolations(_ context.Context, openOnly bool) ([]dicose.ComplianceViolation, error) {
	var out []dicose.ComplianceViolation
	for _, cv := range v.t.violations {
		if openOnly && !cv.Open() {
			continue
		}
		out = append(out, cv)
	}
	return out, nil
}

func (v *view) ResolveViolation(_ context.Context, id string, at time.Time) error {
	i, ok := v.t.violIdx[id]
	if !ok {
		return dicose.ErrViolationNotFound
	}
	if v.t.violations[i].ResolvedAt == nil {
		v.t.violations[i].ResolvedAt = &at
	}
	return nil
}

var (
	_ dicose.TxStore = (*Store)(nil)
	_ dicose.Store   = (*view)(nil)
)
