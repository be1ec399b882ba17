package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
	"github.com/warp/contralor/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.October, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*dicose.Engine, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	engine := dicose.NewEngine(store, dicose.Options{Now: func() time.Time { return testNow }})
	return engine, store
}

func seed(t *testing.T, e *dicose.Engine) *ledger.Sheet {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Store.SavePremise(ctx, dicose.Premise{ID: "P-001", Name: "Estancia", RegistrationNumber: "210001"}))
	require.NoError(t, e.Store.SaveSubject(ctx, dicose.Subject{
		ID: "H-1", Scope: dicose.ScopeHerd, PremiseID: "P-001", Species: dicose.SpeciesBovine, CategoryID: "BOV-VACAS",
	}))
	sheet, err := e.OpenSheet(ctx, "P-001", dicose.SpeciesBovine, dicose.FiscalPeriod(testNow), "auditor-1")
	require.NoError(t, err)
	return sheet
}

func herdEvent(typ dicose.EventType, heads, age int) dicose.Event {
	return dicose.Event{
		PremiseID: "P-001",
		Type:      typ,
		Scope:     dicose.ScopeHerd,
		Species:   dicose.SpeciesBovine,
		HerdID:    "H-1",
		Heads:     heads,
		EventDate: ledger.DayOf(testNow).AddDate(0, 0, -age),
	}
}

func submitAndApprove(t *testing.T, e *dicose.Engine, ev dicose.Event) *dicose.ApprovalResult {
	t.Helper()
	created, err := e.SubmitEvent(context.Background(), dicose.SubmitEventInput{Event: ev, ActorID: "clerk-1"})
	require.NoError(t, err)
	res, err := e.Approve(context.Background(), created.ID, "auditor-1")
	require.NoError(t, err)
	return res
}

// =============================================================================
// SHEET TESTS
// =============================================================================

func TestSheets_RoundTrip(t *testing.T) {
	engine, store := newTestEngine(t)
	sheet := seed(t, engine)

	got, err := store.GetSheet(context.Background(), sheet.ID)

	require.NoError(t, err)
	assert.Equal(t, sheet.PremiseID, got.PremiseID)
	assert.Equal(t, "BOV", got.TypeCode)
	assert.Equal(t, "210001", got.RegistrationNumber)
	assert.Equal(t, sheet.Period.Start, got.Period.Start)
	assert.Equal(t, sheet.Period.End, got.Period.End)
	assert.Equal(t, ledger.SheetOpen, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestSheets_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSheet(context.Background(), "missing")

	assert.ErrorIs(t, err, ledger.ErrSheetNotFound)
}

func TestSheets_FindOpenSheetNilWhenNone(t *testing.T) {
	store := newTestStore(t)

	got, err := store.FindOpenSheet(context.Background(), ledger.SheetKey{PremiseID: "P-001", TypeCode: "BOV"})

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSheets_OneOpenPerKey(t *testing.T) {
	// GIVEN: An OPEN sheet inserted directly
	store := newTestStore(t)
	ctx := context.Background()
	sheet := ledger.Sheet{
		ID: "S-1", PremiseID: "P-001", TypeCode: "BOV", Status: ledger.SheetOpen,
		Period:    dicose.FiscalPeriod(testNow),
		CreatedAt: testNow,
	}
	require.NoError(t, store.CreateSheet(ctx, sheet))

	// WHEN: Inserting a second OPEN sheet for the same key
	sheet.ID = "S-2"
	err := store.CreateSheet(ctx, sheet)

	// THEN: The unique index refuses it
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSheetAlreadyOpen)
}

// =============================================================================
// ENTRY TESTS
// =============================================================================

func TestEntries_LinesPreserveOrder(t *testing.T) {
	engine, store := newTestEngine(t)
	sheet := seed(t, engine)
	ev := herdEvent(dicose.EventCategoryChange, 3, 1)
	ev.CategoryFrom, ev.CategoryTo = "BOV-VACAS", "BOV-VACAS-INV"

	res := submitAndApprove(t, engine, ev)

	entries, err := store.ListEntries(context.Background(), sheet.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.Entry.ID, entries[0].ID)
	assert.Equal(t, []ledger.Line{
		{CategoryID: "BOV-VACAS", Direction: ledger.DirectionOut, Heads: 3},
		{CategoryID: "BOV-VACAS-INV", Direction: ledger.DirectionIn, Heads: 3},
	}, entries[0].Lines)
	assert.Equal(t, "CAMBIO DE CATEGORIA", entries[0].Operation)
	assert.Equal(t, string(res.Event.ID), entries[0].SourceEventID)
}

func TestEntries_VoidOnce(t *testing.T) {
	engine, store := newTestEngine(t)
	seed(t, engine)
	res := submitAndApprove(t, engine, herdEvent(dicose.EventBirth, 4, 1))
	ctx := context.Background()

	require.NoError(t, store.MarkEntryVoided(ctx, res.Entry.ID, "wrong", "auditor-1", testNow))
	err := store.MarkEntryVoided(ctx, res.Entry.ID, "again", "auditor-1", testNow)

	assert.ErrorIs(t, err, ledger.ErrEntryAlreadyVoided)
	got, err := store.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.True(t, got.Voided)
	assert.Equal(t, "wrong", got.VoidReason)
	require.NotNil(t, got.VoidedAt)
	assert.True(t, testNow.Equal(*got.VoidedAt))
}

func TestEntries_CorrectionChain(t *testing.T) {
	engine, _ := newTestEngine(t)
	sheet := seed(t, engine)
	res := submitAndApprove(t, engine, herdEvent(dicose.EventBirth, 4, 1))

	corrected, err := engine.Corrections.CreateCorrection(context.Background(), res.Entry.ID, ledger.CorrectionInput{
		Lines: []ledger.Line{{CategoryID: "BOV-VACAS", Direction: ledger.DirectionIn, Heads: 3}},
	}, "miscount", "auditor-1")
	require.NoError(t, err)

	chain, err := engine.Corrections.Chain(context.Background(), corrected.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, res.Entry.ID, chain[0].ID)
	assert.True(t, chain[0].Voided)

	balances, err := engine.Periods.Balances(context.Background(), sheet.ID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 3, balances[0].Final)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a premise then fails
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s dicose.Store) error {
		if err := s.SavePremise(ctx, dicose.Premise{ID: "P-TX", RegistrationNumber: "1"}); err != nil {
			return err
		}
		return boom
	})

	// THEN: The error surfaces and nothing was written
	assert.ErrorIs(t, err, boom)
	_, err = store.GetPremise(ctx, "P-TX")
	assert.ErrorIs(t, err, dicose.ErrPremiseNotFound)
}

func TestClose_PersistsBalancesAndStatus(t *testing.T) {
	engine, store := newTestEngine(t)
	sheet := seed(t, engine)
	submitAndApprove(t, engine, herdEvent(dicose.EventBirth, 9, 2))
	submitAndApprove(t, engine, herdEvent(dicose.EventDeath, 1, 1))

	out, err := engine.CloseSheet(context.Background(), sheet.ID, "auditor-1")
	require.NoError(t, err)

	got, err := store.GetSheet(context.Background(), sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SheetClosed, got.Status)
	assert.Equal(t, "auditor-1", got.ClosedBy)

	balances, err := store.ListBalances(context.Background(), sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Balances, balances)
	assert.Equal(t, 8, balances[0].Final)

	_, err = engine.CloseSheet(context.Background(), sheet.ID, "auditor-1")
	assert.ErrorIs(t, err, ledger.ErrSheetClosed)
}

// =============================================================================
// EVENT TESTS
// =============================================================================

func TestEvents_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	kg := decimal.RequireFromString("412.5")
	ev := dicose.Event{
		ID:          "EV-1",
		PremiseID:   "P-001",
		Type:        dicose.EventWeighing,
		Scope:       dicose.ScopeAnimal,
		Species:     dicose.SpeciesBovine,
		AnimalID:    "UY-0001",
		Kilograms:   &kg,
		GuideSeries: "A",
		GuideNumber: "1",
		EventDate:   ledger.NewDate(2025, time.October, 1),
		Notes:       "balanza 2",
		Status:      dicose.StatusPending,
		CreatedBy:   "clerk-1",
		CreatedAt:   testNow,
	}
	require.NoError(t, store.CreateEvent(ctx, ev))

	got, err := store.GetEvent(ctx, "EV-1")

	require.NoError(t, err)
	assert.Equal(t, ev.AnimalID, got.AnimalID)
	require.NotNil(t, got.Kilograms)
	assert.True(t, kg.Equal(*got.Kilograms))
	assert.True(t, ev.EventDate.Equal(got.EventDate))
	assert.Equal(t, "balanza 2", got.Notes)
	assert.Equal(t, dicose.StatusPending, got.Status)

	byGuide, err := store.ListEventsByGuide(ctx, dicose.GuideKey{Series: "A", Number: "1"})
	require.NoError(t, err)
	assert.Len(t, byGuide, 1)

	err = store.CreateEvent(ctx, ev)
	assert.ErrorIs(t, err, dicose.ErrEventExists)
}

func TestEvents_TransitionOnlyFromPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := dicose.Event{ID: "EV-1", PremiseID: "P-001", Type: dicose.EventBirth, Status: dicose.StatusPending, CreatedAt: testNow}
	require.NoError(t, store.CreateEvent(ctx, ev))

	ev.Status = dicose.StatusRejected
	ev.RejectedBy = "auditor-1"
	ev.RejectedAt = &testNow
	require.NoError(t, store.TransitionEvent(ctx, ev))

	ev.Status = dicose.StatusApproved
	err := store.TransitionEvent(ctx, ev)
	assert.ErrorIs(t, err, dicose.ErrEventNotPending)

	err = store.TransitionEvent(ctx, dicose.Event{ID: "missing", Status: dicose.StatusApproved})
	assert.ErrorIs(t, err, dicose.ErrEventNotFound)
}

// =============================================================================
// GUIDE, WITHDRAWAL AND VIOLATION TESTS
// =============================================================================

func TestGuides_InsertKeepsFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := dicose.GuideKey{Series: "B", Number: "42"}

	missing, err := store.GetGuide(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.InsertGuide(ctx, dicose.Guide{Series: "B", Number: "42", Status: dicose.GuideValid, OriginRegistration: "210001", RegisteredAt: testNow}))
	require.NoError(t, store.InsertGuide(ctx, dicose.Guide{Series: "B", Number: "42", Status: dicose.GuideAnnulled, RegisteredAt: testNow}))

	got, err := store.GetGuide(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, dicose.GuideValid, got.Status)
	assert.Equal(t, "210001", got.OriginRegistration)
}

func TestWithdrawals_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	w := dicose.Withdrawal{
		SubjectID: "H-1",
		EventID:   "EV-T",
		From:      ledger.NewDate(2025, time.October, 1),
		Until:     ledger.NewDate(2025, time.October, 21),
	}
	require.NoError(t, store.SaveWithdrawal(ctx, w))

	got, err := store.ListWithdrawals(ctx, "H-1")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Covers(ledger.NewDate(2025, time.October, 21)))
	assert.False(t, got[0].Covers(ledger.NewDate(2025, time.October, 22)))
}

func TestViolations_UniquePerTypeAndEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	v := dicose.ComplianceViolation{
		ID: "V-1", Type: dicose.ViolationDeadlineExceeded, Severity: dicose.SeverityHigh,
		PremiseID: "P-001", EventID: "EV-1", DaysExceeded: 2, DetectedAt: testNow,
	}
	require.NoError(t, store.SaveViolation(ctx, v))
	v.ID = "V-2"
	require.NoError(t, store.SaveViolation(ctx, v))

	all, err := store.ListViolations(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "V-1", all[0].ID)

	require.NoError(t, store.ResolveViolation(ctx, "V-1", testNow))
	open, err := store.ListViolations(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.ErrorIs(t, store.ResolveViolation(ctx, "V-9", testNow), dicose.ErrViolationNotFound)
}

// =============================================================================
// AUDIT AND RESET TESTS
// =============================================================================

func TestAudit_FilterByActionAndPremise(t *testing.T) {
	engine, store := newTestEngine(t)
	seed(t, engine)
	res := submitAndApprove(t, engine, herdEvent(dicose.EventBirth, 2, 1))

	got, err := store.QueryAudit(context.Background(), ledger.AuditFilter{
		PremiseID: "P-001",
		Actions:   []ledger.AuditAction{ledger.AuditEventApproved},
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, string(res.Event.ID), got[0].Subject)
	assert.Equal(t, "auditor-1", got[0].ActorID)
	assert.Equal(t, string(res.Entry.ID), got[0].Payload["entry_id"])
}

func TestReset_ClearsEverything(t *testing.T) {
	engine, store := newTestEngine(t)
	sheet := seed(t, engine)
	submitAndApprove(t, engine, herdEvent(dicose.EventBirth, 2, 1))

	require.NoError(t, store.Reset(context.Background()))

	_, err := store.GetSheet(context.Background(), sheet.ID)
	assert.ErrorIs(t, err, ledger.ErrSheetNotFound)
	_, err = store.GetPremise(context.Background(), "P-001")
	assert.ErrorIs(t, err, dicose.ErrPremiseNotFound)
}
