package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

var (
	day   = time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)
	sheet = ledger.Sheet{
		ID:        "S-1",
		PremiseID: "P-001",
		TypeCode:  "BOV",
		Period:    ledger.Period{Start: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)},
		Status:    ledger.SheetOpen,
	}
)

func TestWithTx_RollbackRestoresEveryTable(t *testing.T) {
	// GIVEN: A store with one sheet
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateSheet(ctx, sheet))

	// WHEN: A transaction writes an entry, an event and a premise, then fails
	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s dicose.Store) error {
		require.NoError(t, s.AppendEntry(ctx, ledger.Entry{ID: "E-1", SheetID: "S-1", EntryDate: day,
			Lines: []ledger.Line{{CategoryID: "BOV-VACAS", Direction: ledger.DirectionIn, Heads: 3}}}))
		require.NoError(t, s.CreateEvent(ctx, dicose.Event{ID: "EV-1", PremiseID: "P-001", Status: dicose.StatusPending}))
		require.NoError(t, s.SavePremise(ctx, dicose.Premise{ID: "P-001"}))
		require.NoError(t, s.MarkSheetClosed(ctx, "S-1", "auditor-1", day))
		return boom
	})

	// THEN: Nothing survived
	assert.ErrorIs(t, err, boom)
	entries, err := m.ListEntries(ctx, "S-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = m.GetEvent(ctx, "EV-1")
	assert.ErrorIs(t, err, dicose.ErrEventNotFound)
	_, err = m.GetPremise(ctx, "P-001")
	assert.ErrorIs(t, err, dicose.ErrPremiseNotFound)
	got, err := m.GetSheet(ctx, "S-1")
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
}

func TestEntries_ReturnedCopiesAreDetached(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateSheet(ctx, sheet))
	require.NoError(t, m.AppendEntry(ctx, ledger.Entry{ID: "E-1", SheetID: "S-1", EntryDate: day,
		Lines: []ledger.Line{{CategoryID: "BOV-VACAS", Direction: ledger.DirectionIn, Heads: 3}}}))

	e, err := m.GetEntry(ctx, "E-1")
	require.NoError(t, err)
	e.Lines[0].Heads = 99

	again, err := m.GetEntry(ctx, "E-1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Lines[0].Heads)
}

func TestTransitionEvent_OnlyFromPending(t *testing.T) {
	ctx := context.Background()
	m := New()
	ev := dicose.Event{ID: "EV-1", PremiseID: "P-001", Status: dicose.StatusPending}
	require.NoError(t, m.CreateEvent(ctx, ev))

	ev.Status = dicose.StatusApproved
	require.NoError(t, m.TransitionEvent(ctx, ev))

	ev.Status = dicose.StatusRejected
	err := m.TransitionEvent(ctx, ev)
	assert.ErrorIs(t, err, dicose.ErrEventNotPending)
	assert.True(t, ledger.IsConflict(err))

	assert.ErrorIs(t, m.CreateEvent(ctx, ev), dicose.ErrEventExists)
}

func TestViolations_DedupedAndResolvedOnce(t *testing.T) {
	ctx := context.Background()
	m := New()
	v := dicose.ComplianceViolation{ID: "V-1", Type: dicose.ViolationDeadlineExceeded, EventID: "EV-1", DetectedAt: day}
	require.NoError(t, m.SaveViolation(ctx, v))
	v.ID = "V-2"
	require.NoError(t, m.SaveViolation(ctx, v))

	all, err := m.ListViolations(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)

	first, second := day.AddDate(0, 0, 1), day.AddDate(0, 0, 2)
	require.NoError(t, m.ResolveViolation(ctx, "V-1", first))
	require.NoError(t, m.ResolveViolation(ctx, "V-1", second))
	all, err = m.ListViolations(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, *all[0].ResolvedAt)

	assert.ErrorIs(t, m.ResolveViolation(ctx, "V-2", first), dicose.ErrViolationNotFound)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateSheet(ctx, sheet))

	require.NoError(t, m.Reset(ctx))

	_, err := m.GetSheet(ctx, "S-1")
	assert.ErrorIs(t, err, ledger.ErrSheetNotFound)
}
