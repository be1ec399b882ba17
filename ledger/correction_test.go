package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// VOID TESTS
// =============================================================================

func TestVoidEntry_DropsOutOfBalances(t *testing.T) {
	// GIVEN: Two death entries, one of them wrong
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 10))
	f.append(t, sheet, "E-2", out("BOV-VACAS", 3))

	// WHEN: Voiding the wrong one
	voided, err := f.corrections.VoidEntry(context.Background(), "E-2", "duplicate report", "auditor-1")

	// THEN: It is kept but flagged, and balances ignore it
	require.NoError(t, err)
	assert.True(t, voided.Voided)
	assert.Equal(t, "duplicate report", voided.VoidReason)

	stored, err := f.store.GetEntry(context.Background(), "E-2")
	require.NoError(t, err)
	assert.True(t, stored.Voided)
	assert.Equal(t, "auditor-1", stored.VoidedBy)

	balances, err := f.periods.Balances(context.Background(), sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balances[0].Final)
}

func TestVoidEntry_TwiceFails(t *testing.T) {
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 10))
	_, err := f.corrections.VoidEntry(context.Background(), "E-1", "wrong", "auditor-1")
	require.NoError(t, err)

	_, err = f.corrections.VoidEntry(context.Background(), "E-1", "wrong again", "auditor-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrEntryAlreadyVoided)
}

func TestVoidEntry_ReasonRequired(t *testing.T) {
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 10))

	_, err := f.corrections.VoidEntry(context.Background(), "E-1", "", "auditor-1")

	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
}

func TestVoidEntry_ClosedSheetFrozen(t *testing.T) {
	// GIVEN: An entry on a closed sheet
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 10))
	_, err := f.periods.CloseSheet(context.Background(), sheet.ID, "auditor-1")
	require.NoError(t, err)

	// WHEN: Voiding it
	_, err = f.corrections.VoidEntry(context.Background(), "E-1", "late fix", "auditor-1")

	// THEN: Refused; the entry is untouched
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSheetClosed)

	stored, err := f.store.GetEntry(context.Background(), "E-1")
	require.NoError(t, err)
	assert.False(t, stored.Voided)
}

func TestVoidEntry_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.corrections.VoidEntry(context.Background(), "missing", "reason", "auditor-1")

	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// CORRECTION TESTS
// =============================================================================

func TestCreateCorrection_NoDoubleCount(t *testing.T) {
	// GIVEN: A purchase booked with 50 heads instead of 45
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 50))

	// WHEN: Correcting the head count
	corrected, err := f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{
		Lines: []ledger.Line{in("BOV-VACAS", 45)},
	}, "guide says 45", "auditor-1")

	// THEN: Only the correction counts
	require.NoError(t, err)
	require.NotNil(t, corrected.CorrectedEntryID)
	assert.Equal(t, ledger.EntryID("E-1"), *corrected.CorrectedEntryID)

	balances, err := f.periods.Balances(context.Background(), sheet.ID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 45, balances[0].TotalIn)
	assert.Equal(t, 45, balances[0].Final)

	original, err := f.store.GetEntry(context.Background(), "E-1")
	require.NoError(t, err)
	assert.True(t, original.Voided)
	assert.Equal(t, "guide says 45", original.VoidReason)
}

func TestCreateCorrection_ClonesLinesWhenOmitted(t *testing.T) {
	// GIVEN: An entry with the wrong operation label
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 8))

	// WHEN: Correcting only the label
	op := "COMPRA"
	corrected, err := f.corrections.CreateCorrection(context.Background(), "E-1",
		ledger.CorrectionInput{Operation: &op}, "wrong label", "auditor-1")

	// THEN: The lines are copied
	require.NoError(t, err)
	assert.Equal(t, "COMPRA", corrected.Operation)
	assert.Equal(t, []ledger.Line{in("BOV-VACAS", 8)}, corrected.Lines)
}

func TestCreateCorrection_TransferKeepsTwoLines(t *testing.T) {
	// GIVEN: A category change of 3 heads A -> B
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-0", in("A", 10), in("B", 5))
	f.append(t, sheet, "E-1", out("A", 3), in("B", 3))

	// WHEN: Replacing it with a single IN line
	_, err := f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{
		Lines: []ledger.Line{in("B", 3)},
	}, "bad", "auditor-1")

	// THEN: Refused; nothing changed
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidLines)
	stored, err := f.store.GetEntry(context.Background(), "E-1")
	require.NoError(t, err)
	assert.False(t, stored.Voided)

	// WHEN: Replacing it with a balanced 2-head transfer
	_, err = f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{
		Lines: []ledger.Line{out("A", 2), in("B", 2)},
	}, "only two moved", "auditor-1")

	// THEN: A=8, B=7
	require.NoError(t, err)
	balances, err := f.periods.Balances(context.Background(), sheet.ID)
	require.NoError(t, err)
	got := byCategory(balances)
	assert.Equal(t, 8, got["A"].Final)
	assert.Equal(t, 7, got["B"].Final)
}

func TestCreateCorrection_ChainWalksToRoot(t *testing.T) {
	// GIVEN: An entry corrected twice
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 50))
	first, err := f.corrections.CreateCorrection(context.Background(), "E-1",
		ledger.CorrectionInput{Lines: []ledger.Line{in("BOV-VACAS", 45)}}, "first fix", "auditor-1")
	require.NoError(t, err)
	second, err := f.corrections.CreateCorrection(context.Background(), first.ID,
		ledger.CorrectionInput{Lines: []ledger.Line{in("BOV-VACAS", 44)}}, "second fix", "auditor-1")
	require.NoError(t, err)

	// WHEN: Reading the chain from the last link
	chain, err := f.corrections.Chain(context.Background(), second.ID)

	// THEN: Root first, only the last link live
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, ledger.EntryID("E-1"), chain[0].ID)
	assert.Equal(t, first.ID, chain[1].ID)
	assert.Equal(t, second.ID, chain[2].ID)
	assert.True(t, chain[0].Voided)
	assert.True(t, chain[1].Voided)
	assert.False(t, chain[2].Voided)

	balances, err := f.periods.Balances(context.Background(), sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, 44, balances[0].Final)
}

func TestCreateCorrection_VoidedOriginalRejected(t *testing.T) {
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 50))
	_, err := f.corrections.VoidEntry(context.Background(), "E-1", "wrong", "auditor-1")
	require.NoError(t, err)

	_, err = f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{}, "fix", "auditor-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrEntryAlreadyVoided)
}

func TestCreateCorrection_CategoryOfOtherSpeciesRejected(t *testing.T) {
	// GIVEN: A birth on a bovine sheet and managers that know the catalog
	f := newFixture(t)
	f.corrections.Categories = dicose.DefaultCategories()
	f.periods.Categories = dicose.DefaultCategories()
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-TERNEROS", 5))

	// WHEN: Correcting it to an ovine category
	_, err := f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{
		Lines: []ledger.Line{in("OVI-OVEJAS", 5)},
	}, "wrong category", "auditor-1")

	// THEN: Refused; the original stays live
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
	assert.ErrorIs(t, err, ledger.ErrInvalidLines)

	stored, err := f.store.GetEntry(context.Background(), "E-1")
	require.NoError(t, err)
	assert.False(t, stored.Voided)

	// THEN: Closing freezes only the bovine row
	result, err := f.periods.CloseSheet(context.Background(), sheet.ID, "auditor-1")
	require.NoError(t, err)
	require.Len(t, result.Balances, 1)
	assert.Equal(t, ledger.CategoryID("BOV-TERNEROS"), result.Balances[0].CategoryID)
}

func TestCreateCorrection_UnknownCategoryRejected(t *testing.T) {
	// GIVEN: A birth on a bovine sheet and managers that know the catalog
	f := newFixture(t)
	f.corrections.Categories = dicose.DefaultCategories()
	f.periods.Categories = dicose.DefaultCategories()
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-TERNEROS", 5))

	// WHEN: Correcting it to a category nobody knows
	_, err := f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{
		Lines: []ledger.Line{in("NO-SUCH", 5)},
	}, "typo", "auditor-1")

	// THEN: Refused, and the sheet still closes cleanly
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidLines)

	entries, err := f.store.ListEntries(context.Background(), sheet.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.periods.CloseSheet(context.Background(), sheet.ID, "auditor-1")
	assert.NoError(t, err)
}

func TestCreateCorrection_SameSpeciesCategoryAccepted(t *testing.T) {
	f := newFixture(t)
	f.corrections.Categories = dicose.DefaultCategories()
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-TERNEROS", 5))

	corrected, err := f.corrections.CreateCorrection(context.Background(), "E-1", ledger.CorrectionInput{
		Lines: []ledger.Line{in("BOV-VACAS", 5)},
	}, "were cows", "auditor-1")

	require.NoError(t, err)
	assert.Equal(t, []ledger.Line{in("BOV-VACAS", 5)}, corrected.Lines)
}

func TestCreateCorrection_EntryDateOutsidePeriodRejected(t *testing.T) {
	// GIVEN: An entry on the 2025 fiscal sheet
	f := newFixture(t)
	sheet := f.open(t, fiscal2025)
	f.append(t, sheet, "E-1", in("BOV-VACAS", 5))

	// WHEN: Moving it to a day before the period starts
	before := ledger.NewDate(2025, time.June, 30)
	_, err := f.corrections.CreateCorrection(context.Background(), "E-1",
		ledger.CorrectionInput{EntryDate: &before}, "wrong day", "auditor-1")

	// THEN: Refused; the original stays live
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
	stored, err := f.store.GetEntry(context.Background(), "E-1")
	require.NoError(t, err)
	assert.False(t, stored.Voided)

	// WHEN: Moving it to the last day of the period
	last := fiscal2025.End
	corrected, err := f.corrections.CreateCorrection(context.Background(), "E-1",
		ledger.CorrectionInput{EntryDate: &last}, "wrong day", "auditor-1")

	// THEN: Accepted
	require.NoError(t, err)
	assert.Equal(t, last, corrected.EntryDate)
}

func TestValidateLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []ledger.Line
		ok    bool
	}{
		{"valid", []ledger.Line{in("A", 1)}, true},
		{"empty", nil, false},
		{"no category", []ledger.Line{in("", 1)}, false},
		{"bad direction", []ledger.Line{{CategoryID: "A", Direction: "SIDEWAYS", Heads: 1}}, false},
		{"zero heads", []ledger.Line{in("A", 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.ValidateLines(tt.lines)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInvalidLines)
		})
	}
}
