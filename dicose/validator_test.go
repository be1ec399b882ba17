package dicose_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var validatorNow = time.Date(2025, time.October, 15, 12, 0, 0, 0, time.UTC)

func openSheet() *ledger.Sheet {
	return &ledger.Sheet{ID: "S-1", PremiseID: "P-001", TypeCode: "BOV", Status: ledger.SheetOpen}
}

func validContext() dicose.ValidationContext {
	return dicose.ValidationContext{
		Now:        validatorNow,
		Premise:    &dicose.Premise{ID: "P-001", RegistrationNumber: "210001"},
		Subject:    &dicose.Subject{ID: "H-1", Scope: dicose.ScopeHerd, PremiseID: "P-001", Species: dicose.SpeciesBovine, CategoryID: "BOV-VACAS"},
		OpenSheet:  openSheet(),
		Categories: dicose.DefaultCategories(),
	}
}

func death(age int) dicose.Event {
	return dicose.Event{
		ID:        "EV-1",
		PremiseID: "P-001",
		Type:      dicose.EventDeath,
		Scope:     dicose.ScopeHerd,
		Species:   dicose.SpeciesBovine,
		HerdID:    "H-1",
		Heads:     1,
		EventDate: ledger.DayOf(validatorNow).AddDate(0, 0, -age),
	}
}

func validate(e dicose.Event, c dicose.ValidationContext) dicose.Issues {
	return dicose.NewValidator(dicose.DefaultDeadlines()).Validate(e, c)
}

// =============================================================================
// DEADLINE TESTS
// =============================================================================

func TestValidate_DeadlineExceededBlocks(t *testing.T) {
	// GIVEN: A death filed 31 days after the fact
	issues := validate(death(31), validContext())

	// THEN: One fatal deadline issue carrying the age
	require.True(t, issues.HasFatal())
	is, ok := issues.Find(dicose.IssueDeadlineExceeded)
	require.True(t, ok)
	assert.Equal(t, 31, is.Days)
	assert.True(t, is.Fatal())
}

func TestValidate_DeadlineBoundaryIsInclusive(t *testing.T) {
	// GIVEN: A death exactly 30 days old
	issues := validate(death(30), validContext())

	// THEN: Only a warning
	assert.False(t, issues.HasFatal())
	is, ok := issues.Find(dicose.IssueDeadlineApproaching)
	require.True(t, ok)
	assert.Equal(t, 30, is.Days)
}

func TestValidate_DeadlineWarningWindow(t *testing.T) {
	tests := []struct {
		age  int
		code dicose.IssueCode
	}{
		{3, ""},
		{24, ""},
		{25, dicose.IssueDeadlineApproaching},
		{26, dicose.IssueDeadlineApproaching},
		{30, dicose.IssueDeadlineApproaching},
		{31, dicose.IssueDeadlineExceeded},
	}
	for _, tt := range tests {
		issues := validate(death(tt.age), validContext())
		if tt.code == "" {
			assert.Empty(t, issues, "age %d", tt.age)
			continue
		}
		assert.True(t, issues.Has(tt.code), "age %d: got %v", tt.age, issues.Codes())
	}
}

func TestValidate_DeadlineOnlyForBoundTypes(t *testing.T) {
	// GIVEN: A birth reported 60 days late
	e := death(60)
	e.Type = dicose.EventBirth
	e.CategoryID = "BOV-TERNEROS"

	issues := validate(e, validContext())

	// THEN: No deadline issue
	assert.False(t, issues.Has(dicose.IssueDeadlineExceeded))
	assert.False(t, issues.HasFatal())
}

func TestValidate_ConfiguredDeadline(t *testing.T) {
	v := dicose.NewValidator(dicose.Deadlines{LimitDays: 10, WarnFromDays: 8})

	issues := v.Validate(death(11), validContext())

	assert.True(t, issues.Has(dicose.IssueDeadlineExceeded))
}

// =============================================================================
// STRUCTURAL RULE TESTS
// =============================================================================

func TestValidate_CollectsEveryIssue(t *testing.T) {
	// GIVEN: A sale missing subject, heads, guide and species, 40 days old
	e := dicose.Event{
		PremiseID: "P-001",
		Type:      dicose.EventSale,
		Scope:     dicose.ScopeHerd,
		EventDate: ledger.DayOf(validatorNow).AddDate(0, 0, -40),
	}
	c := validContext()
	c.Subject = nil
	c.OpenSheet = nil

	issues := validate(e, c)

	// THEN: Every rule reports, none short-circuits
	codes := issues.Codes()
	assert.Contains(t, codes, dicose.IssueSubjectRequired)
	assert.Contains(t, codes, dicose.IssueQuantityRequired)
	assert.Contains(t, codes, dicose.IssueGuideRequired)
	assert.Contains(t, codes, dicose.IssueNoOpenSheet)
	assert.Contains(t, codes, dicose.IssueSpeciesRequired)
	assert.Contains(t, codes, dicose.IssueCategoryRequired)
	assert.NotContains(t, codes, dicose.IssueDeadlineExceeded)
}

func TestValidate_FutureDateBlocked(t *testing.T) {
	e := death(0)
	e.EventDate = validatorNow.AddDate(0, 0, 1)

	issues := validate(e, validContext())

	assert.True(t, issues.Has(dicose.IssueFutureDate))
}

func TestValidate_DateRequired(t *testing.T) {
	e := death(0)
	e.EventDate = time.Time{}

	issues := validate(e, validContext())

	assert.True(t, issues.Has(dicose.IssueDateRequired))
}

func TestValidate_UnknownType(t *testing.T) {
	e := death(0)
	e.Type = "TELEPORT"

	issues := validate(e, validContext())

	require.Len(t, issues, 1)
	assert.Equal(t, dicose.IssueUnknownEventType, issues[0].Code)
}

func TestValidate_NonReportableNeedsNoSheet(t *testing.T) {
	// GIVEN: A weighing with no open sheet
	e := death(0)
	e.Type = dicose.EventWeighing
	e.Heads = 0
	c := validContext()
	c.OpenSheet = nil

	issues := validate(e, c)

	// THEN: Nothing blocks
	assert.False(t, issues.HasFatal(), "got %v", issues.Codes())
}

func TestValidate_ClosedSheetCountsAsMissing(t *testing.T) {
	c := validContext()
	c.OpenSheet.Status = ledger.SheetClosed

	issues := validate(death(0), c)

	assert.True(t, issues.Has(dicose.IssueNoOpenSheet))
}

func TestValidate_CategoryFromOtherSpecies(t *testing.T) {
	e := death(0)
	e.CategoryID = "OVI-OVEJAS"

	issues := validate(e, validContext())

	assert.True(t, issues.Has(dicose.IssueCategoryUnknown))
}

func TestValidate_GuideVerdictPropagates(t *testing.T) {
	// GIVEN: A purchase whose guide the registry rejected as a conflict
	e := death(0)
	e.Type = dicose.EventPurchase
	e.GuideSeries, e.GuideNumber = "A", "1000"
	c := validContext()
	c.Guide = &dicose.GuideCheck{
		Valid:       false,
		Code:        dicose.IssueGuideConflict,
		Kind:        dicose.KindConflict,
		Reason:      "guide A-1000 already used",
		Conflicting: &dicose.Event{ID: "EV-0"},
	}

	issues := validate(e, c)

	is, ok := issues.Find(dicose.IssueGuideConflict)
	require.True(t, ok)
	assert.Equal(t, dicose.KindConflict, is.Kind)
	assert.Equal(t, "EV-0", is.Ref)
}

// =============================================================================
// CATEGORY CHANGE TESTS
// =============================================================================

func categoryChange(from, to ledger.CategoryID, heads, headsTo int) dicose.Event {
	e := death(0)
	e.Type = dicose.EventCategoryChange
	e.CategoryFrom = from
	e.CategoryTo = to
	e.Heads = heads
	e.HeadsTo = headsTo
	return e
}

func TestValidate_CategoryChange(t *testing.T) {
	tests := []struct {
		name  string
		event dicose.Event
		code  dicose.IssueCode
	}{
		{"valid", categoryChange("BOV-TERNEROS", "BOV-NOV-1-2", 3, 0), ""},
		{"explicit balanced", categoryChange("BOV-TERNEROS", "BOV-NOV-1-2", 3, 3), ""},
		{"missing destination", categoryChange("BOV-TERNEROS", "", 3, 0), dicose.IssueCategoryChangeInvalid},
		{"same category", categoryChange("BOV-TERNEROS", "BOV-TERNEROS", 3, 0), dicose.IssueCategoryChangeInvalid},
		{"unknown category", categoryChange("BOV-TERNEROS", "BOV-UNICORNIOS", 3, 0), dicose.IssueCategoryUnknown},
		{"unbalanced", categoryChange("BOV-TERNEROS", "BOV-NOV-1-2", 3, 2), dicose.IssueCategoryChangeUnbalanced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := validate(tt.event, validContext())
			if tt.code == "" {
				assert.False(t, issues.HasFatal(), "got %v", issues.Codes())
				return
			}
			assert.True(t, issues.Has(tt.code), "got %v", issues.Codes())
		})
	}
}

// =============================================================================
// WITHDRAWAL TESTS
// =============================================================================

func TestValidate_WithdrawalWarnsOnSale(t *testing.T) {
	// GIVEN: A herd treated 5 days ago with a 10-day withdrawal
	e := death(0)
	e.Type = dicose.EventSale
	e.GuideSeries, e.GuideNumber = "A", "2000"
	c := validContext()
	c.Withdrawals = []dicose.Withdrawal{{
		SubjectID: "H-1",
		EventID:   "EV-T",
		From:      ledger.DayOf(validatorNow).AddDate(0, 0, -5),
		Until:     ledger.DayOf(validatorNow).AddDate(0, 0, 5),
	}}

	issues := validate(e, c)

	// THEN: A non-blocking warning pointing at the treatment
	assert.False(t, issues.HasFatal(), "got %v", issues.Codes())
	is, ok := issues.Find(dicose.IssueWithdrawalActive)
	require.True(t, ok)
	assert.Equal(t, "EV-T", is.Ref)
}

// =============================================================================
// SYNTHESIZER TESTS
// =============================================================================

func TestSynthesize_CategoryChangeTwoLines(t *testing.T) {
	e := categoryChange("A", "B", 3, 0)

	entry, err := dicose.Synthesize(e, nil, openSheet(), validatorNow)

	require.NoError(t, err)
	require.Len(t, entry.Lines, 2)
	assert.Equal(t, ledger.Line{CategoryID: "A", Direction: ledger.DirectionOut, Heads: 3}, entry.Lines[0])
	assert.Equal(t, ledger.Line{CategoryID: "B", Direction: ledger.DirectionIn, Heads: 3}, entry.Lines[1])
	assert.True(t, entry.IsTransfer())
}

func TestSynthesize_SingleLineUsesSubjectCategory(t *testing.T) {
	subject := &dicose.Subject{ID: "H-1", CategoryID: "BOV-VACAS"}

	entry, err := dicose.Synthesize(death(2), subject, openSheet(), validatorNow)

	require.NoError(t, err)
	assert.Equal(t, []ledger.Line{{CategoryID: "BOV-VACAS", Direction: ledger.DirectionOut, Heads: 1}}, entry.Lines)
	assert.Equal(t, "MUERTE", entry.Operation)
	assert.Equal(t, ledger.SheetID("S-1"), entry.SheetID)
}

func TestSynthesize_NonReportableHasNoEntry(t *testing.T) {
	e := death(0)
	e.Type = dicose.EventHealthTreatment

	entry, err := dicose.Synthesize(e, nil, nil, validatorNow)

	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSynthesize_MissingSheetIsConsistencyFault(t *testing.T) {
	_, err := dicose.Synthesize(death(0), &dicose.Subject{CategoryID: "BOV-VACAS"}, nil, validatorNow)

	require.Error(t, err)
	assert.True(t, ledger.IsConsistency(err))
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestFiscalPeriod(t *testing.T) {
	p := dicose.FiscalPeriod(time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, ledger.NewDate(2025, time.July, 1), p.Start)
	assert.Equal(t, ledger.NewDate(2026, time.June, 30), p.End)

	p = dicose.FiscalPeriod(time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, ledger.NewDate(2025, time.July, 1), p.Start)
}

func TestCounterparts_Symmetric(t *testing.T) {
	assert.True(t, dicose.Counterparts(dicose.EventPurchase, dicose.EventMoveExternalIn))
	assert.True(t, dicose.Counterparts(dicose.EventMoveExternalIn, dicose.EventPurchase))
	assert.False(t, dicose.Counterparts(dicose.EventPurchase, dicose.EventPurchase))
	assert.False(t, dicose.Counterparts(dicose.EventSale, dicose.EventPurchase))
}

func TestSheetTypeFor(t *testing.T) {
	code, ok := dicose.SheetTypeFor(dicose.SpeciesBovine)
	assert.True(t, ok)
	assert.Equal(t, "BOV", code)

	_, ok = dicose.SheetTypeFor("LLAMA")
	assert.False(t, ok)
}
