package ledger_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contralor/ledger"
	"pgregory.net/rapid"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func in(cat ledger.CategoryID, heads int) ledger.Line {
	return ledger.Line{CategoryID: cat, Direction: ledger.DirectionIn, Heads: heads}
}

func out(cat ledger.CategoryID, heads int) ledger.Line {
	return ledger.Line{CategoryID: cat, Direction: ledger.DirectionOut, Heads: heads}
}

func entry(id string, lines ...ledger.Line) ledger.Entry {
	return ledger.Entry{
		ID:        ledger.EntryID(id),
		SheetID:   "S-1",
		EntryDate: ledger.NewDate(2025, time.August, 1),
		Lines:     lines,
	}
}

func byCategory(bs []ledger.CategoryBalance) map[ledger.CategoryID]ledger.CategoryBalance {
	m := make(map[ledger.CategoryID]ledger.CategoryBalance, len(bs))
	for _, b := range bs {
		m[b.CategoryID] = b
	}
	return m
}

// =============================================================================
// BALANCE COMPUTATION TESTS
// =============================================================================

func TestComputeBalances_FoldsLinesPerCategory(t *testing.T) {
	// GIVEN: A purchase of 50 cows, 12 calves born, 1 cow dead
	entries := []ledger.Entry{
		entry("E-1", in("BOV-VACAS", 50)),
		entry("E-2", in("BOV-TERNEROS", 12)),
		entry("E-3", out("BOV-VACAS", 1)),
	}

	// WHEN: Computing balances with no prior sheet
	m := ledger.ComputeBalances("S-1", entries, nil)

	// THEN: Each category reconciles from zero
	require.Len(t, m, 2)
	assert.Equal(t, ledger.CategoryBalance{SheetID: "S-1", CategoryID: "BOV-VACAS", TotalIn: 50, TotalOut: 1, Final: 49}, m["BOV-VACAS"])
	assert.Equal(t, ledger.CategoryBalance{SheetID: "S-1", CategoryID: "BOV-TERNEROS", TotalIn: 12, Final: 12}, m["BOV-TERNEROS"])
}

func TestComputeBalances_VoidedEntriesIgnored(t *testing.T) {
	// GIVEN: A death entry that was voided
	voided := entry("E-2", out("BOV-VACAS", 5))
	voided.Voided = true
	entries := []ledger.Entry{entry("E-1", in("BOV-VACAS", 10)), voided}

	// WHEN: Computing balances
	m := ledger.ComputeBalances("S-1", entries, nil)

	// THEN: The voided lines do not count
	assert.Equal(t, 0, m["BOV-VACAS"].TotalOut)
	assert.Equal(t, 10, m["BOV-VACAS"].Final)
}

func TestComputeBalances_PriorFinalBecomesInitial(t *testing.T) {
	// GIVEN: Last year closed with 10 calves and 5 steers
	prior := []ledger.CategoryBalance{
		{SheetID: "S-0", CategoryID: "BOV-TERNEROS", Final: 10},
		{SheetID: "S-0", CategoryID: "BOV-NOV-1-2", Final: 5},
	}
	// AND: This year only calves moved
	entries := []ledger.Entry{entry("E-1", in("BOV-TERNEROS", 3))}

	// WHEN: Computing balances
	m := ledger.ComputeBalances("S-1", entries, prior)

	// THEN: Both categories are present, the quiet one carried unchanged
	assert.Equal(t, 10, m["BOV-TERNEROS"].Initial)
	assert.Equal(t, 13, m["BOV-TERNEROS"].Final)
	assert.Equal(t, ledger.CategoryBalance{SheetID: "S-1", CategoryID: "BOV-NOV-1-2", Initial: 5, Final: 5}, m["BOV-NOV-1-2"])
}

func TestComputeBalances_CategoryChangeMovesHeads(t *testing.T) {
	// GIVEN: A=10, B=5 at the start of the period
	prior := []ledger.CategoryBalance{
		{CategoryID: "A", Final: 10},
		{CategoryID: "B", Final: 5},
	}
	// AND: A category change of 3 heads from A to B
	entries := []ledger.Entry{entry("E-1", out("A", 3), in("B", 3))}

	// WHEN: Computing balances
	m := ledger.ComputeBalances("S-1", entries, prior)

	// THEN: A=7, B=8 and the total is unchanged
	assert.Equal(t, 7, m["A"].Final)
	assert.Equal(t, 8, m["B"].Final)
	assert.Equal(t, 15, ledger.TotalHeads(ledger.SortedBalances(m)))
}

func TestComputeBalances_NegativeFinalIsReported(t *testing.T) {
	// GIVEN: More heads leaving than the category ever held
	entries := []ledger.Entry{entry("E-1", out("BOV-TOROS", 2))}

	// WHEN: Computing balances
	m := ledger.ComputeBalances("S-1", entries, nil)

	// THEN: The negative final is reported as is
	assert.Equal(t, -2, m["BOV-TOROS"].Final)
	assert.True(t, m["BOV-TOROS"].Reconciles())
}

func TestSortedBalances_OrderedByCategory(t *testing.T) {
	m := ledger.ComputeBalances("S-1", []ledger.Entry{
		entry("E-1", in("C", 1), in("A", 1), in("B", 1)),
	}, nil)

	sorted := ledger.SortedBalances(m)

	require.Len(t, sorted, 3)
	assert.Equal(t, ledger.CategoryID("A"), sorted[0].CategoryID)
	assert.Equal(t, ledger.CategoryID("B"), sorted[1].CategoryID)
	assert.Equal(t, ledger.CategoryID("C"), sorted[2].CategoryID)
}

func TestComputeBalances_AlwaysReconciles(t *testing.T) {
	cats := []ledger.CategoryID{"A", "B", "C", "D"}

	rapid.Check(t, func(t *rapid.T) {
		var prior []ledger.CategoryBalance
		for _, c := range cats {
			if rapid.Bool().Draw(t, "has_prior_"+string(c)) {
				prior = append(prior, ledger.CategoryBalance{CategoryID: c, Final: rapid.IntRange(0, 500).Draw(t, "prior_"+string(c))})
			}
		}

		n := rapid.IntRange(0, 30).Draw(t, "entries")
		entries := make([]ledger.Entry, 0, n)
		wantIn := map[ledger.CategoryID]int{}
		wantOut := map[ledger.CategoryID]int{}
		for i := 0; i < n; i++ {
			cat := rapid.SampledFrom(cats).Draw(t, "cat")
			heads := rapid.IntRange(1, 100).Draw(t, "heads")
			dir := rapid.SampledFrom([]ledger.Direction{ledger.DirectionIn, ledger.DirectionOut}).Draw(t, "dir")
			e := entry("E", ledger.Line{CategoryID: cat, Direction: dir, Heads: heads})
			e.Voided = rapid.IntRange(0, 4).Draw(t, "void") == 0
			entries = append(entries, e)
			if e.Voided {
				continue
			}
			if dir == ledger.DirectionIn {
				wantIn[cat] += heads
			} else {
				wantOut[cat] += heads
			}
		}

		m := ledger.ComputeBalances("S-1", entries, prior)

		for id, b := range m {
			if !b.Reconciles() {
				t.Fatalf("category %s does not reconcile: %+v", id, b)
			}
			if b.TotalIn != wantIn[id] || b.TotalOut != wantOut[id] {
				t.Fatalf("category %s: got in=%d out=%d, want in=%d out=%d", id, b.TotalIn, b.TotalOut, wantIn[id], wantOut[id])
			}
		}
		for _, p := range prior {
			if _, ok := m[p.CategoryID]; !ok {
				t.Fatalf("prior category %s dropped", p.CategoryID)
			}
		}
	})
}

// =============================================================================
// SHEET LOCK TESTS
// =============================================================================

func TestSheetLocks_SerializesSameKey(t *testing.T) {
	// GIVEN: Many goroutines incrementing a counter under one key
	locks := ledger.NewSheetLocks()
	key := ledger.SheetKey{PremiseID: "P-001", TypeCode: "BOV"}
	counter := 0

	// WHEN: They run concurrently
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	// THEN: No increment is lost
	assert.Equal(t, 50, counter)
}

func TestSheetLocks_NilIsNoop(t *testing.T) {
	var locks *ledger.SheetLocks
	unlock := locks.Lock(ledger.SheetKey{PremiseID: "P-001", TypeCode: "BOV"})
	unlock()
}
