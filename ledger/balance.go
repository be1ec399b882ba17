package ledger

import (
	"sort"
	"sync"
)

// =============================================================================
// BALANCE CALCULATION - Pure fold over entries
// =============================================================================

// ComputeBalances folds every non-voided line of entries onto the prior
// period's closing balances.
//
//	final = initial + totalIn - totalOut
//
// Categories present only in prior are kept with zero activity so a
// category that goes quiet is never dropped from the register.
func ComputeBalances(sheetID SheetID, entries []Entry, prior []CategoryBalance) map[CategoryID]CategoryBalance {
	result := make(map[CategoryID]CategoryBalance)

	get := func(id CategoryID) CategoryBalance {
		b, ok := result[id]
		if !ok {
			b = CategoryBalance{SheetID: sheetID, CategoryID: id}
		}
		return b
	}

	for _, p := range prior {
		b := get(p.CategoryID)
		b.Initial += p.Final
		result[p.CategoryID] = b
	}

	for _, e := range entries {
		if e.Voided {
			continue
		}
		for _, l := range e.Lines {
			b := get(l.CategoryID)
			switch l.Direction {
			case DirectionIn:
				b.TotalIn += l.Heads
			case DirectionOut:
				b.TotalOut += l.Heads
			}
			result[l.CategoryID] = b
		}
	}

	for id, b := range result {
		b.Final = b.Initial + b.TotalIn - b.TotalOut
		result[id] = b
	}
	return result
}

// SortedBalances returns the map's values ordered by category id.
func SortedBalances(m map[CategoryID]CategoryBalance) []CategoryBalance {
	out := make([]CategoryBalance, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}

// TotalHeads sums final heads across categories.
func TotalHeads(balances []CategoryBalance) int {
	total := 0
	for _, b := range balances {
		total += b.Final
	}
	return total
}

// =============================================================================
// SHEET LOCKS - Serialize writers per premise/type
// =============================================================================

// SheetLocks hands out one mutex per SheetKey. Approvals hold it across the
// open-sheet check and the entry insert; closes hold it across compute and
// status flip, so an approval either lands before the snapshot or sees the
// sheet closed.
type SheetLocks struct {
	mu    sync.Mutex
	locks map[SheetKey]*sync.Mutex
}

func NewSheetLocks() *SheetLocks {
	return &SheetLocks{locks: make(map[SheetKey]*sync.Mutex)}
}

// Lock acquires the key's mutex and returns its release func.
// A nil *SheetLocks does no locking.
func (l *SheetLocks) Lock(key SheetKey) func() {
	if l == nil {
		return func() {}
	}
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
