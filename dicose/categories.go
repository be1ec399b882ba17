package dicose

import (
	"sort"

	"github.com/warp/contralor/ledger"
)

// Categories is an immutable category reference. Safe for concurrent reads.
type Categories struct {
	byID map[ledger.CategoryID]ledger.Category
}

func NewCategories(cats []ledger.Category) *Categories {
	c := &Categories{byID: make(map[ledger.CategoryID]ledger.Category, len(cats))}
	for _, cat := range cats {
		c.byID[cat.ID] = cat
	}
	return c
}

func (c *Categories) Lookup(id ledger.CategoryID) (ledger.Category, bool) {
	if c == nil {
		return ledger.Category{}, false
	}
	cat, ok := c.byID[id]
	return cat, ok
}

// ForSpecies reports whether id exists and belongs to species.
func (c *Categories) ForSpecies(id ledger.CategoryID, species Species) bool {
	cat, ok := c.Lookup(id)
	return ok && cat.Species == string(species)
}

// SheetSpecies returns the species booked on a sheet type.
func (c *Categories) SheetSpecies(typeCode string) (string, bool) {
	for species, code := range sheetTypes {
		if code == typeCode {
			return string(species), true
		}
	}
	return "", false
}

// List returns all categories ordered by species then register order.
func (c *Categories) List() []ledger.Category {
	out := make([]ledger.Category, 0, len(c.byID))
	for _, cat := range c.byID {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Species != out[j].Species {
			return out[i].Species < out[j].Species
		}
		return out[i].Order < out[j].Order
	})
	return out
}

// DefaultCategories returns the register categories for bovines and ovines.
func DefaultCategories() *Categories {
	bov := string(SpeciesBovine)
	ovi := string(SpeciesOvine)
	return NewCategories([]ledger.Category{
		{ID: "BOV-TOROS", Species: bov, Name: "Toros", Order: 1},
		{ID: "BOV-VACAS", Species: bov, Name: "Vacas de cría", Order: 2},
		{ID: "BOV-VACAS-INV", Species: bov, Name: "Vacas de invernada", Order: 3},
		{ID: "BOV-NOV-3", Species: bov, Name: "Novillos más de 3 años", Order: 4},
		{ID: "BOV-NOV-2-3", Species: bov, Name: "Novillos 2 a 3 años", Order: 5},
		{ID: "BOV-NOV-1-2", Species: bov, Name: "Novillos 1 a 2 años", Order: 6},
		{ID: "BOV-VAQ-2", Species: bov, Name: "Vaquillonas más de 2 años", Order: 7},
		{ID: "BOV-VAQ-1-2", Species: bov, Name: "Vaquillonas 1 a 2 años", Order: 8},
		{ID: "BOV-TERNEROS", Species: bov, Name: "Terneros", Order: 9},
		{ID: "BOV-TERNERAS", Species: bov, Name: "Terneras", Order: 10},

		{ID: "OVI-CARNEROS", Species: ovi, Name: "Carneros", Order: 1},
		{ID: "OVI-OVEJAS", Species: ovi, Name: "Ovejas de cría", Order: 2},
		{ID: "OVI-CAPONES", Species: ovi, Name: "Capones", Order: 3},
		{ID: "OVI-BORREGOS", Species: ovi, Name: "Borregos/as", Order: 4},
		{ID: "OVI-CORDEROS", Species: ovi, Name: "Corderos/as", Order: 5},
	})
}
