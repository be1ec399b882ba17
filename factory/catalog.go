/*
Package factory provides JSON to Go category catalog conversion.

PURPOSE:
  Converts JSON category definitions into a dicose.Categories reference.
  The built-in catalog covers bovines and ovines; equine, porcine and
  caprine registers (and any local subdivision) are configured in JSON
  instead of code.

JSON SCHEMA:
  {
    "replace_defaults": false,
    "categories": [
      {"id": "EQU-YEGUAS",  "species": "EQUINO", "name": "Yeguas",  "order": 1},
      {"id": "EQU-POTROS",  "species": "EQUINO", "name": "Potros",  "order": 2}
    ]
  }

RULES:
  - id and species are required; species must have a register sheet type
  - ids are unique across the file
  - order defaults to the position within the species
  - without replace_defaults, entries are merged over the built-in catalog
    (same id overrides)

USAGE:
  f := NewCatalogFactory()
  cats, err := f.LoadFile("categories.json")
  engine := dicose.NewEngine(store, dicose.Options{Categories: cats})

SEE ALSO:
  - dicose/categories.go: Built-in catalog
  - config/config.go: CATEGORIES_FILE
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a category catalog.
type CatalogJSON struct {
	ReplaceDefaults bool           `json:"replace_defaults,omitempty"`
	Categories      []CategoryJSON `json:"categories"`
}

// CategoryJSON represents one register category.
type CategoryJSON struct {
	ID      string `json:"id"`
	Species string `json:"species"`
	Name    string `json:"name,omitempty"`
	Order   int    `json:"order,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to dicose.Categories.
type CatalogFactory struct {
	// Defaults is merged under every parsed catalog unless it asks to
	// replace it.
	Defaults *dicose.Categories
}

// NewCatalogFactory creates a factory over the built-in catalog.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{Defaults: dicose.DefaultCategories()}
}

// LoadFile reads and parses a catalog file.
func (f *CatalogFactory) LoadFile(path string) (*dicose.Categories, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read category catalog: %w", err)
	}
	return f.ParseCatalog(string(data))
}

// ParseCatalog parses a JSON string into a category reference.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*dicose.Categories, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse category catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON validates a CatalogJSON and builds the reference.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*dicose.Categories, error) {
	merged := make(map[ledger.CategoryID]ledger.Category)
	var order []ledger.CategoryID

	if !cj.ReplaceDefaults && f.Defaults != nil {
		for _, c := range f.Defaults.List() {
			merged[c.ID] = c
			order = append(order, c.ID)
		}
	}

	seen := make(map[string]bool, len(cj.Categories))
	position := make(map[string]int)
	for i, c := range cj.Categories {
		if c.ID == "" {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("categories[%d].id", i), Reason: "required"}
		}
		if seen[c.ID] {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("categories[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", c.ID)}
		}
		seen[c.ID] = true
		if _, ok := dicose.SheetTypeFor(dicose.Species(c.Species)); !ok {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("categories[%d].species", i), Reason: fmt.Sprintf("unknown species %q", c.Species)}
		}

		position[c.Species]++
		cat := ledger.Category{
			ID:      ledger.CategoryID(c.ID),
			Species: c.Species,
			Name:    c.Name,
			Order:   c.Order,
		}
		if cat.Order <= 0 {
			cat.Order = position[c.Species]
		}
		if cat.Name == "" {
			cat.Name = c.ID
		}
		if _, exists := merged[cat.ID]; !exists {
			order = append(order, cat.ID)
		}
		merged[cat.ID] = cat
	}

	if len(merged) == 0 {
		return nil, &ledger.ValidationError{Field: "categories", Reason: "catalog is empty"}
	}

	cats := make([]ledger.Category, 0, len(order))
	for _, id := range order {
		cats = append(cats, merged[id])
	}
	return dicose.NewCategories(cats), nil
}

// ToJSON converts a category reference to CatalogJSON. The result replaces
// defaults, so it round-trips to the same catalog.
func (f *CatalogFactory) ToJSON(cats *dicose.Categories) CatalogJSON {
	cj := CatalogJSON{ReplaceDefaults: true}
	for _, c := range cats.List() {
		cj.Categories = append(cj.Categories, CategoryJSON{
			ID:      string(c.ID),
			Species: c.Species,
			Name:    c.Name,
			Order:   c.Order,
		})
	}
	return cj
}
