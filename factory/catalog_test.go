package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

func TestParseCatalog_MergesOverDefaults(t *testing.T) {
	// GIVEN: An equine catalog and a renamed bovine category
	f := NewCatalogFactory()
	jsonStr := `{
		"categories": [
			{"id": "EQU-YEGUAS", "species": "EQUINO", "name": "Yeguas"},
			{"id": "EQU-POTROS", "species": "EQUINO", "name": "Potros"},
			{"id": "BOV-TOROS", "species": "BOVINO", "name": "Toros padres", "order": 1}
		]
	}`

	// WHEN: Parsing
	cats, err := f.ParseCatalog(jsonStr)

	// THEN: Built-in categories survive, new ones get positional order
	require.NoError(t, err)
	assert.True(t, cats.ForSpecies("BOV-VACAS", dicose.SpeciesBovine))
	assert.True(t, cats.ForSpecies("OVI-OVEJAS", dicose.SpeciesOvine))

	potros, ok := cats.Lookup("EQU-POTROS")
	require.True(t, ok)
	assert.Equal(t, 2, potros.Order)

	toros, ok := cats.Lookup("BOV-TOROS")
	require.True(t, ok)
	assert.Equal(t, "Toros padres", toros.Name)
	assert.Len(t, cats.List(), len(dicose.DefaultCategories().List())+2)
}

func TestParseCatalog_ReplaceDefaults(t *testing.T) {
	f := NewCatalogFactory()

	cats, err := f.ParseCatalog(`{"replace_defaults": true, "categories": [{"id": "POR-CERDAS", "species": "PORCINO"}]}`)

	require.NoError(t, err)
	all := cats.List()
	require.Len(t, all, 1)
	assert.Equal(t, ledger.Category{ID: "POR-CERDAS", Species: "PORCINO", Name: "POR-CERDAS", Order: 1}, all[0])
	_, ok := cats.Lookup("BOV-VACAS")
	assert.False(t, ok)
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		jsonStr string
	}{
		{"malformed", `{"categories": [`},
		{"missing id", `{"categories": [{"species": "EQUINO"}]}`},
		{"unknown species", `{"categories": [{"id": "X-1", "species": "LLAMA"}]}`},
		{"duplicate id", `{"categories": [{"id": "EQU-1", "species": "EQUINO"}, {"id": "EQU-1", "species": "EQUINO"}]}`},
		{"empty replacement", `{"replace_defaults": true, "categories": []}`},
	}

	f := NewCatalogFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseCatalog(tt.jsonStr)
			assert.Error(t, err)
		})
	}
}

func TestParseCatalog_ValidationErrorsClassify(t *testing.T) {
	_, err := NewCatalogFactory().ParseCatalog(`{"categories": [{"id": "X-1", "species": "LLAMA"}]}`)

	assert.True(t, ledger.IsValidation(err))
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewCatalogFactory()
	original := dicose.DefaultCategories()

	back, err := f.FromJSON(f.ToJSON(original))

	require.NoError(t, err)
	assert.Equal(t, original.List(), back.List())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"categories": [{"id": "CAP-CABRAS", "species": "CAPRINO", "name": "Cabras"}]}`), 0o600))

	cats, err := NewCatalogFactory().LoadFile(path)

	require.NoError(t, err)
	assert.True(t, cats.ForSpecies("CAP-CABRAS", dicose.SpeciesCaprine))

	_, err = NewCatalogFactory().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
