package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ecoreturns/internal/faults"
)

func TestDefault_SeedRecords(t *testing.T) {
	s := Default()

	p, ok := s.Product("PROD001")
	require.True(t, ok)
	assert.Equal(t, Electronics, p.Category)
	assert.Equal(t, 30, p.ReturnWindowDays)
	assert.True(t, p.Returnable)

	tablet, ok := s.Product("PROD004")
	require.True(t, ok)
	assert.False(t, tablet.Returnable)

	_, ok = s.Product("PROD999")
	assert.False(t, ok)

	c, ok := s.Customer("CLI002")
	require.True(t, ok)
	assert.Equal(t, "María García", c.Name)

	ids := make([]string, 0)
	for _, p := range s.Products() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"PROD001", "PROD002", "PROD003", "PROD004"}, ids)
	assert.Len(t, s.Customers(), 3)
}

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{
		"Electrónicos": Electronics,
		"ELECTRONICS":  Electronics,
		"Computadoras": Computers,
		"audio":        Audio,
		" Tablets ":    Tablets,
		"Ropa":         Clothing,
	} {
		got, err := ParseCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCategory("juguetes")
	assert.Error(t, err)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]Product{{ID: "A"}, {ID: "A"}}, nil)
	require.Error(t, err)
	assert.True(t, faults.IsConfig(err))

	_, err = New(nil, []Customer{{ID: ""}})
	require.Error(t, err)
	assert.True(t, faults.IsConfig(err))
}

func TestLoadYAML(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)

	p, ok := s.Product("PROD010")
	require.True(t, ok)
	assert.Equal(t, Clothing, p.Category)
	assert.True(t, p.Returnable, "returnable defaults to true")
	assert.True(t, p.HasFlag("personalized"))

	tablet, _ := s.Product("PROD004")
	assert.False(t, tablet.Returnable)
}

func TestLoadJSON_MatchesCSV(t *testing.T) {
	js := `{
		"products": [
			{"id": "PROD001", "name": "Phone", "category": "electronics", "price": 10, "return_window_days": 30},
			{"id": "PROD002", "name": "Shirt", "category": "clothing", "flags": ["final_sale", "hygiene"], "returnable": true}
		],
		"customers": [{"id": "CLI001", "name": "Ana", "email": "ana@example.com", "tier": "premium"}]
	}`
	fromJSON, err := LoadJSON(strings.NewReader(js))
	require.NoError(t, err)

	products := "id,name,category,price,return_window_days,returnable,flags\n" +
		"PROD001,Phone,electronics,10,30,,\n" +
		"PROD002,Shirt,clothing,,,true,final_sale|hygiene\n"
	customers := "id,name,email,tier\nCLI001,Ana,ana@example.com,premium\n"
	fromCSV, err := LoadCSV(strings.NewReader(products), strings.NewReader(customers))
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Products(), fromCSV.Products())
	assert.Equal(t, fromJSON.Customers(), fromCSV.Customers())
}

func TestLoadCSV_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		products string
	}{
		{"bad header", "sku,name,category,price,return_window_days,returnable,flags\n"},
		{"bad price", "id,name,category,price,return_window_days,returnable,flags\nP1,x,audio,cheap,,,\n"},
		{"unknown category", "id,name,category,price,return_window_days,returnable,flags\nP1,x,toys,1,,,\n"},
		{"short row", "id,name,category,price,return_window_days,returnable,flags\nP1,x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCSV(strings.NewReader(tt.products), strings.NewReader("id,name,email,tier\n"))
			require.Error(t, err)
			assert.True(t, faults.IsConfig(err), "want ConfigError, got %v", err)
		})
	}
}

func TestLoad_CSVDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.csv"),
		[]byte("id,name,category,price,return_window_days,returnable,flags\nP1,Radio,audio,5,,,\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.csv"),
		[]byte("id,name,email,tier\nC1,Eva,eva@example.com,standard\n"), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)
	_, ok := s.Customer("C1")
	assert.True(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, faults.IsConfig(err))

	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err = Load(path)
	assert.True(t, faults.IsConfig(err))

	bad := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"products": [{"id": "P1", "colour": "red"}]}`), 0o644))
	_, err = Load(bad)
	require.Error(t, err)
	var ce *faults.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, bad, ce.Source)
}
