package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/ecoreturns/internal/faults"
)

// productRecord is the on-disk shape of a product. Returnable defaults to
// true when omitted.
type productRecord struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	Category         string   `json:"category" yaml:"category"`
	Price            float64  `json:"price" yaml:"price"`
	ReturnWindowDays int      `json:"return_window_days" yaml:"return_window_days"`
	Returnable       *bool    `json:"returnable" yaml:"returnable"`
	Flags            []string `json:"flags" yaml:"flags"`
}

type fileFormat struct {
	Products  []productRecord `json:"products" yaml:"products"`
	Customers []Customer      `json:"customers" yaml:"customers"`
}

// Load reads a catalog from path. JSON and YAML files hold both products and
// customers; a directory is read as products.csv plus customers.csv.
func Load(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, faults.Config(path, err)
	}
	if info.IsDir() {
		return loadCSVDir(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Config(path, err)
	}
	defer f.Close()

	var s *Store
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		s, err = LoadJSON(f)
	case ".yaml", ".yml":
		s, err = LoadYAML(f)
	default:
		return nil, faults.Configf(path, "unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, withSource(path, err)
	}
	return s, nil
}

func loadCSVDir(dir string) (*Store, error) {
	pf, err := os.Open(filepath.Join(dir, "products.csv"))
	if err != nil {
		return nil, faults.Config(dir, err)
	}
	defer pf.Close()

	cf, err := os.Open(filepath.Join(dir, "customers.csv"))
	if err != nil {
		return nil, faults.Config(dir, err)
	}
	defer cf.Close()

	s, err := LoadCSV(pf, cf)
	if err != nil {
		return nil, withSource(dir, err)
	}
	return s, nil
}

// LoadJSON decodes a catalog document.
func LoadJSON(r io.Reader) (*Store, error) {
	var ff fileFormat
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ff); err != nil {
		return nil, faults.Config("catalog", fmt.Errorf("decoding json: %w", err))
	}
	return ff.build()
}

// LoadYAML decodes a catalog document.
func LoadYAML(r io.Reader) (*Store, error) {
	var ff fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, faults.Config("catalog", fmt.Errorf("decoding yaml: %w", err))
	}
	return ff.build()
}

func (ff fileFormat) build() (*Store, error) {
	products := make([]Product, 0, len(ff.Products))
	for i, rec := range ff.Products {
		p, err := rec.product()
		if err != nil {
			return nil, faults.Configf("catalog", "product %d: %v", i, err)
		}
		products = append(products, p)
	}
	return New(products, ff.Customers)
}

func (r productRecord) product() (Product, error) {
	cat, err := ParseCategory(r.Category)
	if err != nil {
		return Product{}, err
	}
	returnable := true
	if r.Returnable != nil {
		returnable = *r.Returnable
	}
	return Product{
		ID:               strings.TrimSpace(r.ID),
		Name:             r.Name,
		Category:         cat,
		Price:            r.Price,
		ReturnWindowDays: r.ReturnWindowDays,
		Returnable:       returnable,
		Flags:            r.Flags,
	}, nil
}

// Column order for the tabular source.
var (
	productColumns  = []string{"id", "name", "category", "price", "return_window_days", "returnable", "flags"}
	customerColumns = []string{"id", "name", "email", "tier"}
)

// LoadCSV reads products and customers from two CSV streams with header rows.
// Flags are separated by '|'. Empty numeric or boolean cells take defaults.
func LoadCSV(products, customers io.Reader) (*Store, error) {
	prows, err := readCSV(products, productColumns)
	if err != nil {
		return nil, faults.Config("products.csv", err)
	}
	crows, err := readCSV(customers, customerColumns)
	if err != nil {
		return nil, faults.Config("customers.csv", err)
	}

	ff := fileFormat{}
	for line, row := range prows {
		rec := productRecord{ID: row[0], Name: row[1], Category: row[2]}
		if row[3] != "" {
			if rec.Price, err = strconv.ParseFloat(row[3], 64); err != nil {
				return nil, faults.Configf("products.csv", "line %d: price: %v", line+2, err)
			}
		}
		if row[4] != "" {
			if rec.ReturnWindowDays, err = strconv.Atoi(row[4]); err != nil {
				return nil, faults.Configf("products.csv", "line %d: return_window_days: %v", line+2, err)
			}
		}
		if row[5] != "" {
			b, err := strconv.ParseBool(row[5])
			if err != nil {
				return nil, faults.Configf("products.csv", "line %d: returnable: %v", line+2, err)
			}
			rec.Returnable = &b
		}
		if row[6] != "" {
			for _, f := range strings.Split(row[6], "|") {
				if f = strings.TrimSpace(f); f != "" {
					rec.Flags = append(rec.Flags, f)
				}
			}
		}
		ff.Products = append(ff.Products, rec)
	}
	for _, row := range crows {
		ff.Customers = append(ff.Customers, Customer{ID: row[0], Name: row[1], Email: row[2], Tier: row[3]})
	}
	return ff.build()
}

func readCSV(r io.Reader, columns []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(columns)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, col := range columns {
		if strings.ToLower(strings.TrimSpace(header[i])) != col {
			return nil, fmt.Errorf("column %d: got %q, want %q", i+1, header[i], col)
		}
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
	}
	return rows, nil
}

// withSource re-attributes a ConfigError to the file it came from.
func withSource(source string, err error) error {
	var ce *faults.ConfigError
	if errors.As(err, &ce) {
		return &faults.ConfigError{Source: source, Err: ce.Err}
	}
	return faults.Config(source, err)
}
