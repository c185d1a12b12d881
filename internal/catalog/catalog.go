// Package catalog holds the read-only product and customer records.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/ecoreturns/internal/faults"
	"github.com/kalambet/ecoreturns/internal/textnorm"
)

// Category is the closed set of product categories the policy table knows.
type Category string

const (
	Electronics Category = "electronics"
	Computers   Category = "computers"
	Audio       Category = "audio"
	Tablets     Category = "tablets"
	Clothing    Category = "clothing"
	Other       Category = "other"
)

// Categories lists every category in a stable order.
var Categories = []Category{Electronics, Computers, Audio, Tablets, Clothing, Other}

// categoryAliases maps folded names (English and Spanish) to categories.
var categoryAliases = map[string]Category{
	"electronics":  Electronics,
	"electronic":   Electronics,
	"electronicos": Electronics,
	"electronico":  Electronics,
	"computers":    Computers,
	"computer":     Computers,
	"computadoras": Computers,
	"computadora":  Computers,
	"audio":        Audio,
	"tablets":      Tablets,
	"tablet":       Tablets,
	"clothing":     Clothing,
	"ropa":         Clothing,
	"other":        Other,
	"otros":        Other,
}

// ParseCategory resolves a category name case- and accent-insensitively.
func ParseCategory(s string) (Category, error) {
	if c, ok := categoryAliases[textnorm.Fold(s)]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Label returns the Spanish display name used in answers.
func (c Category) Label() string {
	switch c {
	case Electronics:
		return "Electrónicos"
	case Computers:
		return "Computadoras"
	case Audio:
		return "Audio"
	case Tablets:
		return "Tablets"
	case Clothing:
		return "Ropa"
	default:
		return "Otros"
	}
}

// Product is an immutable catalog entry.
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Price    float64  `json:"price"`
	// ReturnWindowDays overrides the category window when positive.
	ReturnWindowDays int      `json:"return_window_days,omitempty"`
	Returnable       bool     `json:"returnable"`
	Flags            []string `json:"flags,omitempty"`
}

// HasFlag reports whether the product carries the given condition flag.
func (p Product) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Customer is an immutable customer entry.
type Customer struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	Tier  string `json:"tier" yaml:"tier"`
}

// Store answers lookups by id. It is safe for concurrent use since it is
// never mutated after construction.
type Store struct {
	products  map[string]Product
	customers map[string]Customer
}

// New validates the records and builds a Store. Empty or duplicate ids are
// reported as a ConfigError.
func New(products []Product, customers []Customer) (*Store, error) {
	s := &Store{
		products:  make(map[string]Product, len(products)),
		customers: make(map[string]Customer, len(customers)),
	}
	for i, p := range products {
		if strings.TrimSpace(p.ID) == "" {
			return nil, faults.Configf("catalog", "product %d: empty id", i)
		}
		if _, dup := s.products[p.ID]; dup {
			return nil, faults.Configf("catalog", "duplicate product id %s", p.ID)
		}
		if p.ReturnWindowDays < 0 {
			return nil, faults.Configf("catalog", "product %s: negative return window", p.ID)
		}
		if p.Category == "" {
			p.Category = Other
		}
		p.Flags = append([]string(nil), p.Flags...)
		s.products[p.ID] = p
	}
	for i, c := range customers {
		if strings.TrimSpace(c.ID) == "" {
			return nil, faults.Configf("catalog", "customer %d: empty id", i)
		}
		if _, dup := s.customers[c.ID]; dup {
			return nil, faults.Configf("catalog", "duplicate customer id %s", c.ID)
		}
		s.customers[c.ID] = c
	}
	return s, nil
}

// Product returns the product with the given id.
func (s *Store) Product(id string) (Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

// Customer returns the customer with the given id.
func (s *Store) Customer(id string) (Customer, bool) {
	c, ok := s.customers[id]
	return c, ok
}

// Products returns all products sorted by id.
func (s *Store) Products() []Product {
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Customers returns all customers sorted by id.
func (s *Store) Customers() []Customer {
	out := make([]Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
