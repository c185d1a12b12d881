package eligibility

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/ecoreturns/internal/catalog"
	"github.com/kalambet/ecoreturns/internal/faults"
)

// Policy is the return-window table and the list of conditions that make a
// product non-returnable.
type Policy struct {
	DefaultWindowDays  int                      `yaml:"default_window_days"`
	Windows            map[catalog.Category]int `yaml:"windows"`
	NonReturnableFlags []string                 `yaml:"non_returnable_flags"`
	ExcludedCategories []catalog.Category       `yaml:"excluded_categories"`
	// NearDeadlineRatio marks a verdict as close to the limit once the elapsed
	// share of the window exceeds it.
	NearDeadlineRatio float64 `yaml:"near_deadline_ratio"`
	// HighValueThreshold flags items that need extra inspection.
	HighValueThreshold float64 `yaml:"high_value_threshold"`
}

// DefaultPolicy returns the built-in EcoTech policy table.
func DefaultPolicy() Policy {
	return Policy{
		DefaultWindowDays: 14,
		Windows: map[catalog.Category]int{
			catalog.Electronics: 30,
			catalog.Computers:   15,
			catalog.Audio:       14,
			catalog.Tablets:     7,
			catalog.Clothing:    15,
		},
		NonReturnableFlags: []string{"final_sale", "personalized", "hygiene", "activated_license"},
		NearDeadlineRatio:  0.8,
		HighValueThreshold: 500,
	}
}

// WindowFor returns the configured window for a category.
func (p Policy) WindowFor(c catalog.Category) int {
	if d, ok := p.Windows[c]; ok {
		return d
	}
	return p.DefaultWindowDays
}

func (p Policy) excluded(prod catalog.Product) bool {
	if !prod.Returnable {
		return true
	}
	for _, c := range p.ExcludedCategories {
		if c == prod.Category {
			return true
		}
	}
	for _, f := range p.NonReturnableFlags {
		if prod.HasFlag(f) {
			return true
		}
	}
	return false
}

// Validate rejects negative windows and unknown categories.
func (p Policy) Validate() error {
	if p.DefaultWindowDays < 0 {
		return fmt.Errorf("default_window_days must not be negative")
	}
	known := make(map[catalog.Category]bool, len(catalog.Categories))
	for _, c := range catalog.Categories {
		known[c] = true
	}
	for c, d := range p.Windows {
		if !known[c] {
			return fmt.Errorf("windows: unknown category %q", c)
		}
		if d < 0 {
			return fmt.Errorf("windows: %s must not be negative", c)
		}
	}
	for _, c := range p.ExcludedCategories {
		if !known[c] {
			return fmt.Errorf("excluded_categories: unknown category %q", c)
		}
	}
	if p.NearDeadlineRatio < 0 || p.NearDeadlineRatio > 1 {
		return fmt.Errorf("near_deadline_ratio must be within [0, 1]")
	}
	return nil
}

// LoadPolicy reads a YAML policy table. Keys absent from the document keep
// their default values.
func LoadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, faults.Config(path, err)
	}
	defer f.Close()

	p, err := DecodePolicy(f)
	if err != nil {
		return Policy{}, faults.Config(path, err)
	}
	return p, nil
}

// DecodePolicy parses a YAML policy document on top of DefaultPolicy.
func DecodePolicy(r io.Reader) (Policy, error) {
	p := DefaultPolicy()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Policy{}, fmt.Errorf("decoding policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
