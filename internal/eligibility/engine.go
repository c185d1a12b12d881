// Package eligibility decides whether a purchase can still be returned.
package eligibility

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/ecoreturns/internal/catalog"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonWithinWindow     Reason = "within_window"
	ReasonExpired          Reason = "expired"
	ReasonCategoryExcluded Reason = "category_excluded"
	ReasonProductNotFound  Reason = "product_not_found"
	ReasonInvalidDate      Reason = "invalid_date"
)

// DateLayout is the accepted purchase date format.
const DateLayout = "2006-01-02"

// Verdict is the outcome of an eligibility check. It is computed on demand
// and never stored.
type Verdict struct {
	ProductID    string           `json:"product_id"`
	ProductName  string           `json:"product_name,omitempty"`
	PurchaseDate time.Time        `json:"purchase_date"`
	DaysElapsed  int              `json:"days_elapsed"`
	WindowDays   int              `json:"window_days"`
	Category     catalog.Category `json:"category,omitempty"`
	Eligible     bool             `json:"eligible"`
	Reason       Reason           `json:"reason"`
	// Advisory notes, only set on eligible verdicts.
	NearDeadline bool `json:"near_deadline,omitempty"`
	HighValue    bool `json:"high_value,omitempty"`
}

// ProductLookup resolves catalog products.
type ProductLookup interface {
	Product(id string) (catalog.Product, bool)
}

// Engine evaluates purchases against a policy table. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	products ProductLookup
	policy   Policy
	now      func() time.Time
	loc      *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the source of "today".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone in which calendar days are counted.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// New creates an Engine. Days are counted in UTC unless WithLocation is given.
func New(products ProductLookup, policy Policy, opts ...Option) *Engine {
	e := &Engine{products: products, policy: policy, now: time.Now, loc: time.UTC}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Policy returns the table the engine evaluates against.
func (e *Engine) Policy() Policy { return e.policy }

// Today returns the current calendar date at midnight in the engine location.
func (e *Engine) Today() time.Time {
	return civilDate(e.now(), e.loc)
}

// Evaluate checks, in order: product existence, purchase date sanity,
// non-returnable conditions, then the return window (inclusive).
func (e *Engine) Evaluate(productID string, purchaseDate time.Time) Verdict {
	v := Verdict{ProductID: productID}

	p, ok := e.products.Product(productID)
	if !ok {
		v.Reason = ReasonProductNotFound
		return v
	}
	v.ProductName = p.Name
	v.Category = p.Category
	v.WindowDays = e.window(p)

	// A purchase date is already a calendar date; it is not shifted into
	// the engine location.
	purchased := civilDate(purchaseDate, purchaseDate.Location())
	v.PurchaseDate = purchased
	today := e.Today()
	if purchaseDate.IsZero() || purchased.After(today) {
		v.Reason = ReasonInvalidDate
		return v
	}
	v.DaysElapsed = daysBetween(purchased, today)

	if e.policy.excluded(p) {
		v.Reason = ReasonCategoryExcluded
		return v
	}

	if v.DaysElapsed > v.WindowDays {
		v.Reason = ReasonExpired
		return v
	}

	v.Eligible = true
	v.Reason = ReasonWithinWindow
	if e.policy.NearDeadlineRatio > 0 && float64(v.DaysElapsed) > float64(v.WindowDays)*e.policy.NearDeadlineRatio {
		v.NearDeadline = true
	}
	if e.policy.HighValueThreshold > 0 && p.Price > e.policy.HighValueThreshold {
		v.HighValue = true
	}
	return v
}

// CheckExclusions runs only the existence and non-returnable checks. It is
// used when no purchase date is known.
func (e *Engine) CheckExclusions(productID string) Verdict {
	v := Verdict{ProductID: productID}
	p, ok := e.products.Product(productID)
	if !ok {
		v.Reason = ReasonProductNotFound
		return v
	}
	v.ProductName = p.Name
	v.Category = p.Category
	v.WindowDays = e.window(p)
	if e.policy.excluded(p) {
		v.Reason = ReasonCategoryExcluded
		return v
	}
	v.Eligible = true
	v.Reason = ReasonWithinWindow
	return v
}

func (e *Engine) window(p catalog.Product) int {
	if p.ReturnWindowDays > 0 {
		return p.ReturnWindowDays
	}
	return e.policy.WindowFor(p.Category)
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid purchase date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days; both inputs are UTC midnights so
// DST never skews the result.
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
