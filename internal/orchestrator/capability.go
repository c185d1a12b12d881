package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kalambet/ecoreturns/internal/catalog"
	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/knowledge"
	"github.com/kalambet/ecoreturns/internal/label"
	"github.com/kalambet/ecoreturns/internal/textnorm"
)

// Capability is one of the closed set of operations a query can invoke.
type Capability string

const (
	CheckEligibility Capability = "check_eligibility"
	GenerateLabel    Capability = "generate_label"
	PolicyAnswer     Capability = "policy_answer"
	KnowledgeAnswer  Capability = "knowledge_answer"
)

// Capabilities lists every capability in dispatch order.
var Capabilities = []Capability{CheckEligibility, GenerateLabel, PolicyAnswer, KnowledgeAnswer}

// Argument names.
const (
	ArgQuery        = "query"
	ArgProductID    = "product_id"
	ArgCustomerID   = "customer_id"
	ArgPurchaseDate = "purchase_date"
	ArgCategory     = "category"
)

// Args are the structured fields extracted from a query.
type Args struct {
	Query        string `json:"query,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	CustomerID   string `json:"customer_id,omitempty"`
	PurchaseDate string `json:"purchase_date,omitempty"`
	Category     string `json:"category,omitempty"`
}

func (a Args) get(name string) string {
	switch name {
	case ArgQuery:
		return a.Query
	case ArgProductID:
		return a.ProductID
	case ArgCustomerID:
		return a.CustomerID
	case ArgPurchaseDate:
		return a.PurchaseDate
	case ArgCategory:
		return a.Category
	}
	return ""
}

// handler runs a capability. A non-empty reason reports a business failure;
// err is reserved for cancellation and unexpected faults.
type handler func(o *Orchestrator, ctx context.Context, a Args) (result any, reason string, err error)

type capabilitySpec struct {
	required []string
	optional []string
	run      handler
}

var dispatch = map[Capability]capabilitySpec{
	CheckEligibility: {
		required: []string{ArgProductID, ArgPurchaseDate},
		run:      (*Orchestrator).checkEligibility,
	},
	GenerateLabel: {
		required: []string{ArgProductID, ArgCustomerID},
		optional: []string{ArgPurchaseDate},
		run:      (*Orchestrator).generateLabel,
	},
	PolicyAnswer: {
		required: []string{ArgQuery},
		optional: []string{ArgCategory},
		run:      (*Orchestrator).policyAnswer,
	},
	KnowledgeAnswer: {
		required: []string{ArgQuery},
		run:      (*Orchestrator).knowledgeAnswer,
	},
}

// Required returns the argument names c cannot run without.
func (c Capability) Required() []string {
	return dispatch[c].required
}

// Valid reports whether c is in the dispatch table.
func (c Capability) Valid() bool {
	_, ok := dispatch[c]
	return ok
}

// missing returns the required arguments of c that a does not carry.
func (c Capability) missing(a Args) []string {
	var out []string
	for _, name := range dispatch[c].required {
		if strings.TrimSpace(a.get(name)) == "" {
			out = append(out, name)
		}
	}
	return out
}

// params returns the arguments c consumes, as recorded in the trace.
func (c Capability) params(a Args) map[string]string {
	spec := dispatch[c]
	out := make(map[string]string, len(spec.required)+len(spec.optional))
	for _, names := range [][]string{spec.required, spec.optional} {
		for _, name := range names {
			if v := a.get(name); v != "" {
				out[name] = v
			}
		}
	}
	return out
}

func (o *Orchestrator) checkEligibility(_ context.Context, a Args) (any, string, error) {
	date, err := eligibility.ParseDate(a.PurchaseDate)
	if err != nil {
		v := eligibility.Verdict{ProductID: a.ProductID, Reason: eligibility.ReasonInvalidDate}
		return v, string(eligibility.ReasonInvalidDate), nil
	}
	v := o.rules.Evaluate(a.ProductID, date)
	switch v.Reason {
	case eligibility.ReasonProductNotFound, eligibility.ReasonInvalidDate:
		return v, string(v.Reason), nil
	}
	return v, "", nil
}

func (o *Orchestrator) generateLabel(_ context.Context, a Args) (any, string, error) {
	var purchase time.Time
	if a.PurchaseDate != "" {
		t, err := eligibility.ParseDate(a.PurchaseDate)
		if err != nil {
			return nil, string(eligibility.ReasonInvalidDate), nil
		}
		purchase = t
	}
	lbl, err := o.labels.Generate(a.ProductID, a.CustomerID, purchase)
	if err != nil {
		var le *label.Error
		if errors.As(err, &le) {
			return le, labelReason(le), nil
		}
		return nil, "", err
	}
	return lbl, "", nil
}

func labelReason(e *label.Error) string {
	if e.Kind == label.KindIneligible {
		return string(e.Reason)
	}
	return string(e.Kind)
}

func (o *Orchestrator) policyAnswer(ctx context.Context, a Args) (any, string, error) {
	q := a.Query
	if c, err := catalog.ParseCategory(a.Category); err == nil {
		name := c.Label()
		if !strings.Contains(textnorm.Fold(q), textnorm.Fold(name)) {
			q += " " + name
		}
	}
	ans, err := o.answerer.Answer(ctx, q, knowledge.KindPolicy)
	if err != nil {
		return nil, "", err
	}
	return ans, "", nil
}

func (o *Orchestrator) knowledgeAnswer(ctx context.Context, a Args) (any, string, error) {
	ans, err := o.answerer.Answer(ctx, a.Query)
	if err != nil {
		return nil, "", err
	}
	return ans, "", nil
}
