package orchestrator

import (
	"regexp"
	"strings"

	"github.com/kalambet/ecoreturns/internal/catalog"
	"github.com/kalambet/ecoreturns/internal/textnorm"
)

// Route is the coarse classification of a query.
type Route string

const (
	RouteLabel       Route = "label"
	RouteEligibility Route = "eligibility"
	RoutePolicy      Route = "policy"
	RouteKnowledge   Route = "knowledge"
)

// Keyword triggers, matched as substrings of the folded query. A label or
// eligibility keyword only routes to its tool together with an id: label
// needs a product or customer id, eligibility needs a product id. Without
// one the query is answered from the policy documents or the general
// knowledge base.
var (
	labelKeywords       = []string{"etiqueta", "label"}
	eligibilityKeywords = []string{"elegib", "eligib", "puedo devolver", "can i return", "verificar", "devolver"}
	policyKeywords      = []string{"politica", "policy", "plazo", "garantia", "devolucion", "reembolso", "excepcion"}
)

var (
	productPattern  = regexp.MustCompile(`(?i)\bPROD\d+\b`)
	customerPattern = regexp.MustCompile(`(?i)\bCLI\d+\b`)
	datePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// KeywordRouter classifies queries by keyword. It is deterministic and
// needs no external capability.
type KeywordRouter struct{}

// Route returns the route for query.
func (KeywordRouter) Route(query string) Route {
	folded := textnorm.Fold(query)
	hasProduct := productPattern.MatchString(query)
	switch {
	case containsAny(folded, labelKeywords) && (hasProduct || customerPattern.MatchString(query)):
		return RouteLabel
	case containsAny(folded, eligibilityKeywords) && hasProduct:
		return RouteEligibility
	case containsAny(folded, policyKeywords) || mentionsCategory(query):
		return RoutePolicy
	}
	return RouteKnowledge
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func mentionsCategory(query string) bool {
	_, ok := findCategory(query)
	return ok
}

func findCategory(query string) (catalog.Category, bool) {
	for _, tok := range textnorm.Tokens(query) {
		if c, err := catalog.ParseCategory(tok); err == nil {
			return c, true
		}
	}
	return "", false
}

// Extract pulls product id, customer id, ISO purchase date and category
// from free text. Ids are upper-cased; the first match of each wins.
func Extract(query string) Args {
	a := Args{Query: strings.TrimSpace(query)}
	a.ProductID = strings.ToUpper(productPattern.FindString(query))
	a.CustomerID = strings.ToUpper(customerPattern.FindString(query))
	a.PurchaseDate = datePattern.FindString(query)
	if c, ok := findCategory(query); ok {
		a.Category = string(c)
	}
	return a
}

// Plan returns the capability sequence for a route.
func Plan(route Route, a Args) []Capability {
	switch route {
	case RouteLabel:
		if a.PurchaseDate != "" {
			return []Capability{CheckEligibility, GenerateLabel}
		}
		return []Capability{GenerateLabel}
	case RouteEligibility:
		return []Capability{CheckEligibility}
	case RoutePolicy:
		return []Capability{PolicyAnswer}
	default:
		return []Capability{KnowledgeAnswer}
	}
}
