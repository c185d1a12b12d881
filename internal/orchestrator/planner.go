package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/intent"
)

// Planner sources.
const (
	SourceKeyword = "keyword"
	SourceLLM     = "llm"
)

// Decision is the routing outcome for one query.
type Decision struct {
	Route  Route        `json:"route"`
	Args   Args         `json:"args"`
	Steps  []Capability `json:"steps"`
	Source string       `json:"source"`
}

// Planner routes a query and then drives execution one step at a time.
type Planner interface {
	// Decide routes the query and extracts its arguments.
	Decide(ctx context.Context, query string) (Decision, error)
	// Next returns the capability to run after history, or false when the
	// plan is complete.
	Next(d Decision, history []Invocation) (Capability, bool)
}

// KeywordPlanner plans with the KeywordRouter only.
type KeywordPlanner struct {
	Router KeywordRouter
}

func (p KeywordPlanner) Decide(_ context.Context, query string) (Decision, error) {
	args := Extract(query)
	route := p.Router.Route(query)
	return Decision{Route: route, Args: args, Steps: Plan(route, args), Source: SourceKeyword}, nil
}

func (KeywordPlanner) Next(d Decision, history []Invocation) (Capability, bool) {
	return followPlan(d, history)
}

// followPlan walks d.Steps in order and stops early once a step failed or
// an eligibility check came back negative.
func followPlan(d Decision, history []Invocation) (Capability, bool) {
	n := len(history)
	if n > 0 && halts(history[n-1]) {
		return "", false
	}
	if n >= len(d.Steps) {
		return "", false
	}
	return d.Steps[n], true
}

func halts(inv Invocation) bool {
	if !inv.Success {
		return true
	}
	if v, ok := inv.Result.(eligibility.Verdict); ok && !v.Eligible {
		return true
	}
	return false
}

// IntentExtractor classifies a query with a generator.
type IntentExtractor interface {
	Extract(ctx context.Context, query string) intent.Intent
}

// LLMPlanner asks a generator to pick the capability and falls back to
// keyword routing whenever the generator gives no usable answer.
type LLMPlanner struct {
	extractor IntentExtractor
	fallback  KeywordPlanner
}

// NewLLMPlanner creates an LLMPlanner over extractor.
func NewLLMPlanner(extractor IntentExtractor) *LLMPlanner {
	return &LLMPlanner{extractor: extractor}
}

// CapabilityNames returns the capability set as plain strings, for the
// extractor's schema.
func CapabilityNames() []string {
	out := make([]string, len(Capabilities))
	for i, c := range Capabilities {
		out[i] = string(c)
	}
	return out
}

func (p *LLMPlanner) Decide(ctx context.Context, query string) (Decision, error) {
	in := p.extractor.Extract(ctx, query)
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	route, ok := routeFor(Capability(in.Capability))
	if !ok {
		log.Debug().Msg("model routing unavailable, using keyword routing")
		return p.fallback.Decide(ctx, query)
	}

	// Pattern matches win over model output; the model only fills gaps.
	args := Extract(query)
	if args.ProductID == "" && productPattern.MatchString(in.ProductID) {
		args.ProductID = in.ProductID
	}
	if args.CustomerID == "" && customerPattern.MatchString(in.CustomerID) {
		args.CustomerID = in.CustomerID
	}
	if args.PurchaseDate == "" && in.PurchaseDate != "" {
		if _, err := time.Parse(eligibility.DateLayout, in.PurchaseDate); err == nil {
			args.PurchaseDate = in.PurchaseDate
		}
	}
	if args.Category == "" && in.Category != "" {
		if c, ok := findCategory(in.Category); ok {
			args.Category = string(c)
		}
	}
	return Decision{Route: route, Args: args, Steps: Plan(route, args), Source: SourceLLM}, nil
}

func (p *LLMPlanner) Next(d Decision, history []Invocation) (Capability, bool) {
	return followPlan(d, history)
}

func routeFor(c Capability) (Route, bool) {
	switch c {
	case CheckEligibility:
		return RouteEligibility, true
	case GenerateLabel:
		return RouteLabel, true
	case PolicyAnswer:
		return RoutePolicy, true
	case KnowledgeAnswer:
		return RouteKnowledge, true
	}
	return "", false
}
