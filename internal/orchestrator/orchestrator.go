// Package orchestrator routes a customer query to the capabilities that
// answer it, runs them in a bounded number of steps and records the trace.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/answer"
	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/faults"
	"github.com/kalambet/ecoreturns/internal/label"
)

// DefaultMaxSteps bounds capability invocations per query.
const DefaultMaxSteps = 3

// Status is the overall outcome of a query.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// Failure reasons raised by the orchestrator itself. Capability failures
// carry the eligibility or label reason instead.
const (
	ReasonMissingArguments  = "missing_arguments"
	ReasonStepLimitExceeded = "step_limit_exceeded"
	ReasonRoutingFailed     = "routing_failed"
	ReasonUnknownCapability = "unknown_capability"
	ReasonCapabilityError   = "capability_error"
)

// Trace modes besides the answer modes.
const ModeDeterministic = "deterministic"

// Invocation is one attempted capability call.
type Invocation struct {
	Capability Capability        `json:"capability"`
	Args       map[string]string `json:"args"`
	Result     any               `json:"result,omitempty"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	LatencyMS  int64             `json:"latency_ms"`
}

// Trace is the immutable record of one processed query.
type Trace struct {
	ID            string       `json:"id"`
	Query         string       `json:"query"`
	Route         Route        `json:"route,omitempty"`
	Planner       string       `json:"planner,omitempty"`
	Invocations   []Invocation `json:"invocations"`
	Answer        string       `json:"answer"`
	Status        Status       `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Mode          string       `json:"mode,omitempty"`
	Degraded      bool         `json:"degraded,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	LatencyMS     int64        `json:"latency_ms"`
}

// Result is the outcome of ProcessQuery.
type Result struct {
	Answer string `json:"answer"`
	Status Status `json:"status"`
	Trace  Trace  `json:"trace"`
}

// EligibilityChecker evaluates return eligibility.
type EligibilityChecker interface {
	Evaluate(productID string, purchaseDate time.Time) eligibility.Verdict
}

// LabelIssuer issues return labels.
type LabelIssuer interface {
	Generate(productID, customerID string, purchaseDate time.Time) (label.ReturnLabel, error)
}

// Answerer answers from the knowledge base, optionally restricted to
// document kinds.
type Answerer interface {
	Answer(ctx context.Context, query string, kinds ...string) (answer.Answer, error)
}

// Recorder receives every completed trace.
type Recorder interface {
	Record(ctx context.Context, t Trace) error
}

// Dependencies wires an Orchestrator. Rules, Labels and Answerer are
// required.
type Dependencies struct {
	Rules    EligibilityChecker
	Labels   LabelIssuer
	Answerer Answerer
	Planner  Planner
	Recorder Recorder
	Metrics  *Metrics
	MaxSteps int
	Clock    func() time.Time
}

// Orchestrator processes queries. It holds no per-query state and is safe
// for concurrent use.
type Orchestrator struct {
	rules    EligibilityChecker
	labels   LabelIssuer
	answerer Answerer
	planner  Planner
	recorder Recorder
	metrics  *Metrics
	maxSteps int
	now      func() time.Time
}

// New validates deps and creates an Orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Rules == nil:
		return nil, faults.Configf("orchestrator", "eligibility rules are required")
	case deps.Labels == nil:
		return nil, faults.Configf("orchestrator", "label generator is required")
	case deps.Answerer == nil:
		return nil, faults.Configf("orchestrator", "answerer is required")
	case deps.MaxSteps < 0:
		return nil, faults.Configf("orchestrator", "max steps must not be negative")
	}
	o := &Orchestrator{
		rules:    deps.Rules,
		labels:   deps.Labels,
		answerer: deps.Answerer,
		planner:  deps.Planner,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		maxSteps: deps.MaxSteps,
		now:      deps.Clock,
	}
	if o.planner == nil {
		o.planner = KeywordPlanner{}
	}
	if o.maxSteps == 0 {
		o.maxSteps = DefaultMaxSteps
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// ProcessQuery answers one query. Business failures are reported through
// the result status and answer text. The only errors are the caller's
// cancellation and a configuration error (such as an embedding dimension
// mismatch); in both cases nothing is recorded.
func (o *Orchestrator) ProcessQuery(ctx context.Context, text string) (Result, error) {
	start := o.now()
	tr := Trace{ID: uuid.NewString(), Query: text, StartedAt: start.UTC(), Invocations: []Invocation{}}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Routing.
	var (
		d       Decision
		missing []string
	)
	if strings.TrimSpace(text) == "" {
		tr.FailureReason = ReasonMissingArguments
		missing = []string{ArgQuery}
	} else {
		var err error
		d, err = o.planner.Decide(ctx, text)
		switch {
		case err != nil && ctx.Err() != nil:
			return Result{}, ctx.Err()
		case err != nil:
			log.Warn().Err(err).Msg("routing failed")
			tr.FailureReason = ReasonRoutingFailed
		default:
			tr.Route, tr.Planner = d.Route, d.Source
			if missing = missingArgs(d); len(missing) > 0 {
				tr.FailureReason = ReasonMissingArguments
			}
		}
	}

	// Executing.
	if tr.FailureReason == "" {
		for {
			c, ok := o.planner.Next(d, tr.Invocations)
			if !ok {
				break
			}
			if len(tr.Invocations) >= o.maxSteps {
				tr.FailureReason = ReasonStepLimitExceeded
				break
			}
			inv, err := o.invoke(ctx, c, d.Args)
			if err != nil {
				return Result{}, err
			}
			tr.Invocations = append(tr.Invocations, inv)
		}
	}

	// Composing.
	o.compose(&tr, d, missing)
	tr.LatencyMS = o.now().Sub(start).Milliseconds()

	o.observe(tr)
	if o.recorder != nil {
		if err := o.recorder.Record(ctx, tr); err != nil {
			log.Warn().Err(err).Str("trace_id", tr.ID).Msg("recording interaction failed")
		}
	}
	log.Debug().Str("trace_id", tr.ID).Str("route", string(tr.Route)).Str("status", string(tr.Status)).
		Int("steps", len(tr.Invocations)).Int64("latency_ms", tr.LatencyMS).Msg("query processed")

	return Result{Answer: tr.Answer, Status: tr.Status, Trace: tr}, nil
}

// missingArgs returns the union of required arguments the planned steps
// cannot be given, in first-seen order.
func missingArgs(d Decision) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range d.Steps {
		for _, name := range c.missing(d.Args) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// invoke runs one capability. The returned error is the caller's
// cancellation or a configuration error; everything else is recorded on the
// invocation.
func (o *Orchestrator) invoke(ctx context.Context, c Capability, a Args) (Invocation, error) {
	inv := Invocation{Capability: c, Args: map[string]string{}}
	spec, ok := dispatch[c]
	if !ok {
		inv.Reason = ReasonUnknownCapability
		return inv, nil
	}
	inv.Args = c.params(a)
	if len(c.missing(a)) > 0 {
		inv.Reason = ReasonMissingArguments
		return inv, nil
	}

	start := o.now()
	result, reason, err := spec.run(o, ctx, a)
	inv.LatencyMS = o.now().Sub(start).Milliseconds()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Invocation{}, ctxErr
	}
	if faults.IsConfig(err) {
		return Invocation{}, fmt.Errorf("%s: %w", c, err)
	}
	inv.Result = result
	switch {
	case err != nil:
		log.Warn().Err(err).Str("capability", string(c)).Msg("capability failed")
		inv.Reason = ReasonCapabilityError
		inv.Error = err.Error()
	case reason != "":
		inv.Reason = reason
	default:
		inv.Success = true
	}
	o.metrics.IncInvocation(string(c), inv.Success)
	return inv, nil
}

// compose fills in the answer, status and mode of a trace.
func (o *Orchestrator) compose(tr *Trace, d Decision, missing []string) {
	if tr.FailureReason == ReasonMissingArguments || tr.FailureReason == ReasonRoutingFailed {
		tr.Status = StatusFailure
		tr.Answer = renderOrchestratorFailure(tr.FailureReason, missing)
		return
	}

	lastOK := -1
	for i, inv := range tr.Invocations {
		if inv.Success {
			lastOK = i
		}
	}

	if tr.FailureReason == ReasonStepLimitExceeded {
		tr.Status = StatusFailure
		tr.Answer = renderOrchestratorFailure(tr.FailureReason, nil)
		return
	}

	if lastOK < 0 {
		tr.Status = StatusFailure
		if n := len(tr.Invocations); n > 0 {
			last := tr.Invocations[n-1]
			tr.FailureReason = last.Reason
			tr.Answer = renderInvocationFailure(last)
		} else {
			tr.FailureReason = ReasonRoutingFailed
			tr.Answer = renderOrchestratorFailure(ReasonRoutingFailed, nil)
		}
		return
	}

	best := tr.Invocations[lastOK]
	parts := []string{renderResult(best)}
	tr.Status = StatusSuccess
	tr.Mode = ModeDeterministic
	if a, ok := best.Result.(answer.Answer); ok {
		tr.Mode = string(a.Mode)
		if a.Degraded {
			tr.Degraded = true
			tr.Status = StatusPartial
		}
	}

	if lastOK < len(tr.Invocations)-1 {
		failed := tr.Invocations[len(tr.Invocations)-1]
		parts = append(parts, renderInvocationFailure(failed))
		tr.Status = StatusPartial
		tr.FailureReason = failed.Reason
	} else if len(tr.Invocations) < len(d.Steps) {
		tr.Status = StatusPartial
		if v, ok := best.Result.(eligibility.Verdict); ok && !v.Eligible {
			tr.FailureReason = string(v.Reason)
			parts = append(parts, "Por este motivo no se generó la etiqueta de devolución.")
		}
	}
	tr.Answer = strings.Join(parts, "\n\n")
}

func (o *Orchestrator) observe(tr Trace) {
	o.metrics.ObserveQuery(string(tr.Route), string(tr.Status), time.Duration(tr.LatencyMS)*time.Millisecond)
	if tr.FailureReason != "" {
		o.metrics.IncFailure(tr.FailureReason)
	}
	if tr.Degraded {
		o.metrics.IncDegraded()
	}
}
