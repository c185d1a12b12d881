package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report query processing.
type Metrics struct {
	queries     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	invocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	degraded    prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global registry.
// The collectors are created once so several orchestrators can share them.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on reg. Collectors already registered
// with the same description are reused; any other registration error
// panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	queries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecoreturns",
			Subsystem: "orchestrator",
			Name:      "queries_total",
			Help:      "Processed queries by route and final status.",
		},
		[]string{"route", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecoreturns",
			Subsystem: "orchestrator",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	invocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecoreturns",
			Subsystem: "orchestrator",
			Name:      "capability_invocations_total",
			Help:      "Capability invocations by capability and outcome.",
		},
		[]string{"capability", "success"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecoreturns",
			Subsystem: "orchestrator",
			Name:      "failures_total",
			Help:      "Queries that ended with a failure reason.",
		},
		[]string{"reason"},
	)
	degraded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecoreturns",
			Subsystem: "orchestrator",
			Name:      "degraded_answers_total",
			Help:      "Answers produced without retrieved context.",
		},
	)

	collectors := []prometheus.Collector{queries, duration, invocations, failures, degraded}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch target := collector.(type) {
			case *prometheus.HistogramVec:
				duration = already.ExistingCollector.(*prometheus.HistogramVec)
			case *prometheus.CounterVec:
				switch target {
				case queries:
					queries = already.ExistingCollector.(*prometheus.CounterVec)
				case invocations:
					invocations = already.ExistingCollector.(*prometheus.CounterVec)
				case failures:
					failures = already.ExistingCollector.(*prometheus.CounterVec)
				}
			case prometheus.Counter:
				degraded = already.ExistingCollector.(prometheus.Counter)
			}
		}
	}

	return &Metrics{
		queries:     queries,
		duration:    duration,
		invocations: invocations,
		failures:    failures,
		degraded:    degraded,
	}
}

// ObserveQuery records a finished query.
func (m *Metrics) ObserveQuery(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "none"
	}
	m.queries.WithLabelValues(route, status).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

// IncInvocation counts one capability call.
func (m *Metrics) IncInvocation(capability string, success bool) {
	if m == nil {
		return
	}
	ok := "false"
	if success {
		ok = "true"
	}
	m.invocations.WithLabelValues(capability, ok).Inc()
}

// IncFailure counts a query failure reason.
func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// IncDegraded counts an answer given without context.
func (m *Metrics) IncDegraded() {
	if m == nil {
		return
	}
	m.degraded.Inc()
}
