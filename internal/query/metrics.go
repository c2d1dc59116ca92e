package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics exposes the Query Pipeline's Prometheus instrumentation,
// grounded on the pattern established in internal/vectorindex/metrics.go
// and internal/ingest/metrics.go.
type metrics struct {
	queries        prometheus.Counter
	cacheHits      prometheus.Counter
	gateFailures   prometheus.Counter
	timeouts       prometheus.Counter
	latencySeconds prometheus.Histogram
}

var queryMetrics metrics

func init() {
	queryMetrics.queries = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_query_total", Help: "Query Pipeline invocations"})
	queryMetrics.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_query_cache_hits_total", Help: "Query Pipeline response cache hits"})
	queryMetrics.gateFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_query_gate_failures_total", Help: "Queries rejected by provider gating"})
	queryMetrics.timeouts = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_query_timeouts_total", Help: "Queries that hit their timeout budget"})
	queryMetrics.latencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cie_query_latency_seconds",
		Help:    "End-to-end Query Pipeline latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	prometheus.MustRegister(
		queryMetrics.queries, queryMetrics.cacheHits, queryMetrics.gateFailures,
		queryMetrics.timeouts, queryMetrics.latencySeconds,
	)
}
