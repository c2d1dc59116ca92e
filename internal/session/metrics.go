package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics exposes the Orchestrator's Prometheus instrumentation, grounded
// on the pattern established in internal/ingest/metrics.go and
// internal/query/metrics.go.
type metrics struct {
	watchBatches    prometheus.Counter
	watchPaths      prometheus.Counter
	healAttempts    prometheus.Counter
	shutdowns       prometheus.Counter
}

var sessionMetrics metrics

func init() {
	sessionMetrics.watchBatches = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_session_watch_batches_total", Help: "Debounced file-watcher batches processed"})
	sessionMetrics.watchPaths = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_session_watch_paths_total", Help: "Individual paths delivered to incremental ingestion via the watcher"})
	sessionMetrics.healAttempts = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_session_heal_attempts_total", Help: "Healing retries of previously-errored files"})
	sessionMetrics.shutdowns = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_session_shutdowns_total", Help: "Completed Session.Shutdown calls"})

	prometheus.MustRegister(
		sessionMetrics.watchBatches, sessionMetrics.watchPaths,
		sessionMetrics.healAttempts, sessionMetrics.shutdowns,
	)
}
