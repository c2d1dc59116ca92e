package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus instrumentation for the Ingestion
// Pipeline, grounded on the teacher's pkg/ingestion/metrics.go
// metricsIngestion — trimmed to the counters this pipeline's Bootstrap/
// Incremental passes actually emit (no replication-log batch metrics,
// since there is no Primary Hub in this build).
type metrics struct {
	once sync.Once

	filesParsed    prometheus.Counter
	filesSkipped   prometheus.Counter
	filesErrored   prometheus.Counter
	symbolsUpserted prometheus.Counter
	callsResolved  prometheus.Counter
	embedComputed  prometheus.Counter
	embedSkipped   prometheus.Counter
	embedErrors    prometheus.Counter
	packsWritten   prometheus.Counter
	passesCoalesced prometheus.Counter
	needsReembed   prometheus.Gauge

	parseDuration prometheus.Histogram
	embedDuration prometheus.Histogram
	totalDuration prometheus.Histogram
}

var ingMetrics metrics

func (m *metrics) init() {
	m.once.Do(func() {
		m.filesParsed = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_files_parsed_total", Help: "Files successfully parsed by the Ingestion Pipeline"})
		m.filesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_files_skipped_total", Help: "Files skipped because their content hash is unchanged"})
		m.filesErrored = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_files_errored_total", Help: "Files that failed to parse"})
		m.symbolsUpserted = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_symbols_upserted_total", Help: "Symbol facts upserted into the store"})
		m.callsResolved = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_calls_resolved_total", Help: "Cross-file call references resolved"})
		m.embedComputed = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_embeddings_computed_total", Help: "Embeddings successfully computed"})
		m.embedSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_embeddings_skipped_total", Help: "Embeddings left missing due to provider unavailability"})
		m.embedErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_embeddings_errors_total", Help: "Embedding requests that failed after retry"})
		m.packsWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_packs_written_total", Help: "Context packs written or refreshed"})
		m.passesCoalesced = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ingest_passes_coalesced_total", Help: "Overlapping ingestion requests coalesced onto a running pass"})
		m.needsReembed = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cie_ingest_needs_reembed", Help: "1 if the embedding provider's model identity has drifted from the store's last-recorded one, else 0"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ingest_parse_seconds", Help: "Duration of the parse stage", Buckets: buckets})
		m.embedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ingest_embed_seconds", Help: "Duration of the embed stage", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ingest_total_seconds", Help: "Duration of the full ingestion pass", Buckets: buckets})

		prometheus.MustRegister(
			m.filesParsed, m.filesSkipped, m.filesErrored,
			m.symbolsUpserted, m.callsResolved,
			m.embedComputed, m.embedSkipped, m.embedErrors,
			m.packsWritten, m.passesCoalesced, m.needsReembed,
			m.parseDuration, m.embedDuration, m.totalDuration,
		)
	})
}
