package vectorindex

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics exposes the Vector Index's Prometheus instrumentation,
// grounded on the pattern established in internal/ingest/metrics.go.
type metrics struct {
	generation    prometheus.Gauge
	size          prometheus.Gauge
	searches      prometheus.Counter
	searchSeconds prometheus.Histogram
	rebuilds      prometheus.Counter
}

var vecMetrics metrics

func init() {
	vecMetrics.generation = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cie_vectorindex_generation", Help: "Current Vector Index generation counter"})
	vecMetrics.size = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cie_vectorindex_size", Help: "Number of vectors currently indexed"})
	vecMetrics.searches = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_vectorindex_searches_total", Help: "Vector Index searches performed"})
	vecMetrics.searchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cie_vectorindex_search_seconds",
		Help:    "Duration of Vector Index searches",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})
	vecMetrics.rebuilds = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_vectorindex_rebuilds_total", Help: "Full rebuilds from scan_embeddings"})

	prometheus.MustRegister(
		vecMetrics.generation, vecMetrics.size,
		vecMetrics.searches, vecMetrics.searchSeconds, vecMetrics.rebuilds,
	)
}
