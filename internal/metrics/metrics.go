// Package metrics defines the Prometheus instruments for crawling and embedding.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Crawl and embedding Prometheus metrics.
var (
	CrawlPagesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbcrawl",
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched by the crawler",
		},
		[]string{"host", "status"},
	)

	CrawlPagesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbcrawl",
			Name:      "pages_skipped_total",
			Help:      "Total number of pages skipped by policy",
		},
		[]string{"reason"},
	)

	CrawlFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbcrawl",
			Name:      "fetch_duration_seconds",
			Help:      "Page fetch duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbcrawl",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbcrawl",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbcrawl",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model", "type"},
	)

	ChunksEmbeddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbcrawl",
			Name:      "chunks_embedded_total",
			Help:      "Total chunks embedded and written to the vector index",
		},
	)
)

var registered bool

// Register registers all kbcrawl metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(CrawlPagesFetchedTotal)
	prometheus.MustRegister(CrawlPagesSkippedTotal)
	prometheus.MustRegister(CrawlFetchDuration)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingTokensTotal)
	prometheus.MustRegister(ChunksEmbeddedTotal)
	registered = true
}
