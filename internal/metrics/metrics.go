// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kbrag"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	embeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls by outcome.",
		},
		[]string{"provider", "status"},
	)

	embeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	embeddingTextsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_texts_total",
			Help:      "Texts sent to the embedding provider.",
		},
		[]string{"provider"},
	)

	embeddingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by result.",
		},
		[]string{"result"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency including the query embedding.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	ingestedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_records_total",
			Help:      "Chunk records appended to the index.",
		},
	)

	indexRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_rows",
			Help:      "Rows in the current index snapshot.",
		},
	)

	mirrorSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_sync_total",
			Help:      "Snapshot mirror uploads by outcome.",
		},
		[]string{"status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveEmbedding records one provider call for n texts.
func ObserveEmbedding(provider string, n int, d time.Duration, err error) {
	embeddingRequestsTotal.WithLabelValues(provider, status(err)).Inc()
	embeddingDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err == nil {
		embeddingTextsTotal.WithLabelValues(provider).Add(float64(n))
	}
}

// ObserveCacheLookups records cache hits and misses for one batch.
func ObserveCacheLookups(hits, misses int) {
	embeddingCacheTotal.WithLabelValues("hit").Add(float64(hits))
	embeddingCacheTotal.WithLabelValues("miss").Add(float64(misses))
}

// ObserveSearch records one search. class is empty for unfiltered searches.
func ObserveSearch(class string, d time.Duration) {
	if class == "" {
		class = "all"
	}
	searchDuration.WithLabelValues(class).Observe(d.Seconds())
}

// AddIngestedRecords counts appended rows.
func AddIngestedRecords(n int) {
	ingestedRecordsTotal.Add(float64(n))
}

// SetIndexRows publishes the snapshot size.
func SetIndexRows(n int) {
	indexRows.Set(float64(n))
}

// ObserveMirrorSync records one mirror upload attempt.
func ObserveMirrorSync(err error) {
	mirrorSyncTotal.WithLabelValues(status(err)).Inc()
}
