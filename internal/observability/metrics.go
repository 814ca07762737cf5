package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper search service.
// Metrics are organized by subsystem: searches, cache, sources, dedup and
// LLM operations. They are registered against the Registerer passed to
// NewMetrics.
type Metrics struct {
	// SearchesStarted counts search requests that reached the pipeline.
	SearchesStarted prometheus.Counter

	// SearchesCompleted counts searches that produced a response, labeled by
	// outcome ("ok", "cached", "empty").
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts searches that ended in an error.
	SearchesFailed prometheus.Counter

	// SearchDuration observes the end-to-end search duration in seconds.
	SearchDuration prometheus.Histogram

	// CacheHits counts cache hits, labeled by entry kind.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts cache misses, labeled by entry kind.
	CacheMisses *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to paper source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed source requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to paper source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from paper source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// PapersBySource counts candidate papers returned, labeled by paper source.
	PapersBySource *prometheus.CounterVec

	// PapersDuplicate counts candidate records merged away by deduplication.
	PapersDuplicate prometheus.Counter

	// RankingFallbacks counts rankings served by the citation heuristic.
	RankingFallbacks prometheus.Counter

	// SummaryTimeouts counts summary or overview tasks abandoned at their deadline.
	SummaryTimeouts *prometheus.CounterVec

	// PrecacheSummaries counts summaries written by the background precache job.
	PrecacheSummaries prometheus.Counter

	// LLMRequestsTotal counts LLM API requests, labeled by operation and provider.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM requests, labeled by operation, provider, and error kind.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and provider.
	LLMRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Searches
		SearchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of searches started",
		}),
		SearchesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of searches completed, by outcome",
		}, []string{"outcome"}),
		SearchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of searches that failed",
		}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of searches in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 15, 20, 30, 60},
		}),

		// Cache
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"kind"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"kind"}),

		// Sources
		SourceRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to paper source APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to paper source APIs",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to paper source APIs in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from paper source APIs",
		}, []string{"source"}),

		// Papers
		PapersBySource: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_by_source_total",
			Help:      "Total number of candidate papers returned by source",
		}, []string{"source"}),
		PapersDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_duplicate_total",
			Help:      "Total number of duplicate candidate records merged",
		}),

		// Enrichment
		RankingFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_fallbacks_total",
			Help:      "Total number of rankings produced by the citation heuristic",
		}),
		SummaryTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_timeouts_total",
			Help:      "Total number of summary tasks abandoned at their deadline",
		}, []string{"task"}),
		PrecacheSummaries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precache_summaries_total",
			Help:      "Total number of summaries written by background precache",
		}),

		// LLM
		LLMRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		}, []string{"operation", "provider"}),
		LLMRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests",
		}, []string{"operation", "provider", "kind"}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "provider"}),
	}
}

// RecordSearchStarted records that a search has started.
func (m *Metrics) RecordSearchStarted() {
	m.SearchesStarted.Inc()
}

// RecordSearchCompleted records a search that produced a response.
func (m *Metrics) RecordSearchCompleted(outcome string, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(durationSeconds)
}

// RecordSearchFailed records that a search has failed.
func (m *Metrics) RecordSearchFailed(durationSeconds float64) {
	m.SearchesFailed.Inc()
	m.SearchDuration.Observe(durationSeconds)
}

// RecordCacheHit records a cache hit for an entry kind.
func (m *Metrics) RecordCacheHit(kind string) {
	m.CacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for an entry kind.
func (m *Metrics) RecordCacheMiss(kind string) {
	m.CacheMisses.WithLabelValues(kind).Inc()
}

// RecordSourceRequest records a request to a paper source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a paper source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordPapersDiscovered records candidate papers returned by a source.
func (m *Metrics) RecordPapersDiscovered(source string, count int) {
	m.PapersBySource.WithLabelValues(source).Add(float64(count))
}

// RecordPaperDuplicates records multiple duplicate papers in a single call.
func (m *Metrics) RecordPaperDuplicates(count int) {
	m.PapersDuplicate.Add(float64(count))
}

// RecordRankingFallback records a ranking served by the heuristic.
func (m *Metrics) RecordRankingFallback() {
	m.RankingFallbacks.Inc()
}

// RecordSummaryTimeout records a summary task abandoned at its deadline.
func (m *Metrics) RecordSummaryTimeout(task string) {
	m.SummaryTimeouts.WithLabelValues(task).Inc()
}

// RecordPrecacheSummary records a summary written by the precache job.
func (m *Metrics) RecordPrecacheSummary() {
	m.PrecacheSummaries.Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, provider string, durationSeconds float64) {
	m.LLMRequestsTotal.WithLabelValues(operation, provider).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, provider).Observe(durationSeconds)
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, provider, kind string) {
	m.LLMRequestsFailed.WithLabelValues(operation, provider, kind).Inc()
}
