package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP boundary metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lantern_http_request_duration_ms",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000},
		},
		[]string{"route"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// Retrieval pipeline metrics
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_retrieval_requests_total",
			Help: "Total number of retrieval pipeline runs",
		},
		[]string{"status"},
	)

	RetrievalStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lantern_retrieval_stage_duration_ms",
			Help:    "Per-stage retrieval duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"stage"},
	)

	RetrievalFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lantern_retrieval_fallback_total",
			Help: "Total number of broadened fallback passes issued",
		},
	)

	RetrievalPartial = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_retrieval_partial_total",
			Help: "Total number of retrievals degraded to a single retriever",
		},
		[]string{"failed_side"},
	)

	ChunksReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lantern_retrieval_chunks_returned",
			Help:    "Number of fused chunks returned per retrieval",
			Buckets: []float64{0, 1, 3, 5, 10, 25, 50, 100, 200},
		},
	)

	// Insight generation metrics
	InsightTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_insight_tasks_total",
			Help: "Total number of insight generation tasks",
		},
		[]string{"kind", "outcome"},
	)

	InsightTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lantern_insight_task_duration_ms",
			Help:    "Insight task duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 15000, 30000},
		},
		[]string{"kind"},
	)

	// Insight cache metrics
	InsightCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lantern_insight_cache_hits_total",
			Help: "Total number of insight cache hits",
		},
	)

	InsightCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lantern_insight_cache_misses_total",
			Help: "Total number of insight cache misses",
		},
	)

	InsightCacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lantern_insight_cache_errors_total",
			Help: "Total number of insight cache errors (non-fatal)",
		},
	)

	// LLM client metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_llm_requests_total",
			Help: "Total number of LLM chat-completion requests",
		},
		[]string{"model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lantern_llm_request_duration_ms",
			Help:    "LLM request duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 15000, 30000},
		},
		[]string{"model"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lantern_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lantern_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lantern_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lantern_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Lexical store metrics
	LexicalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_lexical_search_total",
			Help: "Total number of lexical full-text searches",
		},
		[]string{"status"},
	)

	LexicalSearchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lantern_lexical_search_latency_seconds",
			Help:    "Lexical search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Search history metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lantern_history_writes_total",
			Help: "Total number of search history writes",
		},
		[]string{"status"},
	)
)

// RecordHTTPMetrics records metrics for a completed HTTP request
func RecordHTTPMetrics(route, method, status string, durationMs float64) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(durationMs)
}

// RecordStageDuration records one retrieval pipeline stage
func RecordStageDuration(stage string, durationMs float64) {
	if durationMs >= 0 {
		RetrievalStageDuration.WithLabelValues(stage).Observe(durationMs)
	}
}

// RecordInsightTask records the outcome of one insight generation task
func RecordInsightTask(kind, outcome string, durationMs float64) {
	InsightTasks.WithLabelValues(kind, outcome).Inc()
	if durationMs > 0 {
		InsightTaskDuration.WithLabelValues(kind).Observe(durationMs)
	}
}

// RecordLLMMetrics records metrics for an LLM request
func RecordLLMMetrics(model, status string, durationMs float64) {
	LLMRequests.WithLabelValues(model, status).Inc()
	if durationMs > 0 {
		LLMRequestDuration.WithLabelValues(model).Observe(durationMs)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordLexicalSearchMetrics records lexical search metrics
func RecordLexicalSearchMetrics(status string, durationSeconds float64) {
	LexicalSearches.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		LexicalSearchLatency.Observe(durationSeconds)
	}
}
