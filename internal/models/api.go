package models

// DateRange bounds chunk metadata dates; either side may be open.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// SearchFilters are caller-supplied post-filters over the fused result list.
type SearchFilters struct {
	DocumentIDs   []string   `json:"document_id,omitempty"`
	DocumentTypes []string   `json:"document_type,omitempty"`
	DateRange     *DateRange `json:"dateRange,omitempty"`
}

// RetrieveRequest is the inbound shape of the retrieval operation. Optional
// fields are pointers so absent and zero-valued inputs stay distinguishable;
// defaults come from service configuration.
type RetrieveRequest struct {
	UserQuery         string         `json:"user_query"`
	Filters           *SearchFilters `json:"filters,omitempty"`
	Limit             *int           `json:"limit,omitempty"`
	MinSimilarity     *float64       `json:"min_similarity,omitempty"`
	IncludePublicOnly *bool          `json:"include_public_only,omitempty"`
	EnableFallback    *bool          `json:"enable_fallback,omitempty"`
	EnableDensityCalc *bool          `json:"enable_density_calc,omitempty"`
	Debug             bool           `json:"debug,omitempty"`
	// UserID is honored only for internal service callers acting on behalf
	// of a user; it is ignored when the bearer token itself carries a user.
	UserID string `json:"user_id,omitempty"`
}

// PerformanceMetrics reports per-stage retrieval timings in milliseconds.
// TotalSearchMs is the historical sum of stage components; TotalSearchWallMs
// is the measured wall clock for the whole pipeline.
type PerformanceMetrics struct {
	EmbeddingGenerationMs int64 `json:"embedding_generation_ms"`
	SemanticSearchMs      int64 `json:"semantic_search_ms"`
	KeywordSearchMs       int64 `json:"keyword_search_ms"`
	ParallelRetrievalMs   int64 `json:"parallel_retrieval_ms"`
	RRFFusionMs           int64 `json:"rrf_fusion_ms"`
	DocumentGroupingMs    int64 `json:"document_grouping_ms"`
	TotalSearchMs         int64 `json:"total_search_ms"`
	TotalSearchWallMs     int64 `json:"total_search_wall_ms"`
	Partial               bool  `json:"partial,omitempty"`
}

// FallbackInfo describes whether and how the broadening pass ran.
type FallbackInfo struct {
	Used             bool `json:"used"`
	PrecisionResults *int `json:"precision_results,omitempty"`
	FallbackResults  *int `json:"fallback_results,omitempty"`
	TotalCombined    *int `json:"total_combined,omitempty"`
	Threshold        *int `json:"threshold,omitempty"`
}

// RetrieveResponse is the outbound shape of the retrieval operation.
type RetrieveResponse struct {
	Results            []DocumentResult   `json:"results"`
	TotalDocuments     int                `json:"total_documents"`
	TotalChunks        int                `json:"total_chunks"`
	Query              string             `json:"query"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	FallbackInfo       FallbackInfo       `json:"fallback_info"`
}

// InsightsRequest is the inbound shape of the insight operation. Documents
// are the retrieval results the insights should be grounded on.
type InsightsRequest struct {
	UserQuery    string           `json:"user_query"`
	Documents    []DocumentResult `json:"documents"`
	InsightType  string           `json:"insight_type"`
	CacheKey     string           `json:"cache_key,omitempty"`
	Priority     bool             `json:"priority,omitempty"`
	SearchTimeMs int64            `json:"search_time_ms,omitempty"`
	// UserID is honored only for internal service callers, as on retrieve.
	UserID string `json:"user_id,omitempty"`
}

// InsightMetrics reports per-kind generation timings in milliseconds.
type InsightMetrics struct {
	Breakdown    map[string]int64 `json:"breakdown"`
	TotalMs      int64            `json:"total_ms"`
	SearchTimeMs int64            `json:"search_time_ms,omitempty"`
}

// InsightsResponse is the outbound shape of the insight operation.
type InsightsResponse struct {
	InsightBundle
	Cached             bool           `json:"cached"`
	PerformanceMetrics InsightMetrics `json:"performance_metrics"`
}
