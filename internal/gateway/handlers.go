package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/cache"
	"github.com/lanternhq/lantern/internal/db"
	"github.com/lanternhq/lantern/internal/insights"
	"github.com/lanternhq/lantern/internal/models"
	"github.com/lanternhq/lantern/internal/retrieval"
)

const maxRequestBody = 4 << 20 // 4MB

// limit bounds accepted by the retrieve operation.
const (
	minLimit = 1
	maxLimit = 200
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func httpErrorDetails(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorBody{Error: message, Details: details})
}

// callerOwner resolves the owner id used by the storage primitives. Internal
// service callers carry no user of their own and see public documents only,
// unless the request body names a user on whose behalf they act.
func callerOwner(userCtx *auth.UserContext, requestUserID string) string {
	if userCtx.IsInternal {
		return requestUserID
	}
	return userCtx.UserID
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		httpError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req models.RetrieveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		// Type mismatches (a string where a boolean belongs, say) fail here
		// rather than being coerced by truthiness.
		httpErrorDetails(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	req.UserQuery = strings.TrimSpace(req.UserQuery)
	if req.UserQuery == "" {
		httpError(w, http.StatusBadRequest, "user_query is required")
		return
	}

	tuning := s.tuning()
	opts := retrieval.Options{
		Query:               req.UserQuery,
		OwnerID:             callerOwner(userCtx, req.UserID),
		Filters:             req.Filters,
		Limit:               tuning.MaxChunks,
		MinSimilarity:       tuning.SimilarityThreshold,
		RRFK:                tuning.RRFK,
		MinResultsThreshold: tuning.MinResultsThreshold,
		EnableFallback:      tuning.EnableFallback,
		EnableDensity:       tuning.EnableDensityCalc,
		Debug:               req.Debug,
	}

	if req.Limit != nil {
		if *req.Limit < minLimit || *req.Limit > maxLimit {
			httpError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		opts.Limit = *req.Limit
	}
	if req.MinSimilarity != nil {
		if *req.MinSimilarity < 0 || *req.MinSimilarity > 1 {
			httpError(w, http.StatusBadRequest, "min_similarity must be between 0 and 1")
			return
		}
		opts.MinSimilarity = *req.MinSimilarity
	}
	if req.IncludePublicOnly != nil {
		opts.PublicOnly = *req.IncludePublicOnly
	}
	if req.EnableFallback != nil {
		opts.EnableFallback = *req.EnableFallback
	}
	if req.EnableDensityCalc != nil {
		opts.EnableDensity = *req.EnableDensityCalc
	}

	resp, err := s.retriever.Execute(r.Context(), opts)
	if err != nil {
		s.writeRetrievalError(w, r, err)
		return
	}

	s.appendHistory(opts.OwnerID, req.UserQuery, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeRetrievalError(w http.ResponseWriter, r *http.Request, err error) {
	var filterErr *retrieval.FilterError
	var embedErr *retrieval.EmbeddingError

	switch {
	case errors.As(err, &filterErr):
		httpError(w, http.StatusBadRequest, filterErr.Error())
	case errors.As(err, &embedErr):
		s.logger.Error("Query embedding failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err))
		httpError(w, http.StatusInternalServerError, "failed to generate query embedding")
	case errors.Is(err, retrieval.ErrRetrievalFailed):
		s.logger.Error("Retrieval failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err))
		httpError(w, http.StatusInternalServerError, "retrieval failed")
	default:
		s.logger.Error("Unexpected retrieval error",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err))
		httpError(w, http.StatusInternalServerError, "internal server error")
	}
}

// appendHistory records the query best-effort; failures never surface.
func (s *Server) appendHistory(ownerID, query string, resp *models.RetrieveResponse) {
	if s.history == nil || ownerID == "" {
		return
	}
	s.history.QueueSearchHistory(&db.SearchHistory{
		ID:           uuid.New(),
		UserID:       ownerID,
		Query:        query,
		ResultCount:  resp.TotalChunks,
		DocumentsHit: resp.TotalDocuments,
		DurationMs:   resp.PerformanceMetrics.TotalSearchWallMs,
		FallbackUsed: resp.FallbackInfo.Used,
		CreatedAt:    time.Now().UTC(),
	})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		httpError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req models.InsightsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		httpErrorDetails(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	req.UserQuery = strings.TrimSpace(req.UserQuery)
	switch {
	case req.UserQuery == "":
		httpError(w, http.StatusBadRequest, "user_query is required")
		return
	case len(req.Documents) == 0:
		httpError(w, http.StatusBadRequest, "documents are required")
		return
	case !models.ValidInsightType(req.InsightType):
		httpError(w, http.StatusBadRequest, "invalid insight_type")
		return
	}

	start := time.Now()

	// Caller-supplied cache keys take precedence over the derived one.
	key := req.CacheKey
	if key == "" {
		ids := make([]string, 0, len(req.Documents))
		for _, d := range req.Documents {
			ids = append(ids, d.DocumentID)
		}
		key = cache.Key(req.InsightType, req.UserQuery, ids)
	}

	if bundle, ok := s.cache.Get(r.Context(), key); ok {
		writeJSON(w, http.StatusOK, models.InsightsResponse{
			InsightBundle: *bundle,
			Cached:        true,
			PerformanceMetrics: models.InsightMetrics{
				Breakdown:    map[string]int64{},
				TotalMs:      time.Since(start).Milliseconds(),
				SearchTimeMs: req.SearchTimeMs,
			},
		})
		return
	}

	bundle, breakdown := s.generator.Generate(r.Context(), insights.Request{
		Query:       req.UserQuery,
		Documents:   req.Documents,
		InsightType: req.InsightType,
		Priority:    req.Priority,
	})
	bundle.CacheKey = key

	// Only completed bundles are written; a cancelled request never leaves
	// a partial entry behind.
	if r.Context().Err() == nil {
		s.cache.Put(r.Context(), key, bundle)
	}

	if owner := callerOwner(userCtx, req.UserID); owner != "" && s.history != nil {
		s.history.QueueSearchHistory(&db.SearchHistory{
			ID:          uuid.New(),
			UserID:      owner,
			Query:       req.UserQuery,
			ResultCount: len(req.Documents),
			DurationMs:  time.Since(start).Milliseconds(),
			CreatedAt:   time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, models.InsightsResponse{
		InsightBundle: *bundle,
		Cached:        false,
		PerformanceMetrics: models.InsightMetrics{
			Breakdown:    breakdown,
			TotalMs:      time.Since(start).Milliseconds(),
			SearchTimeMs: req.SearchTimeMs,
		},
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		httpError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	owner := callerOwner(userCtx, r.URL.Query().Get("user_id"))
	if owner == "" {
		httpError(w, http.StatusBadRequest, "no user to list history for")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			httpError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := s.history.GetRecentSearches(r.Context(), owner, limit)
	if err != nil {
		s.logger.Error("History read failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err))
		httpError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if entries == nil {
		entries = []db.SearchHistory{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}
