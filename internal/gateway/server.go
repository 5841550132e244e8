package gateway

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/config"
	"github.com/lanternhq/lantern/internal/db"
	"github.com/lanternhq/lantern/internal/insights"
	"github.com/lanternhq/lantern/internal/models"
	"github.com/lanternhq/lantern/internal/retrieval"
)

// Retriever runs the hybrid retrieval pipeline for one request.
type Retriever interface {
	Execute(ctx context.Context, opts retrieval.Options) (*models.RetrieveResponse, error)
}

// InsightGenerator fans out the selected insight kinds.
type InsightGenerator interface {
	Generate(ctx context.Context, req insights.Request) (*models.InsightBundle, map[string]int64)
}

// BundleCache is the content-addressed insight cache.
type BundleCache interface {
	Get(ctx context.Context, key string) (*models.InsightBundle, bool)
	Put(ctx context.Context, key string, bundle *models.InsightBundle)
}

// HistoryStore records queries best-effort and serves the history endpoint.
type HistoryStore interface {
	QueueSearchHistory(entry *db.SearchHistory)
	GetRecentSearches(ctx context.Context, userID string, limit int) ([]db.SearchHistory, error)
}

// Server is the request/response boundary: it validates inbound shapes,
// routes to the retrieval or insight paths, and owns the error-to-status
// mapping.
type Server struct {
	retriever Retriever
	generator InsightGenerator
	cache     BundleCache
	history   HistoryStore
	authMW    *auth.Middleware
	limiter   *RateLimiter
	// tuning returns the current retrieval defaults; hot-reloadable via the
	// config watcher.
	tuning func() config.RetrievalConfig
	logger *zap.Logger
}

func NewServer(
	retriever Retriever,
	generator InsightGenerator,
	bundleCache BundleCache,
	history HistoryStore,
	authMW *auth.Middleware,
	limiter *RateLimiter,
	tuning func() config.RetrievalConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		retriever: retriever,
		generator: generator,
		cache:     bundleCache,
		history:   history,
		authMW:    authMW,
		limiter:   limiter,
		tuning:    tuning,
		logger:    logger,
	}
}

// Routes assembles the API mux with its middleware chain:
// recovery → request-id → metrics → auth → rate-limit → handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/retrieve", s.protected("retrieve", http.HandlerFunc(s.handleRetrieve)))
	mux.Handle("POST /api/v1/insights", s.protected("insights", http.HandlerFunc(s.handleInsights)))
	mux.Handle("GET /api/v1/history", s.protected("history", http.HandlerFunc(s.handleHistory)))

	return recoveryMiddleware(s.logger, requestIDMiddleware(mux))
}

// protected wraps a handler with metrics, authentication, and rate limiting.
func (s *Server) protected(route string, h http.Handler) http.Handler {
	wrapped := h
	if s.limiter != nil {
		wrapped = s.limiter.Middleware(wrapped)
	}
	wrapped = s.authMW.HTTPMiddleware(wrapped)
	return metricsMiddleware(route, wrapped)
}
