package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/circuitbreaker"
	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/tracing"
)

// ErrEmptyEmbedding is returned when the embedding service produces no usable
// vector for the query. Callers treat this as an embedding failure.
var ErrEmptyEmbedding = errors.New("embedding service returned an empty vector")

// Service turns query text into normalized vectors, with an in-process LRU
// in front of an optional shared Redis cache.
type Service struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	cache  VectorCache
	lru    *LocalLRU
	logger *zap.Logger
}

// NewService wires the embedding client. cache may be nil when Redis-backed
// caching is disabled.
func NewService(cfg Config, cache VectorCache, logger *zap.Logger) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Service{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapper(httpClient, "embedder", "embeddings", logger),
		cache:  cache,
		lru:    NewLocalLRU(cfg.MaxLRU),
		logger: logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// EmbedQuery returns the L2-normalized vector for a query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	m := s.cfg.DefaultModel
	key := MakeKey(m, text)

	// LRU first
	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.EmbeddingCacheHits.Inc()
		metrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
		return v, nil
	}
	// Redis next
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			metrics.EmbeddingCacheHits.Inc()
			metrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
			return v, nil
		}
	}
	metrics.EmbeddingCacheMisses.Inc()

	start := time.Now()

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: []string{text}, Model: m}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Embeddings) == 0 || len(er.Embeddings[0]) == 0 {
		metrics.RecordEmbeddingMetrics(m, "empty", time.Since(start).Seconds())
		return nil, ErrEmptyEmbedding
	}

	out := make([]float32, len(er.Embeddings[0]))
	for i, f := range er.Embeddings[0] {
		out[i] = float32(f)
	}
	out, err = l2Normalize(out)
	if err != nil {
		metrics.RecordEmbeddingMetrics(m, "empty", time.Since(start).Seconds())
		return nil, err
	}

	metrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())
	s.logger.Debug("Generated query embedding",
		zap.String("model", er.ModelUsed),
		zap.Int("dimensions", len(out)),
		zap.Duration("duration", time.Since(start)))

	s.lru.Set(ctx, key, out, 30*time.Minute)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}

// l2Normalize scales the vector to unit length. An all-zero vector cannot be
// searched and is rejected as empty.
func l2Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return nil, ErrEmptyEmbedding
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out, nil
}
