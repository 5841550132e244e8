package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/circuitbreaker"
	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/models"
	"github.com/lanternhq/lantern/internal/tracing"
)

// Client is a minimal Qdrant HTTP client scoped to the chunk collection.
type Client struct {
	cfg  Config
	base string
	http *circuitbreaker.HTTPWrapper
	log  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "document_chunks"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:  cfg,
		base: cfg.URL,
		http: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectorstore", logger),
		log:  logger,
	}
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

func (c *Client) search(ctx context.Context, vec []float32, limit int, threshold float64, filter map[string]interface{}) ([]qdrantPoint, error) {
	start := time.Now()
	collection := c.cfg.Collection

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", fmt.Sprintf("%s/collections/%s/points/query", c.base, collection))
	defer span.End()

	// Prefer modern /points/query; on failure, fall back to /points/search
	// for older servers.
	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	reqBody := qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("api-key", c.cfg.APIKey)
		}
		tracing.InjectTraceparent(ctx, req)
		return c.http.Do(req)
	}

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	resp, err := call(urlQuery, buf)
	if err != nil {
		metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, collection)
		legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
		if threshold > 0 {
			legacy["score_threshold"] = threshold
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var qr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&qr); err != nil {
			metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		metrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
		return qr.Result, nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
	return qr.Result.Points, nil
}

// SearchChunks runs a dense similarity search and maps point payloads onto
// chunk hits. Only indexed documents visible to the caller are matched.
func (c *Client) SearchChunks(ctx context.Context, q SearchQuery) ([]models.ChunkHit, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("search vector cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}

	points, err := c.search(ctx, q.Vector, q.Limit, q.Threshold, buildVisibilityFilter(q))
	if err != nil {
		return nil, err
	}

	hits := make([]models.ChunkHit, 0, len(points))
	for _, point := range points {
		hit, ok := c.pointToHit(point)
		if !ok {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// buildVisibilityFilter constrains matches to indexed documents the caller
// may see: public ones, plus their own when an owner is known.
func buildVisibilityFilter(q SearchQuery) map[string]interface{} {
	must := []map[string]interface{}{
		{"key": "status", "match": map[string]interface{}{"value": "indexed"}},
	}

	if q.PublicOnly || q.OwnerID == "" {
		must = append(must, map[string]interface{}{
			"key": "is_public", "match": map[string]interface{}{"value": true},
		})
		return map[string]interface{}{"must": must}
	}

	should := []map[string]interface{}{
		{"key": "is_public", "match": map[string]interface{}{"value": true}},
		{"key": "owner_id", "match": map[string]interface{}{"value": q.OwnerID}},
	}
	return map[string]interface{}{"must": must, "should": should}
}

// pointToHit converts a Qdrant point into a chunk hit. Points without a
// document_id cannot be grouped and are skipped with a warning.
func (c *Client) pointToHit(point qdrantPoint) (models.ChunkHit, bool) {
	payload := point.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	documentID := payloadString(payload, "document_id")
	if documentID == "" {
		c.log.Warn("Skipping point without document_id",
			zap.Any("point_id", point.ID))
		return models.ChunkHit{}, false
	}

	hit := models.ChunkHit{
		ChunkID:       fmt.Sprintf("%v", point.ID),
		DocumentID:    documentID,
		DocumentTitle: payloadString(payload, "title"),
		DocumentType:  payloadString(payload, "doc_type"),
		ChunkText:     payloadString(payload, "content"),
		Order:         payloadInt(payload, "chunk_order"),
		TotalChunks:   payloadInt(payload, "total_chunks"),
		Score:         point.Score,
	}
	if meta, ok := payload["metadata"].(map[string]interface{}); ok {
		hit.Metadata = meta
	}
	return hit, true
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Ping verifies the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant health status %d", resp.StatusCode)
	}
	return nil
}

// SearchDense satisfies the retrieval pipeline's dense searcher contract.
func (c *Client) SearchDense(ctx context.Context, vec []float32, threshold float64, limit int, ownerID string, publicOnly bool) ([]models.ChunkHit, error) {
	return c.SearchChunks(ctx, SearchQuery{
		Vector:     vec,
		Threshold:  threshold,
		Limit:      limit,
		OwnerID:    ownerID,
		PublicOnly: publicOnly,
	})
}
