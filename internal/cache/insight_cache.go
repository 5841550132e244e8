package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/circuitbreaker"
	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/models"
)

const keyPrefix = "insights:"

// entry wraps a bundle with its lifecycle timestamps. Redis TTL already
// evicts stale entries; expires_at is checked on read as well so an entry
// surviving past its window (TTL lost on restore, clock skew) never serves.
type entry struct {
	Bundle    models.InsightBundle `json:"bundle"`
	CachedAt  time.Time            `json:"cached_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// InsightCache stores generated insight bundles keyed by the exact request
// shape. Cache trouble is never fatal: reads degrade to misses and failed
// writes are logged and dropped.
type InsightCache struct {
	client *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

func NewInsightCache(client *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *InsightCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &InsightCache{client: client, ttl: ttl, logger: logger}
}

// Key derives the canonical cache key for an insight request. Document order
// does not matter; the query is base64url-encoded so any character is safe.
func Key(insightType, query string, documentIDs []string) string {
	ids := make([]string, len(documentIDs))
	copy(ids, documentIDs)
	sort.Strings(ids)

	return insightType + ":" +
		base64.RawURLEncoding.EncodeToString([]byte(query)) + ":" +
		strings.Join(ids, ",")
}

// Get returns the cached bundle for key, or a miss. Errors count as misses.
func (c *InsightCache) Get(ctx context.Context, key string) (*models.InsightBundle, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		metrics.InsightCacheMisses.Inc()
		return nil, false
	}
	if err != nil {
		metrics.InsightCacheErrors.Inc()
		c.logger.Warn("Insight cache read failed", zap.Error(err))
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		metrics.InsightCacheErrors.Inc()
		c.logger.Warn("Insight cache entry corrupt", zap.Error(err))
		return nil, false
	}
	if !e.ExpiresAt.After(time.Now()) {
		metrics.InsightCacheMisses.Inc()
		return nil, false
	}

	metrics.InsightCacheHits.Inc()
	return &e.Bundle, true
}

// Put stores the bundle under key for the configured TTL.
func (c *InsightCache) Put(ctx context.Context, key string, bundle *models.InsightBundle) {
	if bundle == nil {
		return
	}

	now := time.Now()
	e := entry{Bundle: *bundle, CachedAt: now, ExpiresAt: now.Add(c.ttl)}

	data, err := json.Marshal(e)
	if err != nil {
		metrics.InsightCacheErrors.Inc()
		c.logger.Warn("Insight cache marshal failed", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		metrics.InsightCacheErrors.Inc()
		c.logger.Warn("Insight cache write failed", zap.Error(err))
	}
}

// TTL reports the configured entry lifetime.
func (c *InsightCache) TTL() time.Duration { return c.ttl }
