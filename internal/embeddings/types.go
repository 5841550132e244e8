package embeddings

import "time"

// Config controls the embedding client behavior
type Config struct {
	// BaseURL points to the embedding service providing /embeddings
	BaseURL string
	// DefaultModel is the embedding model used for queries
	DefaultModel string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// CacheTTL sets TTL for Redis-cached vectors
	CacheTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
}
