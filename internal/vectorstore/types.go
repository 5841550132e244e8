package vectorstore

import "time"

// Config controls the Qdrant client behavior
type Config struct {
	// URL is the Qdrant HTTP base, e.g. http://localhost:6333
	URL string
	// Collection holding document chunk points
	Collection string
	// APIKey is sent as the api-key header when set
	APIKey string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
}

// SearchQuery describes one dense search over the chunk collection.
type SearchQuery struct {
	Vector    []float32
	Limit     int
	Threshold float64
	// OwnerID widens visibility beyond public documents. Empty means the
	// caller sees public documents only.
	OwnerID    string
	PublicOnly bool
}
