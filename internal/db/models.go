package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// SearchHistory records one retrieval request for the history endpoint.
// Writes are best-effort and never block or fail a search.
type SearchHistory struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Query        string    `db:"query" json:"query"`
	ResultCount  int       `db:"result_count" json:"result_count"`
	DocumentsHit int       `db:"documents_hit" json:"documents_hit"`
	DurationMs   int64     `db:"duration_ms" json:"duration_ms"`
	FallbackUsed bool      `db:"fallback_used" json:"fallback_used"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// LexicalQuery carries the parameters of a keyword search against the
// full-text index.
type LexicalQuery struct {
	Query      string
	OwnerID    string // Caller user ID, empty for anonymous internal callers
	PublicOnly bool
	Limit      int
}
