package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const insertSearchHistorySQL = `
	INSERT INTO search_history (
		id, user_id, query, result_count, documents_hit,
		duration_ms, fallback_used, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const recentSearchesSQL = `
	SELECT id, user_id, query, result_count, documents_hit,
	       duration_ms, fallback_used, created_at
	FROM search_history
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2
`

// InsertSearchHistory persists one search record. Called from the async
// write workers; safe to call directly when synchronous behavior is needed.
func (c *Client) InsertSearchHistory(ctx context.Context, entry *SearchHistory) error {
	if entry == nil {
		return fmt.Errorf("search history entry cannot be nil")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, insertSearchHistorySQL,
		entry.ID,
		entry.UserID,
		entry.Query,
		entry.ResultCount,
		entry.DocumentsHit,
		entry.DurationMs,
		entry.FallbackUsed,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search history: %w", err)
	}
	return nil
}

// QueueSearchHistory enqueues a history record for asynchronous persistence.
// Failures are logged and swallowed: history must never delay or fail a search.
func (c *Client) QueueSearchHistory(entry *SearchHistory) {
	if entry == nil {
		return
	}
	_ = c.QueueWrite(WriteTypeSearchHistory, entry, nil)
}

// GetRecentSearches returns a user's most recent searches, newest first.
func (c *Client) GetRecentSearches(ctx context.Context, userID string, limit int) ([]SearchHistory, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var entries []SearchHistory
	if err := c.sqlx.SelectContext(ctx, &entries, recentSearchesSQL, userID, limit); err != nil {
		return nil, fmt.Errorf("query recent searches: %w", err)
	}
	return entries, nil
}
