package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/models"
)

// lexicalSearchSQL ranks indexed chunks against a websearch-style query.
// Visibility: a caller sees public documents plus their own. ts_rank_cd
// favors cover density so multi-term queries prefer tight phrase matches.
const lexicalSearchSQL = `
	SELECT
		c.id AS chunk_id,
		c.document_id,
		d.title AS document_title,
		d.doc_type AS document_type,
		c.content AS chunk_text,
		c.chunk_order,
		c.metadata,
		d.chunk_count AS total_chunks,
		ts_rank_cd(c.search_vector, websearch_to_tsquery('english', $1)) AS rank
	FROM document_chunks c
	JOIN documents d ON d.id = c.document_id
	WHERE d.status = 'indexed'
	  AND c.search_vector @@ websearch_to_tsquery('english', $1)
	  AND (d.is_public = TRUE OR d.owner_id = $2)
	ORDER BY rank DESC, c.id ASC
	LIMIT $3
`

const lexicalSearchPublicSQL = `
	SELECT
		c.id AS chunk_id,
		c.document_id,
		d.title AS document_title,
		d.doc_type AS document_type,
		c.content AS chunk_text,
		c.chunk_order,
		c.metadata,
		d.chunk_count AS total_chunks,
		ts_rank_cd(c.search_vector, websearch_to_tsquery('english', $1)) AS rank
	FROM document_chunks c
	JOIN documents d ON d.id = c.document_id
	WHERE d.status = 'indexed'
	  AND c.search_vector @@ websearch_to_tsquery('english', $1)
	  AND d.is_public = TRUE
	ORDER BY rank DESC, c.id ASC
	LIMIT $2
`

// SearchLexical runs a full-text search over indexed document chunks and
// returns hits ordered by descending rank.
func (c *Client) SearchLexical(ctx context.Context, q LexicalQuery) ([]models.ChunkHit, error) {
	if q.Query == "" {
		return nil, fmt.Errorf("lexical search query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}

	start := time.Now()

	var (
		rows *sql.Rows
		err  error
	)
	if q.PublicOnly {
		rows, err = c.db.QueryContext(ctx, lexicalSearchPublicSQL, q.Query, q.Limit)
	} else {
		rows, err = c.db.QueryContext(ctx, lexicalSearchSQL, q.Query, q.OwnerID, q.Limit)
	}
	if err != nil {
		metrics.RecordLexicalSearchMetrics("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("lexical search query: %w", err)
	}
	defer rows.Close()

	var hits []models.ChunkHit
	for rows.Next() {
		var (
			hit          models.ChunkHit
			metadataJSON []byte
			rank         float64
		)
		if err := rows.Scan(
			&hit.ChunkID,
			&hit.DocumentID,
			&hit.DocumentTitle,
			&hit.DocumentType,
			&hit.ChunkText,
			&hit.Order,
			&metadataJSON,
			&hit.TotalChunks,
			&rank,
		); err != nil {
			metrics.RecordLexicalSearchMetrics("error", time.Since(start).Seconds())
			return nil, fmt.Errorf("scan lexical row: %w", err)
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
				c.logger.Warn("Failed to parse chunk metadata",
					zap.String("chunk_id", hit.ChunkID),
					zap.Error(err))
			}
		}

		hit.Score = rank
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		metrics.RecordLexicalSearchMetrics("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("lexical rows iteration: %w", err)
	}

	metrics.RecordLexicalSearchMetrics("success", time.Since(start).Seconds())
	return hits, nil
}

// SearchKeyword satisfies the retrieval pipeline's lexical searcher contract.
func (c *Client) SearchKeyword(ctx context.Context, query string, limit int, ownerID string, publicOnly bool) ([]models.ChunkHit, error) {
	return c.SearchLexical(ctx, LexicalQuery{
		Query:      query,
		OwnerID:    ownerID,
		PublicOnly: publicOnly,
		Limit:      limit,
	})
}
