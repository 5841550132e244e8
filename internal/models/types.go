package models

// SourceTag identifies which retrieval pass produced a fused hit.
type SourceTag string

const (
	SourceDense           SourceTag = "dense"
	SourceLexical         SourceTag = "lexical"
	SourceHybrid          SourceTag = "hybrid"
	SourceDenseFallback   SourceTag = "dense_fallback"
	SourceLexicalFallback SourceTag = "lexical_fallback"
	SourceHybridFallback  SourceTag = "hybrid_fallback"
)

// AsFallback maps a primary tag to its broadened-pass equivalent.
func (t SourceTag) AsFallback() SourceTag {
	switch t {
	case SourceDense:
		return SourceDenseFallback
	case SourceLexical:
		return SourceLexicalFallback
	case SourceHybrid:
		return SourceHybridFallback
	}
	return t
}

// ChunkHit is a single chunk returned by one retriever. Score semantics
// depend on the source: cosine similarity in [0,1] for dense hits,
// nonnegative lexical relevance for keyword hits.
type ChunkHit struct {
	ChunkID       string                 `json:"chunk_id"`
	DocumentID    string                 `json:"document_id"`
	DocumentTitle string                 `json:"document_title"`
	DocumentType  string                 `json:"document_type"`
	ChunkText     string                 `json:"chunk_text"`
	Order         int                    `json:"order"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Score         float64                `json:"-"`
	TotalChunks   int                    `json:"-"`
}

// FusedHit is a chunk after Reciprocal Rank Fusion. Rank and raw-score
// fields are nil when the chunk was absent from that retriever's list;
// they are emitted on the wire only for debug requests.
type FusedHit struct {
	ChunkHit
	RRFScore         float64   `json:"rrf_score"`
	SemanticRank     *int      `json:"semantic_rank,omitempty"`
	LexicalRank      *int      `json:"lexical_rank,omitempty"`
	RawSemanticScore *float64  `json:"raw_semantic_score,omitempty"`
	SourceTag        SourceTag `json:"source_tag,omitempty"`
}

// DocumentResult groups the fused hits of one document.
type DocumentResult struct {
	DocumentID        string     `json:"document_id"`
	DocumentTitle     string     `json:"document_title"`
	DocumentType      string     `json:"document_type"`
	Chunks            []FusedHit `json:"chunks"`
	BestRRFScore      float64    `json:"best_rrf_score"`
	BestRawSimilarity float64    `json:"best_raw_similarity"`
	RelevanceDensity  float64    `json:"relevance_density"`
}
