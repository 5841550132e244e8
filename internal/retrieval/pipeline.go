package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/models"
	"github.com/lanternhq/lantern/internal/tracing"
)

// ErrRetrievalFailed is returned when both retrievers error on the primary
// pass. A single-sided failure degrades to the surviving list instead.
var ErrRetrievalFailed = errors.New("both retrievers failed")

// EmbeddingError wraps a query-embedding failure. Embedding is the first
// pipeline stage and has no fallback, so these are always fatal.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("query embedding: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// Embedder produces the normalized query vector for the dense pass.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseSearcher is the vector-similarity retrieval primitive.
type DenseSearcher interface {
	SearchDense(ctx context.Context, vec []float32, threshold float64, limit int, ownerID string, publicOnly bool) ([]models.ChunkHit, error)
}

// LexicalSearcher is the full-text retrieval primitive.
type LexicalSearcher interface {
	SearchKeyword(ctx context.Context, query string, limit int, ownerID string, publicOnly bool) ([]models.ChunkHit, error)
}

// Options carries one request's fully resolved retrieval parameters. The
// boundary fills absent request fields from service configuration before
// calling Execute.
type Options struct {
	Query      string
	OwnerID    string
	PublicOnly bool
	Filters    *models.SearchFilters

	Limit               int
	MinSimilarity       float64
	RRFK                int
	MinResultsThreshold int
	EnableFallback      bool
	EnableDensity       bool
	Debug               bool
}

// fallbackFloor is the lowest similarity threshold the broadening pass will
// relax to.
const fallbackFloor = 0.3

// Pipeline composes embedding, parallel hybrid retrieval, fusion, filtering,
// the broadening fallback, and document grouping into one request-scoped run.
type Pipeline struct {
	embedder Embedder
	dense    DenseSearcher
	lexical  LexicalSearcher
	logger   *zap.Logger
}

func NewPipeline(embedder Embedder, dense DenseSearcher, lexical LexicalSearcher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		embedder: embedder,
		dense:    dense,
		lexical:  lexical,
		logger:   logger,
	}
}

// retrievalPass holds the outcome of one parallel dense+lexical round.
type retrievalPass struct {
	dense      []models.ChunkHit
	lexical    []models.ChunkHit
	denseErr   error
	lexicalErr error
	denseMs    int64
	lexicalMs  int64
	wallMs     int64
}

// runParallel issues the two retrievals concurrently. Failures are collected
// rather than returned so one side erroring never cancels the other.
func (p *Pipeline) runParallel(ctx context.Context, vec []float32, opts Options, threshold float64, limit int) retrievalPass {
	var pass retrievalPass
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		pass.dense, pass.denseErr = p.dense.SearchDense(gctx, vec, threshold, limit, opts.OwnerID, opts.PublicOnly)
		pass.denseMs = time.Since(t).Milliseconds()
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		pass.lexical, pass.lexicalErr = p.lexical.SearchKeyword(gctx, opts.Query, limit, opts.OwnerID, opts.PublicOnly)
		pass.lexicalMs = time.Since(t).Milliseconds()
		return nil
	})
	_ = g.Wait()

	pass.wallMs = time.Since(start).Milliseconds()
	return pass
}

// Execute runs the full retrieval pipeline for one request.
func (p *Pipeline) Execute(ctx context.Context, opts Options) (*models.RetrieveResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "retrieval.Execute")
	defer span.End()

	wallStart := time.Now()
	var perf models.PerformanceMetrics

	// Stage 1: query embedding. Fatal on failure, no retry.
	embedStart := time.Now()
	vec, err := p.embedder.EmbedQuery(ctx, opts.Query)
	perf.EmbeddingGenerationMs = time.Since(embedStart).Milliseconds()
	metrics.RecordStageDuration("embedding", float64(perf.EmbeddingGenerationMs))
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("embed_error").Inc()
		return nil, &EmbeddingError{Err: err}
	}

	// Stage 2: dense and lexical in parallel.
	primary := p.runParallel(ctx, vec, opts, opts.MinSimilarity, opts.Limit)
	perf.SemanticSearchMs = primary.denseMs
	perf.KeywordSearchMs = primary.lexicalMs
	perf.ParallelRetrievalMs = primary.wallMs
	metrics.RecordStageDuration("semantic_search", float64(primary.denseMs))
	metrics.RecordStageDuration("keyword_search", float64(primary.lexicalMs))

	if primary.denseErr != nil && primary.lexicalErr != nil {
		metrics.RetrievalRequests.WithLabelValues("error").Inc()
		p.logger.Error("Both retrievers failed",
			zap.Error(primary.denseErr),
			zap.NamedError("lexical_error", primary.lexicalErr))
		return nil, fmt.Errorf("%w: dense: %v; lexical: %v", ErrRetrievalFailed, primary.denseErr, primary.lexicalErr)
	}
	if primary.denseErr != nil || primary.lexicalErr != nil {
		perf.Partial = true
		side := "dense"
		if primary.lexicalErr != nil {
			side = "lexical"
		}
		metrics.RetrievalPartial.WithLabelValues(side).Inc()
		p.logger.Warn("One retriever failed, serving the other side",
			zap.NamedError("dense_error", primary.denseErr),
			zap.NamedError("lexical_error", primary.lexicalErr))
	}

	// Stage 3: reciprocal rank fusion.
	fuser := NewFuser(opts.RRFK)
	fuseStart := time.Now()
	fused := fuser.Fuse(primary.dense, primary.lexical)
	perf.RRFFusionMs = time.Since(fuseStart).Milliseconds()
	metrics.RecordStageDuration("rrf_fusion", float64(perf.RRFFusionMs))

	// Stage 4: caller post-filters.
	filtered, err := ApplyFilters(fused, opts.Filters)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("filter_error").Inc()
		return nil, err
	}

	// Stage 5: broadening fallback when the precision pass came up short.
	fallback := models.FallbackInfo{}
	combined := filtered
	if opts.EnableFallback && len(filtered) < opts.MinResultsThreshold {
		combined, fallback = p.runFallback(ctx, vec, opts, fuser, filtered)
	}

	// Stage 6: document grouping.
	groupStart := time.Now()
	results := GroupDocuments(combined, opts.EnableDensity)
	perf.DocumentGroupingMs = time.Since(groupStart).Milliseconds()
	metrics.RecordStageDuration("document_grouping", float64(perf.DocumentGroupingMs))

	if !opts.Debug {
		stripDebugFields(results)
	}

	perf.TotalSearchMs = perf.EmbeddingGenerationMs + perf.ParallelRetrievalMs +
		perf.RRFFusionMs + perf.DocumentGroupingMs
	perf.TotalSearchWallMs = time.Since(wallStart).Milliseconds()

	totalChunks := 0
	for i := range results {
		totalChunks += len(results[i].Chunks)
	}
	metrics.ChunksReturned.Observe(float64(totalChunks))
	metrics.RetrievalRequests.WithLabelValues("ok").Inc()

	p.logger.Debug("Retrieval pipeline complete",
		zap.Int("documents", len(results)),
		zap.Int("chunks", totalChunks),
		zap.Bool("fallback_used", fallback.Used),
		zap.Bool("partial", perf.Partial),
		zap.Int64("wall_ms", perf.TotalSearchWallMs))

	return &models.RetrieveResponse{
		Results:            results,
		TotalDocuments:     len(results),
		TotalChunks:        totalChunks,
		Query:              opts.Query,
		PerformanceMetrics: perf,
		FallbackInfo:       fallback,
	}, nil
}

// runFallback issues the broadened second pass: relaxed threshold, doubled
// limit, same visibility, caller post-filters deliberately not reapplied.
// Errors leave the primary result untouched.
func (p *Pipeline) runFallback(ctx context.Context, vec []float32, opts Options, fuser *Fuser, primary []models.FusedHit) ([]models.FusedHit, models.FallbackInfo) {
	relaxed := opts.MinSimilarity - 0.2
	if relaxed < fallbackFloor {
		relaxed = fallbackFloor
	}

	pass := p.runParallel(ctx, vec, opts, relaxed, opts.Limit*2)
	if pass.denseErr != nil && pass.lexicalErr != nil {
		p.logger.Warn("Fallback retrieval failed, keeping primary results",
			zap.Error(pass.denseErr),
			zap.NamedError("lexical_error", pass.lexicalErr))
		return primary, models.FallbackInfo{}
	}

	fused := fuser.Fuse(pass.dense, pass.lexical)
	tagFallback(fused)
	combined := unionPrimary(primary, fused)

	metrics.RetrievalFallbacks.Inc()

	precision := len(primary)
	added := len(combined) - len(primary)
	total := len(combined)
	threshold := opts.MinResultsThreshold
	return combined, models.FallbackInfo{
		Used:             true,
		PrecisionResults: &precision,
		FallbackResults:  &added,
		TotalCombined:    &total,
		Threshold:        &threshold,
	}
}

// stripDebugFields clears per-source ranks, raw scores, and source tags from
// the emitted chunks. The pipeline always tracks them internally; they reach
// the wire only for debug requests.
func stripDebugFields(results []models.DocumentResult) {
	for i := range results {
		for j := range results[i].Chunks {
			c := &results[i].Chunks[j]
			c.SemanticRank = nil
			c.LexicalRank = nil
			c.RawSemanticScore = nil
			c.SourceTag = ""
		}
	}
}
