package retrieval

import (
	"sort"

	"github.com/lanternhq/lantern/internal/models"
)

// DefaultRRFK spreads reciprocal-rank scores more than the textbook 60,
// which matters for the small top-K lists this service works with.
const DefaultRRFK = 10

// Fuser merges dense and lexical ranked lists with additive Reciprocal
// Rank Fusion: each list contributes 1/(K+rank) at 0-based rank, and a
// chunk present in both lists sums the two contributions.
type Fuser struct {
	K int
}

func NewFuser(k int) *Fuser {
	if k < 1 {
		k = DefaultRRFK
	}
	return &Fuser{K: k}
}

// Fuse merges the two ranked lists keyed by chunk id. Per-source ranks and
// the raw dense similarity are preserved on every hit so debug responses
// and the grouper can use them. Output is ordered by descending rrf_score;
// ties break by ascending chunk id so fusion is deterministic.
func (f *Fuser) Fuse(dense, lexical []models.ChunkHit) []models.FusedHit {
	if len(dense) == 0 && len(lexical) == 0 {
		return []models.FusedHit{}
	}

	merged := make(map[string]*models.FusedHit, len(dense)+len(lexical))
	order := make([]string, 0, len(dense)+len(lexical))

	for i := range dense {
		hit := dense[i]
		rank := i
		raw := hit.Score
		fh := &models.FusedHit{
			ChunkHit:         hit,
			RRFScore:         1.0 / float64(f.K+rank),
			SemanticRank:     &rank,
			RawSemanticScore: &raw,
			SourceTag:        models.SourceDense,
		}
		merged[hit.ChunkID] = fh
		order = append(order, hit.ChunkID)
	}

	for i := range lexical {
		hit := lexical[i]
		rank := i
		contribution := 1.0 / float64(f.K+rank)

		if existing, ok := merged[hit.ChunkID]; ok {
			existing.RRFScore += contribution
			existing.LexicalRank = &rank
			existing.SourceTag = models.SourceHybrid
			continue
		}

		merged[hit.ChunkID] = &models.FusedHit{
			ChunkHit:    hit,
			RRFScore:    contribution,
			LexicalRank: &rank,
			SourceTag:   models.SourceLexical,
		}
		order = append(order, hit.ChunkID)
	}

	out := make([]models.FusedHit, 0, len(merged))
	for _, id := range order {
		out = append(out, *merged[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// tagFallback rewrites source tags for hits produced by the broadening pass.
func tagFallback(hits []models.FusedHit) {
	for i := range hits {
		hits[i].SourceTag = hits[i].SourceTag.AsFallback()
	}
}

// unionPrimary merges fallback hits into the primary list keyed by chunk id.
// Primary entries win on conflict; new fallback hits append in their fused
// order, so the primary precision results always lead the combined list.
func unionPrimary(primary, fallback []models.FusedHit) []models.FusedHit {
	seen := make(map[string]struct{}, len(primary))
	for _, h := range primary {
		seen[h.ChunkID] = struct{}{}
	}

	out := make([]models.FusedHit, len(primary), len(primary)+len(fallback))
	copy(out, primary)
	for _, h := range fallback {
		if _, dup := seen[h.ChunkID]; dup {
			continue
		}
		seen[h.ChunkID] = struct{}{}
		out = append(out, h)
	}
	return out
}
