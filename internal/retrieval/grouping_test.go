package retrieval

import (
	"math"
	"testing"

	"github.com/lanternhq/lantern/internal/models"
)

func groupHit(chunkID, docID string, rrf float64, order, totalChunks int, raw *float64) models.FusedHit {
	return models.FusedHit{
		ChunkHit: models.ChunkHit{
			ChunkID:       chunkID,
			DocumentID:    docID,
			DocumentTitle: "Doc " + docID,
			Order:         order,
			TotalChunks:   totalChunks,
		},
		RRFScore:         rrf,
		RawSemanticScore: raw,
	}
}

func f64(v float64) *float64 { return &v }

func TestGroupDocumentsBestScores(t *testing.T) {
	hits := []models.FusedHit{
		groupHit("a", "d1", 0.05, 2, 10, f64(0.7)),
		groupHit("b", "d1", 0.09, 0, 10, f64(0.85)),
		groupHit("c", "d2", 0.07, 1, 10, nil),
	}

	got := GroupDocuments(hits, true)
	if len(got) != 2 {
		t.Fatalf("grouped %d documents, want 2", len(got))
	}

	d1 := got[0]
	if d1.DocumentID != "d1" {
		t.Fatalf("first document = %s, want d1 (higher best_rrf_score)", d1.DocumentID)
	}
	if d1.BestRRFScore != 0.09 {
		t.Errorf("best_rrf_score = %v, want 0.09", d1.BestRRFScore)
	}
	if d1.BestRawSimilarity != 0.85 {
		t.Errorf("best_raw_similarity = %v, want 0.85", d1.BestRawSimilarity)
	}
	if d1.Chunks[0].ChunkID != "b" {
		t.Errorf("chunks not ordered by descending rrf_score: first is %s", d1.Chunks[0].ChunkID)
	}

	d2 := got[1]
	if d2.BestRawSimilarity != 0 {
		t.Errorf("doc without raw scores should have best_raw_similarity 0, got %v", d2.BestRawSimilarity)
	}
}

func TestGroupDocumentsChunkTieBreak(t *testing.T) {
	// Equal rrf_score ties break by ascending chunk order.
	hits := []models.FusedHit{
		groupHit("late", "d1", 0.05, 7, 10, nil),
		groupHit("early", "d1", 0.05, 2, 10, nil),
	}
	got := GroupDocuments(hits, false)
	if got[0].Chunks[0].ChunkID != "early" {
		t.Errorf("tie not broken by ascending order: first chunk is %s", got[0].Chunks[0].ChunkID)
	}
}

func TestGroupDocumentsDensity(t *testing.T) {
	// Doc D: 73 of 100 chunks matched; doc E: 2 of 100. Ordering follows
	// best_rrf_score, not density.
	var hits []models.FusedHit
	for i := 0; i < 73; i++ {
		hits = append(hits, groupHit("d-"+string(rune('a'+i%26))+string(rune('0'+i/26)), "D", 0.001+float64(73-i)*0.0001, i, 100, nil))
	}
	hits = append(hits,
		groupHit("e-1", "E", 0.09, 0, 100, nil),
		groupHit("e-2", "E", 0.02, 1, 100, nil),
	)

	got := GroupDocuments(hits, true)
	if len(got) != 2 {
		t.Fatalf("grouped %d documents, want 2", len(got))
	}
	if got[0].DocumentID != "E" {
		t.Fatalf("order should follow best_rrf_score: first is %s, want E", got[0].DocumentID)
	}
	if got[0].RelevanceDensity != 0.02 {
		t.Errorf("density(E) = %v, want 0.02", got[0].RelevanceDensity)
	}
	if math.Abs(got[1].RelevanceDensity-0.73) > 1e-9 {
		t.Errorf("density(D) = %v, want 0.73", got[1].RelevanceDensity)
	}
}

func TestGroupDocumentsDensityDisabled(t *testing.T) {
	hits := []models.FusedHit{groupHit("a", "d1", 0.1, 0, 10, nil)}
	got := GroupDocuments(hits, false)
	if got[0].RelevanceDensity != 0 {
		t.Errorf("density should be 0 when disabled, got %v", got[0].RelevanceDensity)
	}
}

func TestGroupDocumentsDensityMissingTotal(t *testing.T) {
	hits := []models.FusedHit{groupHit("a", "d1", 0.1, 0, 0, nil)}
	got := GroupDocuments(hits, true)
	if got[0].RelevanceDensity != 0 {
		t.Errorf("density should be 0 without chunk totals, got %v", got[0].RelevanceDensity)
	}
}

func TestGroupDocumentsDensityClamped(t *testing.T) {
	// More matched chunks than the recorded total clamps to 1.
	hits := []models.FusedHit{
		groupHit("a", "d1", 0.1, 0, 1, nil),
		groupHit("b", "d1", 0.09, 1, 1, nil),
	}
	got := GroupDocuments(hits, true)
	if got[0].RelevanceDensity != 1 {
		t.Errorf("density should clamp to 1, got %v", got[0].RelevanceDensity)
	}
}

func TestGroupDocumentsTieBreakByID(t *testing.T) {
	hits := []models.FusedHit{
		groupHit("b1", "docB", 0.05, 0, 0, f64(0.6)),
		groupHit("a1", "docA", 0.05, 0, 0, f64(0.6)),
	}
	got := GroupDocuments(hits, false)
	if got[0].DocumentID != "docA" {
		t.Errorf("full tie should break by document_id: first is %s", got[0].DocumentID)
	}
}
