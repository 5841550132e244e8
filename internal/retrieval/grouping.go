package retrieval

import (
	"sort"

	"github.com/lanternhq/lantern/internal/models"
)

// GroupDocuments collapses fused hits into per-document results. Chunks
// within a document are ordered by descending rrf_score with ties broken by
// ascending chunk order; documents are ordered by descending best_rrf_score,
// then descending best_raw_similarity, then document id.
//
// Relevance density is the fraction of a document's chunks that matched,
// clamped to [0,1]. It stays 0 when disabled or when the storage layer did
// not attach a chunk total.
func GroupDocuments(hits []models.FusedHit, enableDensity bool) []models.DocumentResult {
	byDoc := make(map[string]*models.DocumentResult)
	docOrder := make([]string, 0)
	totals := make(map[string]int)

	for _, hit := range hits {
		doc, ok := byDoc[hit.DocumentID]
		if !ok {
			doc = &models.DocumentResult{
				DocumentID:    hit.DocumentID,
				DocumentTitle: hit.DocumentTitle,
				DocumentType:  hit.DocumentType,
			}
			byDoc[hit.DocumentID] = doc
			docOrder = append(docOrder, hit.DocumentID)
		}

		doc.Chunks = append(doc.Chunks, hit)
		if hit.RRFScore > doc.BestRRFScore {
			doc.BestRRFScore = hit.RRFScore
		}
		if hit.RawSemanticScore != nil && *hit.RawSemanticScore > doc.BestRawSimilarity {
			doc.BestRawSimilarity = *hit.RawSemanticScore
		}
		if hit.TotalChunks > totals[hit.DocumentID] {
			totals[hit.DocumentID] = hit.TotalChunks
		}
	}

	results := make([]models.DocumentResult, 0, len(byDoc))
	for _, id := range docOrder {
		doc := byDoc[id]

		sort.SliceStable(doc.Chunks, func(i, j int) bool {
			if doc.Chunks[i].RRFScore != doc.Chunks[j].RRFScore {
				return doc.Chunks[i].RRFScore > doc.Chunks[j].RRFScore
			}
			return doc.Chunks[i].Order < doc.Chunks[j].Order
		})

		if enableDensity {
			if total := totals[id]; total > 0 {
				density := float64(len(doc.Chunks)) / float64(total)
				if density > 1 {
					density = 1
				}
				doc.RelevanceDensity = density
			}
		}

		results = append(results, *doc)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].BestRRFScore != results[j].BestRRFScore {
			return results[i].BestRRFScore > results[j].BestRRFScore
		}
		if results[i].BestRawSimilarity != results[j].BestRawSimilarity {
			return results[i].BestRawSimilarity > results[j].BestRawSimilarity
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	return results
}
