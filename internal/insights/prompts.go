package insights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lanternhq/lantern/internal/models"
)

// contextChunk pairs a chunk with its parent document for the global
// answer context.
type contextChunk struct {
	docIndex int // index into the request's document list
	hit      models.FusedHit
}

// topChunks returns up to n of a document's chunks. Chunks arrive from the
// grouper already ordered by descending rrf_score with deterministic ties.
func topChunks(doc models.DocumentResult, n int) []models.FusedHit {
	if len(doc.Chunks) <= n {
		return doc.Chunks
	}
	return doc.Chunks[:n]
}

// summaryContext concatenates a document's top chunk texts with blank-line
// separators.
func summaryContext(doc models.DocumentResult, chunksPerDoc int) string {
	chunks := topChunks(doc, chunksPerDoc)
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.ChunkText)
	}
	return strings.Join(texts, "\n\n")
}

// answerContext builds the shared global context for the answer and question
// prompts: up to perDoc top chunks from each document, re-sorted globally by
// rrf_score, truncated to maxTotal. It also reports which documents
// contributed at least one chunk, in document order.
func answerContext(docs []models.DocumentResult, perDoc, maxTotal int) ([]contextChunk, []models.DocumentResult) {
	var pool []contextChunk
	for di, doc := range docs {
		for _, c := range topChunks(doc, perDoc) {
			pool = append(pool, contextChunk{docIndex: di, hit: c})
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].hit.RRFScore != pool[j].hit.RRFScore {
			return pool[i].hit.RRFScore > pool[j].hit.RRFScore
		}
		return pool[i].hit.ChunkID < pool[j].hit.ChunkID
	})
	if len(pool) > maxTotal {
		pool = pool[:maxTotal]
	}

	used := make(map[int]struct{}, len(pool))
	for _, c := range pool {
		used[c.docIndex] = struct{}{}
	}
	var contributing []models.DocumentResult
	for di, doc := range docs {
		if _, ok := used[di]; ok {
			contributing = append(contributing, doc)
		}
	}
	return pool, contributing
}

// renderContext lays the global context out as titled excerpt blocks.
func renderContext(docs []models.DocumentResult, chunks []contextChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		doc := docs[c.docIndex]
		fmt.Fprintf(&b, "Document: %s\n%s\n\n", doc.DocumentTitle, c.hit.ChunkText)
	}
	return strings.TrimRight(b.String(), "\n")
}

const summarySystemPrompt = `You are an analyst writing one-line document relevance notes.
Respond with a JSON object: {"summary": string, "confidence": number}.
The summary is a single impactful sentence explaining how this document
addresses the user's question. Confidence is between 0 and 1.`

func buildSummaryPrompt(query string, doc models.DocumentResult, chunksPerDoc int) (system, user string) {
	user = fmt.Sprintf("User question: %s\n\nDocument title: %s\n\nExcerpts:\n%s",
		query, doc.DocumentTitle, summaryContext(doc, chunksPerDoc))
	return summarySystemPrompt, user
}

const answerSystemPrompt = `You are a research assistant answering questions from retrieved document excerpts.
Respond with a JSON object: {"answer": string, "confidence": number, "sources": [string]}.
The answer is markdown. Every claim drawn from an excerpt must carry an inline
citation of the exact form [Source: <document title>], using the document title
exactly as given. Confidence is between 0 and 1. "sources" lists the titles of
the documents you actually used. If the excerpts do not answer the question,
say so plainly.`

func buildAnswerPrompt(query string, docs []models.DocumentResult, chunks []contextChunk) (system, user string) {
	user = fmt.Sprintf("Question: %s\n\nExcerpts:\n\n%s", query, renderContext(docs, chunks))
	return answerSystemPrompt, user
}

const questionsSystemPrompt = `You suggest follow-up questions after a document search.
Respond with a JSON object: {"questions": [{"question": string, "category": string, "relevance": number}]}.
Return exactly three questions. Each category must be one of "Strategic",
"Technical", or "Adoption". Relevance is between 0.5 and 0.95; use precise
values like 0.83 or 0.67, never round numbers like 0.5, 0.75, or 0.9.`

func buildQuestionsPrompt(query string, docs []models.DocumentResult, chunks []contextChunk) (system, user string) {
	user = fmt.Sprintf("Original question: %s\n\nExcerpts the user has seen:\n\n%s",
		query, renderContext(docs, chunks))
	return questionsSystemPrompt, user
}
