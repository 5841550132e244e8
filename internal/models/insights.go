package models

import "time"

// Insight kinds
const (
	InsightDocumentSummaries = "document_summaries"
	InsightDirectAnswer      = "direct_answer"
	InsightRelatedQuestions  = "related_questions"
	InsightAll               = "all"
)

// Related-question categories
const (
	CategoryStrategic = "Strategic"
	CategoryTechnical = "Technical"
	CategoryAdoption  = "Adoption"
)

// ValidInsightType reports whether t names a known insight kind.
func ValidInsightType(t string) bool {
	switch t {
	case InsightDocumentSummaries, InsightDirectAnswer, InsightRelatedQuestions, InsightAll:
		return true
	}
	return false
}

// DocumentSummary is a one-sentence relevance summary for a single document.
type DocumentSummary struct {
	DocumentID       string  `json:"document_id"`
	DocumentTitle    string  `json:"document_title"`
	DocumentType     string  `json:"document_type"`
	RelevanceSummary string  `json:"relevance_summary"`
	ConfidenceScore  float64 `json:"confidence_score"`
}

// DirectAnswer is a cited markdown answer synthesized from retrieved chunks.
type DirectAnswer struct {
	AnswerMarkdown       string   `json:"answer_markdown"`
	Confidence           float64  `json:"confidence"`
	SourceDocumentTitles []string `json:"source_document_titles"`
	SourceDocumentIDs    []string `json:"source_document_ids"`
}

// RelatedQuestion is a categorized follow-up question with a relevance score.
type RelatedQuestion struct {
	Question  string  `json:"question"`
	Relevance float64 `json:"relevance"`
	Category  string  `json:"category"`
}

// InsightBundle carries whichever insight kinds were generated for a request.
// A kind a caller did not select, or one that failed outright, is absent.
type InsightBundle struct {
	DocumentSummaries []DocumentSummary `json:"document_summaries,omitempty"`
	DirectAnswer      *DirectAnswer     `json:"direct_answer,omitempty"`
	RelatedQuestions  []RelatedQuestion `json:"related_questions,omitempty"`
	CacheKey          string            `json:"cache_key"`
	GeneratedAt       time.Time         `json:"generated_at"`
}
