package insights

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/lanternhq/lantern/internal/llm"
	"github.com/lanternhq/lantern/internal/models"
)

// fakeLLM scripts responses per insight kind, keyed off the system prompt.
type fakeLLM struct {
	summaryResp   string
	summaryErr    error
	answerResp    string
	answerErr     error
	questionsResp string
	questionsErr  error

	// delay applies to every call; used for timeout tests.
	delay time.Duration

	calls int32
}

func (f *fakeLLM) ChatJSON(ctx context.Context, req llm.ChatRequest) (string, llm.Usage, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", llm.Usage{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	switch {
	case strings.Contains(req.System, "relevance notes"):
		return f.summaryResp, llm.Usage{}, f.summaryErr
	case strings.Contains(req.System, "research assistant"):
		return f.answerResp, llm.Usage{}, f.answerErr
	case strings.Contains(req.System, "follow-up questions"):
		return f.questionsResp, llm.Usage{}, f.questionsErr
	}
	return "", llm.Usage{}, errors.New("unexpected prompt")
}

func testRequest(insightType string) Request {
	return Request{
		Query:       "what changed in Q3?",
		InsightType: insightType,
		Documents: []models.DocumentResult{
			docWithChunks("doc-1", "Q3 Report", 0.9, 0.8),
			docWithChunks("doc-2", "Annual Plan", 0.7),
		},
	}
}

func newTestOrchestrator(t *testing.T, client LLMClient) *Orchestrator {
	t.Helper()
	return NewOrchestrator(client, Config{TaskTimeout: time.Second}, zaptest.NewLogger(t))
}

func TestGenerateAllKinds(t *testing.T) {
	client := &fakeLLM{
		summaryResp:   `{"summary": "Covers the Q3 revenue shift.", "confidence": 0.84}`,
		answerResp:    `{"answer": "Revenue grew 12% [Source: Q3 Report].", "confidence": 0.8, "sources": ["Q3 Report"]}`,
		questionsResp: `{"questions": [{"question": "How does this affect 2026 planning?", "category": "Strategic", "relevance": 0.87}, {"question": "Which systems produced the data?", "category": "Technical", "relevance": 0.72}, {"question": "Who should act on this first?", "category": "Adoption", "relevance": 0.66}]}`,
	}
	o := newTestOrchestrator(t, client)

	bundle, breakdown := o.Generate(context.Background(), testRequest(models.InsightAll))

	if len(bundle.DocumentSummaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(bundle.DocumentSummaries))
	}
	if bundle.DocumentSummaries[0].RelevanceSummary != "Covers the Q3 revenue shift." {
		t.Errorf("summary = %q", bundle.DocumentSummaries[0].RelevanceSummary)
	}
	if bundle.DirectAnswer == nil {
		t.Fatal("direct answer missing")
	}
	if got := bundle.DirectAnswer.SourceDocumentIDs; len(got) != 1 || got[0] != "doc-1" {
		t.Errorf("source_document_ids = %v, want [doc-1]", got)
	}
	if len(bundle.RelatedQuestions) != 3 {
		t.Fatalf("got %d questions, want 3", len(bundle.RelatedQuestions))
	}

	for _, kind := range []string{models.InsightDocumentSummaries, models.InsightDirectAnswer, models.InsightRelatedQuestions} {
		if _, ok := breakdown[kind]; !ok {
			t.Errorf("breakdown missing %s", kind)
		}
	}
}

func TestGenerateSingleKind(t *testing.T) {
	client := &fakeLLM{
		answerResp: `{"answer": "Yes.", "confidence": 0.6, "sources": []}`,
	}
	o := newTestOrchestrator(t, client)

	bundle, breakdown := o.Generate(context.Background(), testRequest(models.InsightDirectAnswer))

	if bundle.DirectAnswer == nil {
		t.Fatal("direct answer missing")
	}
	if bundle.DocumentSummaries != nil || bundle.RelatedQuestions != nil {
		t.Error("unselected kinds should be absent")
	}
	if len(breakdown) != 1 {
		t.Errorf("breakdown has %d entries, want 1", len(breakdown))
	}
	// Answer without citations credits every contributing document.
	if len(bundle.DirectAnswer.SourceDocumentIDs) != 2 {
		t.Errorf("source_document_ids = %v, want both contributing documents",
			bundle.DirectAnswer.SourceDocumentIDs)
	}
}

func TestGenerateSummaryFailureDegradesPerDocument(t *testing.T) {
	client := &fakeLLM{
		summaryErr:    errors.New("provider 500"),
		answerResp:    `{"answer": "Fine [Source: Q3 Report].", "confidence": 0.7, "sources": ["Q3 Report"]}`,
		questionsResp: `{"questions": [{"question": "Q?", "category": "Technical", "relevance": 0.71}]}`,
	}
	o := newTestOrchestrator(t, client)

	bundle, _ := o.Generate(context.Background(), testRequest(models.InsightAll))

	if len(bundle.DocumentSummaries) != 2 {
		t.Fatalf("got %d summaries, want 2 degraded entries", len(bundle.DocumentSummaries))
	}
	for _, s := range bundle.DocumentSummaries {
		if s.RelevanceSummary != summaryUnavailable {
			t.Errorf("summary = %q, want %q", s.RelevanceSummary, summaryUnavailable)
		}
		if s.ConfidenceScore != 0.0 {
			t.Errorf("confidence = %v, want 0", s.ConfidenceScore)
		}
	}

	// Sibling tasks survive the summary failure.
	if bundle.DirectAnswer == nil {
		t.Error("direct answer lost to sibling failure")
	}
	if len(bundle.RelatedQuestions) != 1 {
		t.Errorf("got %d questions, want 1", len(bundle.RelatedQuestions))
	}
}

func TestGenerateAnswerFailureDoesNotAbortSiblings(t *testing.T) {
	client := &fakeLLM{
		summaryResp:  `{"summary": "Relevant.", "confidence": 0.6}`,
		answerErr:    errors.New("timeout"),
		questionsErr: errors.New("bad gateway"),
	}
	o := newTestOrchestrator(t, client)

	bundle, breakdown := o.Generate(context.Background(), testRequest(models.InsightAll))

	if bundle.DirectAnswer != nil {
		t.Error("failed answer should be absent, not fabricated")
	}
	if bundle.RelatedQuestions != nil {
		t.Error("failed questions should be absent")
	}
	if len(bundle.DocumentSummaries) != 2 {
		t.Errorf("summaries lost: got %d", len(bundle.DocumentSummaries))
	}
	if len(breakdown) != 3 {
		t.Errorf("breakdown has %d entries, want 3", len(breakdown))
	}
}

func TestGenerateTaskTimeoutIsIndependent(t *testing.T) {
	client := &fakeLLM{
		delay:         50 * time.Millisecond,
		summaryResp:   `{"summary": "Relevant.", "confidence": 0.6}`,
		answerResp:    `{"answer": "A.", "confidence": 0.5, "sources": []}`,
		questionsResp: `{"questions": [{"question": "Q?", "category": "Adoption", "relevance": 0.69}]}`,
	}
	o := NewOrchestrator(client, Config{TaskTimeout: 10 * time.Millisecond}, zaptest.NewLogger(t))

	bundle, _ := o.Generate(context.Background(), testRequest(models.InsightAll))

	// Every kind times out independently and degrades; nothing panics or
	// hangs past the deadlines.
	if bundle.DirectAnswer != nil || bundle.RelatedQuestions != nil {
		t.Error("timed-out kinds should degrade to absence")
	}
	for _, s := range bundle.DocumentSummaries {
		if s.RelevanceSummary != summaryUnavailable {
			t.Errorf("timed-out summary = %q, want %q", s.RelevanceSummary, summaryUnavailable)
		}
	}
}

func TestGenerateClampsScores(t *testing.T) {
	client := &fakeLLM{
		answerResp:    `{"answer": "A.", "confidence": 1.7, "sources": []}`,
		questionsResp: `{"questions": [{"question": "Q?", "category": "mystery", "relevance": 0.1}]}`,
	}
	o := newTestOrchestrator(t, client)

	bundle, _ := o.Generate(context.Background(), testRequest(models.InsightAll))

	if bundle.DirectAnswer == nil || bundle.DirectAnswer.Confidence != 1 {
		t.Errorf("confidence should clamp to 1, got %+v", bundle.DirectAnswer)
	}
	if len(bundle.RelatedQuestions) != 1 {
		t.Fatalf("got %d questions, want 1", len(bundle.RelatedQuestions))
	}
	q := bundle.RelatedQuestions[0]
	if q.Relevance != 0.5 {
		t.Errorf("relevance should clamp to 0.5, got %v", q.Relevance)
	}
	if q.Category != models.CategoryStrategic {
		t.Errorf("unknown category should coerce to Strategic, got %q", q.Category)
	}
}

func TestGenerateQuestionsTruncatedToThree(t *testing.T) {
	client := &fakeLLM{
		questionsResp: `{"questions": [
			{"question": "Q1?", "category": "Strategic", "relevance": 0.8},
			{"question": "Q2?", "category": "Technical", "relevance": 0.7},
			{"question": "Q3?", "category": "Adoption", "relevance": 0.6},
			{"question": "Q4?", "category": "Strategic", "relevance": 0.55}
		]}`,
	}
	o := newTestOrchestrator(t, client)

	bundle, _ := o.Generate(context.Background(), testRequest(models.InsightRelatedQuestions))
	if len(bundle.RelatedQuestions) != 3 {
		t.Errorf("got %d questions, want 3", len(bundle.RelatedQuestions))
	}
}

func TestValidateRequest(t *testing.T) {
	valid := testRequest(models.InsightAll)
	if err := ValidateRequest(valid); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty query", func(r *Request) { r.Query = "  " }},
		{"no documents", func(r *Request) { r.Documents = nil }},
		{"unknown type", func(r *Request) { r.InsightType = "haiku" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(models.InsightAll)
			tt.mutate(&req)
			if err := ValidateRequest(req); err == nil {
				t.Error("invalid request accepted")
			}
		})
	}
}
