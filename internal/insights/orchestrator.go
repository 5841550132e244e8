package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lanternhq/lantern/internal/llm"
	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/models"
)

// summaryUnavailable is the degraded per-document summary used when the
// model call for that document fails or returns garbage.
const summaryUnavailable = "Summary unavailable."

const (
	temperatureSummaries = 0.2
	temperatureAnswer    = 0.3
	temperatureQuestions = 0.3
)

// summaryConcurrency bounds the per-document summary fan-out so a large
// document set does not flood the provider.
const summaryConcurrency = 4

// LLMClient is the completion surface the orchestrator needs.
type LLMClient interface {
	ChatJSON(ctx context.Context, req llm.ChatRequest) (string, llm.Usage, error)
}

// Config tunes insight generation.
type Config struct {
	// TaskTimeout bounds each insight kind independently.
	TaskTimeout time.Duration
	// MaxContextChunks caps the shared global context for the answer and
	// question prompts.
	MaxContextChunks int
	// SummaryChunksPerDoc is the per-document excerpt budget for summaries.
	SummaryChunksPerDoc int
	// AnswerChunksPerDoc is the per-document contribution to the global
	// context before the total cap applies.
	AnswerChunksPerDoc int
}

// Request is one insight generation job over already-retrieved documents.
type Request struct {
	Query       string
	Documents   []models.DocumentResult
	InsightType string
	Priority    bool
}

// Orchestrator fans the selected insight kinds out as independent tasks.
// Each task runs under its own deadline; a failed or timed-out kind degrades
// to its documented fallback and never disturbs its siblings.
type Orchestrator struct {
	llm    LLMClient
	cfg    Config
	logger *zap.Logger
}

func NewOrchestrator(client LLMClient, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 15 * time.Second
	}
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 16
	}
	if cfg.SummaryChunksPerDoc <= 0 {
		cfg.SummaryChunksPerDoc = 6
	}
	if cfg.AnswerChunksPerDoc <= 0 {
		cfg.AnswerChunksPerDoc = 4
	}
	return &Orchestrator{llm: client, cfg: cfg, logger: logger}
}

// Generate runs the selected insight kinds concurrently and assembles the
// bundle from whatever completed. The returned breakdown maps each kind to
// its wall time in milliseconds.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*models.InsightBundle, map[string]int64) {
	bundle := &models.InsightBundle{GeneratedAt: time.Now().UTC()}
	breakdown := make(map[string]int64, 3)

	wantSummaries := req.InsightType == models.InsightDocumentSummaries || req.InsightType == models.InsightAll
	wantAnswer := req.InsightType == models.InsightDirectAnswer || req.InsightType == models.InsightAll
	wantQuestions := req.InsightType == models.InsightRelatedQuestions || req.InsightType == models.InsightAll

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(kind string, ms int64, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		breakdown[kind] = ms
		if apply != nil {
			apply()
		}
	}

	// Each kind gets its own deadline derived from the request context, so
	// one kind timing out cannot cancel the others while the surrounding
	// request deadline still bounds everything.
	runKind := func(kind string, task func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
			defer cancel()
			task(taskCtx)
		}()
	}

	if wantSummaries {
		runKind(models.InsightDocumentSummaries, func(taskCtx context.Context) {
			start := time.Now()
			summaries := o.generateSummaries(taskCtx, req)
			record(models.InsightDocumentSummaries, time.Since(start).Milliseconds(), func() {
				bundle.DocumentSummaries = summaries
			})
		})
	}
	if wantAnswer {
		runKind(models.InsightDirectAnswer, func(taskCtx context.Context) {
			start := time.Now()
			answer := o.generateAnswer(taskCtx, req)
			record(models.InsightDirectAnswer, time.Since(start).Milliseconds(), func() {
				bundle.DirectAnswer = answer
			})
		})
	}
	if wantQuestions {
		runKind(models.InsightRelatedQuestions, func(taskCtx context.Context) {
			start := time.Now()
			questions := o.generateQuestions(taskCtx, req)
			record(models.InsightRelatedQuestions, time.Since(start).Milliseconds(), func() {
				bundle.RelatedQuestions = questions
			})
		})
	}

	wg.Wait()
	return bundle, breakdown
}

type summaryPayload struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// generateSummaries produces one relevance summary per document. Documents
// run with bounded concurrency; a failure for one document degrades that
// entry only.
func (o *Orchestrator) generateSummaries(ctx context.Context, req Request) []models.DocumentSummary {
	summaries := make([]models.DocumentSummary, len(req.Documents))

	g := &errgroup.Group{}
	g.SetLimit(summaryConcurrency)
	for i := range req.Documents {
		i := i
		g.Go(func() error {
			doc := req.Documents[i]
			summaries[i] = models.DocumentSummary{
				DocumentID:    doc.DocumentID,
				DocumentTitle: doc.DocumentTitle,
				DocumentType:  doc.DocumentType,
			}

			start := time.Now()
			system, user := buildSummaryPrompt(req.Query, doc, o.cfg.SummaryChunksPerDoc)
			raw, _, err := o.llm.ChatJSON(ctx, llm.ChatRequest{
				System:      system,
				User:        user,
				Temperature: temperatureSummaries,
				Priority:    req.Priority,
			})

			var payload summaryPayload
			if err == nil {
				err = json.Unmarshal([]byte(raw), &payload)
			}
			if err != nil || strings.TrimSpace(payload.Summary) == "" {
				metrics.RecordInsightTask("document_summary", "degraded", float64(time.Since(start).Milliseconds()))
				o.logger.Warn("Document summary degraded",
					zap.String("document_id", doc.DocumentID),
					zap.Error(err))
				summaries[i].RelevanceSummary = summaryUnavailable
				summaries[i].ConfidenceScore = 0.0
				return nil
			}

			metrics.RecordInsightTask("document_summary", "ok", float64(time.Since(start).Milliseconds()))
			summaries[i].RelevanceSummary = strings.TrimSpace(payload.Summary)
			summaries[i].ConfidenceScore = clamp(payload.Confidence, 0, 1)
			return nil
		})
	}
	_ = g.Wait()

	return summaries
}

type answerPayload struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// generateAnswer produces the cited direct answer, or nil when generation
// fails outright.
func (o *Orchestrator) generateAnswer(ctx context.Context, req Request) *models.DirectAnswer {
	start := time.Now()

	chunks, contributing := answerContext(req.Documents, o.cfg.AnswerChunksPerDoc, o.cfg.MaxContextChunks)
	if len(chunks) == 0 {
		metrics.RecordInsightTask(models.InsightDirectAnswer, "empty_context", 0)
		return nil
	}

	system, user := buildAnswerPrompt(req.Query, req.Documents, chunks)
	raw, _, err := o.llm.ChatJSON(ctx, llm.ChatRequest{
		System:      system,
		User:        user,
		Temperature: temperatureAnswer,
		Priority:    req.Priority,
	})

	var payload answerPayload
	if err == nil {
		err = json.Unmarshal([]byte(raw), &payload)
	}
	if err != nil || strings.TrimSpace(payload.Answer) == "" {
		metrics.RecordInsightTask(models.InsightDirectAnswer, "failed", float64(time.Since(start).Milliseconds()))
		o.logger.Warn("Direct answer generation failed", zap.Error(err))
		return nil
	}

	ids, titles := ResolveSources(payload.Answer, contributing)
	metrics.RecordInsightTask(models.InsightDirectAnswer, "ok", float64(time.Since(start).Milliseconds()))

	return &models.DirectAnswer{
		AnswerMarkdown:       payload.Answer,
		Confidence:           clamp(payload.Confidence, 0, 1),
		SourceDocumentTitles: titles,
		SourceDocumentIDs:    ids,
	}
}

type questionsPayload struct {
	Questions []struct {
		Question  string  `json:"question"`
		Category  string  `json:"category"`
		Relevance float64 `json:"relevance"`
	} `json:"questions"`
}

// generateQuestions produces up to three categorized follow-up questions,
// or nil when generation fails outright.
func (o *Orchestrator) generateQuestions(ctx context.Context, req Request) []models.RelatedQuestion {
	start := time.Now()

	chunks, _ := answerContext(req.Documents, o.cfg.AnswerChunksPerDoc, o.cfg.MaxContextChunks)
	if len(chunks) == 0 {
		metrics.RecordInsightTask(models.InsightRelatedQuestions, "empty_context", 0)
		return nil
	}

	system, user := buildQuestionsPrompt(req.Query, req.Documents, chunks)
	raw, _, err := o.llm.ChatJSON(ctx, llm.ChatRequest{
		System:      system,
		User:        user,
		Temperature: temperatureQuestions,
		Priority:    req.Priority,
	})

	var payload questionsPayload
	if err == nil {
		err = json.Unmarshal([]byte(raw), &payload)
	}
	if err != nil || len(payload.Questions) == 0 {
		metrics.RecordInsightTask(models.InsightRelatedQuestions, "failed", float64(time.Since(start).Milliseconds()))
		o.logger.Warn("Related question generation failed", zap.Error(err))
		return nil
	}

	questions := make([]models.RelatedQuestion, 0, 3)
	for _, q := range payload.Questions {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			continue
		}
		questions = append(questions, models.RelatedQuestion{
			Question:  text,
			Category:  normalizeCategory(q.Category),
			Relevance: clamp(q.Relevance, 0.5, 0.95),
		})
		if len(questions) == 3 {
			break
		}
	}
	if len(questions) == 0 {
		metrics.RecordInsightTask(models.InsightRelatedQuestions, "failed", float64(time.Since(start).Milliseconds()))
		return nil
	}

	metrics.RecordInsightTask(models.InsightRelatedQuestions, "ok", float64(time.Since(start).Milliseconds()))
	return questions
}

// normalizeCategory coerces a model-supplied category onto the closed set.
func normalizeCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "strategic":
		return models.CategoryStrategic
	case "technical":
		return models.CategoryTechnical
	case "adoption":
		return models.CategoryAdoption
	}
	return models.CategoryStrategic
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidateRequest checks the orchestration inputs the boundary must reject.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if len(req.Documents) == 0 {
		return fmt.Errorf("documents are required")
	}
	if !models.ValidInsightType(req.InsightType) {
		return fmt.Errorf("unknown insight_type %q", req.InsightType)
	}
	return nil
}
