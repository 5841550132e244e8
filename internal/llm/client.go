package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lanternhq/lantern/internal/circuitbreaker"
	"github.com/lanternhq/lantern/internal/metrics"
	"github.com/lanternhq/lantern/internal/ratecontrol"
	"github.com/lanternhq/lantern/internal/tracing"
)

// Config controls the chat completion client.
type Config struct {
	// BaseURL of an OpenAI-compatible API, e.g. https://api.openai.com
	BaseURL string
	APIKey  string
	Model   string
	// Provider selects the rate table ("openai", "anthropic", ...)
	Provider string
	// RequestTimeout is the HTTP backstop. Per-task deadlines come from the
	// caller's context and are usually much tighter.
	RequestTimeout time.Duration
}

// StatusError reports a non-2xx response from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm status %d: %s", e.Code, e.Body)
}

// ChatRequest is a single JSON-mode completion call.
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// Priority requests use the provider's priority tier and the priority
	// rate class.
	Priority bool
}

// Usage mirrors the provider's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client calls an OpenAI-compatible chat completions API in JSON mode.
// Request counts are paced by a local limiter sized from the provider rate
// table; token throughput adds a pre-send delay for large prompts.
type Client struct {
	cfg     Config
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	limit := ratecontrol.LimitForProvider(cfg.Provider)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if limit.RPM > 0 {
		burst := limit.RPM / 6
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	return &Client{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "llm-provider", "llm", logger),
		limiter: limiter,
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	ServiceTier    string          `json:"service_tier,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// ChatJSON sends one completion request in JSON mode and returns the raw
// message content. Callers decode the content into their own shape.
func (c *Client) ChatJSON(ctx context.Context, req ChatRequest) (string, Usage, error) {
	if req.User == "" {
		return "", Usage{}, fmt.Errorf("user content cannot be empty")
	}

	priority := "standard"
	if req.Priority {
		priority = "priority"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", Usage{}, fmt.Errorf("rate limiter: %w", err)
	}
	if delay := ratecontrol.TokenDelayForRequest(c.cfg.Provider, priority, estimateTokens(req)); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", Usage{}, ctx.Err()
		case <-timer.C:
		}
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := chatCompletionRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if req.Priority {
		body.ServiceTier = "priority"
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal chat request: %w", err)
	}

	start := time.Now()
	url := c.cfg.BaseURL + "/v1/chat/completions"

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", Usage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.RecordLLMMetrics(c.cfg.Model, status, float64(time.Since(start).Milliseconds()))
		return "", Usage{}, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordLLMMetrics(c.cfg.Model, "error", float64(time.Since(start).Milliseconds()))
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", Usage{}, &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}

	var cr chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		metrics.RecordLLMMetrics(c.cfg.Model, "error", float64(time.Since(start).Milliseconds()))
		return "", Usage{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		metrics.RecordLLMMetrics(c.cfg.Model, "empty", float64(time.Since(start).Milliseconds()))
		return "", Usage{}, fmt.Errorf("llm returned no choices")
	}

	choice := cr.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn("LLM response truncated by max_tokens",
			zap.String("model", c.cfg.Model),
			zap.Int("max_tokens", req.MaxTokens))
	}

	metrics.RecordLLMMetrics(c.cfg.Model, "ok", float64(time.Since(start).Milliseconds()))

	return stripFences(choice.Message.Content), cr.Usage, nil
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// estimateTokens approximates prompt size at four characters per token.
func estimateTokens(req ChatRequest) int {
	return (len(req.System) + len(req.User)) / 4
}

// stripFences unwraps a markdown code fence some models emit around JSON.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
