package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/semaphore"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultTimeout        = 60 * time.Second
	defaultMaxConcurrency = 4
	defaultTemperature    = 0.3
)

var (
	// ErrNotConfigured indicates no credential was supplied, so every caller must fall back.
	ErrNotConfigured = errors.New("summarize: service not configured")
	// ErrEmptyResponse indicates the model returned no choices.
	ErrEmptyResponse = errors.New("summarize: empty response")
)

// Config describes the summarization backend.
type Config struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	AllowedModels  []string
	Timeout        time.Duration
	MaxConcurrency int64
}

// CompletionRequest is a single system+user prompt exchange.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	JSON        bool
	Temperature float64
}

// Client wraps an llms.Model with model allow-listing, a concurrency cap and a per-call timeout.
// A Client without a model is valid and reports itself unavailable.
type Client struct {
	model        llms.Model
	defaultModel string
	allowed      map[string]struct{}
	timeout      time.Duration
	sem          *semaphore.Weighted
}

// New builds an OpenAI-compatible client. An empty API key yields a disabled client rather than an error.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewWithModel(nil, cfg), nil
	}

	options := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(resolveDefault(cfg.DefaultModel)),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		options = append(options, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(options...)
	if err != nil {
		return nil, fmt.Errorf("summarize: init openai client: %w", err)
	}
	return NewWithModel(model, cfg), nil
}

// NewWithModel wires an arbitrary llms.Model; a nil model produces a disabled client.
func NewWithModel(model llms.Model, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrency
	}
	fallback := resolveDefault(cfg.DefaultModel)
	allowed := map[string]struct{}{fallback: {}}
	for _, name := range cfg.AllowedModels {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return &Client{
		model:        model,
		defaultModel: fallback,
		allowed:      allowed,
		timeout:      timeout,
		sem:          semaphore.NewWeighted(concurrency),
	}
}

// Available reports whether a backing model is configured.
func (c *Client) Available() bool {
	return c != nil && c.model != nil
}

// ResolveModel returns the requested model when allow-listed, otherwise the default.
func (c *Client) ResolveModel(requested string) string {
	if c == nil {
		return defaultModel
	}
	trimmed := strings.TrimSpace(requested)
	if _, ok := c.allowed[trimmed]; ok {
		return trimmed
	}
	return c.defaultModel
}

// Complete runs a single chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, request CompletionRequest) (string, error) {
	if !c.Available() {
		return "", ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(callCtx, 1); err != nil {
		return "", fmt.Errorf("summarize: acquire slot: %w", err)
	}
	defer c.sem.Release(1)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, request.System),
		llms.TextParts(llms.ChatMessageTypeHuman, request.User),
	}
	temperature := request.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	options := []llms.CallOption{
		llms.WithModel(c.ResolveModel(request.Model)),
		llms.WithTemperature(temperature),
	}
	if request.JSON {
		options = append(options, llms.WithJSONMode())
	}

	response, err := c.model.GenerateContent(callCtx, messages, options...)
	if err != nil {
		return "", fmt.Errorf("summarize: generate content: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return response.Choices[0].Content, nil
}

// StripCodeFence removes a surrounding markdown code fence (```json ... ```) from model output.
func StripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

func resolveDefault(model string) string {
	if trimmed := strings.TrimSpace(model); trimmed != "" {
		return trimmed
	}
	return defaultModel
}
