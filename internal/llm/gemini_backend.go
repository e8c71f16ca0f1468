package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
)

// geminiModels is the subset of *genai.Models used here.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiBackend calls Google Gemini through the genai SDK.
type GeminiBackend struct {
	models  geminiModels
	breaker *circuitbreaker.CircuitBreaker
}

// NewGeminiBackend creates a Gemini backend authenticated with apiKey.
// Calls run through breaker when it is non-nil.
func NewGeminiBackend(ctx context.Context, apiKey string, breaker *circuitbreaker.CircuitBreaker) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini backend: %w", ErrNoBackend)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{models: client.Models, breaker: breaker}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Generate(ctx context.Context, model string, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	var resp *genai.GenerateContentResponse
	call := func() error {
		var err error
		resp, err = b.models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
		return err
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(ctx, call)
		circuitbreaker.GlobalMetricsCollector.RecordRequest(b.breaker.Name(), "llm", b.breaker.State(), err == nil)
	} else {
		err = call()
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", err
		case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			return "", fmt.Errorf("gemini generate failed: %w", err)
		}
		return "", &transientError{err: fmt.Errorf("gemini generate failed: %w", err)}
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
