package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// HTTPDoer is satisfied by *http.Client and circuitbreaker.HTTPWrapper.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceBackend calls the Shannon LLM service /agent/query endpoint.
type ServiceBackend struct {
	baseURL string
	client  HTTPDoer
}

// NewServiceBackend creates a backend for the LLM service at baseURL.
func NewServiceBackend(baseURL string, client HTTPDoer) *ServiceBackend {
	return &ServiceBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *ServiceBackend) Name() string { return "llmservice" }

type serviceResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	Error      string `json:"error"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
}

func (b *ServiceBackend) Generate(ctx context.Context, model string, req Request) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":       req.Prompt,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"agent_id":    "researcher_" + string(req.Task),
		"context": map[string]interface{}{
			"system_prompt":     req.SystemPrompt,
			"model_override":    model,
			"provider_override": DetectProvider(model),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/agent/query", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Agent-ID", "researcher_"+string(req.Task))
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("LLM service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Backend: b.Name(), Code: resp.StatusCode, Body: string(snippet)}
	}

	var out serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &transientError{err: fmt.Errorf("failed to parse LLM service response: %w", err)}
	}
	if !out.Success && out.Error != "" {
		return "", &transientError{err: fmt.Errorf("LLM service error: %s", out.Error)}
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}

var _ HTTPDoer = (*circuitbreaker.HTTPWrapper)(nil)
