package llm

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
)

// NewFromConfig wires the configured backend with its circuit breaker,
// rate limiter and retry policy. A backend missing its credentials leaves
// the Service without a backend so that calls fail with ErrNoBackend.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, cb circuitbreaker.Settings, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var backend Backend
	switch cfg.Backend {
	case config.BackendLLMService:
		if cfg.BaseURL != "" {
			wrapped := circuitbreaker.NewHTTPWrapper(httpClient, "llmservice", "llm", cb.ForDependency("LLM"), logger)
			backend = NewServiceBackend(cfg.BaseURL, wrapped)
		}
	case config.BackendOpenAI:
		if cfg.APIKey != "" {
			breaker := circuitbreaker.NewHTTPWrapper(httpClient, "openai", "llm", cb.ForDependency("LLM"), logger)
			backend = NewOpenAIBackend(cfg.BaseURL, cfg.APIKey, httpClient, breaker)
		}
	case config.BackendGemini:
		if cfg.APIKey != "" {
			breaker := circuitbreaker.NewCircuitBreaker("gemini", cb.ForDependency("LLM"), logger)
			circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("gemini", "llm", breaker)
			g, err := NewGeminiBackend(ctx, cfg.APIKey, breaker)
			if err != nil {
				return nil, err
			}
			backend = g
		}
	}
	if backend == nil {
		logger.Warn("LLM backend not configured, completions will fail", zap.String("backend", cfg.Backend))
	}

	policy := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}

	return NewService(backend, NewRouter(cfg.Models), logger,
		WithRetryPolicy(policy),
		WithLimiter(ratecontrol.NewLimiter(cfg.RateLimitRPM)),
	), nil
}
