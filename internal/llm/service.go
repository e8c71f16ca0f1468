package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// Request is one completion call.
type Request struct {
	Task         Task
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Backend produces text for a prompt with a concrete model.
type Backend interface {
	Name() string
	Generate(ctx context.Context, model string, req Request) (string, error)
}

// Service is the Completion Service: it routes each task to a model, paces
// calls per backend, retries transient failures and validates JSON answers.
type Service struct {
	backend Backend
	router  *Router
	limiter *ratecontrol.Limiter
	retry   RetryPolicy
	logger  *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithLimiter sets the requests-per-minute limiter.
func WithLimiter(l *ratecontrol.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// NewService creates a Completion Service over backend. A nil backend is
// allowed; every call then fails with ErrNoBackend.
func NewService(backend Backend, router *Router, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if router == nil {
		router = NewRouter(nil)
	}
	s := &Service{
		backend: backend,
		router:  router,
		retry:   DefaultRetryPolicy(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router exposes the routing table for hot reload.
func (s *Service) Router() *Router { return s.router }

// SetRateLimit changes the requests-per-minute pacing in place. A service
// built without a limiter stays unpaced.
func (s *Service) SetRateLimit(rpm int) {
	if s.limiter != nil {
		s.limiter.SetRPM(rpm)
	}
}

// RateLimit returns the configured requests per minute, 0 when unpaced.
func (s *Service) RateLimit() int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.RPM()
}

// BackendName returns the configured backend or "none".
func (s *Service) BackendName() string {
	if s.backend == nil {
		return "none"
	}
	return s.backend.Name()
}

// Complete returns the model's text for req.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	if s.backend == nil {
		return "", ErrNoBackend
	}
	model := s.router.Route(req.Task)
	if model == "" {
		return "", fmt.Errorf("no model routed for task %q", req.Task)
	}
	backend := s.backend.Name()

	ctx, span := tracing.StartSpan(ctx, "llm.complete",
		attribute.String("llm.task", string(req.Task)),
		attribute.String("llm.model", model),
		attribute.String("llm.backend", backend),
	)

	start := time.Now()
	out, err := retry(ctx, s.retry, s.logger,
		func(int, error) { metrics.LLMRetries.WithLabelValues(string(req.Task), backend).Inc() },
		func(int) (string, error) {
			if s.limiter != nil {
				waited, err := s.limiter.Wait(ctx, backend)
				metrics.LLMRateLimitWait.WithLabelValues(backend).Observe(waited.Seconds())
				if err != nil {
					return "", err
				}
			}
			return s.backend.Generate(ctx, model, req)
		})
	latency := time.Since(start)
	tracing.EndSpan(span, err)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequests.WithLabelValues(string(req.Task), backend, status).Inc()
	metrics.LLMLatency.WithLabelValues(string(req.Task), backend).Observe(latency.Seconds())

	fields := []zap.Field{
		zap.String("task", string(req.Task)),
		zap.String("model", model),
		zap.String("backend", backend),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Int("response_len", len(out)),
		zap.Duration("latency", latency),
	}
	if err != nil {
		s.logger.Warn("Completion failed", append(fields, zap.Error(err))...)
		return "", fmt.Errorf("%s completion: %w", req.Task, err)
	}
	s.logger.Debug("Completion finished", fields...)
	return out, nil
}

// CompleteJSON asks for a JSON answer, repairs fences or surrounding prose,
// decodes it into out and runs out.Validate. Failures are *ValidationError.
func (s *Service) CompleteJSON(ctx context.Context, req Request, out Validatable) error {
	req.SystemPrompt = strings.TrimSpace(req.SystemPrompt + "\n\n" + jsonInstruction)
	raw, err := s.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(req.Task, raw, out)
}

// DecodeJSON applies the JSON boundary rules to a raw completion.
func DecodeJSON(task Task, raw string, out Validatable) error {
	body, ok := ExtractJSON(raw)
	if !ok {
		return &ValidationError{Task: task, Reason: "no JSON object in response", Raw: raw}
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return &ValidationError{Task: task, Reason: "malformed JSON", Raw: raw, Err: err}
	}
	if err := out.Validate(); err != nil {
		return &ValidationError{Task: task, Reason: "schema mismatch", Raw: raw, Err: err}
	}
	return nil
}

// IsValidationError reports whether err came from a schema rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
