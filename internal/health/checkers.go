package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
)

const defaultCheckTimeout = 5 * time.Second

// Pinger is anything that can be pinged, such as the Redis search cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisHealthChecker checks the search cache's Redis connectivity. The cache
// is optional so a failure only degrades the service.
type RedisHealthChecker struct {
	client  Pinger
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client Pinger, logger *zap.Logger) *RedisHealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisHealthChecker{client: client, logger: logger, timeout: defaultCheckTimeout}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	err := r.client.Ping(ctx)
	latency := time.Since(startTime)

	if err != nil {
		r.logger.Debug("Redis health check failed", zap.Error(err))
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Redis healthy",
		Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
	}
	// Check if degraded (high latency)
	if latency > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	}
	return result
}

// BreakerSource lists circuit breakers; circuitbreaker.GlobalMetricsCollector
// satisfies it.
type BreakerSource interface {
	Snapshot() []circuitbreaker.BreakerStatus
}

// CompletionHealthChecker reports whether the Completion Service can serve
// calls. Without a backend no research can run, so it is critical.
type CompletionHealthChecker struct {
	backend  string
	breakers BreakerSource
	timeout  time.Duration
}

// NewCompletionHealthChecker checks the named backend ("none" when unset)
// and the breakers registered for the llm service.
func NewCompletionHealthChecker(backend string, breakers BreakerSource) *CompletionHealthChecker {
	return &CompletionHealthChecker{backend: backend, breakers: breakers, timeout: time.Second}
}

func (c *CompletionHealthChecker) Name() string           { return "completion" }
func (c *CompletionHealthChecker) IsCritical() bool       { return true }
func (c *CompletionHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CompletionHealthChecker) Check(context.Context) CheckResult {
	if c.backend == "" || c.backend == "none" {
		return CheckResult{Status: StatusUnhealthy, Message: "No completion backend configured"}
	}
	open := openBreakers(c.breakers, "llm")
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Completion backend available",
		Details: map[string]interface{}{"backend": c.backend},
	}
	if len(open) > 0 {
		// An open breaker recovers on its own after the reset timeout.
		result.Status = StatusDegraded
		result.Message = "Completion backend circuit breaker open"
		result.Details["open_breakers"] = open
	}
	return result
}

// SearchHealthChecker reports provider availability from their breakers.
type SearchHealthChecker struct {
	providers int
	breakers  BreakerSource
	timeout   time.Duration
}

// NewSearchHealthChecker checks the configured provider count and the
// breakers registered for the search service.
func NewSearchHealthChecker(providers int, breakers BreakerSource) *SearchHealthChecker {
	return &SearchHealthChecker{providers: providers, breakers: breakers, timeout: time.Second}
}

func (s *SearchHealthChecker) Name() string           { return "search" }
func (s *SearchHealthChecker) IsCritical() bool       { return false }
func (s *SearchHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *SearchHealthChecker) Check(context.Context) CheckResult {
	if s.providers == 0 {
		return CheckResult{Status: StatusDegraded, Message: "No search providers configured"}
	}
	open := openBreakers(s.breakers, "search")
	details := map[string]interface{}{"providers": s.providers}
	switch {
	case len(open) >= s.providers:
		details["open_breakers"] = open
		return CheckResult{Status: StatusUnhealthy, Message: "All search providers unavailable", Details: details}
	case len(open) > 0:
		details["open_breakers"] = open
		return CheckResult{Status: StatusDegraded, Message: "Some search providers unavailable", Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: "Search providers available", Details: details}
	}
}

func openBreakers(src BreakerSource, service string) []string {
	if src == nil {
		return nil
	}
	var open []string
	for _, b := range src.Snapshot() {
		if b.Service == service && b.State == circuitbreaker.StateOpen.String() {
			open = append(open, b.Name)
		}
	}
	return open
}

// CustomHealthChecker allows for custom health check implementations
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
