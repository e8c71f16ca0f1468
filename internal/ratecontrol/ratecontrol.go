package ratecontrol

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// builtInRPM caps backends whose published limits are lower than the
// configured default.
var builtInRPM = map[string]int{
	"openai":     30,
	"gemini":     40,
	"llmservice": 0, // the LLM service enforces its own limits
}

// LimitForBackend combines the configured RPM with the backend's built-in cap.
func LimitForBackend(backend string, configuredRPM int) int {
	return minPositive(configuredRPM, builtInRPM[normalize(backend)])
}

// Limiter paces Completion Service calls per backend. An RPM of zero or less
// disables pacing for that backend.
type Limiter struct {
	mu       sync.Mutex
	rpm      int
	limiters map[string]*rate.Limiter
}

// NewLimiter returns a limiter applying rpm (before built-in caps) to every backend.
func NewLimiter(rpm int) *Limiter {
	return &Limiter{rpm: rpm, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to backend is allowed or ctx is done, and
// reports how long it waited.
func (l *Limiter) Wait(ctx context.Context, backend string) (time.Duration, error) {
	lim := l.forBackend(backend)
	if lim == nil {
		return 0, nil
	}
	start := time.Now()
	err := lim.Wait(ctx)
	return time.Since(start), err
}

// SetRPM changes the configured rate for all backends, keeping existing
// limiters (and their burst state) in place.
func (l *Limiter) SetRPM(rpm int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rpm = rpm
	for backend, lim := range l.limiters {
		lim.SetLimit(perSecond(LimitForBackend(backend, rpm)))
	}
}

// RPM returns the configured rate before built-in caps.
func (l *Limiter) RPM() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rpm
}

func (l *Limiter) forBackend(backend string) *rate.Limiter {
	backend = normalize(backend)
	l.mu.Lock()
	defer l.mu.Unlock()

	rpm := LimitForBackend(backend, l.rpm)
	if rpm <= 0 {
		return nil
	}
	lim, ok := l.limiters[backend]
	if !ok {
		// Burst of one request per ten RPM lets short stages start without delay.
		burst := rpm / 10
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(perSecond(rpm), burst)
		l.limiters[backend] = lim
	}
	return lim
}

func perSecond(rpm int) rate.Limit {
	if rpm <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(rpm) / 60.0)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
