package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUpstream = errors.New("upstream unavailable")

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 50 * time.Millisecond
	cfg.Interval = 0
	return cfg
}

func TestCircuitBreakerStates(t *testing.T) {
	cb := NewCircuitBreaker("llm", fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(ctx, func() error { return errUpstream }), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, func() error { t.Fatal("must not run while open"); return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)

	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("llm", fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errUpstream })
	}
	time.Sleep(70 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerMaxRequests(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5
	cb := NewCircuitBreaker("search", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mu.Lock()
	cb.transition(StateHalfOpen, time.Now())
	cb.mu.Unlock()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrTooManyRequests)
}

func TestCircuitBreakerCounts(t *testing.T) {
	cb := NewCircuitBreaker("llm", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errUpstream })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveFailures)
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker("llm", cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func() error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)

	// Already-cancelled contexts never reach fn.
	err = cb.Execute(ctx, func() error { t.Fatal("must not run"); return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateChangeCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2

	var transitions [][2]State
	cfg.OnStateChange = func(name string, from State, to State) {
		assert.Equal(t, "llm", name)
		transitions = append(transitions, [2]State{from, to})
	}

	cb := NewCircuitBreaker("llm", cfg, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errUpstream })
	}

	require.Len(t, transitions, 1)
	assert.Equal(t, [2]State{StateClosed, StateOpen}, transitions[0])
}

func TestSettingsForDependency(t *testing.T) {
	s := Settings{FailureThreshold: 7, ResetTimeout: 2 * time.Minute, HalfOpenRequests: 1}
	cfg := s.ForDependency("LLM")
	assert.Equal(t, uint32(7), cfg.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, uint32(1), cfg.SuccessThreshold)

	t.Setenv("CB_REDIS_FAILURE_THRESHOLD", "2")
	t.Setenv("CB_REDIS_TIMEOUT", "5s")
	cfg = s.ForDependency("REDIS")
	assert.Equal(t, uint32(2), cfg.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
