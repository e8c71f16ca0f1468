package circuitbreaker

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapperTripsOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.FailureThreshold = 2
	hw := NewHTTPWrapper(srv.Client(), "llm-test-5xx", "llm", cfg, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err, "5xx is surfaced as a response")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.State())

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPWrapperClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.FailureThreshold = 1
	hw := NewHTTPWrapper(srv.Client(), "llm-test-4xx", "llm", cfg, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, hw.State())
}

func TestSnapshotListsRegisteredBreakers(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RegisterCircuitBreaker("wiki", "search", NewCircuitBreaker("wiki", DefaultConfig(), nil))
	mc.RegisterCircuitBreaker("openai", "llm", NewCircuitBreaker("openai", DefaultConfig(), nil))

	snap := mc.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, BreakerStatus{Name: "openai", Service: "llm", State: "closed"}, snap[0])
	assert.Equal(t, "wiki", snap[1].Name)
}
