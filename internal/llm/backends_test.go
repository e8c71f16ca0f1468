package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
)

func TestServiceBackendGenerate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/query", r.URL.Path)
		assert.Equal(t, "researcher_planning", r.Header.Get("X-Agent-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"response": `{"sub_questions":[]}`,
		})
	}))
	defer srv.Close()

	b := NewServiceBackend(srv.URL+"/", srv.Client())
	out, err := b.Generate(context.Background(), "gpt-4", Request{
		Task: TaskPlanning, Prompt: "Plan it", SystemPrompt: "sys", Temperature: 0.7, MaxTokens: 800,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"sub_questions":[]}`, out)

	assert.Equal(t, "Plan it", got["query"])
	assert.EqualValues(t, 800, got["max_tokens"])
	ctxMap := got["context"].(map[string]interface{})
	assert.Equal(t, "gpt-4", ctxMap["model_override"])
	assert.Equal(t, "openai", ctxMap["provider_override"])
	assert.Equal(t, "sys", ctxMap["system_prompt"])
}

func TestServiceBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewServiceBackend(srv.URL, srv.Client()).Generate(context.Background(), "gpt-4", Request{Task: TaskPlanning})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, isRetryable(err))
}

func TestServiceBackendEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"response":"  "}`))
	}))
	defer srv.Close()

	_, err := NewServiceBackend(srv.URL, srv.Client()).Generate(context.Background(), "gpt-4", Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

const chatCompletionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-3.5-turbo",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Tesla delivered 1.8M vehicles."}}]
}`

func TestOpenAIBackendGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionBody))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(srv.URL+"/v1", "sk-test", srv.Client(), nil)
	out, err := b.Generate(context.Background(), "gpt-3.5-turbo", Request{
		Task: TaskExtraction, Prompt: "extract", SystemPrompt: "be terse", Temperature: 0.3, MaxTokens: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Tesla delivered 1.8M vehicles.", out)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be terse", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "extract", got.Messages[1].Content)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	assert.Equal(t, 500, got.MaxTokens)
}

func TestOpenAIBackendRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIBackend(srv.URL, "k", srv.Client(), nil).Generate(context.Background(), "gpt-4", Request{Prompt: "p"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, isRetryable(err))
	assert.Equal(t, int32(1), calls.Load(), "the client does not retry on its own")
}

func TestOpenAIBackendClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIBackend(srv.URL, "bad", srv.Client(), nil).Generate(context.Background(), "gpt-4", Request{Prompt: "p"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.False(t, isRetryable(err))
}

func TestOpenAIBackendBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	breaker := circuitbreaker.NewHTTPWrapper(srv.Client(), "openai-breaker-test", "llm", cfg, zaptest.NewLogger(t))
	b := NewOpenAIBackend(srv.URL, "k", srv.Client(), breaker)

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), "gpt-4", Request{Prompt: "p"})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.Code)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := b.Generate(context.Background(), "gpt-4", Request{Prompt: "p"})
	require.Error(t, err)
	assert.False(t, isRetryable(err), "an open breaker is not retried")
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the request")
}

func TestOpenAIBackendEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "chatcmpl-2", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIBackend(srv.URL, "k", srv.Client(), nil).Generate(context.Background(), "gpt-4", Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type fakeGemini struct {
	calls  int
	model  string
	config *genai.GenerateContentConfig
	resp   *genai.GenerateContentResponse
	err    error
}

func (f *fakeGemini) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	return f.resp, f.err
}

func TestGeminiBackendGenerate(t *testing.T) {
	fake := &fakeGemini{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("summary text", genai.RoleModel)}},
	}}
	b := &GeminiBackend{models: fake}

	out, err := b.Generate(context.Background(), "gemini-2.5-flash", Request{
		Prompt: "summarise", SystemPrompt: "sys", Temperature: 0.6, MaxTokens: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "summary text", out)
	assert.Equal(t, "gemini-2.5-flash", fake.model)
	require.NotNil(t, fake.config.Temperature)
	assert.InDelta(t, 0.6, *fake.config.Temperature, 1e-6)
	assert.Equal(t, int32(1000), fake.config.MaxOutputTokens)
	assert.NotNil(t, fake.config.SystemInstruction)
}

func TestGeminiBackendErrors(t *testing.T) {
	b := &GeminiBackend{models: &fakeGemini{err: errors.New("quota exceeded")}}
	_, err := b.Generate(context.Background(), "gemini-2.5-pro", Request{})
	assert.True(t, isRetryable(err))

	b = &GeminiBackend{models: &fakeGemini{resp: &genai.GenerateContentResponse{}}}
	_, err = b.Generate(context.Background(), "gemini-2.5-pro", Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiBackendBreakerOpens(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	breaker := circuitbreaker.NewCircuitBreaker("gemini-breaker-test", cfg, zaptest.NewLogger(t))
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("gemini-breaker-test", "llm", breaker)

	fake := &fakeGemini{err: errors.New("503 backend unavailable")}
	b := &GeminiBackend{models: fake, breaker: breaker}

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), "gemini-2.5-pro", Request{})
		assert.True(t, isRetryable(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := b.Generate(context.Background(), "gemini-2.5-pro", Request{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.False(t, isRetryable(err))
	assert.Equal(t, 2, fake.calls, "open breaker short-circuits the call")

	var seen bool
	for _, snap := range circuitbreaker.GlobalMetricsCollector.Snapshot() {
		if snap.Name == "gemini-breaker-test" {
			seen = true
			assert.Equal(t, circuitbreaker.StateOpen.String(), snap.State)
		}
	}
	assert.True(t, seen, "gemini breaker is visible to health checks")
}

func TestNewGeminiBackendRequiresKey(t *testing.T) {
	_, err := NewGeminiBackend(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"```json\n{\"a\":1}", `{"a":1}`, true},
		{"Sure! {\"a\":{\"b\":2}} done", `{"a":{"b":2}}`, true},
		{"no braces here", "", false},
		{"} backwards {", "", false},
	}
	for _, c := range cases {
		got, ok := ExtractJSON(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}
