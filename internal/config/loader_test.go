package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults without a file", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "absent.yaml")
		cfg, err := NewLoader(missing, zaptest.NewLogger(t)).Load()
		require.NoError(t, err)

		assert.Equal(t, BackendLLMService, cfg.LLM.Backend)
		assert.Equal(t, 3, cfg.LLM.MaxRetries)
		assert.Equal(t, 60, cfg.LLM.RateLimitRPM)
		assert.Equal(t, "gpt-4", cfg.LLM.Models[TaskPlanning])
		assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.Models[TaskExtraction])
		assert.Equal(t, 5, cfg.Search.MaxResultsPerQuery)
		assert.Equal(t, 3, cfg.Search.MaxConcurrent)
		assert.Equal(t, 30*time.Second, cfg.Search.Timeout)
		assert.True(t, cfg.Search.FilterNonEnglish)
		assert.Equal(t, 180*time.Second, cfg.Research.MaxResearchTime)
		assert.Equal(t, 300, cfg.Research.MinWordsPerSection)
		assert.Equal(t, CategorizationPositional, cfg.Research.Categorization)
		assert.False(t, cfg.Planner.PadWithFallback)
		assert.Equal(t, 24*time.Hour, cfg.Session.Retention)
	})

	t.Run("File values", func(t *testing.T) {
		path := writeConfig(t, `
llm:
  backend: gemini
  models:
    planning: gemini-2.5-pro
    extraction: gemini-2.5-flash
    verification: gemini-2.5-pro
    synthesis: gemini-2.5-pro
search:
  max_concurrent: 6
  providers:
    - name: wiki
      url: http://search.local/wiki
research:
  categorization: rule-based
  category_rules:
    Market: [revenue, sales]
planner:
  pad_with_fallback: true
`)
		cfg, err := NewLoader(path, zaptest.NewLogger(t)).Load()
		require.NoError(t, err)

		assert.Equal(t, BackendGemini, cfg.LLM.Backend)
		assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Models[TaskExtraction])
		assert.Equal(t, 6, cfg.Search.MaxConcurrent)
		require.Len(t, cfg.Search.Providers, 1)
		assert.Equal(t, "wiki", cfg.Search.Providers[0].Name)
		assert.Equal(t, 30*time.Second, cfg.Search.Providers[0].Timeout, "provider timeout inherits search.timeout")
		assert.Equal(t, []string{"revenue", "sales"}, cfg.Research.CategoryRules["market"])
		assert.True(t, cfg.Planner.PadWithFallback)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		t.Setenv("RESEARCH_LOGGING_LEVEL", "debug")
		t.Setenv("RESEARCH_SEARCH_MAX_RESULTS_PER_QUERY", "9")
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml"), nil).Load()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9, cfg.Search.MaxResultsPerQuery)
	})

	t.Run("Provider keys", func(t *testing.T) {
		t.Setenv("RESEARCH_LLM_BACKEND", "openai")
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("REDIS_URL", "redis://cache:6379/0")
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml"), nil).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
		assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
		assert.Equal(t, "redis://cache:6379/0", cfg.Search.Cache.RedisURL)
	})

	t.Run("LLM service URL", func(t *testing.T) {
		t.Setenv("LLM_SERVICE_URL", "http://llm:9000")
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml"), nil).Load()
		require.NoError(t, err)
		assert.Equal(t, "http://llm:9000", cfg.LLM.BaseURL)
	})
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "llm:\n  backend: carrier-pigeon\n"},
		{"zero concurrency", "search:\n  max_concurrent: 0\n"},
		{"provider without url", "search:\n  providers:\n    - name: wiki\n"},
		{"unknown categorization", "research:\n  categorization: alphabetical\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body), nil).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := writeConfig(t, "llm: [unclosed")
	_, err := NewLoader(path, nil).Load()
	require.Error(t, err)
}

func TestReloadNotifiesCallbacks(t *testing.T) {
	path := writeConfig(t, "llm:\n  models:\n    planning: gpt-4\n    extraction: gpt-3.5-turbo\n    verification: gpt-4\n    synthesis: gpt-4\n")
	l := NewLoader(path, zaptest.NewLogger(t))
	_, err := l.Load()
	require.NoError(t, err)

	var got *Config
	l.OnChange(func(c *Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte("llm:\n  models:\n    planning: gpt-4o\n    extraction: gpt-4o-mini\n    verification: gpt-4o\n    synthesis: gpt-4o\n"), 0o644))
	require.NoError(t, l.v.ReadInConfig())
	l.reload(path)

	require.NotNil(t, got)
	assert.Equal(t, "gpt-4o-mini", got.LLM.Models[TaskExtraction])
	assert.Same(t, got, l.Current())
}

func TestReloadKeepsPreviousOnInvalidChange(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	l := NewLoader(path, zaptest.NewLogger(t))
	before, err := l.Load()
	require.NoError(t, err)

	called := false
	l.OnChange(func(*Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))
	require.NoError(t, l.v.ReadInConfig())
	l.reload(path)

	assert.False(t, called)
	assert.Same(t, before, l.Current())
}
