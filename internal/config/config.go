package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultConfigPath is used when CONFIG_PATH is unset. The file is optional.
const DefaultConfigPath = "./config/research.yaml"

// Completion Service backends.
const (
	BackendLLMService = "llmservice"
	BackendOpenAI     = "openai"
	BackendGemini     = "gemini"
)

// Categorization strategies for the synthesizer.
const (
	CategorizationPositional = "positional"
	CategorizationRuleBased  = "rule-based"
)

// Config is the full runtime configuration of the research service.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	LLM            LLMConfig            `mapstructure:"llm"`
	Search         SearchConfig         `mapstructure:"search"`
	Research       ResearchConfig       `mapstructure:"research"`
	Planner        PlannerConfig        `mapstructure:"planner"`
	Session        SessionConfig        `mapstructure:"session"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type ServerConfig struct {
	Port      int `mapstructure:"port"`
	AdminPort int `mapstructure:"admin_port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig selects the Completion Service backend and the task->model routing table.
type LLMConfig struct {
	Backend      string            `mapstructure:"backend"`
	BaseURL      string            `mapstructure:"base_url"`
	APIKey       string            `mapstructure:"api_key"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
	RateLimitRPM int               `mapstructure:"rate_limit_rpm"`
	Models       map[string]string `mapstructure:"models"`
}

// SearchProvider is one configured search endpoint.
type SearchProvider struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SearchCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SearchConfig struct {
	Providers          []SearchProvider  `mapstructure:"providers"`
	MaxResultsPerQuery int               `mapstructure:"max_results_per_query"`
	MaxConcurrent      int               `mapstructure:"max_concurrent"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	FilterNonEnglish   bool              `mapstructure:"filter_non_english"`
	Cache              SearchCacheConfig `mapstructure:"cache"`
}

type ResearchConfig struct {
	MaxResearchTime    time.Duration       `mapstructure:"max_research_time"`
	MinWordsPerSection int                 `mapstructure:"min_words_per_section"`
	Categorization     string              `mapstructure:"categorization"`
	CategoryRules      map[string][]string `mapstructure:"category_rules"`
}

type PlannerConfig struct {
	PadWithFallback bool `mapstructure:"pad_with_fallback"`
}

type SessionConfig struct {
	Retention  time.Duration `mapstructure:"retention"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenRequests int           `mapstructure:"half_open_requests"`
}

// Task names used as keys of llm.models.
const (
	TaskPlanning     = "planning"
	TaskExtraction   = "extraction"
	TaskVerification = "verification"
	TaskSynthesis    = "synthesis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.admin_port", 2112)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("llm.backend", BackendLLMService)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.rate_limit_rpm", 60)
	v.SetDefault("llm.models", map[string]string{
		TaskPlanning:     "gpt-4",
		TaskExtraction:   "gpt-3.5-turbo",
		TaskVerification: "gpt-4",
		TaskSynthesis:    "gpt-4",
	})

	v.SetDefault("search.providers", []map[string]interface{}{})
	v.SetDefault("search.max_results_per_query", 5)
	v.SetDefault("search.max_concurrent", 3)
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.filter_non_english", true)
	v.SetDefault("search.cache.enabled", false)
	v.SetDefault("search.cache.redis_url", "")
	v.SetDefault("search.cache.ttl", time.Hour)

	v.SetDefault("research.max_research_time", 180*time.Second)
	v.SetDefault("research.min_words_per_section", 300)
	v.SetDefault("research.categorization", CategorizationPositional)
	v.SetDefault("research.category_rules", map[string][]string{})

	v.SetDefault("planner.pad_with_fallback", false)

	v.SetDefault("session.retention", 24*time.Hour)
	v.SetDefault("session.max_entries", 1000)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "shannon-researcher")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "shannon-researcher")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", 60*time.Second)
	v.SetDefault("circuit_breaker.half_open_requests", 1)
}

// applyProviderEnv folds the well-known provider variables into cfg when the
// corresponding key was not set explicitly.
func applyProviderEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Backend {
		case BackendOpenAI:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case BackendGemini:
			cfg.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" {
		switch cfg.LLM.Backend {
		case BackendLLMService:
			cfg.LLM.BaseURL = os.Getenv("LLM_SERVICE_URL")
			if cfg.LLM.BaseURL == "" {
				cfg.LLM.BaseURL = "http://llm-service:8000"
			}
		case BackendOpenAI:
			cfg.LLM.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Search.Cache.RedisURL == "" {
		cfg.Search.Cache.RedisURL = os.Getenv("REDIS_URL")
	}
	for i := range cfg.Search.Providers {
		if cfg.Search.Providers[i].Timeout <= 0 {
			cfg.Search.Providers[i].Timeout = cfg.Search.Timeout
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Backend {
	case BackendLLMService, BackendOpenAI, BackendGemini:
	default:
		errs = append(errs, fmt.Errorf("llm.backend %q is not one of llmservice|openai|gemini", c.LLM.Backend))
	}
	for _, task := range []string{TaskPlanning, TaskExtraction, TaskVerification, TaskSynthesis} {
		if strings.TrimSpace(c.LLM.Models[task]) == "" {
			errs = append(errs, fmt.Errorf("llm.models.%s must be set", task))
		}
	}
	if c.LLM.MaxRetries < 1 {
		errs = append(errs, errors.New("llm.max_retries must be at least 1"))
	}
	if c.Search.MaxResultsPerQuery < 1 {
		errs = append(errs, errors.New("search.max_results_per_query must be at least 1"))
	}
	if c.Search.MaxConcurrent < 1 {
		errs = append(errs, errors.New("search.max_concurrent must be at least 1"))
	}
	for i, p := range c.Search.Providers {
		if p.Name == "" || p.URL == "" {
			errs = append(errs, fmt.Errorf("search.providers[%d] needs both name and url", i))
		}
	}
	switch c.Research.Categorization {
	case CategorizationPositional, CategorizationRuleBased:
	default:
		errs = append(errs, fmt.Errorf("research.categorization %q is not one of positional|rule-based", c.Research.Categorization))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Loader reads the configuration file and environment, and optionally keeps
// the configuration current by watching the file.
type Loader struct {
	v      *viper.Viper
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
}

// NewLoader builds a Loader for path. An empty path resolves CONFIG_PATH,
// then DefaultConfigPath.
func NewLoader(path string, logger *zap.Logger) *Loader {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	return &Loader{v: v, path: path, logger: logger}
}

// Load reads the file (if present) and environment into a validated Config.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !l.missingFile(err) {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		l.logger.Debug("Config file not found, using defaults and environment", zap.String("path", l.path))
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) missingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	_, statErr := os.Stat(l.path)
	return errors.Is(statErr, os.ErrNotExist)
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyProviderEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to run with every configuration reloaded by Watch.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
}

// Watch enables hot reload. It is a no-op when the file does not exist.
// A reload that fails validation is logged and the previous config kept.
func (l *Loader) Watch() {
	if _, err := os.Stat(l.path); err != nil {
		l.logger.Info("Config hot reload disabled, file not present", zap.String("path", l.path))
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.reload(e.Name)
	})
	l.v.WatchConfig()
	l.logger.Info("Watching config for changes", zap.String("path", l.path))
}

func (l *Loader) reload(name string) {
	cfg, err := l.decode()
	if err != nil {
		l.logger.Warn("Ignoring invalid config change", zap.String("file", name), zap.Error(err))
		return
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := append([]func(*Config){}, l.callbacks...)
	l.mu.Unlock()

	l.logger.Info("Configuration reloaded", zap.String("file", name))
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Load is a convenience wrapper around NewLoader("", nil).Load().
func Load() (*Config, error) {
	return NewLoader("", nil).Load()
}
