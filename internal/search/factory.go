package search

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
)

// NewFromConfig builds the Search Service with one breaker-guarded HTTP
// provider per configured endpoint and, when enabled, the Redis cache. The
// returned cache is nil when caching is off.
func NewFromConfig(cfg config.SearchConfig, cb circuitbreaker.Settings, logger *zap.Logger) (*Service, *RedisCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := make([]Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		client := circuitbreaker.NewHTTPWrapper(&http.Client{}, p.Name, "search", cb.ForDependency("SEARCH"), logger)
		providers = append(providers, NewHTTPProvider(p.Name, p.URL, p.APIKey, p.Timeout, client))
	}
	if len(providers) == 0 {
		logger.Warn("No search providers configured, research will find no sources")
	}

	opts := Options{MaxConcurrent: cfg.MaxConcurrent, FilterNonEnglish: cfg.FilterNonEnglish}
	var cache *RedisCache
	if cfg.Cache.Enabled && cfg.Cache.RedisURL != "" {
		c, err := NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL, cb.ForDependency("REDIS"), logger)
		if err != nil {
			return nil, nil, err
		}
		cache = c
		opts.Cache = c
	}
	return NewService(providers, opts, logger), cache, nil
}
