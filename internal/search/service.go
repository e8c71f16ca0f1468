package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Options configures a Service.
type Options struct {
	MaxConcurrent    int
	FilterNonEnglish bool
	Cache            Cache
}

// Service fans a query out to every provider, isolates provider failures,
// sanitises snippets, filters non-English hits and drops duplicate URLs.
type Service struct {
	providers []Provider
	sem       *semaphore.Weighted
	filter    bool
	cache     Cache
	logger    *zap.Logger
}

// NewService creates a Search Service. MaxConcurrent bounds in-flight
// provider calls across all queries.
func NewService(providers []Provider, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Service{
		providers: providers,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		filter:    opts.FilterNonEnglish,
		cache:     opts.Cache,
		logger:    logger,
	}
}

// ProviderNames lists the configured providers in order.
func (s *Service) ProviderNames() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// SearchAllProviders queries the named providers (all when only is empty)
// concurrently. It never fails: a provider error contributes no hits.
// Hits keep provider order, then provider ranking.
func (s *Service) SearchAllProviders(ctx context.Context, query string, maxPerProvider int, only ...string) []models.SourceHit {
	selected := s.selectProviders(only)
	if len(selected) == 0 {
		return []models.SourceHit{}
	}

	ctx, span := tracing.StartSpan(ctx, "search.query",
		attribute.String("search.query", util.Prefix(query, 50)),
		attribute.Int("search.providers", len(selected)),
	)
	defer span.End()

	perProvider := make([][]models.SourceHit, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range selected {
		g.Go(func() error {
			perProvider[i] = s.searchOne(gctx, p, query, maxPerProvider)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	out := make([]models.SourceHit, 0)
	for _, hits := range perProvider {
		for _, h := range hits {
			key, err := NormalizeURL(h.URL)
			if err != nil {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, h)
		}
	}
	span.SetAttributes(attribute.Int("search.results", len(out)))
	return out
}

func (s *Service) selectProviders(only []string) []Provider {
	if len(only) == 0 {
		return s.providers
	}
	out := make([]Provider, 0, len(only))
	for _, p := range s.providers {
		if util.ContainsFold(only, p.Name()) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) searchOne(ctx context.Context, p Provider, query string, limit int) []models.SourceHit {
	name := p.Name()
	if s.cache != nil {
		if hits, ok := s.cache.Get(ctx, name, query, limit); ok {
			metrics.SearchCacheHits.Inc()
			metrics.SearchRequests.WithLabelValues(name, "cached").Inc()
			return hits
		}
		metrics.SearchCacheMisses.Inc()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		metrics.SearchRequests.WithLabelValues(name, "cancelled").Inc()
		return nil
	}
	start := time.Now()
	raw, err := p.Search(ctx, query, limit)
	s.sem.Release(1)
	latency := time.Since(start)
	metrics.SearchLatency.WithLabelValues(name).Observe(latency.Seconds())

	if err != nil {
		metrics.SearchRequests.WithLabelValues(name, "error").Inc()
		s.logger.Warn("Search provider failed",
			zap.String("provider", name),
			zap.String("query", util.Prefix(query, 50)),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil
	}

	hits := s.clean(raw)
	metrics.SearchRequests.WithLabelValues(name, "success").Inc()
	metrics.SearchResults.WithLabelValues(name).Observe(float64(len(hits)))
	s.logger.Debug("Search provider returned",
		zap.String("provider", name),
		zap.String("query", util.Prefix(query, 50)),
		zap.Int("raw_results", len(raw)),
		zap.Int("results", len(hits)),
		zap.Duration("latency", latency),
	)

	if s.cache != nil {
		s.cache.Set(ctx, name, query, limit, hits)
	}
	return hits
}

func (s *Service) clean(raw []models.SourceHit) []models.SourceHit {
	hits := make([]models.SourceHit, 0, len(raw))
	for _, h := range raw {
		h.Title = Sanitize(h.Title)
		h.Snippet = Sanitize(h.Snippet)
		if s.filter && (!declaredEnglish(h.Language) || !IsEnglish(h.Snippet)) {
			continue
		}
		hits = append(hits, h)
	}
	return hits
}
