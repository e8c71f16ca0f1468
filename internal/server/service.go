package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/workflows"
)

// sessionSweepInterval is how often expired requests are evicted.
const sessionSweepInterval = time.Minute

// ResearchService owns every long-lived component of the pipeline: the
// Completion and Search services, the session store, the orchestrator and
// the health manager.
type ResearchService struct {
	logger *zap.Logger

	llm          *llm.Service
	search       *search.Service
	cache        *search.RedisCache
	store        *session.Manager
	orchestrator *workflows.Orchestrator
	health       *health.Manager

	cancel   context.CancelFunc
	sweeper  sync.WaitGroup
	shutdown sync.Once
	drain    func()
}

// NewResearchService wires the pipeline from cfg. Background work (session
// eviction) runs until Shutdown.
func NewResearchService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ResearchService, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := circuitbreaker.Settings{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		HalfOpenRequests: cfg.CircuitBreaker.HalfOpenRequests,
	}

	llmSvc, err := llm.NewFromConfig(ctx, cfg.LLM, cb, logger)
	if err != nil {
		return nil, fmt.Errorf("completion service: %w", err)
	}
	searchSvc, cache, err := search.NewFromConfig(cfg.Search, cb, logger)
	if err != nil {
		return nil, fmt.Errorf("search service: %w", err)
	}

	categorizer, err := activities.NewCategorizer(cfg.Research.Categorization, cfg.Research.CategoryRules)
	if err != nil {
		closeCache(cache, logger)
		return nil, err
	}
	stages := workflows.Stages{
		Planner: activities.NewPlanner(llmSvc, activities.PlannerOptions{
			PadWithFallback: cfg.Planner.PadWithFallback,
			MaxResearchTime: cfg.Research.MaxResearchTime,
		}, logger),
		Researcher: activities.NewResearcher(llmSvc, searchSvc, cfg.Search.MaxResultsPerQuery, logger),
		Verifier:   activities.NewVerifier(llmSvc, logger),
		Synthesizer: activities.NewSynthesizer(llmSvc, activities.SynthesizerOptions{
			MinWordsPerSection: cfg.Research.MinWordsPerSection,
			Categorizer:        categorizer,
		}, logger),
	}

	store := session.NewManager(session.Options{
		Retention:  cfg.Session.Retention,
		MaxEntries: cfg.Session.MaxEntries,
	}, logger)
	orch := workflows.NewOrchestrator(stages, store, workflows.Options{
		MaxResearchTime: cfg.Research.MaxResearchTime,
	}, logger)

	hm := health.NewManager(logger)
	checkers := []health.Checker{
		health.NewCompletionHealthChecker(llmSvc.BackendName(), circuitbreaker.GlobalMetricsCollector),
		health.NewSearchHealthChecker(len(searchSvc.ProviderNames()), circuitbreaker.GlobalMetricsCollector),
	}
	if cache != nil {
		checkers = append(checkers, health.NewRedisHealthChecker(cache, logger))
	}
	for _, c := range checkers {
		if err := hm.RegisterChecker(c); err != nil {
			closeCache(cache, logger)
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &ResearchService{
		logger:       logger,
		llm:          llmSvc,
		search:       searchSvc,
		cache:        cache,
		store:        store,
		orchestrator: orch,
		health:       hm,
		cancel:       cancel,
	}
	s.drain = s.drainWork
	s.sweeper.Add(1)
	go func() {
		defer s.sweeper.Done()
		store.Run(runCtx, sessionSweepInterval)
	}()

	logger.Info("Research service ready",
		zap.String("llm_backend", llmSvc.BackendName()),
		zap.Strings("search_providers", searchSvc.ProviderNames()),
		zap.Bool("search_cache", cache != nil),
		zap.String("categorization", categorizer.Name()),
	)
	return s, nil
}

// Orchestrator returns the workflow orchestrator shared by every surface.
func (s *ResearchService) Orchestrator() *workflows.Orchestrator { return s.orchestrator }

// Health returns the health manager with the pipeline's checkers registered.
func (s *ResearchService) Health() *health.Manager { return s.health }

// Store returns the session store.
func (s *ResearchService) Store() *session.Manager { return s.store }

// ApplyConfig re-applies the hot-reloadable parts of cfg: the task to model
// routing table and the LLM rate limit. Everything else needs a restart.
func (s *ResearchService) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.llm.Router().Update(cfg.LLM.Models)
	if cfg.LLM.RateLimitRPM != s.llm.RateLimit() {
		s.llm.SetRateLimit(cfg.LLM.RateLimitRPM)
		s.logger.Info("LLM rate limit updated", zap.Int("rate_limit_rpm", cfg.LLM.RateLimitRPM))
	}
	s.logger.Info("Model routing updated",
		zap.String("planning", cfg.LLM.Models[config.TaskPlanning]),
		zap.String("extraction", cfg.LLM.Models[config.TaskExtraction]),
		zap.String("verification", cfg.LLM.Models[config.TaskVerification]),
		zap.String("synthesis", cfg.LLM.Models[config.TaskSynthesis]),
	)
}

// Shutdown cancels in-flight research, waits for it to record its outcome
// and releases the cache connection. If ctx expires first the cache stays
// open until the remaining research has drained. It is safe to call more
// than once.
func (s *ResearchService) Shutdown(ctx context.Context) error {
	var err error
	s.shutdown.Do(func() {
		done := make(chan struct{})
		go func() {
			s.drain()
			close(done)
		}()
		select {
		case <-done:
			if s.cache != nil {
				err = s.cache.Close()
			}
		case <-ctx.Done():
			err = fmt.Errorf("shutdown: %w", ctx.Err())
			if s.cache != nil {
				s.logger.Warn("Shutdown deadline passed, search cache stays open until research drains")
				go func() {
					<-done
					closeCache(s.cache, s.logger)
				}()
			}
		}
	})
	return err
}

// drainWork stops new research and waits for in-flight runs and the
// session sweeper to finish.
func (s *ResearchService) drainWork() {
	s.orchestrator.Close()
	s.health.Stop()
	s.cancel()
	s.sweeper.Wait()
}

func closeCache(cache *search.RedisCache, logger *zap.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Close(); err != nil {
		logger.Warn("Failed to close search cache", zap.Error(err))
	}
}
