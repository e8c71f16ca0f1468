package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

const (
	planningTemperature = 0.7

	secondsPerQuestion = 15
	planOverheadSecs   = 30

	// DefaultMaxResearchTime is the ceiling applied to plan estimates.
	DefaultMaxResearchTime = 180 * time.Second
)

// PlanningError is returned when a plan cannot reach the depth level's
// minimum number of sub-questions.
type PlanningError struct {
	Generated int
	Minimum   int
	Err       error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %v", e.Err)
	}
	return fmt.Sprintf("planning failed: generated %d sub-questions, need at least %d", e.Generated, e.Minimum)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// PlannerOptions tunes plan creation.
type PlannerOptions struct {
	// PadWithFallback fills an under-sized plan with templated questions
	// instead of failing.
	PadWithFallback bool
	// MaxResearchTime caps EstimatedTimeSeconds. Zero means DefaultMaxResearchTime.
	MaxResearchTime time.Duration
}

// Planner turns a research request into a prioritized sub-question plan.
type Planner struct {
	llm    Completer
	opts   PlannerOptions
	logger *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(completer Completer, opts PlannerOptions, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxResearchTime <= 0 {
		opts.MaxResearchTime = DefaultMaxResearchTime
	}
	return &Planner{llm: completer, opts: opts, logger: logger}
}

// CreatePlan asks the Completion Service for sub-questions sized by the
// request's depth level. Over-generation is truncated; under-generation is a
// *PlanningError unless padding is enabled.
func (p *Planner) CreatePlan(ctx context.Context, req models.ResearchRequest) (*models.ResearchPlan, error) {
	depth := models.ConfigForDepth(req.DepthLevel)
	logger := p.logger.With(zap.String("request_id", req.ID), zap.String("depth_level", string(req.DepthLevel)))

	texts, priorities, err := p.generate(ctx, req.Query, depth)
	if err != nil {
		if !p.opts.PadWithFallback {
			return nil, &PlanningError{Minimum: depth.MinQuestions, Err: err}
		}
		logger.Warn("Planning completion failed, using fallback questions", zap.Error(err))
		texts, priorities = nil, nil
	}

	if len(texts) > depth.MaxQuestions {
		logger.Debug("Truncating over-generated plan",
			zap.Int("generated", len(texts)),
			zap.Int("max", depth.MaxQuestions),
		)
		texts = texts[:depth.MaxQuestions]
		priorities = priorities[:depth.MaxQuestions]
	}

	if len(texts) < depth.MinQuestions {
		if !p.opts.PadWithFallback {
			return nil, &PlanningError{Generated: len(texts), Minimum: depth.MinQuestions}
		}
		generated := len(texts)
		for _, q := range FallbackQuestions(req.Query, depth.MinQuestions, texts) {
			texts = append(texts, q)
			priorities = append(priorities, len(texts))
		}
		logger.Info("Padded plan with fallback questions",
			zap.Int("generated", generated),
			zap.Int("padded_to", len(texts)),
		)
	}

	now := time.Now().UTC()
	plan := &models.ResearchPlan{
		ID:                   uuid.NewString(),
		RequestID:            req.ID,
		SubQuestions:         make([]models.SubQuestion, len(texts)),
		EstimatedTimeSeconds: EstimateSeconds(len(texts), depth.MaxRecursion, p.opts.MaxResearchTime),
		CreatedAt:            now,
	}
	for i, text := range texts {
		plan.SubQuestions[i] = models.SubQuestion{
			ID:        uuid.NewString(),
			Text:      text,
			Priority:  priorities[i],
			Depth:     0,
			Status:    models.QuestionPending,
			CreatedAt: now,
		}
	}

	logger.Info("Research plan created",
		zap.String("plan_id", plan.ID),
		zap.Int("sub_questions", len(plan.SubQuestions)),
		zap.Int("estimated_time_seconds", plan.EstimatedTimeSeconds),
	)
	return plan, nil
}

// generate returns the non-blank questions and their priorities in the
// order the model produced them. A missing or non-positive priority
// becomes the question's 1-based position.
func (p *Planner) generate(ctx context.Context, query string, depth models.DepthConfig) ([]string, []int, error) {
	if p.llm == nil {
		return nil, nil, llm.ErrNoBackend
	}
	system, user, err := renderPrompt(promptPlanning, struct {
		Query    string
		Min, Max int
	}{query, depth.MinQuestions, depth.MaxQuestions})
	if err != nil {
		return nil, nil, err
	}

	var out planResult
	err = p.llm.CompleteJSON(ctx, llm.Request{
		Task:         llm.TaskPlanning,
		Prompt:       user,
		SystemPrompt: system,
		Temperature:  planningTemperature,
	}, &out)
	if err != nil {
		return nil, nil, err
	}

	texts := make([]string, 0, len(out.SubQuestions))
	priorities := make([]int, 0, len(out.SubQuestions))
	for _, q := range out.SubQuestions {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		prio := int(q.Priority)
		if prio <= 0 {
			prio = len(texts)
		}
		priorities = append(priorities, prio)
	}
	return texts, priorities, nil
}

// EstimateSeconds is n × 15s × (1 + 0.5 × maxRecursion) + 30s, capped at ceiling.
func EstimateSeconds(n, maxRecursion int, ceiling time.Duration) int {
	est := int(float64(n*secondsPerQuestion)*(1+0.5*float64(maxRecursion))) + planOverheadSecs
	if limit := int(ceiling.Seconds()); limit > 0 && est > limit {
		return limit
	}
	return est
}

var fallbackTemplates = []string{
	"What is %s?",
	"What are the key facts about %s?",
	"What is the recent news about %s?",
	"What are the main challenges or controversies related to %s?",
	"What is the future outlook for %s?",
}

// FallbackQuestions returns the templated questions needed to bring
// existing up to want, skipping any text already present.
func FallbackQuestions(query string, want int, existing []string) []string {
	query = strings.TrimSpace(query)
	seen := make(map[string]bool, want)
	for _, e := range existing {
		seen[strings.ToLower(strings.TrimSpace(e))] = true
	}

	var out []string
	add := func(q string) {
		key := strings.ToLower(q)
		if len(existing)+len(out) >= want || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, q)
	}
	for _, t := range fallbackTemplates {
		add(fmt.Sprintf(t, query))
	}
	for i := 1; len(existing)+len(out) < want; i++ {
		add(fmt.Sprintf("Additional information about %s (part %d)", query, i))
	}
	return out
}
