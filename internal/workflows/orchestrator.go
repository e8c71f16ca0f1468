package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Options tunes the orchestrator.
type Options struct {
	// MaxResearchTime is a soft target: overruns are logged, never cancelled.
	MaxResearchTime time.Duration
}

// Orchestrator drives Plan -> Execute -> Verify -> Synthesize for each
// request and keeps its progress record in the session store.
type Orchestrator struct {
	stages  Stages
	store   *session.Manager
	opts    Options
	logger  *zap.Logger
	wg      sync.WaitGroup
	base    context.Context
	stopAll context.CancelFunc
}

// NewOrchestrator wires the stages to a store.
func NewOrchestrator(stages Stages, store *session.Manager, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxResearchTime <= 0 {
		opts.MaxResearchTime = activities.DefaultMaxResearchTime
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		stages:  stages,
		store:   store,
		opts:    opts,
		logger:  logger,
		base:    base,
		stopAll: stop,
	}
}

// NewRequest builds a validated request with a fresh id. An empty depth
// level means standard.
func NewRequest(query string, depth models.DepthLevel, providers []string) (models.ResearchRequest, error) {
	level, ok := models.ParseDepthLevel(string(depth))
	if !ok {
		return models.ResearchRequest{}, fmt.Errorf("%w: unknown depth level %q", models.ErrInvalidRequest, depth)
	}
	req := models.ResearchRequest{
		ID:         uuid.NewString(),
		Query:      strings.TrimSpace(query),
		DepthLevel: level,
		Providers:  providers,
	}
	if err := req.Validate(); err != nil {
		return models.ResearchRequest{}, err
	}
	return req, nil
}

// CreatePlan plans a query without executing it or registering a request.
func (o *Orchestrator) CreatePlan(ctx context.Context, query string, depth models.DepthLevel) (*models.ResearchPlan, error) {
	req, err := NewRequest(query, depth, nil)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "research.plan", attribute.String("request.id", req.ID))
	plan, err := o.stages.Planner.CreatePlan(ctx, req)
	tracing.EndSpan(span, err)
	return plan, err
}

// Execute runs the whole pipeline for req and blocks until it finishes.
// Any stage error marks the request failed and is returned.
func (o *Orchestrator) Execute(ctx context.Context, req models.ResearchRequest, cb ProgressCallback) (*models.NarrativeReport, error) {
	req, err := o.register(req)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, req.ID, cb)
	return o.run(ctx, req, cb)
}

// StartExecution registers req and runs it in the background. The pending
// progress record exists before the id is returned. The run is detached
// from ctx's cancellation.
func (o *Orchestrator) StartExecution(ctx context.Context, req models.ResearchRequest, cb ProgressCallback) (string, error) {
	req, err := o.register(req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(o.base)
	runCtx = oteltrace.ContextWithSpanContext(runCtx, oteltrace.SpanContextFromContext(ctx))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.notify(runCtx, req.ID, cb)
		// The outcome is recorded in the store.
		_, _ = o.run(runCtx, req, cb)
	}()
	return req.ID, nil
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels background runs and waits for them.
func (o *Orchestrator) Close() {
	o.stopAll()
	o.wg.Wait()
}

// GetStatus returns the request's current progress snapshot.
func (o *Orchestrator) GetStatus(requestID string) (models.ProgressRecord, error) {
	return o.store.Progress(requestID)
}

// GetPlan returns the request's plan once planning has finished.
func (o *Orchestrator) GetPlan(requestID string) (*models.ResearchPlan, error) {
	return o.store.Plan(requestID)
}

// GetReport returns the completed report.
func (o *Orchestrator) GetReport(requestID string) (*models.NarrativeReport, error) {
	return o.store.Report(requestID)
}

// GetFacts returns the verified facts behind a completed report.
func (o *Orchestrator) GetFacts(requestID string) ([]models.VerifiedFact, error) {
	return o.store.Facts(requestID)
}

// GetCitations lists every verified fact of a completed request.
func (o *Orchestrator) GetCitations(requestID string) (*CitationList, error) {
	facts, err := o.store.Facts(requestID)
	if err != nil {
		return nil, err
	}
	list := &CitationList{
		RequestID:    requestID,
		Citations:    make([]models.Citation, len(facts)),
		TotalSources: activities.CountDistinctSources(facts),
	}
	for i, f := range facts {
		list.Citations[i] = toCitation(requestID, f)
	}
	return list, nil
}

// GetFactCitation looks up one verified fact by id.
func (o *Orchestrator) GetFactCitation(factID string) (models.Citation, error) {
	f, requestID, err := o.store.Fact(factID)
	if err != nil {
		return models.Citation{}, err
	}
	return toCitation(requestID, f), nil
}

func toCitation(requestID string, f models.VerifiedFact) models.Citation {
	return models.Citation{
		FactID:      f.ID,
		RequestID:   requestID,
		Claim:       f.Claim,
		Confidence:  f.Confidence,
		SourceURLs:  append([]string(nil), f.SourceURLs...),
		SourceCount: f.SourceCount,
	}
}

func (o *Orchestrator) register(req models.ResearchRequest) (models.ResearchRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.DepthLevel == "" {
		req.DepthLevel = models.DepthStandard
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	err := o.store.Create(req, models.ProgressRecord{
		RequestID:       req.ID,
		Status:          transInit.status,
		CurrentStage:    transInit.stage,
		ProgressPercent: transInit.percent,
		StartedAt:       time.Now().UTC(),
	})
	return req, err
}

// run executes the stages in order. The record already exists.
func (o *Orchestrator) run(ctx context.Context, req models.ResearchRequest, cb ProgressCallback) (*models.NarrativeReport, error) {
	logger := o.logger.With(zap.String("request_id", req.ID), zap.String("depth_level", string(req.DepthLevel)))
	depth := string(req.DepthLevel)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "research.workflow",
		attribute.String("request.id", req.ID),
		attribute.String("request.depth", depth),
	)
	metrics.WorkflowsStarted.WithLabelValues(depth).Inc()
	logger.Info("Starting research workflow", zap.String("query", util.Prefix(req.Query, 100)))

	report, err := o.pipeline(ctx, req, cb, logger)
	elapsed := time.Since(start)
	tracing.EndSpan(span, err)
	metrics.WorkflowDuration.WithLabelValues(depth).Observe(elapsed.Seconds())

	if err != nil {
		metrics.WorkflowsCompleted.WithLabelValues(depth, "failed").Inc()
		o.fail(ctx, req.ID, err, cb, logger)
		return nil, err
	}
	metrics.WorkflowsCompleted.WithLabelValues(depth, "completed").Inc()

	fields := []zap.Field{
		zap.Duration("duration", elapsed),
		zap.Int("sections", len(report.Sections)),
		zap.Int("word_count", report.TotalWordCount),
		zap.Int("sources", report.TotalSources),
	}
	if elapsed > o.opts.MaxResearchTime {
		logger.Warn("Research workflow exceeded time target", append(fields, zap.Duration("target", o.opts.MaxResearchTime))...)
	} else {
		logger.Info("Research workflow completed", fields...)
	}
	return report, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, req models.ResearchRequest, cb ProgressCallback, logger *zap.Logger) (*models.NarrativeReport, error) {
	// 1) Plan
	o.advance(ctx, req.ID, transPlanning, cb, nil)
	var plan *models.ResearchPlan
	err := o.stage(ctx, "plan", "questions", logger, func(ctx context.Context) (int, error) {
		var err error
		plan, err = o.stages.Planner.CreatePlan(ctx, req)
		if err == nil && plan == nil {
			err = errors.New("planner returned no plan")
		}
		if err != nil {
			return 0, err
		}
		return len(plan.SubQuestions), nil
	})
	if err != nil {
		return nil, err
	}
	o.savePlan(req.ID, plan, logger)
	o.advance(ctx, req.ID, transPlanCreated, cb, func(p *models.ProgressRecord) {
		p.QuestionsTotal = len(plan.SubQuestions)
	})

	// 2) Execute
	o.advance(ctx, req.ID, transExecuting, cb, nil)
	var findings []models.ResearchFinding
	err = o.stage(ctx, "execute", "findings", logger, func(ctx context.Context) (int, error) {
		var err error
		findings, err = o.stages.Researcher.ExecuteResearch(ctx, plan, activities.ResearchOptions{
			Depth:     req.DepthLevel,
			Providers: req.Providers,
			OnQuestionDone: func(models.SubQuestion) {
				o.savePlan(req.ID, plan, logger)
				o.update(ctx, req.ID, cb, func(p *models.ProgressRecord) {
					p.QuestionsCompleted = plan.CompletedQuestions()
				})
			},
		})
		return len(findings), err
	})
	o.savePlan(req.ID, plan, logger)
	if err != nil {
		return nil, err
	}
	o.advance(ctx, req.ID, transSearched, cb, func(p *models.ProgressRecord) {
		p.QuestionsCompleted = plan.CompletedQuestions()
	})

	// 3) Verify
	o.advance(ctx, req.ID, transVerifying, cb, nil)
	var facts []models.VerifiedFact
	var discrepancies []models.Discrepancy
	err = o.stage(ctx, "verify", "facts", logger, func(ctx context.Context) (int, error) {
		var err error
		facts, discrepancies, err = o.stages.Verifier.VerifyFindings(ctx, findings, req.ID)
		return len(facts), err
	})
	if err != nil {
		return nil, err
	}
	o.advance(ctx, req.ID, transVerified, cb, nil)

	// 4) Synthesize
	o.advance(ctx, req.ID, transSynthesizing, cb, nil)
	var report *models.NarrativeReport
	err = o.stage(ctx, "synthesize", "sections", logger, func(ctx context.Context) (int, error) {
		var err error
		report, err = o.stages.Synthesizer.GenerateReport(ctx, req.ID, req.Query, facts, discrepancies)
		if err == nil && report == nil {
			err = errors.New("synthesizer returned no report")
		}
		if err != nil {
			return 0, err
		}
		return len(report.Sections), nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.store.Complete(req.ID, report, facts); err != nil {
		return nil, err
	}
	o.advance(ctx, req.ID, transCompleted, cb, func(p *models.ProgressRecord) {
		now := time.Now().UTC()
		p.CompletedAt = &now
	})
	return report, nil
}

// stage runs one pipeline stage with its span, timing and logs. fn returns
// the stage's output count, logged under counter. A panic in fn becomes the
// stage's error.
func (o *Orchestrator) stage(ctx context.Context, name, counter string, logger *zap.Logger, fn func(context.Context) (int, error)) (err error) {
	ctx, span := tracing.StartSpan(ctx, "research."+name)
	start := time.Now()
	logger.Info("stage_started", zap.String("stage", name))

	var n int

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panicked: %v", name, r)
		}
		duration := time.Since(start)
		tracing.EndSpan(span, err)
		if err != nil {
			metrics.StageDuration.WithLabelValues(name, "failed").Observe(duration.Seconds())
			logger.Error("stage_failed", zap.String("stage", name), zap.Duration("duration", duration), zap.Error(err))
			return
		}
		metrics.StageDuration.WithLabelValues(name, "completed").Observe(duration.Seconds())
		logger.Info("stage_completed", zap.String("stage", name), zap.Duration("duration", duration), zap.Int(counter, n))
	}()

	n, err = fn(ctx)
	return err
}

// advance moves the record to t, applying extra in the same update.
func (o *Orchestrator) advance(ctx context.Context, id string, t transition, cb ProgressCallback, extra func(*models.ProgressRecord)) {
	o.update(ctx, id, cb, func(p *models.ProgressRecord) {
		p.Status = t.status
		p.CurrentStage = t.stage
		if t.percent > p.ProgressPercent {
			p.ProgressPercent = t.percent
		}
		if extra != nil {
			extra(p)
		}
	})
}

// fail marks the record failed at its last percent with a truncated message.
func (o *Orchestrator) fail(ctx context.Context, id string, cause error, cb ProgressCallback, logger *zap.Logger) {
	if err := o.store.Fail(id, cause); err != nil {
		logger.Warn("Failed to record failure", zap.Error(err))
	}
	msg := util.Prefix(cause.Error(), errorMessageLength)
	o.update(ctx, id, cb, func(p *models.ProgressRecord) {
		now := time.Now().UTC()
		p.Status = models.WorkflowFailed
		p.CurrentStage = stageErrorPrefix + msg
		p.ErrorMessage = msg
		p.CompletedAt = &now
	})
	logger.Error("Research workflow failed", zap.Error(cause))
}

func (o *Orchestrator) update(ctx context.Context, id string, cb ProgressCallback, fn func(*models.ProgressRecord)) {
	snap, err := o.store.UpdateProgress(id, fn)
	if err != nil {
		o.logger.Warn("Progress update dropped", zap.String("request_id", id), zap.Error(err))
		return
	}
	o.callback(ctx, snap, cb)
}

// notify sends the current snapshot without changing it.
func (o *Orchestrator) notify(ctx context.Context, id string, cb ProgressCallback) {
	if cb == nil {
		return
	}
	snap, err := o.store.Progress(id)
	if err != nil {
		return
	}
	o.callback(ctx, snap, cb)
}

func (o *Orchestrator) callback(ctx context.Context, snap models.ProgressRecord, cb ProgressCallback) {
	if cb == nil {
		return
	}
	if err := cb(ctx, snap); err != nil {
		o.logger.Warn("Progress callback failed",
			zap.String("request_id", snap.RequestID),
			zap.String("stage", snap.CurrentStage),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) savePlan(id string, plan *models.ResearchPlan, logger *zap.Logger) {
	if err := o.store.SetPlan(id, plan); err != nil {
		logger.Warn("Failed to store plan", zap.Error(err))
	}
}
