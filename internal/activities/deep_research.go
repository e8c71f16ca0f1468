package activities

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	// MaxSearchResultsPerQuery bounds the hits researched for one question.
	MaxSearchResultsPerQuery = 5

	extractionTemperature       = 0.3
	extractionSnippetLimit      = 1000
	defaultExtractionConfidence = 0.7
	maxRecursionTopics          = 3
	childQuestionPriority       = 10
)

// ResearchOptions are the per-run parameters of ExecuteResearch.
type ResearchOptions struct {
	Depth models.DepthLevel
	// Providers restricts the search fan-out. Empty means every provider.
	Providers []string
	// OnQuestionDone is called after each top-level question settles, with
	// the question in its final status.
	OnQuestionDone func(q models.SubQuestion)
}

// Researcher executes a plan with depth-bounded recursive search.
type Researcher struct {
	llm        Completer
	search     Searcher
	maxResults int
	logger     *zap.Logger
}

// NewResearcher creates a Researcher. maxResults <= 0 means MaxSearchResultsPerQuery.
func NewResearcher(completer Completer, searcher Searcher, maxResults int, logger *zap.Logger) *Researcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxResults <= 0 {
		maxResults = MaxSearchResultsPerQuery
	}
	return &Researcher{llm: completer, search: searcher, maxResults: maxResults, logger: logger}
}

// ExecuteResearch researches the plan's questions in ascending priority,
// updating their status in place. A question that fails is marked failed
// and the run continues; cancellation of ctx ends the run with ctx's error.
// Child questions discovered along the way are not added to the plan.
func (r *Researcher) ExecuteResearch(ctx context.Context, plan *models.ResearchPlan, opts ResearchOptions) ([]models.ResearchFinding, error) {
	run := &researchRun{
		Researcher: r,
		maxDepth:   models.MaxDepth(opts.Depth),
		providers:  opts.Providers,
		visited:    make(map[string]struct{}),
		logger:     r.logger.With(zap.String("request_id", plan.RequestID)),
	}

	order := make([]int, len(plan.SubQuestions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return plan.SubQuestions[order[a]].Priority < plan.SubQuestions[order[b]].Priority
	})

	findings := []models.ResearchFinding{}
	for _, idx := range order {
		q := &plan.SubQuestions[idx]
		q.Status = models.QuestionInProgress

		qctx, span := tracing.StartSpan(ctx, "research.question",
			attribute.String("question.id", q.ID),
			attribute.Int("question.priority", q.Priority),
		)
		found, err := run.researchQuestion(qctx, *q)
		tracing.EndSpan(span, err)
		findings = append(findings, found...)

		if err != nil {
			q.Status = models.QuestionFailed
			run.logger.Warn("Question research failed",
				zap.String("question_id", q.ID),
				zap.Error(err),
			)
		} else {
			q.Status = models.QuestionCompleted
			run.logger.Debug("Question researched",
				zap.String("question_id", q.ID),
				zap.Int("findings", len(found)),
			)
		}
		if opts.OnQuestionDone != nil {
			opts.OnQuestionDone(*q)
		}
		if err != nil && ctx.Err() != nil {
			return findings, ctx.Err()
		}
	}

	run.logger.Info("Research execution finished",
		zap.Int("questions", len(plan.SubQuestions)),
		zap.Int("completed", plan.CompletedQuestions()),
		zap.Int("findings", len(findings)),
		zap.Int("searches", len(run.visited)),
	)
	return findings, nil
}

// researchRun holds the state of one ExecuteResearch call.
type researchRun struct {
	*Researcher
	maxDepth  int
	providers []string
	visited   map[string]struct{}
	logger    *zap.Logger
}

// frame is one question on the worklist. hits is loaded when the frame
// first reaches the top of the stack.
type frame struct {
	question models.SubQuestion
	loaded   bool
	hits     []models.SourceHit
	next     int
}

// researchQuestion explores root depth-first: every child discovered from a
// hit is fully researched before the next hit of its parent.
func (run *researchRun) researchQuestion(ctx context.Context, root models.SubQuestion) ([]models.ResearchFinding, error) {
	var out []models.ResearchFinding
	stack := []*frame{{question: root}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		top := stack[len(stack)-1]

		if !top.loaded {
			top.loaded = true
			top.hits = run.activate(ctx, top.question)
		}
		if top.next >= len(top.hits) {
			stack = stack[:len(stack)-1]
			continue
		}

		hit := top.hits[top.next]
		top.next++

		finding, ok := run.extract(ctx, top.question, hit)
		if !ok {
			continue
		}
		out = append(out, finding)

		if finding.TriggersRecursion && top.question.Depth < run.maxDepth {
			children := childQuestions(top.question, finding.RecursionTopics)
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, &frame{question: children[i]})
			}
		}
	}
	return out, nil
}

// activate applies the depth ceiling and the visited set, then searches.
// It returns nil when the question must not be researched.
func (run *researchRun) activate(ctx context.Context, q models.SubQuestion) []models.SourceHit {
	if q.Depth > run.maxDepth {
		run.logger.Debug("Depth ceiling reached", zap.String("question", util.Prefix(q.Text, 80)), zap.Int("depth", q.Depth))
		return nil
	}
	key := util.NormalizeText(q.Text)
	if _, seen := run.visited[key]; seen {
		run.logger.Debug("Skipping visited question", zap.String("question", util.Prefix(q.Text, 80)))
		return nil
	}
	run.visited[key] = struct{}{}

	hits := run.search.SearchAllProviders(ctx, q.Text, run.maxResults, run.providers...)
	if len(hits) > run.maxResults {
		hits = hits[:run.maxResults]
	}
	if len(hits) == 0 {
		run.logger.Debug("No search results", zap.String("question", util.Prefix(q.Text, 80)))
	}
	return hits
}

// extract turns one hit into a finding. Failures and empty extractions
// are logged and skipped.
func (run *researchRun) extract(ctx context.Context, q models.SubQuestion, hit models.SourceHit) (models.ResearchFinding, bool) {
	system, user, err := renderPrompt(promptExtraction, struct {
		Question, Title, URL, Snippet string
	}{q.Text, hit.Title, hit.URL, util.Prefix(hit.Snippet, extractionSnippetLimit)})
	if err != nil {
		run.logger.Error("Failed to render extraction prompt", zap.Error(err))
		return models.ResearchFinding{}, false
	}

	var out extractionResult
	err = run.llm.CompleteJSON(ctx, llm.Request{
		Task:         llm.TaskExtraction,
		Prompt:       user,
		SystemPrompt: system,
		Temperature:  extractionTemperature,
	}, &out)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			run.logger.Warn("Extraction failed",
				zap.String("question_id", q.ID),
				zap.String("url", hit.URL),
				zap.Error(err),
			)
		}
		return models.ResearchFinding{}, false
	}

	facts := out.facts()
	if len(facts) == 0 {
		return models.ResearchFinding{}, false
	}
	confidence := out.confidence(defaultExtractionConfidence)
	topics := recursionTopics(out.NewTopics)

	metrics.FindingsExtracted.Inc()
	return models.ResearchFinding{
		ID:                  uuid.NewString(),
		QuestionID:          q.ID,
		QuestionText:        q.Text,
		QuestionDepth:       q.Depth,
		Content:             strings.Join(facts, " "),
		SourceURL:           hit.URL,
		SourceTitle:         hit.Title,
		ExtractionTimestamp: time.Now().UTC(),
		Confidence:          confidence,
		TriggersRecursion:   len(topics) > 0,
		RecursionTopics:     topics,
	}, true
}

func recursionTopics(raw []string) []string {
	topics := make([]string, 0, maxRecursionTopics)
	for _, t := range raw {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		topics = append(topics, t)
		if len(topics) == maxRecursionTopics {
			break
		}
	}
	return topics
}

func childQuestions(parent models.SubQuestion, topics []string) []models.SubQuestion {
	now := time.Now().UTC()
	children := make([]models.SubQuestion, len(topics))
	for i, topic := range topics {
		children[i] = models.SubQuestion{
			ID:        uuid.NewString(),
			Text:      "What is " + topic + "?",
			Priority:  childQuestionPriority,
			ParentID:  parent.ID,
			Depth:     parent.Depth + 1,
			Status:    models.QuestionPending,
			CreatedAt: now,
		}
	}
	return children
}
