package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	// DefaultMinWordsPerSection is the word target for every report section.
	DefaultMinWordsPerSection = 300

	summaryTemperature      = 0.6
	sectionTemperature      = 0.7
	sectionMaxTokens        = 1500
	summaryFactLimit        = 10
	summaryDiscrepancyLimit = 3
)

// SynthesizerOptions tunes report generation.
type SynthesizerOptions struct {
	MinWordsPerSection int
	// Categorizer defaults to PositionalCategorizer.
	Categorizer Categorizer
}

// Synthesizer writes the narrative report from verified facts.
type Synthesizer struct {
	llm         Completer
	minWords    int
	categorizer Categorizer
	logger      *zap.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(completer Completer, opts SynthesizerOptions, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinWordsPerSection <= 0 {
		opts.MinWordsPerSection = DefaultMinWordsPerSection
	}
	if opts.Categorizer == nil {
		opts.Categorizer = PositionalCategorizer{}
	}
	return &Synthesizer{
		llm:         completer,
		minWords:    opts.MinWordsPerSection,
		categorizer: opts.Categorizer,
		logger:      logger,
	}
}

// GenerateReport builds the executive summary and one section per non-empty
// category. Completion failures degrade to templated text; only
// cancellation of ctx returns an error.
func (s *Synthesizer) GenerateReport(ctx context.Context, requestID, query string, facts []models.VerifiedFact, discrepancies []models.Discrepancy) (*models.NarrativeReport, error) {
	logger := s.logger.With(zap.String("request_id", requestID))

	categories := s.categorizer.Categorize(facts)
	summary := s.executiveSummary(ctx, query, facts, discrepancies, logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections := make([]models.ReportSection, 0, len(categories))
	for _, c := range categories {
		sections = append(sections, s.section(ctx, c, logger))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	total := util.WordCount(summary)
	for _, sec := range sections {
		total += sec.WordCount
	}
	if discrepancies == nil {
		discrepancies = []models.Discrepancy{}
	}

	report := &models.NarrativeReport{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		Query:            query,
		ExecutiveSummary: summary,
		Sections:         sections,
		DiscrepancyNotes: discrepancies,
		TotalWordCount:   total,
		TotalSources:     CountDistinctSources(facts),
		CreatedAt:        time.Now().UTC(),
	}
	logger.Info("Report generated",
		zap.String("report_id", report.ID),
		zap.String("categorizer", s.categorizer.Name()),
		zap.Int("sections", len(sections)),
		zap.Int("word_count", report.TotalWordCount),
		zap.Int("sources", report.TotalSources),
	)
	return report, nil
}

// CountDistinctSources counts distinct source URLs across facts.
func CountDistinctSources(facts []models.VerifiedFact) int {
	seen := make(map[string]struct{})
	for _, f := range facts {
		for _, u := range f.SourceURLs {
			if u != "" {
				seen[u] = struct{}{}
			}
		}
	}
	return len(seen)
}

func (s *Synthesizer) executiveSummary(ctx context.Context, query string, facts []models.VerifiedFact, discrepancies []models.Discrepancy, logger *zap.Logger) string {
	fallback := fmt.Sprintf("Research on %s has been completed. Please see the detailed sections below for findings.", query)

	var findings strings.Builder
	for i, f := range facts {
		if i == summaryFactLimit {
			break
		}
		fmt.Fprintf(&findings, "- %s (confidence: %.0f%%)\n", f.Claim, f.Confidence*100)
	}
	var conflicts strings.Builder
	for i, d := range discrepancies {
		if i == summaryDiscrepancyLimit {
			break
		}
		fmt.Fprintf(&conflicts, "- %s: %s\n", d.Topic, d.ResolutionNotes)
	}
	if conflicts.Len() == 0 {
		conflicts.WriteString("No significant discrepancies found.")
	}

	system, user, err := renderPrompt(promptExecutiveSummary, struct {
		Query, Findings, Discrepancies string
	}{query, strings.TrimSpace(findings.String()), strings.TrimSpace(conflicts.String())})
	if err != nil {
		logger.Error("Failed to render summary prompt", zap.Error(err))
		return fallback
	}

	out, err := s.llm.Complete(ctx, llm.Request{
		Task:         llm.TaskSynthesis,
		Prompt:       user,
		SystemPrompt: system,
		Temperature:  summaryTemperature,
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		logger.Warn("Executive summary generation failed, using fallback", zap.Error(err))
		return fallback
	}
	return strings.TrimSpace(out)
}

func (s *Synthesizer) section(ctx context.Context, c Category, logger *zap.Logger) models.ReportSection {
	var facts strings.Builder
	citations := make([]string, len(c.Facts))
	for i, f := range c.Facts {
		fmt.Fprintf(&facts, "[cite:%s] %s (Sources: %d)\n", f.ID, f.Claim, f.SourceCount)
		citations[i] = f.ID
	}

	content, err := s.writeSection(ctx, c.Name, strings.TrimSpace(facts.String()))
	if err != nil {
		logger.Warn("Section generation failed, using placeholder",
			zap.String("category", c.Name),
			zap.Error(err),
		)
		content = fmt.Sprintf("Information about %s is being compiled.", c.Name)
		return models.ReportSection{
			ID:          uuid.NewString(),
			Title:       c.Name,
			Content:     content,
			WordCount:   util.WordCount(content),
			CitationIDs: []string{},
			Category:    c.Name,
		}
	}

	words := util.WordCount(content)
	if words < s.minWords {
		metrics.SectionsUnderMinimum.Inc()
		logger.Warn("Section under minimum word count",
			zap.String("category", c.Name),
			zap.Int("word_count", words),
			zap.Int("minimum", s.minWords),
		)
	}
	return models.ReportSection{
		ID:          uuid.NewString(),
		Title:       c.Name,
		Content:     content,
		WordCount:   words,
		CitationIDs: citations,
		Category:    c.Name,
	}
}

func (s *Synthesizer) writeSection(ctx context.Context, category, facts string) (string, error) {
	system, user, err := renderPrompt(promptSection, struct {
		Title, Category, Facts string
		MinWords               int
	}{category, category, facts, s.minWords})
	if err != nil {
		return "", err
	}
	out, err := s.llm.Complete(ctx, llm.Request{
		Task:         llm.TaskSynthesis,
		Prompt:       user,
		SystemPrompt: system,
		Temperature:  sectionTemperature,
		MaxTokens:    sectionMaxTokens,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}
