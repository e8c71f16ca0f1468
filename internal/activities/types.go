package activities

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

// Completer is the slice of the Completion Service the pipeline uses.
// *llm.Service satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	CompleteJSON(ctx context.Context, req llm.Request, out llm.Validatable) error
}

// Searcher is the slice of the Search Service the Deep Researcher uses.
// *search.Service satisfies it.
type Searcher interface {
	SearchAllProviders(ctx context.Context, query string, maxPerProvider int, only ...string) []models.SourceHit
}

// planResult is the planning completion.
type planResult struct {
	SubQuestions         []plannedQuestion `json:"sub_questions"`
	EstimatedTimeSeconds float64           `json:"estimated_time_seconds"`
}

type plannedQuestion struct {
	Text     string   `json:"text"`
	Priority priority `json:"priority"`
}

// priority accepts a JSON number or a numeric string. Anything else
// decodes as unset so the question falls back to its position.
type priority float64

func (p *priority) UnmarshalJSON(b []byte) error {
	*p = 0
	raw := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(b)), `"`))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*p = priority(v)
	return nil
}

func (r *planResult) Validate() error {
	if r.SubQuestions == nil {
		return errors.New("missing sub_questions")
	}
	return nil
}

// extractionResult is the per-source extraction completion.
type extractionResult struct {
	ExtractedFacts []string `json:"extracted_facts"`
	Confidence     *float64 `json:"confidence"`
	NewTopics      []string `json:"new_topics_to_research"`
}

func (r *extractionResult) Validate() error {
	return nil
}

// confidence repairs the model's score into [0,1]. Scores in (1,100] are
// read as percentages; a missing or NaN score yields fallback.
func (r *extractionResult) confidence(fallback float64) float64 {
	if r.Confidence == nil || math.IsNaN(*r.Confidence) {
		return fallback
	}
	c := *r.Confidence
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Max(0, math.Min(1, c))
}

// facts returns the non-blank extracted statements.
func (r *extractionResult) facts() []string {
	out := make([]string, 0, len(r.ExtractedFacts))
	for _, f := range r.ExtractedFacts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// crossRefResult is the cross-reference completion for one topic.
type crossRefResult struct {
	VerifiedFacts []crossRefFact        `json:"verified_facts"`
	Discrepancies []crossRefDiscrepancy `json:"discrepancies"`
}

type crossRefFact struct {
	Claim        string   `json:"claim"`
	Confidence   *float64 `json:"confidence"`
	IsConsistent *bool    `json:"is_consistent"`
	Notes        string   `json:"notes"`
}

type crossRefDiscrepancy struct {
	Topic           string `json:"topic"`
	Description     string `json:"description"`
	PreferredClaim  string `json:"preferred_claim"`
	ResolutionBasis string `json:"resolution_basis"`
	ResolutionNotes string `json:"resolution_notes"`
}

func (r *crossRefResult) Validate() error {
	for _, f := range r.VerifiedFacts {
		if strings.TrimSpace(f.Claim) != "" {
			return nil
		}
	}
	if len(r.Discrepancies) > 0 {
		return nil
	}
	return errors.New("neither verified_facts nor discrepancies returned")
}
