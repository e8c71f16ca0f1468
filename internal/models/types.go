package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRequest is returned when a research request fails validation.
var ErrInvalidRequest = errors.New("invalid research request")

// Query length bounds for a research request.
const (
	MinQueryLength = 10
	MaxQueryLength = 500
)

// DepthLevel controls plan size and the recursion ceiling.
type DepthLevel string

const (
	DepthQuick         DepthLevel = "quick"
	DepthStandard      DepthLevel = "standard"
	DepthComprehensive DepthLevel = "comprehensive"
)

// QuestionStatus is the lifecycle state of a sub-question.
type QuestionStatus string

const (
	QuestionPending    QuestionStatus = "pending"
	QuestionInProgress QuestionStatus = "in_progress"
	QuestionCompleted  QuestionStatus = "completed"
	QuestionFailed     QuestionStatus = "failed"
)

// WorkflowStatus is the orchestrator state of one request.
type WorkflowStatus string

const (
	WorkflowPending      WorkflowStatus = "pending"
	WorkflowPlanning     WorkflowStatus = "planning"
	WorkflowExecuting    WorkflowStatus = "executing"
	WorkflowVerifying    WorkflowStatus = "verifying"
	WorkflowSynthesizing WorkflowStatus = "synthesizing"
	WorkflowCompleted    WorkflowStatus = "completed"
	WorkflowFailed       WorkflowStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// ResolutionBasis explains why a preferred claim won a discrepancy.
type ResolutionBasis string

const (
	ResolutionRecency     ResolutionBasis = "recency"
	ResolutionCredibility ResolutionBasis = "credibility"
	ResolutionConsensus   ResolutionBasis = "consensus"
	ResolutionUnknown     ResolutionBasis = "unknown"
)

// ParseResolutionBasis maps free-form model output onto a known basis.
func ParseResolutionBasis(s string) ResolutionBasis {
	switch ResolutionBasis(strings.ToLower(strings.TrimSpace(s))) {
	case ResolutionRecency:
		return ResolutionRecency
	case ResolutionCredibility:
		return ResolutionCredibility
	case ResolutionConsensus:
		return ResolutionConsensus
	default:
		return ResolutionUnknown
	}
}

// ResearchRequest is the immutable caller input that drives all downstream sizing.
type ResearchRequest struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	DepthLevel DepthLevel `json:"depth_level"`
	// Providers restricts the search fan-out to the named providers. Empty means all.
	Providers []string `json:"providers,omitempty"`
}

// Validate checks query length and depth level.
func (r ResearchRequest) Validate() error {
	n := len([]rune(strings.TrimSpace(r.Query)))
	if n < MinQueryLength || n > MaxQueryLength {
		return fmt.Errorf("%w: query must be %d-%d characters, got %d", ErrInvalidRequest, MinQueryLength, MaxQueryLength, n)
	}
	if _, ok := depthTable[r.DepthLevel]; !ok {
		return fmt.Errorf("%w: unknown depth level %q", ErrInvalidRequest, r.DepthLevel)
	}
	return nil
}

// SubQuestion is an atomic, searchable question derived from the query.
type SubQuestion struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Priority  int            `json:"priority"`
	ParentID  string         `json:"parent_id,omitempty"`
	Depth     int            `json:"depth"`
	Status    QuestionStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ResearchPlan holds the prioritized sub-questions for one request.
type ResearchPlan struct {
	ID                   string        `json:"id"`
	RequestID            string        `json:"request_id"`
	SubQuestions         []SubQuestion `json:"sub_questions"`
	EstimatedTimeSeconds int           `json:"estimated_time_seconds"`
	CreatedAt            time.Time     `json:"created_at"`
}

// CompletedQuestions counts sub-questions that finished successfully.
func (p *ResearchPlan) CompletedQuestions() int {
	n := 0
	for _, q := range p.SubQuestions {
		if q.Status == QuestionCompleted {
			n++
		}
	}
	return n
}

// ResearchFinding is one source-attributed extraction for a sub-question.
type ResearchFinding struct {
	ID                  string    `json:"id"`
	QuestionID          string    `json:"question_id"`
	QuestionText        string    `json:"question_text,omitempty"`
	QuestionDepth       int       `json:"question_depth"`
	Content             string    `json:"content"`
	SourceURL           string    `json:"source_url"`
	SourceTitle         string    `json:"source_title"`
	ExtractionTimestamp time.Time `json:"extraction_timestamp"`
	Confidence          float64   `json:"confidence"`
	TriggersRecursion   bool      `json:"triggers_recursion"`
	RecursionTopics     []string  `json:"recursion_topics"`
}

// VerifiedFact is a finding, or merged findings, that passed cross-referencing.
type VerifiedFact struct {
	ID           string   `json:"id"`
	Claim        string   `json:"claim"`
	Confidence   float64  `json:"confidence"`
	SourceURLs   []string `json:"source_urls"`
	SourceCount  int      `json:"source_count"`
	IsConsistent bool     `json:"is_consistent"`
	Notes        string   `json:"notes"`
}

// ConflictingClaim is one side of a discrepancy with its own attribution.
type ConflictingClaim struct {
	Claim     string    `json:"claim"`
	SourceURL string    `json:"source_url"`
	Timestamp time.Time `json:"timestamp"`
}

// Discrepancy records a conflict between findings on the same topic.
type Discrepancy struct {
	ID                string             `json:"id"`
	Topic             string             `json:"topic"`
	ConflictingClaims []ConflictingClaim `json:"conflicting_claims"`
	ResolutionNotes   string             `json:"resolution_notes"`
	PreferredClaim    string             `json:"preferred_claim,omitempty"`
	ResolutionBasis   ResolutionBasis    `json:"resolution_basis"`
}

// ReportSection is one category of the narrative report.
type ReportSection struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	WordCount   int      `json:"word_count"`
	CitationIDs []string `json:"citation_ids"`
	Category    string   `json:"category"`
}

// NarrativeReport is the terminal artifact of the pipeline.
type NarrativeReport struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id"`
	Query            string          `json:"query"`
	ExecutiveSummary string          `json:"executive_summary"`
	Sections         []ReportSection `json:"sections"`
	DiscrepancyNotes []Discrepancy   `json:"discrepancy_notes"`
	TotalWordCount   int             `json:"total_word_count"`
	TotalSources     int             `json:"total_sources"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ProgressRecord is the pollable status snapshot of one request.
type ProgressRecord struct {
	RequestID          string         `json:"request_id"`
	Status             WorkflowStatus `json:"status"`
	CurrentStage       string         `json:"current_stage"`
	ProgressPercent    int            `json:"progress_percent"`
	QuestionsCompleted int            `json:"questions_completed"`
	QuestionsTotal     int            `json:"questions_total"`
	StartedAt          time.Time      `json:"started_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
}

// SourceHit is one search result returned by the Search Service.
type SourceHit struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Timestamp time.Time `json:"timestamp"`
	Language  string    `json:"language"`
	Provider  string    `json:"provider,omitempty"`
}

// Citation is the lookup view of a verified fact within a completed request.
type Citation struct {
	FactID      string   `json:"fact_id"`
	RequestID   string   `json:"request_id"`
	Claim       string   `json:"claim"`
	Confidence  float64  `json:"confidence"`
	SourceURLs  []string `json:"source_urls"`
	SourceCount int      `json:"source_count"`
}
