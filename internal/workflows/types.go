package workflows

import (
	"context"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

// Stage labels reported in ProgressRecord.CurrentStage.
const (
	StageInitializing  = "initializing"
	StagePlanning      = "creating research plan"
	StagePlanCreated   = "plan created"
	StageSearching     = "searching and extracting"
	StageSearched      = "search complete"
	StageVerifying     = "cross-referencing sources"
	StageVerified      = "verification complete"
	StageSynthesizing  = "generating report"
	StageComplete      = "complete"
	stageErrorPrefix   = "error: "
	errorMessageLength = 50
)

// transition is one row of the progress table. Percent never decreases
// along the table.
type transition struct {
	status  models.WorkflowStatus
	stage   string
	percent int
}

var (
	transInit         = transition{models.WorkflowPending, StageInitializing, 0}
	transPlanning     = transition{models.WorkflowPlanning, StagePlanning, 5}
	transPlanCreated  = transition{models.WorkflowPlanning, StagePlanCreated, 10}
	transExecuting    = transition{models.WorkflowExecuting, StageSearching, 15}
	transSearched     = transition{models.WorkflowExecuting, StageSearched, 50}
	transVerifying    = transition{models.WorkflowVerifying, StageVerifying, 60}
	transVerified     = transition{models.WorkflowVerifying, StageVerified, 75}
	transSynthesizing = transition{models.WorkflowSynthesizing, StageSynthesizing, 80}
	transCompleted    = transition{models.WorkflowCompleted, StageComplete, 100}
)

// ProgressCallback receives a snapshot after every progress change.
// Errors are logged and never fail the request.
type ProgressCallback func(ctx context.Context, rec models.ProgressRecord) error

// Planner creates the sub-question plan.
type Planner interface {
	CreatePlan(ctx context.Context, req models.ResearchRequest) (*models.ResearchPlan, error)
}

// Researcher executes a plan and returns findings.
type Researcher interface {
	ExecuteResearch(ctx context.Context, plan *models.ResearchPlan, opts activities.ResearchOptions) ([]models.ResearchFinding, error)
}

// Verifier cross-references findings.
type Verifier interface {
	VerifyFindings(ctx context.Context, findings []models.ResearchFinding, requestID string) ([]models.VerifiedFact, []models.Discrepancy, error)
}

// Synthesizer writes the report.
type Synthesizer interface {
	GenerateReport(ctx context.Context, requestID, query string, facts []models.VerifiedFact, discrepancies []models.Discrepancy) (*models.NarrativeReport, error)
}

// Stages are the four pipeline components, run strictly in this order.
type Stages struct {
	Planner     Planner
	Researcher  Researcher
	Verifier    Verifier
	Synthesizer Synthesizer
}

// CitationList is every verified fact of a completed request.
type CitationList struct {
	RequestID    string            `json:"request_id"`
	Citations    []models.Citation `json:"citations"`
	TotalSources int               `json:"total_sources"`
}
