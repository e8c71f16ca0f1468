package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

var (
	// ErrNotFound is returned for an unknown (or evicted) request id.
	ErrNotFound = errors.New("research request not found")

	// ErrAlreadyExists is returned when a request id is registered twice.
	ErrAlreadyExists = errors.New("research request already exists")

	// ErrReportNotReady is returned while a request is still running.
	ErrReportNotReady = errors.New("report not ready")

	// ErrFactNotFound is returned for an unknown fact id.
	ErrFactNotFound = errors.New("fact not found")

	// ErrFailed matches every *FailedError.
	ErrFailed = errors.New("research failed")
)

// FailedError is returned when reading the report of a failed request.
type FailedError struct {
	RequestID string
	Err       error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("research %s failed: %v", e.RequestID, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

func (e *FailedError) Is(target error) bool { return target == ErrFailed }

// Entry is everything held for one research request.
type Entry struct {
	Request   models.ResearchRequest
	Progress  models.ProgressRecord
	Plan      *models.ResearchPlan
	Report    *models.NarrativeReport
	Facts     []models.VerifiedFact
	Err       error
	UpdatedAt time.Time
}

// Finished reports whether the request reached a terminal status.
func (e *Entry) Finished() bool {
	return e.Progress.Status.IsTerminal()
}

func copyProgress(p models.ProgressRecord) models.ProgressRecord {
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return p
}

func copyPlan(p *models.ResearchPlan) *models.ResearchPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.SubQuestions = append([]models.SubQuestion(nil), p.SubQuestions...)
	return &cp
}
