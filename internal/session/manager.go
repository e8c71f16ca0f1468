package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

// Defaults for Options.
const (
	DefaultRetention  = 24 * time.Hour
	DefaultMaxEntries = 1000
)

// Options bounds the store.
type Options struct {
	// Retention is how long a finished request is kept.
	Retention time.Duration
	// MaxEntries caps the number of requests held; the oldest finished
	// requests are evicted first. Running requests are never evicted.
	MaxEntries int
}

// Manager is the request-keyed store shared by the orchestrator and the
// API surfaces. It lives for the serving process only.
type Manager struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	facts      map[string]string // fact id -> request id
	retention  time.Duration
	maxEntries int
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates an empty store.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &Manager{
		entries:    make(map[string]*Entry),
		facts:      make(map[string]string),
		retention:  opts.Retention,
		maxEntries: opts.MaxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// Create registers a request with its initial progress record.
func (m *Manager) Create(req models.ResearchRequest, progress models.ProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[req.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, req.ID)
	}
	m.entries[req.ID] = &Entry{
		Request:   req,
		Progress:  copyProgress(progress),
		UpdatedAt: m.now(),
	}
	m.evictLocked()
	metrics.SessionsActive.Set(float64(len(m.entries)))

	m.logger.Debug("Registered research request", zap.String("request_id", req.ID))
	return nil
}

// UpdateProgress applies fn to the stored progress record and returns a
// snapshot of the result.
func (m *Manager) UpdateProgress(id string, fn func(*models.ProgressRecord)) (models.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return models.ProgressRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&e.Progress)
	e.UpdatedAt = m.now()
	return copyProgress(e.Progress), nil
}

// Progress returns a snapshot of the request's progress record.
func (m *Manager) Progress(id string) (models.ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return models.ProgressRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyProgress(e.Progress), nil
}

// SetPlan stores a copy of the request's plan.
func (m *Manager) SetPlan(id string, plan *models.ResearchPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Plan = copyPlan(plan)
	e.UpdatedAt = m.now()
	return nil
}

// Plan returns a copy of the stored plan, nil before planning finished.
func (m *Manager) Plan(id string) (*models.ResearchPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyPlan(e.Plan), nil
}

// Complete stores the report and indexes its verified facts for citation lookup.
func (m *Manager) Complete(id string, report *models.NarrativeReport, facts []models.VerifiedFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Report = report
	e.Facts = append([]models.VerifiedFact(nil), facts...)
	e.Err = nil
	e.UpdatedAt = m.now()
	for _, f := range facts {
		m.facts[f.ID] = id
	}
	return nil
}

// Fail records why the request failed.
func (m *Manager) Fail(id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Err = cause
	e.UpdatedAt = m.now()
	return nil
}

// Report returns the finished report. A running request yields
// ErrReportNotReady and a failed one a *FailedError.
func (m *Manager) Report(id string) (*models.NarrativeReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch {
	case e.Progress.Status == models.WorkflowFailed:
		cause := e.Err
		if cause == nil {
			cause = errors.New(e.Progress.ErrorMessage)
		}
		return nil, &FailedError{RequestID: id, Err: cause}
	case e.Report == nil || e.Progress.Status != models.WorkflowCompleted:
		return nil, fmt.Errorf("%w: %s is %s", ErrReportNotReady, id, e.Progress.Status)
	}
	return e.Report, nil
}

// Facts returns the verified facts of a completed request.
func (m *Manager) Facts(id string) ([]models.VerifiedFact, error) {
	if _, err := m.Report(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]models.VerifiedFact(nil), e.Facts...), nil
}

// Fact looks up one verified fact and the request that produced it.
func (m *Manager) Fact(factID string) (models.VerifiedFact, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.facts[factID]
	if !ok {
		return models.VerifiedFact{}, "", fmt.Errorf("%w: %s", ErrFactNotFound, factID)
	}
	if e, ok := m.entries[id]; ok {
		for _, f := range e.Facts {
			if f.ID == factID {
				return f, id, nil
			}
		}
	}
	return models.VerifiedFact{}, "", fmt.Errorf("%w: %s", ErrFactNotFound, factID)
}

// Len returns the number of requests held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// CleanupExpired evicts finished requests older than the retention period.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.retention)
	removed := 0
	for id, e := range m.entries {
		if e.Finished() && e.UpdatedAt.Before(cutoff) {
			m.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		metrics.SessionsActive.Set(float64(len(m.entries)))
		m.logger.Info("Cleaned up expired research requests", zap.Int("count", removed))
	}
	return removed
}

// Run calls CleanupExpired every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

// evictLocked drops the least recently updated finished requests while the
// store is over capacity.
func (m *Manager) evictLocked() {
	over := len(m.entries) - m.maxEntries
	if over <= 0 {
		return
	}

	type candidate struct {
		id      string
		updated time.Time
	}
	var finished []candidate
	for id, e := range m.entries {
		if e.Finished() {
			finished = append(finished, candidate{id, e.UpdatedAt})
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].updated.Before(finished[j].updated) })

	for i := 0; i < over && i < len(finished); i++ {
		m.removeLocked(finished[i].id)
	}
	if over > len(finished) {
		m.logger.Warn("Session store over capacity with running requests",
			zap.Int("entries", len(m.entries)),
			zap.Int("max_entries", m.maxEntries),
		)
	}
}

func (m *Manager) removeLocked(id string) {
	e, ok := m.entries[id]
	if !ok {
		return
	}
	for _, f := range e.Facts {
		delete(m.facts, f.ID)
	}
	delete(m.entries, id)
	metrics.SessionsEvicted.Inc()
}
