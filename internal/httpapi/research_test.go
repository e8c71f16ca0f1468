package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/workflows"
)

const teslaQuery = "Research Tesla's Q4 2023 performance"

type fakeResearch struct {
	mu       sync.Mutex
	planErr  error
	started  []models.ResearchRequest
	status   map[string]models.ProgressRecord
	reports  map[string]*models.NarrativeReport
	failures map[string]error
	facts    map[string][]models.VerifiedFact
}

func newFakeResearch() *fakeResearch {
	return &fakeResearch{
		status:   map[string]models.ProgressRecord{},
		reports:  map[string]*models.NarrativeReport{},
		failures: map[string]error{},
		facts:    map[string][]models.VerifiedFact{},
	}
}

func (f *fakeResearch) CreatePlan(_ context.Context, query string, depth models.DepthLevel) (*models.ResearchPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.planErr != nil {
		return nil, f.planErr
	}
	req := models.ResearchRequest{ID: "plan-req", Query: query, DepthLevel: depth}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &models.ResearchPlan{ID: "plan-1", RequestID: req.ID, SubQuestions: []models.SubQuestion{{ID: "q1", Text: "What is it?"}}}, nil
}

func (f *fakeResearch) StartExecution(_ context.Context, req models.ResearchRequest, _ workflows.ProgressCallback) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := req.Validate(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("req-%d", len(f.started)+1)
	f.started = append(f.started, req)
	f.status[id] = models.ProgressRecord{RequestID: id, Status: models.WorkflowPending, CurrentStage: workflows.StageInitializing}
	return id, nil
}

func (f *fakeResearch) GetStatus(id string) (models.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[id]
	if !ok {
		return models.ProgressRecord{}, session.ErrNotFound
	}
	return st, nil
}

func (f *fakeResearch) GetReport(id string) (*models.NarrativeReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report(id)
}

func (f *fakeResearch) report(id string) (*models.NarrativeReport, error) {
	if err, ok := f.failures[id]; ok {
		return nil, &session.FailedError{RequestID: id, Err: err}
	}
	if _, ok := f.status[id]; !ok {
		return nil, session.ErrNotFound
	}
	rep, ok := f.reports[id]
	if !ok {
		return nil, session.ErrReportNotReady
	}
	return rep, nil
}

func (f *fakeResearch) GetFacts(id string) ([]models.VerifiedFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.factsOf(id)
}

func (f *fakeResearch) factsOf(id string) ([]models.VerifiedFact, error) {
	if _, err := f.report(id); err != nil {
		return nil, err
	}
	return f.facts[id], nil
}

func (f *fakeResearch) GetCitations(id string) (*workflows.CitationList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	facts, err := f.factsOf(id)
	if err != nil {
		return nil, err
	}
	list := &workflows.CitationList{RequestID: id, TotalSources: activities.CountDistinctSources(facts)}
	for _, fact := range facts {
		list.Citations = append(list.Citations, models.Citation{FactID: fact.ID, RequestID: id, Claim: fact.Claim, SourceURLs: fact.SourceURLs})
	}
	return list, nil
}

func (f *fakeResearch) GetFactCitation(factID string) (models.Citation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, facts := range f.facts {
		for _, fact := range facts {
			if fact.ID == factID {
				return models.Citation{FactID: fact.ID, RequestID: id, Claim: fact.Claim}, nil
			}
		}
	}
	return models.Citation{}, session.ErrFactNotFound
}

func (f *fakeResearch) complete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = models.ProgressRecord{RequestID: id, Status: models.WorkflowCompleted, CurrentStage: workflows.StageComplete, ProgressPercent: 100}
	f.facts[id] = []models.VerifiedFact{
		{ID: "fact-1", Claim: "Revenue was $25.17B", SourceURLs: []string{"https://ir.tesla.com/q4"}},
		{ID: "fact-2", Claim: "Deliveries reached 484,507", SourceURLs: []string{"https://reuters.com/tesla"}},
	}
	f.reports[id] = &models.NarrativeReport{
		ID:               "report-" + id,
		RequestID:        id,
		Query:            teslaQuery,
		ExecutiveSummary: "Revenue grew [cite:fact-1].",
		CreatedAt:        time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC),
	}
}

func newServer(t *testing.T, svc Research, opts RouterOptions) *httptest.Server {
	logger := zaptest.NewLogger(t)
	srv := httptest.NewServer(NewRouter(NewResearchHandler(svc, logger), opts, logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var sb bytes.Buffer
	_, _ = sb.ReadFrom(resp.Body)
	return resp, sb.String()
}

func TestExecuteAndPoll(t *testing.T) {
	svc := newFakeResearch()
	srv := newServer(t, svc, RouterOptions{})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/research/execute",
		`{"query":"`+teslaQuery+`","depth_level":"quick","providers":["web"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var accepted executeResponse
	require.NoError(t, json.Unmarshal([]byte(body), &accepted))
	assert.Equal(t, "req-1", accepted.RequestID)
	assert.Equal(t, "/api/research/req-1/status", accepted.StatusURL)
	svc.mu.Lock()
	started := svc.started
	svc.mu.Unlock()
	require.Len(t, started, 1)
	assert.Equal(t, models.DepthQuick, started[0].DepthLevel)
	assert.Equal(t, []string{"web"}, started[0].Providers)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/research/req-1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status models.ProgressRecord
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, models.WorkflowPending, status.Status)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/research/req-1/report", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	svc.complete("req-1")
	resp, body = do(t, http.MethodGet, srv.URL+"/api/research/req-1/report", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report models.NarrativeReport
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, "report-req-1", report.ID)
}

func TestReportMarkdown(t *testing.T) {
	svc := newFakeResearch()
	svc.complete("req-1")
	srv := newServer(t, svc, RouterOptions{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/research/req-1/report?format=markdown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "Revenue grew [1].")
	assert.Contains(t, body, "[1] https://ir.tesla.com/q4 - Used inline")
	assert.Contains(t, body, "[2] https://reuters.com/tesla - Additional source")

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/research/req-1/report?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCitationEndpoints(t *testing.T) {
	svc := newFakeResearch()
	svc.complete("req-1")
	srv := newServer(t, svc, RouterOptions{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/research/req-1/citations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list workflows.CitationList
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Len(t, list.Citations, 2)
	assert.Equal(t, 2, list.TotalSources)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/citations/fact/fact-2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c models.Citation
	require.NoError(t, json.Unmarshal([]byte(body), &c))
	assert.Equal(t, "req-1", c.RequestID)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/citations/fact/fact-9", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	svc := newFakeResearch()
	svc.status["failed"] = models.ProgressRecord{Status: models.WorkflowFailed}
	svc.failures["failed"] = errors.New("search down")
	srv := newServer(t, svc, RouterOptions{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"short query", http.MethodPost, "/api/research/execute", `{"query":"short"}`, http.StatusBadRequest},
		{"bad depth", http.MethodPost, "/api/research/execute", `{"query":"` + teslaQuery + `","depth_level":"deep"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/research/execute", `{"q":"x"}`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/research/plan", ``, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/api/research/nope/status", ``, http.StatusNotFound},
		{"unknown report", http.MethodGet, "/api/research/nope/report", ``, http.StatusNotFound},
		{"failed report", http.MethodGet, "/api/research/failed/report", ``, http.StatusConflict},
		{"wrong method", http.MethodGet, "/api/research/execute", ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, body)
			assert.Contains(t, body, `"error"`)
		})
	}
}

func TestPlanEndpoint(t *testing.T) {
	svc := newFakeResearch()
	srv := newServer(t, svc, RouterOptions{})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/research/plan", `{"query":"`+teslaQuery+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var plan models.ResearchPlan
	require.NoError(t, json.Unmarshal([]byte(body), &plan))
	assert.Len(t, plan.SubQuestions, 1)

	svc.mu.Lock()
	svc.planErr = &activities.PlanningError{Generated: 1, Minimum: 3}
	svc.mu.Unlock()
	resp, body = do(t, http.MethodPost, srv.URL+"/api/research/plan", `{"query":"`+teslaQuery+`"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "need at least 3")
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	svc := newFakeResearch()
	jwtm := auth.NewJWTManager("secret", "shannon-researcher", time.Hour)
	srv := newServer(t, svc, RouterOptions{Auth: auth.NewMiddleware(jwtm, zaptest.NewLogger(t))})

	body := `{"query":"` + teslaQuery + `"}`
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/research/execute", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	readOnly, err := jwtm.GenerateToken("viewer", auth.ScopeResearchRead)
	require.NoError(t, err)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/research/execute", body, "Authorization", "Bearer "+readOnly)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	full, err := jwtm.GenerateToken("alice")
	require.NoError(t, err)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/research/execute", body, "Authorization", "Bearer "+full)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/research/req-1/status", "", "Authorization", "Bearer "+readOnly)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
