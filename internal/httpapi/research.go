package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/workflows"
)

// maxBodyBytes bounds request bodies; queries are at most a few hundred characters.
const maxBodyBytes = 64 << 10

// Research is the orchestrator surface served over HTTP.
type Research interface {
	CreatePlan(ctx context.Context, query string, depth models.DepthLevel) (*models.ResearchPlan, error)
	StartExecution(ctx context.Context, req models.ResearchRequest, cb workflows.ProgressCallback) (string, error)
	GetStatus(requestID string) (models.ProgressRecord, error)
	GetReport(requestID string) (*models.NarrativeReport, error)
	GetFacts(requestID string) ([]models.VerifiedFact, error)
	GetCitations(requestID string) (*workflows.CitationList, error)
	GetFactCitation(factID string) (models.Citation, error)
}

// ResearchHandler serves the research endpoints:
//
//	POST /api/research/plan
//	POST /api/research/execute
//	GET  /api/research/{id}/status
//	GET  /api/research/{id}/report[?format=markdown]
//	GET  /api/research/{id}/citations
//	GET  /api/citations/fact/{fact_id}
type ResearchHandler struct {
	svc    Research
	logger *zap.Logger
}

// NewResearchHandler constructs a new handler.
func NewResearchHandler(svc Research, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{svc: svc, logger: logger}
}

type planRequest struct {
	Query      string `json:"query"`
	DepthLevel string `json:"depth_level"`
}

type executeRequest struct {
	Query      string   `json:"query"`
	DepthLevel string   `json:"depth_level"`
	Providers  []string `json:"providers,omitempty"`
}

type executeResponse struct {
	RequestID string                `json:"request_id"`
	Status    models.WorkflowStatus `json:"status"`
	StatusURL string                `json:"status_url"`
}

func (h *ResearchHandler) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	depth, ok := models.ParseDepthLevel(req.DepthLevel)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown depth_level "+req.DepthLevel)
		return
	}

	plan, err := h.svc.CreatePlan(r.Context(), req.Query, depth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *ResearchHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	depth, ok := models.ParseDepthLevel(body.DepthLevel)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown depth_level "+body.DepthLevel)
		return
	}

	req := models.ResearchRequest{
		Query:      strings.TrimSpace(body.Query),
		DepthLevel: depth,
		Providers:  body.Providers,
	}
	id, err := h.svc.StartExecution(r.Context(), req, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("Research request accepted", zap.String("request_id", id), zap.String("depth_level", string(depth)))
	writeJSON(w, http.StatusAccepted, executeResponse{
		RequestID: id,
		Status:    models.WorkflowPending,
		StatusURL: "/api/research/" + id + "/status",
	})
}

func (h *ResearchHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *ResearchHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := h.svc.GetReport(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	case "markdown", "md":
		facts, err := h.svc.GetFacts(id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, formatting.RenderMarkdown(report, facts))
	default:
		writeError(w, http.StatusBadRequest, "unknown format "+format)
	}
}

func (h *ResearchHandler) handleCitations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.GetCitations(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ResearchHandler) handleFactCitation(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetFactCitation(chi.URLParam(r, "fact_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ResearchHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Research request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Debug("Research request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON: " + err.Error())
	}
	return nil
}
