package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var planning *activities.PlanningError
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrFactNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrReportNotReady), errors.Is(err, session.ErrFailed), errors.Is(err, session.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, llm.ErrNoBackend):
		return http.StatusServiceUnavailable
	case errors.As(err, &planning):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": sanitizeErr(msg)})
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	return util.Prefix(s, 200)
}
