package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
)

// RouteRegistrar mounts extra routes (health probes) outside authentication.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Auth enables bearer-token authentication on /api routes when set.
	Auth   *auth.Middleware
	Public []RouteRegistrar
}

// NewRouter builds the API router.
func NewRouter(h *ResearchHandler, opts RouterOptions, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	for _, p := range opts.Public {
		p.RegisterRoutes(r)
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.HTTPMiddleware)
		}
		r.Group(func(r chi.Router) {
			if opts.Auth != nil {
				r.Use(auth.RequireScope(auth.ScopeResearchWrite))
			}
			r.Post("/research/plan", h.handlePlan)
			r.Post("/research/execute", h.handleExecute)
		})
		r.Group(func(r chi.Router) {
			if opts.Auth != nil {
				r.Use(auth.RequireScope(auth.ScopeResearchRead))
			}
			r.Get("/research/{id}/status", h.handleStatus)
			r.Get("/research/{id}/report", h.handleReport)
			r.Get("/research/{id}/citations", h.handleCitations)
			r.Get("/citations/fact/{fact_id}", h.handleFactCitation)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
