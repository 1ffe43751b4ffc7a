package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/prerender/internal/runservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *runservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Runs.
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.TriggerRun)

	// Pages and render history.
	r.Get("/pages", h.ListPages)
	r.Get("/renders", h.ListRenders)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
