package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/runservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *runservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *runservice.Service) *Handler {
	return &Handler{svc: svc}
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

// TriggerRun handles POST /api/runs.
//
//	@Summary		Queue a prerender run
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TriggerRunRequest	false	"Run options"
//	@Success		202		{object}	TriggerRunResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.Trigger(req.Force); err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		} else {
			slog.Error("trigger run failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerRunResponse{
		Queued: true,
		Force:  req.Force,
		Status: h.svc.Status(),
	})
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recent runs
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.Runs(r.Context(), queryLimit(r))
	if err != nil {
		h.historyError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Status: h.svc.Status()})
}

// ListRenders handles GET /api/renders.
//
//	@Summary		List render attempts
//	@Tags			renders
//	@Produce		json
//	@Param			path	query		string	false	"Page path filter"
//	@Param			limit	query		int		false	"Max renders"
//	@Success		200		{object}	RenderListResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/renders [get]
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	renders, err := h.svc.Renders(r.Context(), r.URL.Query().Get("path"), queryLimit(r))
	if err != nil {
		h.historyError(w, "list renders", err)
		return
	}
	writeJSON(w, http.StatusOK, RenderListResponse{Renders: renders})
}

// ListPages handles GET /api/pages.
//
//	@Summary		List catalog pages with staleness
//	@Tags			pages
//	@Produce		json
//	@Success		200	{object}	PageListResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.svc.Pages(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrSourceFetch) {
			writeError(w, http.StatusBadGateway, "content source unavailable")
		} else {
			slog.Error("list pages failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	resp := PageListResponse{Pages: pages}
	for _, p := range pages {
		if p.NeedsRender {
			resp.Stale++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) historyError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, apperr.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "ledger disabled")
		return
	}
	slog.Error(op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}
