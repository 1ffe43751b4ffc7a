package api

import (
	"github.com/starford/prerender/internal/ledger"
	"github.com/starford/prerender/internal/prerender"
	"github.com/starford/prerender/internal/runservice"
)

// TriggerRunRequest is the request body for starting a run.
type TriggerRunRequest struct {
	Force bool `json:"force" example:"false"`
}

// TriggerRunResponse is returned once a run has been queued.
type TriggerRunResponse struct {
	Queued bool             `json:"queued" example:"true" validate:"required"`
	Force  bool             `json:"force" example:"false"`
	Status prerender.Status `json:"status" validate:"required"`
}

// RunListResponse wraps the run history and the live runner state.
type RunListResponse struct {
	Runs   []ledger.Run     `json:"runs" validate:"required"`
	Status prerender.Status `json:"status" validate:"required"`
}

// RenderListResponse wraps render attempts.
type RenderListResponse struct {
	Renders []ledger.Render `json:"renders" validate:"required"`
}

// PageListResponse wraps the catalog with artifact state.
type PageListResponse struct {
	Pages []runservice.PageStatus `json:"pages" validate:"required"`
	Stale int                     `json:"stale" example:"3"`
}
