// Package runservice exposes page status, run control and render history to
// the HTTP API and the MCP server.
package runservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/ledger"
	"github.com/starford/prerender/internal/models"
	"github.com/starford/prerender/internal/prerender"
	"github.com/starford/prerender/internal/stale"
	"github.com/starford/prerender/internal/storage"
)

// History is the read side of the run ledger.
type History interface {
	Runs(ctx context.Context, limit int) ([]ledger.Run, error)
	Renders(ctx context.Context, path string, limit int) ([]ledger.Render, error)
	LastRender(ctx context.Context, path, locale string) (*ledger.Render, error)
}

// PageStatus is a catalog page with the state of its artifact.
type PageStatus struct {
	models.Page
	URL         string     `json:"url"`
	NeedsRender bool       `json:"needs_render"`
	ArtifactAt  *time.Time `json:"artifact_modified_at,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
}

// Service coordinates the catalog, the output tree, the runner and the ledger.
type Service struct {
	catalog prerender.Catalog
	output  storage.Provider
	job     prerender.Job
	locales []string
	baseURL string

	runner  *prerender.Runner
	history History

	// runSlot holds one token; RunNow takes it for the length of a run.
	runSlot chan struct{}
}

// Option customises a Service.
type Option func(*Service)

// WithRunner enables asynchronous triggers.
func WithRunner(r *prerender.Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithHistory enables run and render history.
func WithHistory(h History) Option {
	return func(s *Service) { s.history = h }
}

// NewService creates a new run service.
func NewService(catalog prerender.Catalog, output storage.Provider, job prerender.Job, locales []string, baseURL string, opts ...Option) *Service {
	if len(locales) == 0 {
		locales = []string{""}
	}
	s := &Service{
		catalog: catalog,
		output:  output,
		job:     job,
		locales: locales,
		baseURL: baseURL,
		runSlot: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pages enumerates every locale and reports which pages are stale.
func (s *Service) Pages(ctx context.Context) ([]PageStatus, error) {
	var out []PageStatus
	for _, locale := range s.locales {
		sub, err := s.output.Sub(locale)
		if err != nil {
			return nil, err
		}
		pages, err := s.catalog.Enumerate(ctx, locale)
		if err != nil {
			return nil, err
		}
		oracle := stale.NewOracle(sub)
		for _, p := range pages {
			need, err := oracle.NeedsRender(p, false)
			if err != nil {
				return nil, err
			}
			st := PageStatus{Page: p, URL: p.URL(s.baseURL), NeedsRender: need}
			if mt, err := sub.ModTime(p.ArtifactName()); err == nil {
				mt = mt.UTC()
				st.ArtifactAt = &mt
			} else if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			if s.history != nil {
				last, err := s.history.LastRender(ctx, p.Path, locale)
				switch {
				case err == nil:
					st.Checksum = last.Checksum
				case !errors.Is(err, apperr.ErrNotFound):
					return nil, fmt.Errorf("runservice: last render %s: %w", p.Path, err)
				}
			}
			out = append(out, st)
		}
	}
	return out, nil
}

// Trigger queues an asynchronous run.
func (s *Service) Trigger(force bool) error {
	if s.runner == nil {
		return fmt.Errorf("runservice: %w: no background runner", apperr.ErrUnavailable)
	}
	s.runner.Trigger(force)
	return nil
}

// Status returns the background runner state.
func (s *Service) Status() prerender.Status {
	if s.runner == nil {
		return prerender.Status{}
	}
	return s.runner.Status()
}

// RunNow executes a run synchronously. Concurrent callers wait their turn,
// so at most one run touches the output tree at a time.
func (s *Service) RunNow(ctx context.Context, force bool) (prerender.Report, error) {
	select {
	case s.runSlot <- struct{}{}:
	case <-ctx.Done():
		return prerender.Report{}, ctx.Err()
	}
	defer func() { <-s.runSlot }()
	return s.job.Run(ctx, force)
}

// Runs returns recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]ledger.Run, error) {
	if s.history == nil {
		return nil, fmt.Errorf("runservice: %w: ledger disabled", apperr.ErrUnavailable)
	}
	return s.history.Runs(ctx, limit)
}

// Renders returns recent render attempts, optionally for one path.
func (s *Service) Renders(ctx context.Context, path string, limit int) ([]ledger.Render, error) {
	if s.history == nil {
		return nil, fmt.Errorf("runservice: %w: ledger disabled", apperr.ErrUnavailable)
	}
	return s.history.Renders(ctx, path, limit)
}
