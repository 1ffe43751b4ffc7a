// Package prerender sequences catalog discovery, staleness filtering,
// rendering and sitemap emission for every configured locale.
package prerender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/checksum"
	"github.com/starford/prerender/internal/ledger"
	"github.com/starford/prerender/internal/models"
	"github.com/starford/prerender/internal/render"
	"github.com/starford/prerender/internal/sitemap"
	"github.com/starford/prerender/internal/stale"
	"github.com/starford/prerender/internal/storage"
)

// Catalog enumerates the pages of one locale.
type Catalog interface {
	Enumerate(ctx context.Context, locale string) ([]models.Page, error)
}

// Recorder persists run and render history.
type Recorder interface {
	StartRun(ctx context.Context, locale string, force bool, at time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, s ledger.RunSummary, at time.Time) error
	RecordRender(ctx context.Context, r ledger.Render) error
}

// EngineFactory returns the browser engine for a locale pass.
type EngineFactory func(locale string) render.Engine

// Options configures an Orchestrator.
type Options struct {
	BaseURL    string
	ChangeFreq string
	// Locales lists the locale passes; empty means one pass without locale.
	Locales []string
	Session render.SessionOptions
}

// Orchestrator runs prerender passes.
type Orchestrator struct {
	catalog  Catalog
	output   storage.Provider
	engines  EngineFactory
	opts     Options
	recorder Recorder
	events   EventFunc
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records runs and renders through r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEvents delivers progress events to fn.
func WithEvents(fn EventFunc) Option {
	return func(o *Orchestrator) { o.events = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator writing artifacts below output.
func New(catalog Catalog, output storage.Provider, engines EngineFactory, opts Options, extra ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog: catalog,
		output:  output,
		engines: engines,
		opts:    opts,
		events:  func(Event) {},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range extra {
		opt(o)
	}
	return o
}

// PassReport summarises one locale pass.
type PassReport struct {
	Locale   string  `json:"locale"`
	Pages    int     `json:"pages"`
	Rendered int     `json:"rendered"`
	Skipped  int     `json:"skipped"`
	Failed   int     `json:"failed"`
	States   []State `json:"-"`
	Err      error   `json:"-"`
}

// State returns the final state of the pass.
func (r PassReport) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

// Report summarises a full run.
type Report struct {
	Passes []PassReport `json:"passes"`
}

// Run executes one pass per locale. Passes are isolated: a failing locale
// does not stop the next one, and all failures are joined in the result.
func (o *Orchestrator) Run(ctx context.Context, force bool) (Report, error) {
	locales := o.opts.Locales
	if len(locales) == 0 {
		locales = []string{""}
	}

	var report Report
	var errs []error
	for _, locale := range locales {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		pass := o.runPass(ctx, locale, force)
		if pass.Err != nil && locale != "" {
			pass.Err = fmt.Errorf("locale %s: %w", locale, pass.Err)
		}
		if pass.Err != nil {
			errs = append(errs, pass.Err)
		}
		report.Passes = append(report.Passes, pass)
	}
	return report, errors.Join(errs...)
}

func (o *Orchestrator) runPass(ctx context.Context, locale string, force bool) (rep PassReport) {
	logger := o.logger.With(slog.String("locale", locale))
	m := newMachine()
	rep.Locale = locale

	runID := o.startRun(ctx, logger, locale, force)
	o.events(Event{Kind: EventRunStarted, Locale: locale})
	defer func() {
		if rep.Err != nil {
			m.fail()
			logger.Error("prerender pass failed",
				slog.String("phase", m.current.String()),
				slog.String("error", rep.Err.Error()))
		}
		rep.States = m.history
		o.finishRun(ctx, logger, runID, rep)
		o.events(Event{
			Kind: EventRunFinished, Locale: locale,
			Rendered: rep.Rendered, Skipped: rep.Skipped, Failed: rep.Failed,
			Error: errString(rep.Err),
		})
	}()

	out, err := o.output.Sub(locale)
	if err != nil {
		rep.Err = fmt.Errorf("prerender: %w: output for locale %q: %v", apperr.ErrWrite, locale, err)
		return rep
	}

	pages, err := o.catalog.Enumerate(ctx, locale)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Pages = len(pages)
	if rep.Err = m.to(StateCatalogBuilt); rep.Err != nil {
		return rep
	}
	logger.Info("catalog built", slog.Int("pages", len(pages)))

	oracle := stale.NewOracle(out)
	work := make([]models.Page, 0, len(pages))
	for _, p := range pages {
		need, err := oracle.NeedsRender(p, force)
		if err != nil {
			rep.Err = err
			return rep
		}
		if !need {
			rep.Skipped++
			logger.Debug("page up to date", slog.String("path", p.Path))
			o.events(Event{Kind: EventPageSkipped, Locale: locale, Path: p.Path})
			continue
		}
		work = append(work, p)
	}
	if rep.Err = m.to(StateFiltered); rep.Err != nil {
		return rep
	}
	logger.Info("pages filtered", slog.Int("stale", len(work)), slog.Int("fresh", rep.Skipped))

	if rep.Err = m.to(StateRendering); rep.Err != nil {
		return rep
	}
	rendered, failures := o.renderBatch(ctx, logger, out, runID, locale, work)
	rep.Rendered = rendered
	rep.Failed = len(failures)
	if err := m.to(StateSessionClosed); err != nil {
		rep.Err = err
		return rep
	}
	if len(failures) > 0 {
		rep.Err = errors.Join(failures...)
		return rep
	}

	if rep.Err = o.writeSitemaps(out, pages); rep.Err != nil {
		return rep
	}
	if rep.Err = m.to(StateSitemapWritten); rep.Err != nil {
		return rep
	}
	logger.Info("sitemap generated", slog.Int("urls", len(pages)))
	o.events(Event{Kind: EventSitemapWritten, Locale: locale})

	rep.Err = m.to(StateDone)
	return rep
}

// renderBatch renders work one page at a time on a single browser session.
// Page failures are isolated and returned; the session is always shut down.
func (o *Orchestrator) renderBatch(ctx context.Context, logger *slog.Logger, out storage.Provider, runID int64, locale string, work []models.Page) (rendered int, failures []error) {
	if len(work) == 0 {
		return 0, nil
	}

	session := render.NewSession(o.engines(locale), o.opts.Session, logger)
	defer func() {
		if err := session.Shutdown(ctx); err != nil {
			logger.Warn("browser shutdown failed", slog.String("error", err.Error()))
		}
	}()

	for _, p := range work {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Errorf("prerender: batch interrupted before %s: %w", p.Path, err))
			return rendered, failures
		}

		url := p.URL(o.opts.BaseURL)
		logger.Info("generating page", slog.String("path", p.Path), slog.String("url", url))
		start := o.now()

		html, err := session.RenderPage(ctx, url)
		if err == nil {
			if werr := out.Write(p.ArtifactName(), []byte(html)); werr != nil {
				err = fmt.Errorf("prerender: %w: %s: %v", apperr.ErrWrite, p.ArtifactName(), werr)
			}
		}
		elapsed := o.now().Sub(start)

		if err != nil {
			failures = append(failures, fmt.Errorf("page %s: %w", p.Path, err))
			logger.Error("page failed",
				slog.String("path", p.Path),
				slog.String("phase", phaseOf(err)),
				slog.String("error", err.Error()))
			o.record(ctx, logger, ledger.Render{
				RunID: runID, Path: p.Path, Locale: locale,
				DurationMS: elapsed.Milliseconds(), Status: ledger.StatusFailed,
				Error: err.Error(), RenderedAt: o.now(),
			})
			o.events(Event{Kind: EventPageFailed, Locale: locale, Path: p.Path, Error: err.Error()})
			if errors.Is(err, apperr.ErrSessionStart) {
				return rendered, failures
			}
			continue
		}

		rendered++
		sum := checksum.Sum([]byte(html))
		logger.Info("page generated",
			slog.String("path", p.Path),
			slog.String("name", p.Name),
			slog.Int("bytes", len(html)),
			slog.String("checksum", sum[:12]),
			slog.Duration("took", elapsed))
		o.record(ctx, logger, ledger.Render{
			RunID: runID, Path: p.Path, Locale: locale,
			Checksum: sum, Bytes: len(html), DurationMS: elapsed.Milliseconds(),
			Status: ledger.StatusRendered, RenderedAt: o.now(),
		})
		o.events(Event{Kind: EventPageRendered, Locale: locale, Path: p.Path})
	}
	return rendered, failures
}

func (o *Orchestrator) writeSitemaps(out storage.Provider, pages []models.Page) error {
	xmlText, plain, err := sitemap.NewBuilder(o.opts.BaseURL, o.opts.ChangeFreq, out).Build(pages)
	if err != nil {
		return err
	}
	if err := out.Write(sitemap.XMLFile, []byte(xmlText)); err != nil {
		return fmt.Errorf("prerender: %w: %s: %v", apperr.ErrWrite, sitemap.XMLFile, err)
	}
	if err := out.Write(sitemap.TextFile, []byte(plain)); err != nil {
		return fmt.Errorf("prerender: %w: %s: %v", apperr.ErrWrite, sitemap.TextFile, err)
	}
	return nil
}

func (o *Orchestrator) startRun(ctx context.Context, logger *slog.Logger, locale string, force bool) int64 {
	if o.recorder == nil {
		return 0
	}
	id, err := o.recorder.StartRun(ctx, locale, force, o.now())
	if err != nil {
		logger.Warn("ledger: start run failed", slog.String("error", err.Error()))
	}
	return id
}

func (o *Orchestrator) finishRun(ctx context.Context, logger *slog.Logger, id int64, rep PassReport) {
	if o.recorder == nil || id == 0 {
		return
	}
	summary := ledger.RunSummary{
		Pages: rep.Pages, Rendered: rep.Rendered, Skipped: rep.Skipped, Failed: rep.Failed, Err: rep.Err,
	}
	if err := o.recorder.FinishRun(context.WithoutCancel(ctx), id, summary, o.now()); err != nil {
		logger.Warn("ledger: finish run failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, r ledger.Render) {
	if o.recorder == nil || r.RunID == 0 {
		return
	}
	if err := o.recorder.RecordRender(context.WithoutCancel(ctx), r); err != nil {
		logger.Warn("ledger: record render failed", slog.String("path", r.Path), slog.String("error", err.Error()))
	}
}

func phaseOf(err error) string {
	switch {
	case errors.Is(err, apperr.ErrSessionStart):
		return "session_start"
	case errors.Is(err, apperr.ErrWrite):
		return "write"
	default:
		return "render"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
