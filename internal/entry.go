// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/prerender/internal/api"
	"github.com/starford/prerender/internal/browser"
	"github.com/starford/prerender/internal/catalog"
	"github.com/starford/prerender/internal/ledger"
	"github.com/starford/prerender/internal/mcpserver"
	"github.com/starford/prerender/internal/prerender"
	"github.com/starford/prerender/internal/render"
	"github.com/starford/prerender/internal/runservice"
	"github.com/starford/prerender/internal/sse"
	"github.com/starford/prerender/internal/storage"
	"github.com/starford/prerender/internal/watcher"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger initializes the structured JSON logger.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// pipeline holds the components shared by every entry point.
type pipeline struct {
	store   *storage.FS
	db      *ledger.DB
	catalog *catalog.Catalog
	orch    *prerender.Orchestrator
}

func (p *pipeline) Close() {
	if p.db != nil {
		_ = p.db.Close()
	}
}

func (p *pipeline) history() []runservice.Option {
	if p.db == nil {
		return nil
	}
	return []runservice.Option{runservice.WithHistory(p.db)}
}

func buildPipeline(cfg *Config, logger *slog.Logger, events prerender.EventFunc) (*pipeline, error) {
	logger.Info("Configuration loaded",
		slog.String("base_url", cfg.Site.BaseURL),
		slog.String("api_url", cfg.Site.APIURL),
		slog.String("output_path", cfg.Output.Path),
		slog.Any("locales", cfg.Locales),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	p := &pipeline{store: store}
	if cfg.Ledger.Enabled() {
		db, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		p.db = db
	}

	source := catalog.NewHTTPSource(cfg.Site.APIURL, cfg.Catalog.PostsEndpoint, cfg.Catalog.FetchTimeout)
	p.catalog = catalog.New(source, catalog.Options{
		StaticRoutes:  cfg.Catalog.StaticRoutes,
		ListingRoutes: cfg.Catalog.ListingRoutes,
		PostPrefix:    cfg.Catalog.PostPrefix,
		SlugSeparator: cfg.Catalog.SlugSeparator,
	})

	engines := func(locale string) render.Engine {
		return browser.New(browser.Options{
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			Locale:            locale,
			ExecPath:          cfg.Browser.ExecPath,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		})
	}

	orchOpts := []prerender.Option{prerender.WithLogger(logger)}
	if p.db != nil {
		orchOpts = append(orchOpts, prerender.WithRecorder(p.db))
	}
	if events != nil {
		orchOpts = append(orchOpts, prerender.WithEvents(events))
	}
	p.orch = prerender.New(p.catalog, store, engines, prerender.Options{
		BaseURL:    cfg.Site.BaseURL,
		ChangeFreq: cfg.Sitemap.ChangeFreq,
		Locales:    cfg.Locales,
		Session: render.SessionOptions{
			Settle: render.Settle{
				Delay:           cfg.Browser.SettleDelay,
				ReadyExpression: cfg.Browser.ReadyExpression,
				ReadyTimeout:    cfg.Browser.ReadyTimeout,
			},
			Grace: render.Grace{
				Before: cfg.Browser.GraceBefore,
				After:  cfg.Browser.GraceAfter,
			},
		},
	}, orchOpts...)
	return p, nil
}

// Run performs one prerender run and returns when it has finished.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, app.logOut)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	started := time.Now()
	report, err := p.orch.Run(ctx, app.force)
	for _, pass := range report.Passes {
		logger.Info("prerender pass finished",
			slog.String("locale", pass.Locale),
			slog.String("state", pass.State().String()),
			slog.Int("pages", pass.Pages),
			slog.Int("rendered", pass.Rendered),
			slog.Int("skipped", pass.Skipped),
			slog.Int("failed", pass.Failed))
	}
	if err != nil {
		return fmt.Errorf("prerender: %w", err)
	}
	logger.Info("prerender finished", slog.Duration("took", time.Since(started)))
	return nil
}

// Serve runs the daemon: HTTP control API, SSE progress stream, output
// watcher and the serialized runner.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, app.logOut)

	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	p, err := buildPipeline(cfg, logger, func(e prerender.Event) {
		switch e.Kind {
		case prerender.EventPageRendered, prerender.EventPageFailed, prerender.EventPageSkipped:
			broker.PublishPageEvent(e.Kind, e.Locale, e.Path, e.Error)
		default:
			broker.Publish(sse.Event{Type: e.Kind, Data: e})
		}
	})
	if err != nil {
		return err
	}
	defer p.Close()

	runner := prerender.NewRunner(p.orch, cfg.Serve.Interval, logger)
	svcOpts := append([]runservice.Option{runservice.WithRunner(runner)}, p.history()...)
	svc := runservice.NewService(p.catalog, p.store, p.orch, cfg.Locales, cfg.Site.BaseURL, svcOpts...)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes (including SSE) under /api.
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Loop(gCtx)
	})

	// Regenerate artifacts that disappear from the output tree.
	g.Go(func() error {
		return watcher.Watch(gCtx, p.store.Root(), cfg.Serve.Debounce, logger, func(lost []string) {
			logger.Info("artifacts removed, scheduling run", slog.Any("paths", lost))
			runner.Trigger(false)
		})
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	// Bring the output up to date on start.
	runner.Trigger(false)

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP exposes the prerender tools over stdio. Logs go to stderr.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, app.logOut)

	p, err := buildPipeline(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	svc := runservice.NewService(p.catalog, p.store, p.orch, cfg.Locales, cfg.Site.BaseURL, p.history()...)
	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc, p.store, app.version).ServeStdio()
}
