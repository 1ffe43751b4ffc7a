package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/prerender/internal/apperr"
)

// Settle describes how long to wait after navigation before capturing markup.
type Settle struct {
	// Delay is always waited first.
	Delay time.Duration
	// ReadyExpression, when set, is polled until truthy.
	ReadyExpression string
	ReadyTimeout    time.Duration
}

// Grace holds the delays around browser termination.
type Grace struct {
	Before time.Duration
	After  time.Duration
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Settle Settle
	Grace  Grace
}

// Session owns at most one browser process for a batch. The process is
// started by the first RenderPage call and stopped by Shutdown.
type Session struct {
	engine Engine
	opts   SessionOptions
	logger *slog.Logger

	proc     Process
	shutdown bool
}

// NewSession creates an idle session. No process is started.
func NewSession(engine Engine, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{engine: engine, opts: opts, logger: logger}
}

// Started reports whether a browser process has been launched.
func (s *Session) Started() bool {
	return s.proc != nil
}

func (s *Session) ensureStarted(ctx context.Context) error {
	if s.shutdown {
		return fmt.Errorf("render: %w: session already shut down", apperr.ErrSessionStart)
	}
	if s.proc != nil {
		return nil
	}
	s.logger.Info("starting headless browser")
	proc, err := s.engine.Start(ctx)
	if err != nil {
		return fmt.Errorf("render: %w: %v", apperr.ErrSessionStart, err)
	}
	s.proc = proc
	return nil
}

// RenderPage opens a tab, navigates to url, waits for the page to settle and
// returns the serialized document.
func (s *Session) RenderPage(ctx context.Context, url string) (string, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return "", err
	}

	page, err := s.proc.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("render: %w: open tab for %s: %v", apperr.ErrRender, url, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.logger.Debug("render: close tab failed", slog.String("url", url), slog.String("error", err.Error()))
		}
	}()

	if err := page.Navigate(ctx, url); err != nil {
		return "", fmt.Errorf("render: %w: navigate %s: %v", apperr.ErrRender, url, err)
	}
	if err := sleep(ctx, s.opts.Settle.Delay); err != nil {
		return "", fmt.Errorf("render: %w: settle %s: %v", apperr.ErrRender, url, err)
	}
	if expr := s.opts.Settle.ReadyExpression; expr != "" {
		if err := page.WaitFor(ctx, expr, s.opts.Settle.ReadyTimeout); err != nil {
			return "", fmt.Errorf("render: %w: wait ready %s: %v", apperr.ErrRender, url, err)
		}
	}

	html, err := page.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("render: %w: capture %s: %v", apperr.ErrRender, url, err)
	}
	return html, nil
}

// Shutdown stops the browser if one was started. It is safe to call more
// than once; only the first call has effect. Cancellation of ctx skips the
// grace delays but never the termination itself.
func (s *Session) Shutdown(ctx context.Context) error {
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	if s.proc == nil {
		return nil
	}

	_ = sleep(ctx, s.opts.Grace.Before)
	err := s.proc.Close(context.WithoutCancel(ctx))
	s.proc = nil
	_ = sleep(ctx, s.opts.Grace.After)

	if err != nil {
		return fmt.Errorf("render: close browser: %w", err)
	}
	s.logger.Info("headless browser stopped")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
