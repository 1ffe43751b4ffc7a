// Package browser implements render.Engine on top of headless Chromium,
// driven through chromedp.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/starford/prerender/internal/render"
)

// serializeDocument returns the document including its doctype.
const serializeDocument = `(document.doctype ? new XMLSerializer().serializeToString(document.doctype) : '') + document.documentElement.outerHTML`

// Options configures the launched browser.
type Options struct {
	Headless  bool
	UserAgent string
	// Locale is passed as --lang when non-empty.
	Locale string
	// ExecPath overrides the Chromium binary lookup.
	ExecPath          string
	NavigationTimeout time.Duration
}

// Chrome launches Chromium processes.
type Chrome struct {
	opts Options
}

var _ render.Engine = (*Chrome)(nil)

// New creates a Chrome engine.
func New(opts Options) *Chrome {
	return &Chrome{opts: opts}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", c.opts.Headless))
	if c.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.opts.UserAgent))
	}
	if c.opts.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", c.opts.Locale))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	return opts
}

// Start launches Chromium and waits for its first target to be ready.
func (c *Chrome) Start(ctx context.Context) (render.Process, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), c.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}
	return &process{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		navTimeout:    c.opts.NavigationTimeout,
	}, nil
}

type process struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	navTimeout    time.Duration
}

func (p *process) NewPage(ctx context.Context) (render.Page, error) {
	tabCtx, cancel := chromedp.NewContext(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if err := chromedp.Run(tabCtx); err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("browser: new tab: %w", err)
	}
	return &tab{ctx: tabCtx, cancel: cancel, stop: stop, navTimeout: p.navTimeout}, nil
}

// Close asks the browser to exit gracefully, then releases the allocator,
// which kills the process if it is still running.
func (p *process) Close(context.Context) error {
	err := chromedp.Cancel(p.ctx)
	p.cancelBrowser()
	p.cancelAlloc()
	if err != nil {
		return fmt.Errorf("browser: close: %w", err)
	}
	return nil
}

type tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	stop       func() bool
	navTimeout time.Duration
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (t *tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := t.ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(t.ctx, timeout)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, t.navTimeout, chromedp.Navigate(url))
}

func (t *tab) WaitFor(ctx context.Context, expression string, timeout time.Duration) error {
	var ready any
	opts := []chromedp.PollOption{chromedp.WithPollingInterval(50 * time.Millisecond)}
	if timeout > 0 {
		opts = append(opts, chromedp.WithPollingTimeout(timeout))
	}
	return t.run(ctx, 0, chromedp.Poll(expression, &ready, opts...))
}

func (t *tab) Content(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, 0, chromedp.Evaluate(serializeDocument, &html)); err != nil {
		return "", err
	}
	return html, nil
}

func (t *tab) Close() error {
	t.stop()
	t.cancel()
	return nil
}
