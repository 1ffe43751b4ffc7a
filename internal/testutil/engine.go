package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/starford/prerender/internal/render"
)

// FakeEngine is a scripted render.Engine that records every call.
type FakeEngine struct {
	mu sync.Mutex

	// StartErr fails every Start call.
	StartErr error
	// CloseErr is returned by Process.Close.
	CloseErr error
	// NavigateErr maps URLs to navigation failures.
	NavigateErr map[string]error
	// WaitErr fails every WaitFor call.
	WaitErr error

	Starts      int
	Closes      int
	TabsOpened  int
	TabsClosed  int
	Navigations []string
	WaitExprs   []string
	// ClosedAt is when the process was last closed.
	ClosedAt time.Time
}

var _ render.Engine = (*FakeEngine)(nil)

// ErrNavigation is a convenient fault for NavigateErr.
var ErrNavigation = errors.New("net::ERR_CONNECTION_REFUSED")

// Start implements render.Engine.
func (e *FakeEngine) Start(context.Context) (render.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	e.Starts++
	return &fakeProcess{engine: e}, nil
}

// Counts returns the start and close counters.
func (e *FakeEngine) Counts() (starts, closes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Starts, e.Closes
}

// Navigated returns a copy of the navigated URLs.
func (e *FakeEngine) Navigated() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Navigations...)
}

// Markup is the document FakeEngine returns for url.
func Markup(url string) string {
	return fmt.Sprintf("<!DOCTYPE html><html><head></head><body data-url=%q></body></html>", url)
}

type fakeProcess struct {
	engine *FakeEngine
}

func (p *fakeProcess) NewPage(context.Context) (render.Page, error) {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	p.engine.TabsOpened++
	return &fakePage{engine: p.engine}, nil
}

func (p *fakeProcess) Close(context.Context) error {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	p.engine.Closes++
	p.engine.ClosedAt = time.Now()
	return p.engine.CloseErr
}

type fakePage struct {
	engine *FakeEngine
	url    string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	p.engine.Navigations = append(p.engine.Navigations, url)
	if err := p.engine.NavigateErr[url]; err != nil {
		return err
	}
	p.url = url
	return ctx.Err()
}

func (p *fakePage) WaitFor(_ context.Context, expression string, _ time.Duration) error {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	p.engine.WaitExprs = append(p.engine.WaitExprs, expression)
	return p.engine.WaitErr
}

func (p *fakePage) Content(context.Context) (string, error) {
	return Markup(p.url), nil
}

func (p *fakePage) Close() error {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	p.engine.TabsClosed++
	return nil
}
