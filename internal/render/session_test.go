package render_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/render"
	"github.com/starford/prerender/internal/testutil"
)

func newSession(engine render.Engine, settle render.Settle) *render.Session {
	return render.NewSession(engine, render.SessionOptions{Settle: settle}, nil)
}

func TestSession_LazyIgnition(t *testing.T) {
	engine := &testutil.FakeEngine{}
	s := newSession(engine, render.Settle{})

	if s.Started() {
		t.Fatal("new session should not be started")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	starts, closes := engine.Counts()
	if starts != 0 || closes != 0 {
		t.Errorf("idle session touched the engine: starts=%d closes=%d", starts, closes)
	}
}

func TestSession_SingleProcessForBatch(t *testing.T) {
	engine := &testutil.FakeEngine{}
	s := newSession(engine, render.Settle{})
	ctx := context.Background()

	for _, u := range []string{"https://example.com/", "https://example.com/blog"} {
		html, err := s.RenderPage(ctx, u)
		if err != nil {
			t.Fatalf("RenderPage(%s): %v", u, err)
		}
		if html != testutil.Markup(u) {
			t.Errorf("markup = %q", html)
		}
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	starts, closes := engine.Counts()
	if starts != 1 || closes != 1 {
		t.Errorf("starts=%d closes=%d, want 1/1", starts, closes)
	}
	if engine.TabsOpened != 2 || engine.TabsClosed != 2 {
		t.Errorf("tabs opened=%d closed=%d, want 2/2", engine.TabsOpened, engine.TabsClosed)
	}
}

func TestSession_ShutdownIsIdempotent(t *testing.T) {
	engine := &testutil.FakeEngine{}
	s := newSession(engine, render.Settle{})
	ctx := context.Background()

	if _, err := s.RenderPage(ctx, "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	_ = s.Shutdown(ctx)
	_ = s.Shutdown(ctx)

	if _, closes := engine.Counts(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
	if _, err := s.RenderPage(ctx, "https://example.com/"); !errors.Is(err, apperr.ErrSessionStart) {
		t.Errorf("render after shutdown: err = %v", err)
	}
}

func TestSession_NavigationFailure(t *testing.T) {
	url := "https://example.com/broken"
	engine := &testutil.FakeEngine{NavigateErr: map[string]error{url: testutil.ErrNavigation}}
	s := newSession(engine, render.Settle{})
	ctx := context.Background()

	_, err := s.RenderPage(ctx, url)
	if !errors.Is(err, apperr.ErrRender) {
		t.Fatalf("err = %v, want ErrRender", err)
	}
	if !strings.Contains(err.Error(), url) {
		t.Errorf("error lacks url context: %v", err)
	}
	if engine.TabsClosed != 1 {
		t.Errorf("failed tab not closed")
	}

	_ = s.Shutdown(ctx)
	if _, closes := engine.Counts(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
}

func TestSession_StartFailure(t *testing.T) {
	engine := &testutil.FakeEngine{StartErr: errors.New("chrome not found")}
	s := newSession(engine, render.Settle{})

	_, err := s.RenderPage(context.Background(), "https://example.com/")
	if !errors.Is(err, apperr.ErrSessionStart) {
		t.Fatalf("err = %v, want ErrSessionStart", err)
	}
	if s.Started() {
		t.Error("session reports started after failed start")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSession_ReadyExpression(t *testing.T) {
	engine := &testutil.FakeEngine{}
	s := newSession(engine, render.Settle{ReadyExpression: "window.__ready === true", ReadyTimeout: time.Second})

	if _, err := s.RenderPage(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	if len(engine.WaitExprs) != 1 || engine.WaitExprs[0] != "window.__ready === true" {
		t.Errorf("WaitExprs = %v", engine.WaitExprs)
	}

	engine.WaitErr = context.DeadlineExceeded
	if _, err := s.RenderPage(context.Background(), "https://example.com/slow"); !errors.Is(err, apperr.ErrRender) {
		t.Errorf("err = %v, want ErrRender", err)
	}
}

func TestSession_SettleDelay(t *testing.T) {
	engine := &testutil.FakeEngine{}
	s := newSession(engine, render.Settle{Delay: 30 * time.Millisecond})

	start := time.Now()
	if _, err := s.RenderPage(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("settle delay not honoured: %v", elapsed)
	}
}

func TestSession_ShutdownAfterCancel(t *testing.T) {
	engine := &testutil.FakeEngine{}
	s := render.NewSession(engine, render.SessionOptions{
		Grace: render.Grace{Before: time.Hour, After: time.Hour},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.RenderPage(ctx, "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown waited out the grace period after cancellation")
	}
	if _, closes := engine.Counts(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
}

func TestSession_ShutdownHonoursGrace(t *testing.T) {
	const before, after = 40 * time.Millisecond, 60 * time.Millisecond
	engine := &testutil.FakeEngine{}
	s := render.NewSession(engine, render.SessionOptions{
		Grace: render.Grace{Before: before, After: after},
	}, nil)
	ctx := context.Background()
	if _, err := s.RenderPage(ctx, "https://example.com/"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	end := time.Now()

	if _, closes := engine.Counts(); closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}
	if waited := engine.ClosedAt.Sub(start); waited < before {
		t.Errorf("browser closed %v after Shutdown began, want at least %v", waited, before)
	}
	if waited := end.Sub(engine.ClosedAt); waited < after {
		t.Errorf("Shutdown returned %v after close, want at least %v", waited, after)
	}
	if total := end.Sub(start); total < before+after {
		t.Errorf("Shutdown took %v, want at least %v", total, before+after)
	}
}
