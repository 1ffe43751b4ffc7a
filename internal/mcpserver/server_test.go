package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/prerender/internal/ledger"
	"github.com/starford/prerender/internal/models"
	"github.com/starford/prerender/internal/prerender"
	"github.com/starford/prerender/internal/runservice"
	"github.com/starford/prerender/internal/storage"
	"github.com/starford/prerender/internal/testutil"
)

type stubCatalog struct{}

func (stubCatalog) Enumerate(_ context.Context, locale string) ([]models.Page, error) {
	return []models.Page{
		models.NewPage("/", 100, locale),
		models.NewPage("/blog/a", 200, locale),
	}, nil
}

type stubJob struct{ forced []bool }

func (j *stubJob) Run(_ context.Context, force bool) (prerender.Report, error) {
	j.forced = append(j.forced, force)
	return prerender.Report{Passes: []prerender.PassReport{{Pages: 2, Rendered: 2}}}, nil
}

type testEnv struct {
	srv   *Server
	store storage.Provider
	dir   string
	db    *ledger.DB
	job   *stubJob
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	dir, store := testutil.TestOutput(t)
	db := testutil.TestLedger(t)
	job := &stubJob{}
	svc := runservice.NewService(stubCatalog{}, store, job, nil, "https://example.com", runservice.WithHistory(db))
	return &testEnv{srv: New(svc, store, "test"), store: store, dir: dir, db: db, job: job}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_pages":
		result, err = srv.listPages(ctx, req)
	case "run_prerender":
		result, err = srv.runPrerender(ctx, req)
	case "render_history":
		result, err = srv.renderHistory(ctx, req)
	case "read_sitemap":
		result, err = srv.readSitemap(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListPages(t *testing.T) {
	e := testServer(t)
	testutil.WriteArtifact(t, e.dir, "index.html", "x", 150)

	r := callTool(t, e.srv, "list_pages", map[string]any{})
	var pages []runservice.PageStatus
	if err := json.Unmarshal([]byte(resultText(r)), &pages); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if len(pages) != 2 || pages[0].NeedsRender || !pages[1].NeedsRender {
		t.Errorf("pages = %+v", pages)
	}

	r = callTool(t, e.srv, "list_pages", map[string]any{"stale_only": true})
	pages = nil
	_ = json.Unmarshal([]byte(resultText(r)), &pages)
	if len(pages) != 1 || pages[0].Path != "/blog/a" {
		t.Errorf("stale pages = %+v", pages)
	}
}

func TestRunPrerender(t *testing.T) {
	e := testServer(t)

	r := callTool(t, e.srv, "run_prerender", map[string]any{"force": true})
	if r.IsError {
		t.Fatalf("run failed: %s", resultText(r))
	}
	if len(e.job.forced) != 1 || !e.job.forced[0] {
		t.Errorf("forced = %v", e.job.forced)
	}
	if !strings.Contains(resultText(r), `"rendered": 2`) {
		t.Errorf("report = %s", resultText(r))
	}
}

func TestRenderHistory(t *testing.T) {
	e := testServer(t)

	r := callTool(t, e.srv, "render_history", map[string]any{})
	if resultText(r) != "no renders recorded" {
		t.Errorf("empty history = %q", resultText(r))
	}

	ctx := context.Background()
	id, _ := e.db.StartRun(ctx, "", false, time.Now())
	_ = e.db.RecordRender(ctx, ledger.Render{RunID: id, Path: "/", Status: ledger.StatusRendered, RenderedAt: time.Now()})
	_ = e.db.RecordRender(ctx, ledger.Render{RunID: id, Path: "/blog/a", Status: ledger.StatusFailed, Error: "boom", RenderedAt: time.Now()})

	r = callTool(t, e.srv, "render_history", map[string]any{"path": "/blog/a", "limit": float64(5)})
	var renders []ledger.Render
	if err := json.Unmarshal([]byte(resultText(r)), &renders); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if len(renders) != 1 || renders[0].Error != "boom" {
		t.Errorf("renders = %+v", renders)
	}
}

func TestReadSitemap(t *testing.T) {
	e := testServer(t)
	_ = e.store.Write("en/sitemap.xml", []byte("<urlset/>"))

	r := callTool(t, e.srv, "read_sitemap", map[string]any{"locale": "en"})
	if resultText(r) != "<urlset/>" {
		t.Errorf("sitemap = %q", resultText(r))
	}
}

func TestReadSitemapMissing(t *testing.T) {
	e := testServer(t)
	r := callTool(t, e.srv, "read_sitemap", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing sitemap")
	}
}
