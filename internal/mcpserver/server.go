// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes prerender tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/prerender/internal/runservice"
	"github.com/starford/prerender/internal/sitemap"
	"github.com/starford/prerender/internal/storage"
)

// Server wraps the MCP server with prerender tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *runservice.Service
	output storage.Provider
}

// New creates a new MCP server with all prerender tools registered.
func New(svc *runservice.Service, output storage.Provider, version string) *Server {
	s := &Server{svc: svc, output: output}

	s.mcp = server.NewMCPServer(
		"Prerender",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List every catalog page with its URL, source timestamp and whether its artifact is stale."),
		mcp.WithBoolean("stale_only", mcp.Description("Only list pages that need rendering")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("run_prerender",
		mcp.WithDescription("Run a full prerender pass for every locale and wait for it to finish. "+
			"Stale pages are rendered, fresh ones are skipped, and the sitemaps are rewritten."),
		mcp.WithBoolean("force", mcp.Description("Render every page regardless of staleness")),
	), s.runPrerender)

	s.mcp.AddTool(mcp.NewTool("render_history",
		mcp.WithDescription("Show recent render attempts from the ledger, newest first."),
		mcp.WithString("path", mcp.Description("Optional page path filter (e.g. /blog/hello)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
	), s.renderHistory)

	s.mcp.AddTool(mcp.NewTool("read_sitemap",
		mcp.WithDescription("Read the generated sitemap.xml of a locale."),
		mcp.WithString("locale", mcp.Description("Locale subdirectory; empty for single-locale sites")),
	), s.readSitemap)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.svc.Pages(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetBool("stale_only", false) {
		stale := pages[:0]
		for _, p := range pages {
			if p.NeedsRender {
				stale = append(stale, p)
			}
		}
		pages = stale
	}
	if len(pages) == 0 {
		return mcp.NewToolResultText("no pages"), nil
	}
	return jsonResult(pages)
}

func (s *Server) runPrerender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.RunNow(ctx, req.GetBool("force", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) renderHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	renders, err := s.svc.Renders(ctx, req.GetString("path", ""), req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(renders) == 0 {
		return mcp.NewToolResultText("no renders recorded"), nil
	}
	return jsonResult(renders)
}

func (s *Server) readSitemap(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locale := req.GetString("locale", "")
	name := path.Join(locale, sitemap.XMLFile)
	data, err := s.output.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
