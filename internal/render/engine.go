// Package render owns the lifetime of a headless browser across a batch of
// page renders.
package render

import (
	"context"
	"time"
)

// Engine launches browser processes.
type Engine interface {
	// Start launches a new browser process.
	Start(ctx context.Context) (Process, error)
}

// Process is a running browser.
type Process interface {
	// NewPage opens a new tab.
	NewPage(ctx context.Context) (Page, error)
	// Close terminates the browser.
	Close(ctx context.Context) error
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor polls the JS expression until it is truthy or timeout elapses.
	WaitFor(ctx context.Context, expression string, timeout time.Duration) error
	// Content returns the serialized document, doctype included.
	Content(ctx context.Context) (string, error)
	Close() error
}
