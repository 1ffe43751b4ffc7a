// Package stale decides whether a page artifact must be re-rendered.
package stale

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starford/prerender/internal/models"
	"github.com/starford/prerender/internal/storage"
)

// NeedsRender is the pure staleness rule. exists and mtime describe the
// artifact as observed at decision time.
func NeedsRender(p models.Page, exists bool, mtime time.Time, force bool) bool {
	if force || !exists {
		return true
	}
	return p.ModifiedTime().After(mtime)
}

// Oracle applies NeedsRender against the artifacts of one output tree.
// Nothing is cached: every call stats the artifact.
type Oracle struct {
	store storage.Provider
}

// NewOracle creates an Oracle over store.
func NewOracle(store storage.Provider) *Oracle {
	return &Oracle{store: store}
}

// NeedsRender reports whether p must be rendered.
func (o *Oracle) NeedsRender(p models.Page, force bool) (bool, error) {
	if force {
		return true, nil
	}
	mtime, err := o.store.ModTime(p.ArtifactName())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("stale: %s: %w", p.Path, err)
	}
	return NeedsRender(p, true, mtime, false), nil
}
