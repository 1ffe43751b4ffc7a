// Package catalog enumerates the pages a prerender pass manages.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/models"
)

// Options configures the route layout of a Catalog.
type Options struct {
	// StaticRoutes are emitted first, stamped with the current time.
	StaticRoutes []string
	// ListingRoutes share the newest post timestamp.
	ListingRoutes []string
	// PostPrefix is prepended to every post slug.
	PostPrefix string
	// SlugSeparator replaces whitespace and path separators in titles.
	SlugSeparator string
}

// Catalog builds the ordered page list for one pass.
type Catalog struct {
	source Source
	opts   Options
	now    func() time.Time
}

// New creates a Catalog reading posts from source.
func New(source Source, opts Options) *Catalog {
	if opts.SlugSeparator == "" {
		opts.SlugSeparator = "-"
	}
	return &Catalog{source: source, opts: opts, now: time.Now}
}

// WithClock overrides the wall clock used for static routes.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// Enumerate returns static routes, then listing routes, then one page per
// post. A source failure aborts enumeration; no partial catalog is returned.
func (c *Catalog) Enumerate(ctx context.Context, locale string) ([]models.Page, error) {
	posts, err := c.source.Posts(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now().Unix()
	pages := make([]models.Page, 0, len(c.opts.StaticRoutes)+len(c.opts.ListingRoutes)+len(posts))
	for _, route := range c.opts.StaticRoutes {
		pages = append(pages, models.NewPage(route, now, locale))
	}

	var latest int64
	for _, p := range posts {
		latest = max(latest, p.Content.Modified)
	}
	for _, route := range c.opts.ListingRoutes {
		pages = append(pages, models.NewPage(route, latest, locale))
	}

	prefix := "/" + strings.Trim(c.opts.PostPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	for _, p := range posts {
		slug, err := Slugify(p.Title, c.opts.SlugSeparator)
		if err != nil {
			return nil, err
		}
		pages = append(pages, models.NewPage(prefix+"/"+slug, p.Content.Modified, locale))
	}

	if err := checkUnique(pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// Slugify turns a post title into a single path segment.
func Slugify(title, sep string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			b.WriteString(sep)
			continue
		}
		b.WriteRune(r)
	}
	slug := b.String()
	if slug == "" || slug == "." || slug == ".." {
		return "", fmt.Errorf("catalog: title %q does not produce a usable slug", title)
	}
	return slug, nil
}

// checkUnique rejects repeated paths and distinct paths sharing an artifact,
// such as "/blog" and "/blog/".
func checkUnique(pages []models.Page) error {
	paths := make(map[string]struct{}, len(pages))
	names := make(map[string]string, len(pages))
	for _, p := range pages {
		if _, ok := paths[p.Key()]; ok {
			return fmt.Errorf("catalog: %w: %s", apperr.ErrDuplicatePage, p.Path)
		}
		paths[p.Key()] = struct{}{}

		name := p.Locale + "\x00" + p.Name
		if other, ok := names[name]; ok {
			return fmt.Errorf("catalog: %w: %s and %s both render to %s",
				apperr.ErrDuplicatePage, other, p.Path, p.ArtifactName())
		}
		names[name] = p.Path
	}
	return nil
}
