// Package sitemap renders the XML and plaintext sitemaps of a catalog.
package sitemap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/models"
)

// Output file names, relative to the (locale) output root.
const (
	XMLFile  = "sitemap.xml"
	TextFile = "sitemap.txt"

	Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"
)

// ChangeFreqs lists the values the sitemap protocol allows for changefreq.
var ChangeFreqs = []string{"always", "hourly", "daily", "weekly", "monthly", "yearly", "never"}

// ModTimer reports artifact modification times.
type ModTimer interface {
	ModTime(path string) (time.Time, error)
}

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []entry  `xml:"url"`
}

type entry struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
}

// Builder projects pages onto sitemap documents.
type Builder struct {
	baseURL    string
	changeFreq string
	artifacts  ModTimer
}

// NewBuilder creates a Builder resolving URLs against baseURL and reading
// lastmod from artifacts.
func NewBuilder(baseURL, changeFreq string, artifacts ModTimer) *Builder {
	return &Builder{baseURL: baseURL, changeFreq: changeFreq, artifacts: artifacts}
}

// Build returns the XML and plaintext sitemaps for every page, in order.
// Every page must already have an artifact.
func (b *Builder) Build(pages []models.Page) (string, string, error) {
	set := urlSet{Xmlns: Namespace, URLs: make([]entry, 0, len(pages))}
	lines := make([]string, 0, len(pages))

	for _, p := range pages {
		mtime, err := b.artifacts.ModTime(p.ArtifactName())
		if errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("sitemap: %w: %s (%s)", apperr.ErrMissingArtifact, p.Path, p.ArtifactName())
		}
		if err != nil {
			return "", "", fmt.Errorf("sitemap: %s: %w", p.Path, err)
		}
		loc := p.URL(b.baseURL)
		set.URLs = append(set.URLs, entry{
			Loc:        loc,
			LastMod:    FormatLastMod(mtime),
			ChangeFreq: b.changeFreq,
		})
		lines = append(lines, loc)
	}

	out, err := xml.MarshalIndent(set, "", "    ")
	if err != nil {
		return "", "", fmt.Errorf("sitemap: encode: %w", err)
	}
	return xml.Header + string(out) + "\n", strings.Join(lines, "\n"), nil
}

// FormatLastMod formats t as an RFC 3339 UTC timestamp without fractional
// seconds.
func FormatLastMod(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
