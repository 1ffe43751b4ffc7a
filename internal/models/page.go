// Package models defines the domain types for prerender.
package models

import (
	"net/url"
	"strings"
	"time"
)

// ArtifactExt is the extension of rendered page artifacts.
const ArtifactExt = ".html"

// Page describes one logical page to manage. It is rebuilt on every run and
// never persisted.
type Page struct {
	Path             string `json:"path"`
	Name             string `json:"name"`
	SourceModifiedAt int64  `json:"source_modified_at"`
	Locale           string `json:"locale,omitempty"`
}

// NewPage builds a Page for path, deriving its artifact name.
func NewPage(path string, modifiedAt int64, locale string) Page {
	return Page{
		Path:             path,
		Name:             NameFromPath(path),
		SourceModifiedAt: modifiedAt,
		Locale:           locale,
	}
}

// NameFromPath strips the leading slash; the root path maps to "index".
func NameFromPath(path string) string {
	name := strings.Trim(path, "/")
	if name == "" {
		return "index"
	}
	return name
}

// ArtifactName returns the artifact location relative to the locale root.
func (p Page) ArtifactName() string {
	return p.Name + ArtifactExt
}

// URL returns the fully-qualified, percent-escaped page URL under base.
func (p Page) URL(base string) string {
	u := url.URL{Path: p.Path}
	return strings.TrimRight(base, "/") + u.EscapedPath()
}

// ModifiedTime returns SourceModifiedAt as a UTC time.
func (p Page) ModifiedTime() time.Time {
	return time.Unix(p.SourceModifiedAt, 0).UTC()
}

// Key identifies a page within a catalog.
func (p Page) Key() string {
	return p.Locale + "|" + p.Path
}

// Post is one item returned by the content source.
type Post struct {
	Title   string      `json:"title"`
	Content PostContent `json:"content"`
}

// PostContent carries the content metadata of a Post.
type PostContent struct {
	Modified int64 `json:"modified"`
}
