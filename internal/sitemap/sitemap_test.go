package sitemap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/models"
)

type mapTimes map[string]time.Time

func (m mapTimes) ModTime(path string) (time.Time, error) {
	t, ok := m[path]
	if !ok {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, os.ErrNotExist)
	}
	return t, nil
}

func TestBuild(t *testing.T) {
	pages := []models.Page{
		models.NewPage("/", 100, ""),
		models.NewPage("/blog/a", 200, ""),
	}
	times := mapTimes{
		"index.html":  time.Date(2024, 3, 1, 10, 20, 30, 999_000_000, time.FixedZone("CST", 8*3600)),
		"blog/a.html": time.Unix(1_700_000_000, 0),
	}

	xmlText, plain, err := NewBuilder("https://example.com", "hourly", times).Build(pages)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
    <url>
        <loc>https://example.com/</loc>
        <lastmod>2024-03-01T02:20:30Z</lastmod>
        <changefreq>hourly</changefreq>
    </url>
    <url>
        <loc>https://example.com/blog/a</loc>
        <lastmod>2023-11-14T22:13:20Z</lastmod>
        <changefreq>hourly</changefreq>
    </url>
</urlset>
`
	if xmlText != want {
		t.Errorf("xml mismatch:\n%s\nwant:\n%s", xmlText, want)
	}
	if plain != "https://example.com/\nhttps://example.com/blog/a" {
		t.Errorf("plain = %q", plain)
	}
}

func TestBuild_CompleteAndOrdered(t *testing.T) {
	times := mapTimes{}
	var pages []models.Page
	for i := 0; i < 25; i++ {
		p := models.NewPage(fmt.Sprintf("/blog/p%02d", 24-i), int64(i), "")
		pages = append(pages, p)
		times[p.ArtifactName()] = time.Unix(int64(i), 0)
	}

	xmlText, plain, err := NewBuilder("https://example.com", "daily", times).Build(pages)
	if err != nil {
		t.Fatal(err)
	}

	var set urlSet
	if err := xml.Unmarshal([]byte(xmlText), &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	lines := strings.Split(plain, "\n")
	if len(set.URLs) != len(pages) || len(lines) != len(pages) {
		t.Fatalf("entries xml=%d plain=%d, want %d", len(set.URLs), len(lines), len(pages))
	}
	for i, p := range pages {
		want := p.URL("https://example.com")
		if set.URLs[i].Loc != want || lines[i] != want {
			t.Errorf("entry %d = %q / %q, want %q", i, set.URLs[i].Loc, lines[i], want)
		}
		if set.URLs[i].ChangeFreq != "daily" {
			t.Errorf("changefreq = %q", set.URLs[i].ChangeFreq)
		}
	}
}

func TestBuild_EscapingRoundTrip(t *testing.T) {
	pages := []models.Page{
		models.NewPage("/blog/hello world", 1, ""),
		models.NewPage("/blog/你好 & more", 1, ""),
	}
	times := mapTimes{}
	for _, p := range pages {
		times[p.ArtifactName()] = time.Unix(1, 0)
	}

	xmlText, plain, err := NewBuilder("https://example.com", "hourly", times).Build(pages)
	if err != nil {
		t.Fatal(err)
	}
	var set urlSet
	if err := xml.Unmarshal([]byte(xmlText), &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	lines := strings.Split(plain, "\n")
	for i, p := range pages {
		for _, got := range []string{set.URLs[i].Loc, lines[i]} {
			if strings.ContainsAny(got, " 你") {
				t.Errorf("unescaped characters in %q", got)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("parse %q: %v", got, err)
			}
			if u.Path != p.Path {
				t.Errorf("decoded path = %q, want %q", u.Path, p.Path)
			}
		}
	}
}

func TestBuild_MissingArtifactIsFatal(t *testing.T) {
	pages := []models.Page{models.NewPage("/", 1, ""), models.NewPage("/gone", 1, "")}
	times := mapTimes{"index.html": time.Unix(1, 0)}

	_, _, err := NewBuilder("https://example.com", "hourly", times).Build(pages)
	if !errors.Is(err, apperr.ErrMissingArtifact) {
		t.Fatalf("err = %v, want ErrMissingArtifact", err)
	}
	if !strings.Contains(err.Error(), "/gone") {
		t.Errorf("error lacks page context: %v", err)
	}
}

func TestBuild_Empty(t *testing.T) {
	xmlText, plain, err := NewBuilder("https://example.com", "hourly", mapTimes{}).Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(xmlText, "<urlset") || plain != "" {
		t.Errorf("unexpected empty output: %q %q", xmlText, plain)
	}
}

func TestFormatLastMod(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	if got := FormatLastMod(ts); got != "2024-01-02T03:04:05Z" {
		t.Errorf("FormatLastMod = %q", got)
	}
}
