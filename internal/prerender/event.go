package prerender

// Event kinds emitted during a run.
const (
	EventRunStarted     = "run.started"
	EventPageSkipped    = "page.skipped"
	EventPageRendered   = "page.rendered"
	EventPageFailed     = "page.failed"
	EventSitemapWritten = "sitemap.written"
	EventRunFinished    = "run.finished"
)

// Event reports progress of a prerender pass.
type Event struct {
	Kind     string `json:"kind"`
	Locale   string `json:"locale,omitempty"`
	Path     string `json:"path,omitempty"`
	Rendered int    `json:"rendered,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Failed   int    `json:"failed,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EventFunc receives events synchronously; it must not block.
type EventFunc func(Event)
