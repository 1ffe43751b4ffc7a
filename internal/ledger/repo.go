package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/prerender/internal/apperr"
)

// Render statuses.
const (
	StatusRendered = "rendered"
	StatusFailed   = "failed"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one locale pass.
type Run struct {
	ID         int64      `json:"id"`
	Locale     string     `json:"locale"`
	Force      bool       `json:"force"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Pages      int        `json:"pages"`
	Rendered   int        `json:"rendered"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// RunSummary carries the counters written when a run finishes.
type RunSummary struct {
	Pages    int
	Rendered int
	Skipped  int
	Failed   int
	Err      error
}

// Render is one page render attempt.
type Render struct {
	RunID      int64     `json:"run_id"`
	Path       string    `json:"path"`
	Locale     string    `json:"locale"`
	Checksum   string    `json:"checksum,omitempty"`
	Bytes      int       `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	RenderedAt time.Time `json:"rendered_at"`
}

// StartRun inserts a running run and returns its id.
func (db *DB) StartRun(ctx context.Context, locale string, force bool, at time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (locale, force, started_at, status) VALUES (?, ?, ?, ?)`,
		locale, force, at.UTC(), RunRunning)
	if err != nil {
		return 0, fmt.Errorf("ledger: start run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun records the outcome of a run.
func (db *DB) FinishRun(ctx context.Context, id int64, s RunSummary, at time.Time) error {
	status, msg := RunSucceeded, ""
	if s.Err != nil {
		status, msg = RunFailed, s.Err.Error()
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, pages = ?, rendered = ?, skipped = ?, failed = ?, status = ?, error = ?
		WHERE id = ?
	`, at.UTC(), s.Pages, s.Rendered, s.Skipped, s.Failed, status, msg, id)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	return nil
}

// RecordRender appends a render attempt.
func (db *DB) RecordRender(ctx context.Context, r Render) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO renders (run_id, path, locale, checksum, bytes, duration_ms, status, error, rendered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Path, r.Locale, r.Checksum, r.Bytes, r.DurationMS, r.Status, r.Error, r.RenderedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: record render: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, locale, force, started_at, finished_at, pages, rendered, skipped, failed, status, error
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Locale, &r.Force, &r.StartedAt, &finished,
			&r.Pages, &r.Rendered, &r.Skipped, &r.Failed, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Renders returns render attempts, newest first. An empty path lists all.
func (db *DB) Renders(ctx context.Context, path string, limit int) ([]Render, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, path, locale, checksum, bytes, duration_ms, status, error, rendered_at
		FROM renders
		WHERE ? = '' OR path = ?
		ORDER BY id DESC
		LIMIT ?
	`, path, path, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: renders: %w", err)
	}
	defer rows.Close()

	out := []Render{}
	for rows.Next() {
		var r Render
		if err := rows.Scan(&r.RunID, &r.Path, &r.Locale, &r.Checksum, &r.Bytes,
			&r.DurationMS, &r.Status, &r.Error, &r.RenderedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastRender returns the newest successful render of a page.
func (db *DB) LastRender(ctx context.Context, path, locale string) (*Render, error) {
	var r Render
	err := db.conn.QueryRowContext(ctx, `
		SELECT run_id, path, locale, checksum, bytes, duration_ms, status, error, rendered_at
		FROM renders
		WHERE path = ? AND locale = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`, path, locale, StatusRendered).Scan(&r.RunID, &r.Path, &r.Locale, &r.Checksum, &r.Bytes,
		&r.DurationMS, &r.Status, &r.Error, &r.RenderedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: last render: %w", err)
	}
	return &r, nil
}
