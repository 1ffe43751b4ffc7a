// Package apperr holds the sentinel errors shared across prerender packages.
package apperr

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")

	ErrSourceFetch       = errors.New("source fetch failed")
	ErrRender            = errors.New("render failed")
	ErrWrite             = errors.New("write failed")
	ErrSessionStart      = errors.New("render session start failed")
	ErrMissingArtifact   = errors.New("artifact missing")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicatePage     = errors.New("duplicate page")
)
