package prerender

import (
	"fmt"

	"github.com/starford/prerender/internal/apperr"
)

// State is a stage of one locale pass.
type State int

const (
	StateIdle State = iota
	StateCatalogBuilt
	StateFiltered
	StateRendering
	StateSessionClosed
	StateSitemapWritten
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateCatalogBuilt:   "catalog_built",
	StateFiltered:       "filtered",
	StateRendering:      "rendering",
	StateSessionClosed:  "session_closed",
	StateSitemapWritten: "sitemap_written",
	StateDone:           "done",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether the pass has finished.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}
	return !from.IsTerminal() && to == from+1
}

// machine tracks the linear state progression of a pass.
type machine struct {
	current State
	history []State
}

func newMachine() *machine {
	return &machine{current: StateIdle, history: []State{StateIdle}}
}

func (m *machine) to(next State) error {
	if !isAllowedTransition(m.current, next) {
		return fmt.Errorf("prerender: %w: %s -> %s", apperr.ErrInvalidTransition, m.current, next)
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}

// fail moves the machine to StateFailed unless it already finished.
func (m *machine) fail() {
	if !m.current.IsTerminal() {
		m.current = StateFailed
		m.history = append(m.history, StateFailed)
	}
}
