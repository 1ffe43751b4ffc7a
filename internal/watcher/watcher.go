// Package watcher notices artifacts disappearing from the output tree and
// requests a repair run.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/prerender/internal/models"
	"github.com/starford/prerender/internal/storage"
)

// DefaultDebounce is used when Watch is given a non-positive debounce.
const DefaultDebounce = 500 * time.Millisecond

// TriggerFunc receives the relative artifact paths lost since the last call.
type TriggerFunc func(lost []string)

// Watch starts an fsnotify watcher on the output root and calls trigger after
// artifacts are removed or renamed away, once no further loss has been seen
// for the debounce interval. It blocks until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Writes and
// the temporary files of atomic writes are ignored.
func Watch(ctx context.Context, root string, debounce time.Duration, logger *slog.Logger, trigger TriggerFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root), slog.Duration("debounce", debounce))

	var timer *time.Timer
	var fire <-chan time.Time
	lost := map[string]struct{}{}

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			if len(lost) == 0 {
				continue
			}
			paths := make([]string, 0, len(lost))
			for p := range lost {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(lost)
			logger.Info("watcher: artifacts lost", slog.Int("count", len(paths)))
			trigger(paths)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
				}
				continue
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if storage.IsTemp(name) || !strings.HasSuffix(name, models.ArtifactExt) {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			logger.Debug("watcher: artifact lost", slog.String("path", rel), slog.String("op", ev.Op.String()))
			lost[rel] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
