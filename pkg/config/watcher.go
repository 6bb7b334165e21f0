package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the configuration file for changes and triggers a
// Manager reload. Change bursts (editor save patterns, atomic renames)
// are debounced so a single reload fires per burst.
type Watcher struct {
	manager  *Manager
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher bound to the given manager.
// debounce defaults to 250ms when zero.
func NewWatcher(manager *Manager, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		manager:  manager,
		debounce: debounce,
		logger:   slog.Default().With("component", "config.watcher"),
	}
}

// Watch blocks until the context is cancelled, reloading the manager
// whenever the configuration file changes. The parent directory is
// watched rather than the file itself so that atomic rename-in-place
// saves are observed.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.manager.Path())
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("watching configuration file", "path", w.manager.Path())

	target := filepath.Clean(w.manager.Path())

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := w.manager.Reload(); err != nil {
				w.logger.Warn("file change reload failed", "error", err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}
