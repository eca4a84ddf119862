package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly validated config after a file change.
type ReloadFunc func(cfg *Config)

// Watcher re-loads the config file when it changes on disk and hands the
// validated result to the registered callbacks. A file that fails to
// parse or validate is logged and dropped; the running config stays.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onReload []ReloadFunc

	// Editors save via rename+create, which arrives as a burst of
	// events. Changes within the debounce window collapse into one load.
	debounce time.Duration
}

// NewWatcher creates a Watcher for the given config path.
func NewWatcher(path string, logger *slog.Logger, fns ...ReloadFunc) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		onReload: fns,
		debounce: 250 * time.Millisecond,
	}
}

// Watch blocks until ctx is cancelled, delivering reloads as they happen.
// The parent directory is watched rather than the file itself so that
// rename-based saves keep working.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	resolved, err := resolvePath(w.path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	w.logger.Info("config watcher started", slog.String("path", resolved))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != resolved {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(resolved)
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("config reloaded", slog.String("path", path))
	for _, fn := range w.onReload {
		fn(cfg)
	}
}
