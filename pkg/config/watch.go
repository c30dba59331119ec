package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchProfile reloads the profile at path whenever it changes and passes
// the result to onChange. Bursts of events are debounced. It blocks until ctx
// is done.
func WatchProfile(ctx context.Context, path string, onChange func(*ThemeProfile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	logger := slog.Default().With("component", "config.watch")
	target := filepath.Clean(path)

	var timer *time.Timer
	debounce := 300 * time.Millisecond
	reload := func() {
		p, err := LoadProfile(target)
		if err != nil {
			logger.Warn("profile reload failed; keeping previous profile", "path", target, "error", err)
			return
		}
		logger.Info("profile reloaded", "path", target, "name", p.Name)
		onChange(p)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch error", "error", err)
		}
	}
}
