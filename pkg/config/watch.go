package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mini-siem/pkg/logger"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each valid result to fn.
// Invalid rewrites are logged and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// Editors replace files by rename, so watch the directory and filter by name.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			fire = timer.C
		case <-fire:
			fire = nil
			c, err := Load(path)
			if err != nil {
				logger.Warn("config: reload %s: %v (keeping previous)", path, err)
				continue
			}
			logger.Info("config: reloaded %s", path)
			fn(c)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher: %v", err)
		}
	}
}
