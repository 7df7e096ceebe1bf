package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the store when the env file changes on disk. Editors often
// replace files instead of writing them, so the parent directory is watched.
// The watcher stops when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.envPath == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.envPath)); err != nil {
		_ = w.Close()
		return err
	}

	target := filepath.Clean(s.envPath)
	var (
		timer *time.Timer
		mu    sync.Mutex
	)

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if err := s.Reload(); err != nil {
						slog.Warn("credential reload failed", "path", s.envPath, "error", err)
						return
					}
					slog.Info("credentials reloaded", "path", s.envPath)
				})
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("credential watcher error", "error", err)
			}
		}
	}()
	return nil
}
