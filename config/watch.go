package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the parsed
// result to a callback. A cooldown absorbs editor write bursts.
// Invalid intermediate states are skipped silently; the previous
// settings stay in force.
type Watcher struct {
	Path     string
	Cooldown time.Duration
}

// Start blocks until ctx is done, invoking onUpdate with each valid
// reloaded config. The parent directory is watched rather than the
// file itself: editors that save via rename replace the inode, which
// would silently end a file-level watch.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}
	target := filepath.Clean(w.Path)

	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if time.Since(lastReload) < w.Cooldown {
				continue
			}
			lastReload = time.Now()
			if cfg, err := LoadWithEnvOverrides(w.Path); err == nil && onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
