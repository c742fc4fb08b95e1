package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever the file at path changes and
// invokes onChange with the freshly validated result. Invalid or
// unreadable intermediate states are logged and skipped; the previous
// configuration stays in effect.
//
// Watch blocks until ctx is cancelled. The parent directory is watched
// rather than the file itself so that editors and config-management
// tools that replace the file atomically (rename over) keep triggering.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload skipped", "path", path, "error", err)
				continue
			}
			log.Info("config reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
