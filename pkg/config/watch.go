// pkg/config/watch.go

package config

import (
	"context"
	"path/filepath"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow collapses editor write bursts (truncate, write, rename)
// into a single reload.
const debounceWindow = 200 * time.Millisecond

// Watch reloads the configuration whenever the file changes and hands
// each valid result to apply. Invalid edits are logged and skipped, so a
// typo cannot take down a running agent. Which fields take effect live is
// the caller's decision; the socket path and keystore backend need a
// restart. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, log *zap.Logger, apply func(*Config)) error {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cerr.Wrap(err, "create config watcher")
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic-rename writers replace
	// the inode and a file watch would go quiet after the first edit.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return cerr.Wrapf(err, "watch %s", dir)
	}
	log.Info("Watching configuration", zap.String("path", path))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			log.Debug("Config watcher stopping")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounceWindow)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Config watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			cfg, err := Load(path, log)
			if err != nil {
				log.Warn("Ignoring invalid configuration change",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			log.Info("Configuration reloaded", zap.String("path", path))
			apply(cfg)
		}
	}
}
