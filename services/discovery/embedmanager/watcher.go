// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedmanager

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the three embedding persistence files for modifications
// and triggers a debounced reload+sync, so an operator editing the
// embedding directory out-of-band (or a sibling process regenerating it)
// gets picked up without a restart.
type Watcher struct {
	watcher    *fsnotify.Watcher
	manager    *Manager
	logger     *slog.Logger
	debounce   time.Duration
	watchNames map[string]bool
}

// NewWatcher creates an fsnotify watcher over dir (typically the embedding
// store's directory) that triggers manager.Sync on changes to any of
// watchFiles (matched by base name; unrelated files in the directory are
// ignored), debounced to at most one reload per debounce window.
func NewWatcher(dir string, watchFiles []string, manager *Manager, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	names := make(map[string]bool, len(watchFiles))
	for _, f := range watchFiles {
		names[filepath.Base(f)] = true
	}
	return &Watcher{watcher: fw, manager: manager, logger: logger, debounce: debounce, watchNames: names}, nil
}

// Run blocks, dispatching debounced reload+sync calls until ctx is
// cancelled. Intended to be launched with `go watcher.Run(ctx)`.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var pending bool
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if len(w.watchNames) > 0 && !w.watchNames[filepath.Base(event.Name)] {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("embedmanager: watcher error", slog.Any("error", err))
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := w.manager.store.Load(); err != nil {
				w.logger.Warn("embedmanager: reload on file change failed", slog.Any("error", err))
				continue
			}
			if _, err := w.manager.Sync(ctx); err != nil {
				w.logger.Warn("embedmanager: sync after reload failed", slog.Any("error", err))
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
