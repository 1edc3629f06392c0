// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce batches rapid successive writes to one package file
// into a single reload.
const reloadDebounce = 200 * time.Millisecond

// Watcher hot-reloads compiled packages when their files change.
type Watcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a Watcher over the engine's package directory.
func NewWatcher(e *Engine) (*Watcher, error) {
	if e.packageDir == "" {
		return nil, ErrNoPackageDir
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:  e,
		watcher: fw,
		logger:  e.logger,
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Returns immediately; events are processed on
// a background goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.engine.packageDir); err != nil {
		return err
	}
	go w.loop(ctx)
	w.logger.Info("watching package directory",
		slog.String("dir", w.engine.packageDir))
	return nil
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// loop handles fsnotify events.
func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("package watcher error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent schedules a debounced reload for package file changes.
// Removals are ignored: the resident handle stays valid until a new
// version replaces it.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if filepath.Base(event.Name)[0] == '.' {
		// Temp files from atomic writes.
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[event.Name]; ok {
		timer.Reset(reloadDebounce)
		return
	}
	path := event.Name
	w.pending[path] = time.AfterFunc(reloadDebounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if err := w.engine.LoadPackageFile(ctx, path); err != nil {
			w.logger.Error("package reload failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	})
}
