// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the vocabulary file into a Router.
//
// Description:
//
//	Watches the file's parent directory (editors replace files with
//	rename+create, so watching the file itself misses updates) and performs
//	a full load-validate-swap on every write or create touching the target.
//	A bad file is logged and skipped; the router keeps serving the previous
//	vocabulary.
//
// Thread Safety: safe for concurrent use; Close may be called once.
type Watcher struct {
	path    string
	router  *Router
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
	stopped chan struct{}
}

// WatchFile starts watching a vocabulary file for changes.
//
// Inputs:
//
//	path - Vocabulary YAML path. Must load successfully at start.
//	router - Router to reload into.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*Watcher - Running watcher; caller must Close it.
//	error - Non-nil if the initial load or watch setup fails.
func WatchFile(path string, router *Router, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "vocab_watcher"))

	vocab, err := LoadVocabularyFile(path)
	if err != nil {
		return nil, err
	}
	if err := router.Reload(vocab); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		router:  router,
		fsw:     fsw,
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()

	logger.Info("vocabulary watch started",
		slog.String("path", path),
		slog.Int("version", vocab.Version))
	return w, nil
}

// run is the watch loop. Exits when Close is called or the watcher dies.
func (w *Watcher) run() {
	defer close(w.stopped)

	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("vocabulary watch error", slog.Any("error", err))
		}
	}
}

// reload loads the file and swaps it in, keeping the old vocabulary on error.
func (w *Watcher) reload() {
	vocab, err := LoadVocabularyFile(w.path)
	if err != nil {
		w.logger.Error("vocabulary reload rejected, keeping previous version",
			slog.String("path", w.path),
			slog.Any("error", err))
		return
	}
	if err := w.router.Reload(vocab); err != nil {
		w.logger.Error("vocabulary reload rejected, keeping previous version",
			slog.String("path", w.path),
			slog.Any("error", err))
		return
	}
}

// Close stops the watch loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	err := w.fsw.Close()
	<-w.stopped
	return err
}
