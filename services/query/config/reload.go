// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Hot Reload Watcher
// =============================================================================

// Watched override file names inside the config directory.
const (
	lexiconFileName  = "lexicons.yaml"
	pipelineFileName = "pipeline.yaml"
)

// Reloader watches a configuration directory and atomically swaps the cached
// lexicon and pipeline configuration when the override files change.
//
// Description:
//
//	Each reload parses and validates the changed file fully before swapping.
//	A file that fails validation is logged and ignored — the previous tables
//	stay in effect, so a bad edit can never leave the pipeline with a partial
//	or mixed configuration. Requests in flight keep the pointer they read at
//	stage entry.
//
// Thread Safety: Run is meant to be called once from a dedicated goroutine.
type Reloader struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewReloader creates a Reloader for the given directory.
//
// Description:
//
//	Loads any override files already present before returning, so the
//	on-disk state wins over the embedded defaults at startup. The directory
//	must exist.
//
// Inputs:
//
//	dir - Configuration directory to watch. Must not be empty.
//	logger - Logger instance. Must not be nil.
//
// Outputs:
//
//	*Reloader - The constructed reloader.
//	error - Non-nil if the watcher cannot be created or the directory added.
func NewReloader(dir string, logger *slog.Logger) (*Reloader, error) {
	if dir == "" {
		return nil, fmt.Errorf("NewReloader: dir must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("NewReloader: creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("NewReloader: watching %s: %w", dir, err)
	}

	r := &Reloader{dir: dir, watcher: w, logger: logger}

	// Apply overrides already on disk.
	for _, name := range []string{lexiconFileName, pipelineFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			r.reloadFile(context.Background(), path)
		}
	}

	return r, nil
}

// Run processes watcher events until the context is cancelled.
//
// Inputs:
//
//	ctx - Context whose cancellation stops the watcher.
func (r *Reloader) Run(ctx context.Context) {
	defer r.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case lexiconFileName, pipelineFileName:
				r.reloadFile(ctx, event.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// reloadFile parses one override file and swaps it in if valid.
func (r *Reloader) reloadFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("config reload: read failed, keeping previous tables",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	switch filepath.Base(path) {
	case lexiconFileName:
		lex, err := LoadLexicon(ctx, data)
		if err != nil {
			r.logger.Warn("config reload: lexicon invalid, keeping previous tables",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		SwapLexicon(lex)
		r.logger.Info("lexicon hot-reloaded", slog.String("path", path))

	case pipelineFileName:
		cfg, err := LoadPipelineConfig(ctx, data)
		if err != nil {
			r.logger.Warn("config reload: pipeline config invalid, keeping previous tables",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		SwapPipelineConfig(cfg)
		r.logger.Info("pipeline config hot-reloaded", slog.String("path", path))
	}
}
