// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger wraps the embedded BadgerDB instance used for local
// service caches. The wrapper keeps context plumbing and option defaults
// in one place so callers only write transaction bodies.
package badger

import (
	"context"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string
	// InMemory opens a transient instance, used by tests.
	InMemory bool
	// SyncWrites forces fsync on every commit. Cache data is
	// reconstructible, so the default is false.
	SyncWrites bool
}

// DefaultConfig returns the config used by the service entrypoints.
func DefaultConfig() Config {
	return Config{SyncWrites: false}
}

// DB is an opened BadgerDB handle.
//
// Thread Safety: Safe for concurrent use. Transactions are per-call.
type DB struct {
	inner *dgbadger.DB
}

// OpenDB opens (and creates if needed) the database described by cfg.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("open badger: path is required for on-disk mode")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	// Badger's default logger writes to stderr outside slog; silence it
	// and let callers log at the operation level.
	opts = opts.WithLogger(nil)

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}
	return &DB{inner: inner}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	return d.inner.Close()
}

// WithTxn runs fn inside a read-write transaction. The context is checked
// before the transaction starts; Badger itself does not interrupt a
// running transaction body.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.View(fn)
}

// RunGC triggers one value-log GC pass. Callers run this on a ticker;
// ErrNoRewrite from Badger means nothing needed collecting and is not an
// error worth surfacing.
func (d *DB) RunGC(discardRatio float64) error {
	err := d.inner.RunValueLogGC(discardRatio)
	if err == dgbadger.ErrNoRewrite {
		return nil
	}
	return err
}
