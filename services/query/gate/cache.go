// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

// =============================================================================
// DecisionCache — Gate Decision Persistence
// =============================================================================
//
// Classifier and search-probe decisions cost an external round trip each,
// but the same out-of-lexicon queries recur constantly ("hello", "what can
// you do", common off-topic smalltalk). This cache persists those
// decisions in BadgerDB between service restarts.
//
// Design choices:
//
//	1. Query + lexicon hash as cache key: SHA256(normalized query, lexicon
//	   hash). A lexicon update changes the hash, so every cached decision
//	   made under the old vocabulary becomes unreachable and expires via
//	   TTL. No explicit invalidation API is needed.
//
//	2. BadgerDB native TTL: expiry is enforced by Badger's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which the
//	   cache treats as a miss.
//
//	3. Keyword-stage decisions are NOT cached: the lexicon test is cheaper
//	   than the cache lookup itself.
//
// Storage layout:
//
//	gate/dec/v1/{sha256}  →  gob-encoded cachedDecision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AvicoreAI/avicore/services/query/config"
	badgerstore "github.com/AvicoreAI/avicore/services/query/storage/badger"
)

// decisionCacheDefaultTTL keeps decisions for a day. Long enough to absorb
// repeated smalltalk, short enough that classifier model updates take
// effect within a shift.
const decisionCacheDefaultTTL = 24 * time.Hour

// decisionKeyPrefix is versioned to allow future format changes without
// collision.
const decisionKeyPrefix = "gate/dec/v1/"

// errCacheMiss distinguishes "key not found" from a storage error.
var errCacheMiss = errors.New("cache miss")

// cachedDecision is the gob wire form of a Decision.
type cachedDecision struct {
	Accepted   bool
	Stage      string
	Confidence float64
	Reason     string
}

// DecisionCache persists gate decisions across service restarts.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-call.
type DecisionCache struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewDecisionCache creates a cache backed by the given DB instance.
//
// The DB must be opened by the caller (typically in main) and must not be
// closed while the cache is in use; the cache does not own the DB.
//
// Inputs:
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Lifetime per entry. Pass 0 for the default (24 hours).
//   - logger: Logger for hit/miss diagnostics. May be nil.
func NewDecisionCache(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *DecisionCache {
	if db == nil {
		panic("NewDecisionCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = decisionCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionCache{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a cached decision for the query under the current
// lexicon. ok is false on miss or on any storage failure; the gate then
// just re-derives the decision.
func (c *DecisionCache) Load(ctx context.Context, query string) (Decision, bool) {
	key := c.decisionKey(ctx, query)

	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		return Decision{}, false
	}
	if err != nil {
		c.logger.Warn("gate cache load failed", slog.String("error", err.Error()))
		return Decision{}, false
	}

	var cached cachedDecision
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cached); err != nil {
		c.logger.Warn("gate cache decode failed", slog.String("error", err.Error()))
		return Decision{}, false
	}

	return Decision{
		Accepted:   cached.Accepted,
		Stage:      Stage(cached.Stage),
		Confidence: cached.Confidence,
		Reason:     cached.Reason,
	}, true
}

// Store persists a decision with the configured TTL. Failures are logged
// and swallowed; the cache is an optimization, never a dependency.
func (c *DecisionCache) Store(ctx context.Context, query string, d Decision) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(cachedDecision{
		Accepted:   d.Accepted,
		Stage:      string(d.Stage),
		Confidence: d.Confidence,
		Reason:     d.Reason,
	})
	if err != nil {
		c.logger.Warn("gate cache encode failed", slog.String("error", err.Error()))
		return
	}

	key := c.decisionKey(ctx, query)
	err = c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, buf.Bytes()).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn("gate cache save failed", slog.String("error", err.Error()))
	}
}

// decisionKey hashes the normalized query together with the active
// lexicon hash, so a vocabulary change orphans old entries.
func (c *DecisionCache) decisionKey(ctx context.Context, query string) []byte {
	lexHash := ""
	if lex, err := config.GetLexicon(ctx); err == nil {
		lexHash = lex.Hash()
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", strings.Join(strings.Fields(strings.ToLower(query)), " "), lexHash)
	return []byte(decisionKeyPrefix + hex.EncodeToString(h.Sum(nil)))
}
