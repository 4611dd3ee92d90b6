// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/AvicoreAI/avicore/services/query/collab"
	badgerstore "github.com/AvicoreAI/avicore/services/query/storage/badger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeClassifier struct {
	calls   atomic.Int64
	verdict collab.DomainVerdict
	err     error
}

func (f *fakeClassifier) ClassifyDomain(_ context.Context, _, _ string) (collab.DomainVerdict, error) {
	f.calls.Add(1)
	if f.err != nil {
		return collab.DomainVerdict{}, f.err
	}
	return f.verdict, nil
}

type fakeSearch struct {
	calls atomic.Int64
	hits  []collab.SearchHit
	err   error
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ int, _ collab.SearchMode) ([]collab.SearchHit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

// =============================================================================
// Gate Tests
// =============================================================================

func TestGate_KeywordShortCircuit(t *testing.T) {
	classifier := &fakeClassifier{}
	search := &fakeSearch{}
	g := NewGate(classifier, search, nil, nil)

	// "broiler" is a domain keyword, so neither external service may run.
	d := g.Check(context.Background(), "what broiler house size do I need?", "en", false)

	if !d.Accepted {
		t.Fatal("expected accept")
	}
	if d.Stage != StageKeyword {
		t.Errorf("expected keyword stage, got %q", d.Stage)
	}
	if classifier.calls.Load() != 0 || search.calls.Load() != 0 {
		t.Errorf("keyword accept must not call external services: classifier=%d search=%d",
			classifier.calls.Load(), search.calls.Load())
	}
}

func TestGate_EntitiesShortCircuit(t *testing.T) {
	classifier := &fakeClassifier{}
	g := NewGate(classifier, &fakeSearch{}, nil, nil)

	d := g.Check(context.Background(), "anything at all", "en", true)

	if !d.Accepted || d.Stage != StageKeyword {
		t.Fatalf("extracted entities must accept at the keyword stage, got %+v", d)
	}
	if classifier.calls.Load() != 0 {
		t.Error("keyword accept must not call the classifier")
	}
}

func TestGate_ConfidentClassifierSkipsSearch(t *testing.T) {
	classifier := &fakeClassifier{verdict: collab.DomainVerdict{InDomain: false, Confidence: 0.97}}
	search := &fakeSearch{}
	g := NewGate(classifier, search, nil, nil)

	d := g.Check(context.Background(), "write me a poem about the sea", "en", false)

	if d.Accepted {
		t.Fatal("expected reject")
	}
	if d.Stage != StageClassifier || d.Reason != ReasonClassifierReject {
		t.Errorf("unexpected decision %+v", d)
	}
	if search.calls.Load() != 0 {
		t.Error("confident classifier must short-circuit the search probe")
	}
}

func TestGate_UncertainClassifierFallsToSearch(t *testing.T) {
	classifier := &fakeClassifier{verdict: collab.DomainVerdict{InDomain: true, Confidence: 0.5}}
	search := &fakeSearch{hits: []collab.SearchHit{{ID: "doc1", Content: "x", Score: 0.85}}}
	g := NewGate(classifier, search, nil, nil)

	d := g.Check(context.Background(), "how long until they reach target", "en", false)

	if !d.Accepted {
		t.Fatalf("expected accept via search, got %+v", d)
	}
	if d.Stage != StageSearch || d.Reason != ReasonSearchRelevant {
		t.Errorf("unexpected decision %+v", d)
	}
	if search.calls.Load() != 1 {
		t.Errorf("expected one search call, got %d", search.calls.Load())
	}
}

func TestGate_SearchLowRelevanceRejects(t *testing.T) {
	classifier := &fakeClassifier{verdict: collab.DomainVerdict{InDomain: true, Confidence: 0.4}}
	search := &fakeSearch{hits: []collab.SearchHit{{ID: "doc1", Content: "x", Score: 0.2}}}
	g := NewGate(classifier, search, nil, nil)

	d := g.Check(context.Background(), "tell me about trains", "en", false)

	if d.Accepted {
		t.Fatal("expected reject")
	}
	if d.Reason != ReasonSearchLowRelevance {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestGate_ClassifierDownFallsToSearch(t *testing.T) {
	classifier := &fakeClassifier{err: collab.NewServiceError("domain_classifier", collab.KindUnavailable, errors.New("refused"))}
	search := &fakeSearch{hits: []collab.SearchHit{{ID: "doc1", Content: "x", Score: 0.9}}}
	g := NewGate(classifier, search, nil, nil)

	d := g.Check(context.Background(), "how long until they reach target", "en", false)

	if !d.Accepted || d.Stage != StageSearch {
		t.Errorf("expected accept via search after classifier failure, got %+v", d)
	}
}

func TestGate_BothDownRejectsCannotVerify(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("down")}
	search := &fakeSearch{err: errors.New("down")}
	g := NewGate(classifier, search, nil, nil)

	d := g.Check(context.Background(), "how long until they reach target", "en", false)

	if d.Accepted {
		t.Fatal("unverifiable queries must be rejected")
	}
	if d.Reason != ReasonCannotVerify {
		t.Errorf("expected cannot_verify_domain, got %q", d.Reason)
	}
}

func TestGate_NilCollaborators(t *testing.T) {
	g := NewGate(nil, nil, nil, nil)

	d := g.Check(context.Background(), "how long until they reach target", "en", false)

	if d.Accepted || d.Reason != ReasonCannotVerify {
		t.Errorf("nil collaborators must reject with cannot_verify_domain, got %+v", d)
	}
}

// =============================================================================
// DecisionCache Tests
// =============================================================================

func TestGate_CacheShortCircuits(t *testing.T) {
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer db.Close()

	classifier := &fakeClassifier{verdict: collab.DomainVerdict{InDomain: false, Confidence: 0.95}}
	cache := NewDecisionCache(db, 0, nil)
	g := NewGate(classifier, &fakeSearch{}, cache, nil)

	query := "write me a poem about the sea"
	first := g.Check(context.Background(), query, "en", false)
	if first.Accepted {
		t.Fatal("expected reject")
	}
	if classifier.calls.Load() != 1 {
		t.Fatalf("expected one classifier call, got %d", classifier.calls.Load())
	}

	second := g.Check(context.Background(), query, "en", false)
	if second.Accepted != first.Accepted || second.Reason != first.Reason {
		t.Errorf("cached decision differs: %+v vs %+v", second, first)
	}
	if second.Stage != StageCache {
		t.Errorf("expected cache stage, got %q", second.Stage)
	}
	if classifier.calls.Load() != 1 {
		t.Errorf("cache hit must not call the classifier again, got %d calls", classifier.calls.Load())
	}
}

func TestDecisionCache_MissOnUnknownQuery(t *testing.T) {
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer db.Close()

	cache := NewDecisionCache(db, 0, nil)
	if _, ok := cache.Load(context.Background(), "never stored"); ok {
		t.Error("expected miss for unknown query")
	}
}

func TestGate_MultiWordKeywordAcrossPunctuation(t *testing.T) {
	classifier := &fakeClassifier{}
	g := NewGate(classifier, &fakeSearch{}, nil, nil)

	// Stripped punctuation must not leave double spaces that break the
	// padded multi-word keyword match.
	d := g.Check(context.Background(), "improve feed, conversion this cycle", "en", false)
	if !d.Accepted || d.Stage != StageKeyword {
		t.Fatalf("expected keyword acceptance, got %+v", d)
	}
	if classifier.calls.Load() != 0 {
		t.Errorf("keyword stage must not reach the classifier, got %d calls", classifier.calls.Load())
	}
}

func TestGate_BackendOutageNotCached(t *testing.T) {
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer db.Close()

	classifier := &fakeClassifier{err: errors.New("connection refused")}
	search := &fakeSearch{err: errors.New("connection refused")}
	cache := NewDecisionCache(db, 0, nil)
	g := NewGate(classifier, search, cache, nil)

	query := "write me a poem about the sea"
	first := g.Check(context.Background(), query, "en", false)
	if first.Accepted || first.Reason != ReasonCannotVerify {
		t.Fatalf("expected cannot-verify reject, got %+v", first)
	}

	// Backends come back. The outage decision must not be served from
	// the cache; the classifier gets consulted again.
	classifier.err = nil
	classifier.verdict = collab.DomainVerdict{InDomain: true, Confidence: 0.95}

	second := g.Check(context.Background(), query, "en", false)
	if !second.Accepted || second.Stage != StageClassifier {
		t.Fatalf("expected a fresh classifier acceptance, got %+v", second)
	}
	if classifier.calls.Load() != 2 {
		t.Errorf("expected the classifier to be consulted again, got %d calls", classifier.calls.Load())
	}
}
