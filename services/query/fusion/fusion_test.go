// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/entities"
)

// =============================================================================
// Fakes
// =============================================================================

type modalSearch struct {
	vector     []collab.SearchHit
	lexical    []collab.SearchHit
	vectorErr  error
	lexicalErr error
}

func (m *modalSearch) Search(_ context.Context, _ string, topK int, mode collab.SearchMode) ([]collab.SearchHit, error) {
	switch mode {
	case collab.SearchModeVector:
		if m.vectorErr != nil {
			return nil, m.vectorErr
		}
		return clampHits(m.vector, topK), nil
	case collab.SearchModeLexical:
		if m.lexicalErr != nil {
			return nil, m.lexicalErr
		}
		return clampHits(m.lexical, topK), nil
	}
	return nil, fmt.Errorf("unexpected mode %q", mode)
}

func clampHits(hits []collab.SearchHit, topK int) []collab.SearchHit {
	if len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

type passthroughReranker struct {
	calls     int
	lastCount int
	err       error
}

func (p *passthroughReranker) Rerank(_ context.Context, _ string, candidates []collab.SearchHit, keep int) ([]collab.RankedHit, error) {
	p.calls++
	p.lastCount = len(candidates)
	if p.err != nil {
		return nil, p.err
	}
	if keep > len(candidates) {
		keep = len(candidates)
	}
	out := make([]collab.RankedHit, keep)
	for i := 0; i < keep; i++ {
		out[i] = collab.RankedHit{SearchHit: candidates[i], RerankScore: 1 - float64(i)*0.1}
	}
	return out, nil
}

func hit(id string) collab.SearchHit {
	return collab.SearchHit{ID: id, Content: "content " + id}
}

func hits(ids ...string) []collab.SearchHit {
	out := make([]collab.SearchHit, len(ids))
	for i, id := range ids {
		out[i] = hit(id)
	}
	return out
}

// =============================================================================
// FuseRRF Tests
// =============================================================================

func TestFuseRRF_NoCandidateDropped(t *testing.T) {
	vector := hits("a", "b", "c")
	lexical := hits("b", "d")

	fused := FuseRRF(vector, lexical, 60)

	require.Len(t, fused, 4, "every candidate in either list must survive fusion")
	ids := make(map[string]bool)
	for _, c := range fused {
		ids[c.ID] = true
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.True(t, ids[id], "candidate %s missing from fused output", id)
	}
}

func TestFuseRRF_OverlapSumsContributions(t *testing.T) {
	vector := hits("a", "b")
	lexical := hits("b", "a")

	fused := FuseRRF(vector, lexical, 60)
	require.Len(t, fused, 2)

	// a: vector rank 1, lexical rank 2. b: vector rank 2, lexical rank 1.
	wantA := 1.0/61.0 + 1.0/62.0
	for _, c := range fused {
		assert.InDelta(t, wantA, c.FusedScore, 1e-12, "symmetric ranks must produce equal scores")
	}
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.Equal(t, 2, fused[0].LexicalRank)
}

func TestFuseRRF_SingleListStillScores(t *testing.T) {
	fused := FuseRRF(hits("a", "b"), nil, 60)

	require.Len(t, fused, 2)
	assert.InDelta(t, 1.0/61.0, fused[0].FusedScore, 1e-12)
	assert.Zero(t, fused[0].LexicalRank)
}

func TestSortCandidates_StableOnTies(t *testing.T) {
	// Symmetric ranks make a and b tie exactly; construction order
	// (vector list first) must survive the sort.
	fused := FuseRRF(hits("a", "b"), hits("b", "a"), 60)
	sortCandidates(fused)

	require.Equal(t, "a", fused[0].ID)
	require.Equal(t, "b", fused[1].ID)
}

func TestBreedBoost_BreaksTies(t *testing.T) {
	fused := FuseRRF(hits("a", "b"), hits("b", "a"), 60)
	for i := range fused {
		if fused[i].ID == "b" {
			fused[i].Breed = "ross_308"
		}
	}

	applyBreedBoost(fused, "ross_308", 0.02)
	sortCandidates(fused)

	assert.Equal(t, "b", fused[0].ID, "boosted line-specific document must win the tie")
	assert.True(t, fused[0].FusedScore > fused[1].FusedScore)
}

func TestFuseRRF_MathMatchesDefinition(t *testing.T) {
	fused := FuseRRF(hits("a"), hits("a"), 10)

	require.Len(t, fused, 1)
	want := 1.0/11.0 + 1.0/11.0
	assert.True(t, math.Abs(fused[0].FusedScore-want) < 1e-12)
}

// =============================================================================
// Engine Tests
// =============================================================================

func TestEngine_HappyPath(t *testing.T) {
	search := &modalSearch{vector: hits("a", "b", "c"), lexical: hits("c", "d")}
	reranker := &passthroughReranker{}
	e := NewEngine(search, reranker, nil)

	res := e.Retrieve(context.Background(), "broiler ventilation", nil)

	require.False(t, res.NoEvidence)
	require.False(t, res.Degraded)
	require.NotEmpty(t, res.Docs)
	assert.Equal(t, 1, reranker.calls)
	// c appears in both lists and must lead the fused order the reranker saw.
	assert.Equal(t, 4, reranker.lastCount)
}

func TestEngine_DegradesToSingleList(t *testing.T) {
	search := &modalSearch{
		vectorErr: collab.NewServiceError("kb_search", collab.KindUnavailable, errors.New("down")),
		lexical:   hits("a", "b"),
	}
	e := NewEngine(search, &passthroughReranker{}, nil)

	res := e.Retrieve(context.Background(), "broiler ventilation", nil)

	require.False(t, res.NoEvidence, "one surviving list must still produce evidence")
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Docs)
}

func TestEngine_BothModesDownIsNoEvidence(t *testing.T) {
	search := &modalSearch{
		vectorErr:  errors.New("down"),
		lexicalErr: errors.New("down"),
	}
	e := NewEngine(search, &passthroughReranker{}, nil)

	res := e.Retrieve(context.Background(), "broiler ventilation", nil)

	require.True(t, res.NoEvidence)
	assert.Equal(t, collab.KindUnavailable, res.FailureKind)
	assert.Empty(t, res.Docs)
}

func TestEngine_EmptyIndexesIsNoEvidenceWithoutFailure(t *testing.T) {
	search := &modalSearch{}
	e := NewEngine(search, &passthroughReranker{}, nil)

	res := e.Retrieve(context.Background(), "broiler ventilation", nil)

	require.True(t, res.NoEvidence)
	assert.Empty(t, string(res.FailureKind), "empty indexes are not a service failure")
}

func TestEngine_RerankFailureKeepsFusedOrder(t *testing.T) {
	search := &modalSearch{vector: hits("a", "b"), lexical: hits("b", "a")}
	reranker := &passthroughReranker{err: errors.New("down")}
	e := NewEngine(search, reranker, nil)

	res := e.Retrieve(context.Background(), "broiler ventilation", nil)

	require.False(t, res.NoEvidence)
	require.NotEmpty(t, res.Docs)
	assert.Equal(t, "a", res.Docs[0].ID, "fused order must stand when rerank fails")
}

func TestEngine_LineBoostReordersFinalDocs(t *testing.T) {
	search := &modalSearch{vector: hits("generic", "specific"), lexical: hits("specific", "generic")}
	search.vector[1].Breed = "cobb_500"
	search.lexical[0].Breed = "cobb_500"
	e := NewEngine(search, nil, nil)

	ents := &entities.ExtractedEntities{
		Line: entities.Field{Value: "cobb_500", Confidence: 0.9},
	}
	res := e.Retrieve(context.Background(), "cobb 500 stocking density", ents)

	require.NotEmpty(t, res.Docs)
	assert.Equal(t, "specific", res.Docs[0].ID)
}
