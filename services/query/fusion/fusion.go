// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fusion merges vector and lexical retrieval into one ranked
// document list using reciprocal rank fusion, then reranks the head of
// the fused list with a cross-encoder.
//
// Engine scores never mix raw relevance values: vector distances and BM25
// scores live on different scales, so fusion works on ranks alone —
// 1/(k + rank) summed over the lists a candidate appears in.
package fusion

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/config"
	"github.com/AvicoreAI/avicore/services/query/entities"
)

var fusionTracer = otel.Tracer("avicore.query.fusion")

var (
	fusionRetrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avicore",
		Subsystem: "fusion",
		Name:      "retrievals_total",
		Help:      "Retrieval fan-out outcomes by mode and status",
	}, []string{"mode", "status"})

	fusionDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "avicore",
		Subsystem: "fusion",
		Name:      "degraded_total",
		Help:      "Fusions that proceeded with a single retrieval list",
	})

	fusionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avicore",
		Subsystem: "fusion",
		Name:      "latency_seconds",
		Help:      "End-to-end fusion latency including retrieval and rerank",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// =============================================================================
// Result Types
// =============================================================================

// Candidate is one fused retrieval candidate before reranking.
type Candidate struct {
	collab.SearchHit
	// FusedScore is the RRF sum plus any metadata boost.
	FusedScore float64
	// VectorRank and LexicalRank are 1-based positions in the source
	// lists, 0 when absent from that list.
	VectorRank  int
	LexicalRank int
}

// Result is the retrieval outcome handed to generation.
type Result struct {
	// Docs is the final reranked document list, best first. Empty when
	// NoEvidence is true.
	Docs []collab.RankedHit `json:"docs,omitempty"`
	// Degraded is true when one retrieval mode failed and fusion
	// proceeded on the surviving list alone.
	Degraded bool `json:"degraded"`
	// NoEvidence is true when no candidates could be retrieved at all.
	// Generation must say so instead of inventing sources.
	NoEvidence bool `json:"no_evidence"`
	// FailureKind carries the collaborator error kind when NoEvidence
	// resulted from service failure rather than genuinely empty indexes.
	FailureKind collab.ErrorKind `json:"failure_kind,omitempty"`
}

// =============================================================================
// Engine
// =============================================================================

// Engine runs the retrieve → fuse → boost → rerank chain.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	search   collab.SearchService
	reranker collab.Reranker
	logger   *slog.Logger
}

// NewEngine creates an Engine. reranker may be nil, in which case fused
// order is final.
func NewEngine(search collab.SearchService, reranker collab.Reranker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{search: search, reranker: reranker, logger: logger}
}

// Retrieve produces the final document list for a knowledge-base query.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - query: The (prefix-stripped) query text.
//   - ents: Extracted entities; a recognized genetic line boosts
//     candidates tagged with it.
func (e *Engine) Retrieve(ctx context.Context, query string, ents *entities.ExtractedEntities) Result {
	ctx, span := fusionTracer.Start(ctx, "fusion.Engine.Retrieve")
	defer span.End()
	start := time.Now()
	defer func() { fusionLatency.Observe(time.Since(start).Seconds()) }()

	cfg, err := config.GetPipelineConfig(ctx)
	if err != nil {
		e.logger.Error("fusion config unavailable", slog.String("error", err.Error()))
		return Result{NoEvidence: true, FailureKind: collab.KindUnavailable}
	}

	vector, lexical, failures := e.fanOut(ctx, query, cfg)
	if failures == 2 {
		span.SetAttributes(attribute.Bool("no_evidence", true))
		return Result{NoEvidence: true, FailureKind: collab.KindUnavailable}
	}

	candidates := FuseRRF(vector, lexical, cfg.Fusion.RRFK)
	if ents != nil && ents.Line.Present() {
		applyBreedBoost(candidates, ents.Line.Value, cfg.Fusion.BreedBoost)
	}
	sortCandidates(candidates)

	if len(candidates) == 0 {
		// Both calls succeeded but the indexes had nothing. Distinct
		// from service failure: FailureKind stays empty.
		return Result{NoEvidence: true, Degraded: failures == 1}
	}

	head := candidates
	if len(head) > cfg.Fusion.FuseTopN {
		head = head[:cfg.Fusion.FuseTopN]
	}

	res := Result{
		Docs:     e.rerank(ctx, query, head, cfg),
		Degraded: failures == 1,
	}
	if res.Degraded {
		fusionDegradedTotal.Inc()
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("final", len(res.Docs)),
		attribute.Bool("degraded", res.Degraded),
	)
	return res
}

// fanOut runs the vector and lexical searches in parallel, each under its
// own timeout. A failed mode yields a nil list and counts as a failure;
// it never cancels the sibling search.
func (e *Engine) fanOut(ctx context.Context, query string, cfg *config.PipelineConfig) (vector, lexical []collab.SearchHit, failures int) {
	var vectorErr, lexicalErr error

	g := new(errgroup.Group)
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(ctx, cfg.Fusion.SearchTimeout.Std())
		defer cancel()
		vector, vectorErr = e.search.Search(sctx, query, cfg.Fusion.RetrieveTopK, collab.SearchModeVector)
		return nil
	})
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(ctx, cfg.Fusion.SearchTimeout.Std())
		defer cancel()
		lexical, lexicalErr = e.search.Search(sctx, query, cfg.Fusion.RetrieveTopK, collab.SearchModeLexical)
		return nil
	})
	_ = g.Wait()

	for mode, err := range map[string]error{"vector": vectorErr, "lexical": lexicalErr} {
		status := "ok"
		if err != nil {
			status = "error"
			failures++
			e.logger.Warn("retrieval mode failed",
				slog.String("mode", mode),
				slog.String("error", err.Error()))
		}
		fusionRetrievalsTotal.WithLabelValues(mode, status).Inc()
	}
	if vectorErr != nil {
		vector = nil
	}
	if lexicalErr != nil {
		lexical = nil
	}
	return vector, lexical, failures
}

// rerank sends the fused head to the cross-encoder. On failure the fused
// order stands, with the fused score doubling as the rank score.
func (e *Engine) rerank(ctx context.Context, query string, head []Candidate, cfg *config.PipelineConfig) []collab.RankedHit {
	keep := cfg.Fusion.FinalTopM
	if keep > len(head) {
		keep = len(head)
	}

	hits := make([]collab.SearchHit, len(head))
	for i, c := range head {
		hits[i] = c.SearchHit
	}

	if e.reranker != nil {
		rctx, cancel := context.WithTimeout(ctx, cfg.Fusion.RerankTimeout.Std())
		defer cancel()
		ranked, err := e.reranker.Rerank(rctx, query, hits, keep)
		if err == nil {
			return ranked
		}
		e.logger.Warn("rerank failed, keeping fused order", slog.String("error", err.Error()))
	}

	out := make([]collab.RankedHit, keep)
	for i := 0; i < keep; i++ {
		out[i] = collab.RankedHit{SearchHit: head[i].SearchHit, RerankScore: head[i].FusedScore}
	}
	return out
}

// =============================================================================
// Reciprocal Rank Fusion
// =============================================================================

// FuseRRF merges two ranked lists with reciprocal rank fusion. Every
// candidate present in at least one list appears in the output; a
// candidate in both lists sums its contributions. Output order is the
// deterministic construction order (vector list first, then lexical-only
// candidates), NOT score order — callers sort.
func FuseRRF(vector, lexical []collab.SearchHit, k int) []Candidate {
	if k <= 0 {
		k = 60
	}

	byID := make(map[string]int, len(vector)+len(lexical))
	out := make([]Candidate, 0, len(vector)+len(lexical))

	for i, hit := range vector {
		rank := i + 1
		out = append(out, Candidate{
			SearchHit:  hit,
			FusedScore: 1.0 / float64(k+rank),
			VectorRank: rank,
		})
		byID[hit.ID] = len(out) - 1
	}
	for i, hit := range lexical {
		rank := i + 1
		if idx, seen := byID[hit.ID]; seen {
			out[idx].FusedScore += 1.0 / float64(k+rank)
			out[idx].LexicalRank = rank
			continue
		}
		out = append(out, Candidate{
			SearchHit:   hit,
			FusedScore:  1.0 / float64(k+rank),
			LexicalRank: rank,
		})
		byID[hit.ID] = len(out) - 1
	}
	return out
}

// applyBreedBoost adds the configured boost to candidates whose metadata
// names the query's genetic line, so line-specific documents outrank
// generic ones at equal fused score.
func applyBreedBoost(candidates []Candidate, line string, boost float64) {
	if line == "" || boost == 0 {
		return
	}
	for i := range candidates {
		if candidates[i].Breed == line {
			candidates[i].FusedScore += boost
		}
	}
}

// sortCandidates orders by fused score descending. The sort is stable, so
// exact ties keep the construction order from FuseRRF.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FusedScore > candidates[j].FusedScore
	})
}
