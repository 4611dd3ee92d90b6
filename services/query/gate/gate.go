// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gate decides whether a query belongs to the poultry production
// domain before any expensive pipeline work runs.
//
// The decision escalates through three stages, each strictly cheaper than
// the next:
//
//	Keyword   — lexicon membership test, no I/O.
//	Classifier — external domain classifier, accepted only above a
//	             confidence threshold.
//	Search    — lexical knowledge-base probe: if the KB has relevant
//	            content, the query is answerable and therefore in domain.
//
// A confident earlier stage short-circuits the later ones. Decisions that
// required an external call are cached in BadgerDB keyed by the query and
// the lexicon hash, so a lexicon update invalidates the cache without an
// explicit flush.
package gate

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/config"
)

var gateTracer = otel.Tracer("avicore.query.gate")

// =============================================================================
// Metrics
// =============================================================================

var (
	gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avicore",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Total gate decisions by stage and outcome",
	}, []string{"stage", "outcome"})

	gateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avicore",
		Subsystem: "gate",
		Name:      "latency_seconds",
		Help:      "Gate decision latency including external calls",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})

	gateCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "avicore",
		Subsystem: "gate",
		Name:      "cache_hits_total",
		Help:      "Gate decisions served from the BadgerDB cache",
	})
)

// =============================================================================
// Decision Types
// =============================================================================

// Stage names which check produced the decision.
type Stage string

const (
	StageKeyword    Stage = "keyword"
	StageClassifier Stage = "classifier"
	StageSearch     Stage = "search"
	StageCache      Stage = "cache"
)

// Reason codes attached to every decision.
const (
	ReasonDomainKeyword      = "domain_keyword_match"
	ReasonClassifierAccept   = "classifier_accept"
	ReasonClassifierReject   = "classifier_reject"
	ReasonSearchRelevant     = "search_relevant_content"
	ReasonSearchLowRelevance = "search_low_relevance"
	ReasonCannotVerify       = "cannot_verify_domain"
)

// Decision is the gate's verdict on one query.
type Decision struct {
	// Accepted reports whether the query may enter the pipeline.
	Accepted bool `json:"accepted"`
	// Stage is the check that settled the decision.
	Stage Stage `json:"stage"`
	// Confidence is the deciding stage's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Reason is a stable machine-readable code.
	Reason string `json:"reason"`
}

// =============================================================================
// Gate
// =============================================================================

// Gate runs the escalating domain-relevance check.
//
// # Description
//
// The classifier and search service are optional: a nil classifier skips
// straight to the search probe, and with both unavailable the gate
// rejects with ReasonCannotVerify rather than letting unverifiable
// queries through. The cache is also optional; nil disables it.
//
// # Thread Safety
//
// Safe for concurrent use.
type Gate struct {
	classifier collab.DomainClassifier
	search     collab.SearchService
	cache      *DecisionCache
	logger     *slog.Logger
}

// NewGate creates a Gate. classifier, search, and cache may each be nil.
func NewGate(classifier collab.DomainClassifier, search collab.SearchService, cache *DecisionCache, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{classifier: classifier, search: search, cache: cache, logger: logger}
}

// Check decides whether the query is in domain.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - query: Raw query text.
//   - language: Detected language hint, may be empty.
//   - hasEntities: Whether extraction found any lexicon entity. A lexicon
//     hit is domain evidence the keyword stage counts.
//
// Outputs:
//   - Decision: Never zero-valued; Reason is always set.
func (g *Gate) Check(ctx context.Context, query, language string, hasEntities bool) Decision {
	ctx, span := gateTracer.Start(ctx, "gate.Gate.Check")
	defer span.End()
	start := time.Now()

	d := g.check(ctx, query, language, hasEntities)

	gateLatency.Observe(time.Since(start).Seconds())
	gateDecisionsTotal.WithLabelValues(string(d.Stage), outcomeLabel(d.Accepted)).Inc()
	span.SetAttributes(
		attribute.Bool("accepted", d.Accepted),
		attribute.String("stage", string(d.Stage)),
		attribute.String("reason", d.Reason),
	)
	return d
}

func (g *Gate) check(ctx context.Context, query, language string, hasEntities bool) Decision {
	// Stage 1: lexicon membership. Cheaper than the cache lookup, so it
	// runs first and its decisions are never cached.
	if hasEntities || g.matchesDomainKeyword(ctx, query) {
		return Decision{Accepted: true, Stage: StageKeyword, Confidence: 1.0, Reason: ReasonDomainKeyword}
	}

	cfg, err := config.GetPipelineConfig(ctx)
	if err != nil {
		g.logger.Error("gate config unavailable", slog.String("error", err.Error()))
		return Decision{Accepted: false, Stage: StageClassifier, Reason: ReasonCannotVerify}
	}

	if g.cache != nil {
		if d, ok := g.cache.Load(ctx, query); ok {
			gateCacheHitsTotal.Inc()
			d.Stage = StageCache
			return d
		}
	}

	d, decided := g.classify(ctx, query, language, cfg)
	if !decided {
		d = g.searchProbe(ctx, query, cfg)
	}

	// Cannot-verify means the backends were down, not that the query is
	// out of domain. Caching it would keep rejecting the query for the
	// full TTL after the backends recover.
	if g.cache != nil && d.Reason != ReasonCannotVerify {
		g.cache.Store(ctx, query, d)
	}
	return d
}

// classify runs the external classifier stage. decided is false when the
// classifier was unavailable or not confident enough to settle the
// question, in which case the search probe takes over.
func (g *Gate) classify(ctx context.Context, query, language string, cfg *config.PipelineConfig) (Decision, bool) {
	if g.classifier == nil {
		return Decision{}, false
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Gate.ClassifierTimeout.Std())
	defer cancel()

	verdict, err := g.classifier.ClassifyDomain(cctx, query, language)
	if err != nil {
		g.logger.Warn("domain classifier failed, falling back to search",
			slog.String("error", err.Error()))
		return Decision{}, false
	}
	if verdict.Confidence < cfg.Gate.FastConfidenceThreshold {
		return Decision{}, false
	}

	reason := ReasonClassifierAccept
	if !verdict.InDomain {
		reason = ReasonClassifierReject
	}
	return Decision{
		Accepted:   verdict.InDomain,
		Stage:      StageClassifier,
		Confidence: verdict.Confidence,
		Reason:     reason,
	}, true
}

// searchProbe asks the knowledge base whether it holds content relevant
// to the query. Relevant content means the query is answerable here, so
// it is in domain even if the classifier could not tell.
func (g *Gate) searchProbe(ctx context.Context, query string, cfg *config.PipelineConfig) Decision {
	if g.search == nil {
		return Decision{Accepted: false, Stage: StageSearch, Reason: ReasonCannotVerify}
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.Gate.SearchTimeout.Std())
	defer cancel()

	hits, err := g.search.Search(sctx, query, cfg.Gate.SearchTopK, collab.SearchModeLexical)
	if err != nil {
		g.logger.Warn("gate search probe failed", slog.String("error", err.Error()))
		return Decision{Accepted: false, Stage: StageSearch, Reason: ReasonCannotVerify}
	}

	best := 0.0
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	if best >= cfg.Gate.SearchRelevanceThreshold {
		return Decision{Accepted: true, Stage: StageSearch, Confidence: best, Reason: ReasonSearchRelevant}
	}
	return Decision{Accepted: false, Stage: StageSearch, Confidence: best, Reason: ReasonSearchLowRelevance}
}

// matchesDomainKeyword scans the lowered query for any configured domain
// keyword with word-boundary semantics.
func (g *Gate) matchesDomainKeyword(ctx context.Context, query string) bool {
	lex, err := config.GetLexicon(ctx)
	if err != nil {
		return false
	}
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	// Collapse runs left behind by stripped punctuation so multi-word
	// keywords still match ("feed, conversion" -> "feed conversion").
	padded := " " + strings.Join(strings.Fields(b.String()), " ") + " "
	for _, kw := range lex.DomainKeywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}

func outcomeLabel(accepted bool) string {
	if accepted {
		return "accept"
	}
	return "reject"
}
