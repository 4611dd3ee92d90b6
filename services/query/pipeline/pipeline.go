// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates one query's journey from raw text to a
// routed result payload.
//
// Stage order is fixed: language detection, entity extraction, context
// merge, the domain gate, intent classification, completeness scoring,
// routing, then exactly one destination executor. The gate short-circuits
// everything behind it on a rejection; no later stage runs speculatively
// before an earlier stage's outcome is known. Each request works against
// a single lexicon snapshot taken at the start, so a hot reload never
// mixes old and new vocabulary within one request.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/calc"
	"github.com/AvicoreAI/avicore/services/query/classify"
	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/config"
	"github.com/AvicoreAI/avicore/services/query/entities"
	"github.com/AvicoreAI/avicore/services/query/fusion"
	"github.com/AvicoreAI/avicore/services/query/gate"
	"github.com/AvicoreAI/avicore/services/query/route"
	"github.com/AvicoreAI/avicore/services/query/validate"
)

var pipelineTracer = otel.Tracer("avicore.query.pipeline")

var (
	pipelineRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avicore",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Resolved requests by final destination",
	}, []string{"destination"})

	pipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avicore",
		Subsystem: "pipeline",
		Name:      "latency_seconds",
		Help:      "End-to-end pipeline latency",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// =============================================================================
// Payload Types
// =============================================================================

// Request is one query to resolve.
type Request struct {
	Query string
	// SessionID links follow-up turns; empty disables context merge.
	SessionID string
}

// StructuredResult is a performance-standard lookup outcome.
type StructuredResult struct {
	Found  bool    `json:"found"`
	Value  float64 `json:"value,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	Source string  `json:"source,omitempty"`
	// FailureReason explains a miss readably ("no table for ...").
	FailureReason string `json:"failure_reason,omitempty"`
}

// Rejection explains why a query was refused.
type Rejection struct {
	Reason string `json:"reason"`
}

// Response is the single structured payload handed to generation. The
// routing decision plus the resolved entities are always present; exactly
// one of Documents, Structured, Calculation, or Rejection is set,
// matching the destination.
type Response struct {
	Query          string                      `json:"query"`
	Language       string                      `json:"language"`
	Entities       *entities.ExtractedEntities `json:"entities"`
	Classification *classify.Result            `json:"classification"`
	Gate           gate.Decision               `json:"gate"`
	Validation     validate.Result             `json:"validation"`
	Routing        route.Decision              `json:"routing"`

	Documents   *fusion.Result    `json:"documents,omitempty"`
	Structured  *StructuredResult `json:"structured,omitempty"`
	Calculation *calc.Outcome     `json:"calculation,omitempty"`
	Rejection   *Rejection        `json:"rejection,omitempty"`
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline wires the stages together. All collaborators are injected;
// tests substitute fakes for any of them.
//
// Thread Safety: Safe for concurrent use; each request is independent.
type Pipeline struct {
	detector     collab.LanguageDetector
	conversation collab.ConversationStore
	classifier   *classify.Classifier
	gate         *gate.Gate
	scorer       *validate.Scorer
	router       *route.Router
	fusion       *fusion.Engine
	metrics      collab.MetricsStore
	calc         *calc.Adapter
	logger       *slog.Logger
}

// Options carries the pipeline's dependencies.
type Options struct {
	Detector     collab.LanguageDetector
	Conversation collab.ConversationStore
	Classifier   *classify.Classifier
	Gate         *gate.Gate
	Scorer       *validate.Scorer
	Router       *route.Router
	Fusion       *fusion.Engine
	Metrics      collab.MetricsStore
	Calc         *calc.Adapter
	Logger       *slog.Logger
}

// New creates a Pipeline. Classifier, Gate, Scorer, and Router are
// required; the rest may be nil with degraded behavior (no language hint,
// no context merge, no-evidence retrieval, not-found lookups).
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		detector:     opts.Detector,
		conversation: opts.Conversation,
		classifier:   opts.Classifier,
		gate:         opts.Gate,
		scorer:       opts.Scorer,
		router:       opts.Router,
		fusion:       opts.Fusion,
		metrics:      opts.Metrics,
		calc:         opts.Calc,
		logger:       logger,
	}
}

// Resolve runs the full pipeline for one request.
//
// The returned error is non-nil only for context cancellation; every
// domain-level failure is expressed inside the Response.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (*Response, error) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.Pipeline.Resolve")
	defer span.End()
	start := time.Now()
	defer func() { pipelineLatency.Observe(time.Since(start).Seconds()) }()

	language := "en"
	if p.detector != nil {
		language, _ = p.detector.Detect(ctx, req.Query)
	}

	lex, err := config.GetLexicon(ctx)
	if err != nil {
		return nil, err
	}
	extractor := entities.NewExtractor(lex, p.logger)
	extraction := extractor.Extract(ctx, req.Query, language)

	if p.conversation != nil && req.SessionID != "" {
		extraction.Entities.Merge(p.conversation.PriorEntities(ctx, req.SessionID))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gateDecision := p.gate.Check(ctx, extraction.Query, language, extraction.Entities.Any())

	ents := &extraction.Entities

	resp := &Response{
		Query:    extraction.Query,
		Language: language,
		Entities: ents,
		Gate:     gateDecision,
	}

	// A rejection short-circuits classification and scoring; the router
	// still decides, because the explicit-product rule outranks the gate.
	if gateDecision.Accepted {
		resp.Classification = p.classifier.Classify(ctx, extraction.Query, ents)
		resp.Validation = p.scorer.Score(ctx, string(resp.Classification.Intent), ents, resp.Classification.Confidence)
	} else {
		resp.Classification = &classify.Result{
			Intent: classify.IntentAmbiguousGeneral,
			Level:  classify.LevelSimple,
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp.Routing = p.router.Route(ctx, route.Input{
		Entities:          ents,
		Intent:            resp.Classification.Intent,
		Complexity:        resp.Classification.Level,
		Gate:              gateDecision,
		CompletenessScore: resp.Validation.Score,
	})
	pipelineRequestsTotal.WithLabelValues(string(resp.Routing.Destination)).Inc()
	span.SetAttributes(
		attribute.String("destination", string(resp.Routing.Destination)),
		attribute.String("intent", string(resp.Classification.Intent)),
		attribute.Bool("gate_accepted", gateDecision.Accepted),
	)

	p.execute(ctx, resp)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// execute runs the destination side of the decision. Exactly one payload
// branch is filled.
func (p *Pipeline) execute(ctx context.Context, resp *Response) {
	switch resp.Routing.Destination {
	case route.DestKnowledgeBase:
		if p.fusion == nil {
			resp.Documents = &fusion.Result{NoEvidence: true, FailureKind: collab.KindUnavailable}
			return
		}
		res := p.fusion.Retrieve(ctx, resp.Query, resp.Entities)
		resp.Documents = &res

	case route.DestStructuredStore:
		resp.Structured = p.lookupStructured(ctx, resp.Entities)

	case route.DestCalculationEngine:
		if p.calc == nil {
			resp.Calculation = &calc.Outcome{FailureReason: "the calculation engine is not configured"}
			return
		}
		out := p.calc.Run(ctx, resp.Classification.Intent, "", resp.Entities, nil)
		resp.Calculation = &out

	case route.DestReject:
		resp.Rejection = &Rejection{Reason: resp.Gate.Reason}

	default:
		// Unreachable with the default rule table; fail safe anyway.
		resp.Rejection = &Rejection{Reason: resp.Routing.Reason}
	}
}

// lookupStructured resolves a performance-standard value from the
// extracted entities. Sex defaults to the mixed-sex table when absent.
func (p *Pipeline) lookupStructured(ctx context.Context, ents *entities.ExtractedEntities) *StructuredResult {
	if p.metrics == nil {
		return &StructuredResult{FailureReason: "no standards store configured"}
	}

	// Standards tables are age-indexed starting at day 0; without a stated
	// age the day-0 row would masquerade as an answer.
	if !ents.HasConcreteAge() {
		return &StructuredResult{FailureReason: "no flock age was given; include an age in days or weeks"}
	}

	age, _ := ents.AgeInDays()
	sex := ents.Sex.Value
	if sex == "" {
		sex = "as_hatched"
	}
	metric := ents.Metric.Value
	if metric == "" {
		metric = "body_weight"
	}

	v, err := p.metrics.Lookup(ctx, ents.Line.Value, age, sex, metric)
	if err != nil {
		p.logger.Info("structured lookup missed",
			slog.String("line", ents.Line.Value),
			slog.Int("age_days", age),
			slog.String("metric", metric),
			slog.String("error", err.Error()))
		return &StructuredResult{FailureReason: err.Error()}
	}
	return &StructuredResult{Found: true, Value: v.Value, Unit: v.Unit, Source: v.Source}
}
