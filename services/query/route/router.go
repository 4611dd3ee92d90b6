// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package route decides where a resolved query goes. The decision is a
// strict priority-ordered rule table evaluated top to bottom; the first
// matching rule wins and names itself in the decision's reason code.
package route

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/classify"
	"github.com/AvicoreAI/avicore/services/query/entities"
	"github.com/AvicoreAI/avicore/services/query/gate"
)

var routeTracer = otel.Tracer("avicore.query.route")

var routeDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "avicore",
	Subsystem: "route",
	Name:      "decisions_total",
	Help:      "Total routing decisions by destination and rule",
}, []string{"destination", "rule"})

// =============================================================================
// Decision Types
// =============================================================================

// Destination is where the pipeline sends the query next.
type Destination string

const (
	// DestStructuredStore answers from the performance-standards tables.
	DestStructuredStore Destination = "structured_store"
	// DestKnowledgeBase answers from fused document retrieval.
	DestKnowledgeBase Destination = "knowledge_base"
	// DestCalculationEngine answers by running a formula.
	DestCalculationEngine Destination = "calculation_engine"
	// DestReject refuses the query as out of domain.
	DestReject Destination = "reject"
)

// Reason codes, one per rule.
const (
	ReasonExplicitProduct  = "explicit-product-override"
	ReasonGateRejected     = "gate-rejected"
	ReasonQualitative      = "qualitative-query"
	ReasonStructuredLookup = "structured-lookup"
	ReasonCalculation      = "calculation-intent"
	ReasonDefault          = "default-knowledge-base"
)

// Input is everything the rule predicates may consult.
type Input struct {
	Entities   *entities.ExtractedEntities
	Intent     classify.Intent
	Complexity classify.Level
	Gate       gate.Decision
	// CompletenessScore is the validator's output; low scores push
	// formula intents back to document retrieval.
	CompletenessScore float64
}

// Decision is the routing verdict.
type Decision struct {
	Destination Destination `json:"destination"`
	// Rule is the name of the rule that fired.
	Rule string `json:"rule"`
	// Reason is the rule's stable reason code.
	Reason string `json:"reason"`
}

// =============================================================================
// Rule Table
// =============================================================================

// Rule is one predicate → destination entry in the ordered table.
type Rule struct {
	Name        string
	Matches     func(in Input) bool
	Destination Destination
	Reason      string
}

// defaultRules is the priority-ordered table. Order is load-bearing: an
// explicit product reference outranks everything, even a structured
// lookup that would otherwise match; the terminal default rule matches
// unconditionally so a decision always exists.
func defaultRules() []Rule {
	return []Rule{
		{
			// Product-configuration questions are never quantitative
			// lookups, even when an age or metric is also present.
			Name: "explicit_product",
			Matches: func(in Input) bool {
				return in.Entities != nil && in.Entities.Product.Present()
			},
			Destination: DestKnowledgeBase,
			Reason:      ReasonExplicitProduct,
		},
		{
			Name: "gate_rejected",
			Matches: func(in Input) bool {
				return !in.Gate.Accepted
			},
			Destination: DestReject,
			Reason:      ReasonGateRejected,
		},
		{
			Name: "qualitative",
			Matches: func(in Input) bool {
				if in.Entities == nil {
					return true
				}
				return !in.Entities.HasConcreteAge() && !in.Entities.Metric.Present()
			},
			Destination: DestKnowledgeBase,
			Reason:      ReasonQualitative,
		},
		{
			Name: "structured_lookup",
			Matches: func(in Input) bool {
				if in.Entities == nil || !in.Entities.Line.Present() {
					return false
				}
				return in.Entities.HasConcreteAge() || in.Entities.Metric.Present()
			},
			Destination: DestStructuredStore,
			Reason:      ReasonStructuredLookup,
		},
		{
			Name: "calculation",
			Matches: func(in Input) bool {
				if in.Intent != classify.IntentEconomicsCalculation &&
					in.Intent != classify.IntentEquipmentSizing {
					return false
				}
				// Formula intents need enough validated inputs; a thin
				// query does better with documents than with a formula
				// full of guessed parameters.
				return in.CompletenessScore >= 0.5
			},
			Destination: DestCalculationEngine,
			Reason:      ReasonCalculation,
		},
		{
			Name:        "default",
			Matches:     func(Input) bool { return true },
			Destination: DestKnowledgeBase,
			Reason:      ReasonDefault,
		},
	}
}

// =============================================================================
// Router
// =============================================================================

// Router evaluates the rule table.
//
// Thread Safety: Safe for concurrent use (the table is read-only).
type Router struct {
	rules  []Rule
	logger *slog.Logger
}

// NewRouter creates a Router with the default rule table.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{rules: defaultRules(), logger: logger}
}

// NewRouterWithRules creates a Router with a custom ordered table. The
// caller must include a terminal rule that always matches.
func NewRouterWithRules(rules []Rule, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{rules: rules, logger: logger}
}

// Route returns the first matching rule's decision.
//
// The default table ends in an unconditional rule, so a decision always
// exists; the zero-value fallback below is unreachable with it and only
// guards custom tables.
func (r *Router) Route(ctx context.Context, in Input) Decision {
	_, span := routeTracer.Start(ctx, "route.Router.Route")
	defer span.End()

	for _, rule := range r.rules {
		if !rule.Matches(in) {
			continue
		}
		d := Decision{Destination: rule.Destination, Rule: rule.Name, Reason: rule.Reason}
		routeDecisionsTotal.WithLabelValues(string(d.Destination), d.Rule).Inc()
		span.SetAttributes(
			attribute.String("destination", string(d.Destination)),
			attribute.String("rule", d.Rule),
		)
		r.logger.Debug("routed query",
			slog.String("destination", string(d.Destination)),
			slog.String("rule", d.Rule))
		return d
	}

	routeDecisionsTotal.WithLabelValues(string(DestKnowledgeBase), "fallback").Inc()
	return Decision{Destination: DestKnowledgeBase, Rule: "fallback", Reason: ReasonDefault}
}
