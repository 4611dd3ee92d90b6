// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package calc adapts extracted entities into formula-engine runs. The
// adapter normalizes parameters, picks a formula for the intent when the
// caller names none, and converts every failure into a typed outcome —
// nothing escapes it as an error or a panic.
package calc

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/classify"
	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/entities"
)

var calcTracer = otel.Tracer("avicore.query.calc")

// Outcome is the result of one calculation attempt. Exactly one of
// OK=true (Value et al. valid) or OK=false (FailureReason set) holds.
type Outcome struct {
	OK          bool     `json:"ok"`
	Formula     string   `json:"formula,omitempty"`
	Value       float64  `json:"value,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	// FailureReason is a human-readable explanation when OK is false.
	FailureReason string `json:"failure_reason,omitempty"`
}

// intentFormulas maps a formula-capable intent to its default formula.
var intentFormulas = map[classify.Intent]string{
	classify.IntentEconomicsCalculation: "feed_cost_per_bird",
	classify.IntentEquipmentSizing:      "stocking_density",
}

// Adapter bridges the pipeline to the formula engine.
//
// Thread Safety: Safe for concurrent use.
type Adapter struct {
	runner collab.FormulaRunner
	logger *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(runner collab.FormulaRunner, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{runner: runner, logger: logger}
}

// Run executes a calculation for the query.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - intent: Classified intent; selects the formula when name is empty.
//   - name: Explicit formula name, or "" to derive from the intent.
//   - ents: Extracted entities; numeric fields become parameters.
//   - params: Caller-supplied parameters. Entity-derived values never
//     overwrite an explicit parameter.
func (a *Adapter) Run(ctx context.Context, intent classify.Intent, name string, ents *entities.ExtractedEntities, params map[string]float64) Outcome {
	ctx, span := calcTracer.Start(ctx, "calc.Adapter.Run")
	defer span.End()

	if name == "" {
		var ok bool
		name, ok = intentFormulas[intent]
		if !ok {
			return failure("", fmt.Sprintf("no calculation is defined for the %q intent", intent))
		}
	}
	span.SetAttributes(attribute.String("formula", name))

	if a.runner == nil {
		return failure(name, "the calculation engine is not configured")
	}

	merged := normalizeParams(ents, params)

	res, err := a.runner.Run(ctx, name, merged)
	if err != nil {
		a.logger.Info("calculation failed",
			slog.String("formula", name),
			slog.String("error", err.Error()))
		return failure(name, failureReason(name, err))
	}

	return Outcome{
		OK:          true,
		Formula:     name,
		Value:       res.Value,
		Unit:        res.Unit,
		Confidence:  res.Confidence,
		Assumptions: res.Assumptions,
		Warnings:    res.Warnings,
	}
}

// normalizeParams merges entity-derived numbers under explicit
// parameters. Ages are normalized to days regardless of how the query
// phrased them.
func normalizeParams(ents *entities.ExtractedEntities, params map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	if ents == nil {
		return merged
	}
	if _, ok := merged["age_days"]; !ok {
		if age, has := ents.AgeInDays(); has {
			merged["age_days"] = float64(age)
		}
	}
	if _, ok := merged["flock_size"]; !ok && ents.FlockSize.Present {
		merged["flock_size"] = float64(ents.FlockSize.Value)
	}
	return merged
}

// failureReason renders a collaborator error readably. Missing-parameter
// failures name what a follow-up question should ask for.
func failureReason(name string, err error) string {
	switch collab.KindOf(err) {
	case collab.KindNotFound:
		return fmt.Sprintf("the formula %q does not exist", name)
	case collab.KindInvalidInput:
		return fmt.Sprintf("the inputs are not usable: %v", unwrapCause(err))
	case collab.KindUnavailable, collab.KindTimeout:
		return "the calculation engine is currently unavailable"
	}
	return fmt.Sprintf("calculation failed: %v", err)
}

func unwrapCause(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if cause := u.Unwrap(); cause != nil {
			return cause
		}
	}
	return err
}

func failure(name, reason string) Outcome {
	return Outcome{Formula: name, FailureReason: reason}
}
