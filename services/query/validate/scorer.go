// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate scores how complete and coherent an extracted query is
// for its classified intent. The scorer never rejects: a low score steers
// routing toward clarification, it does not stop the pipeline.
package validate

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/config"
	"github.com/AvicoreAI/avicore/services/query/entities"
)

var validateTracer = otel.Tracer("avicore.query.validate")

// Bounds for numeric plausibility checks. Outside these a value is almost
// certainly a misparse, and its quality collapses instead of the field
// being dropped.
const (
	maxPlausibleAgeDays = 700
	maxPlausibleFlock   = 1_000_000
)

// implausibleQuality is the quality assigned to a present-but-implausible
// value. Nonzero so the field still counts as present (monotonicity), low
// enough to drag the score down hard.
const implausibleQuality = 0.2

// Result is the completeness assessment for one query.
type Result struct {
	// Score is the final completeness score in [0,1].
	Score float64 `json:"score"`

	// MissingFields lists required fields with no extracted value,
	// critical fields first. Drives clarification prompts.
	MissingFields []string `json:"missing_fields,omitempty"`

	// FieldScores is the per-field quality that went into the weighted
	// average, keyed by field name. Present fields only.
	FieldScores map[string]float64 `json:"field_scores,omitempty"`

	// Contradictions lists the hard cross-field conflicts found. Any
	// entry means the contradiction penalty was applied.
	Contradictions []string `json:"contradictions,omitempty"`

	// CoherenceHits counts satisfied cross-field consistency checks.
	CoherenceHits int `json:"coherence_hits"`
}

// Scorer computes completeness scores from the intent's field
// requirements.
//
// # Description
//
// Requirements come from the registry first and fall back to the static
// table embedded in the pipeline configuration, so the scorer keeps
// working when the registry has no entry for a new intent.
//
// # Thread Safety
//
// Safe for concurrent use.
type Scorer struct {
	registry collab.IntentSpecRegistry
	logger   *slog.Logger
}

// NewScorer creates a Scorer. registry may be nil, which always uses the
// configured fallback table.
func NewScorer(registry collab.IntentSpecRegistry, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{registry: registry, logger: logger}
}

// Score computes the completeness result for one classified query.
//
// Inputs:
//   - ctx: Context for tracing and config access.
//   - intent: Classified intent name.
//   - ents: Extracted entities. Nil is treated as all-absent.
//   - classifierConfidence: The intent classifier's confidence; the final
//     score is scaled by it so a shaky classification cannot produce a
//     confident completeness claim.
func (s *Scorer) Score(ctx context.Context, intent string, ents *entities.ExtractedEntities, classifierConfidence float64) Result {
	ctx, span := validateTracer.Start(ctx, "validate.Scorer.Score")
	defer span.End()

	if ents == nil {
		ents = &entities.ExtractedEntities{}
	}
	if classifierConfidence < 0 {
		classifierConfidence = 0
	}
	if classifierConfidence > 1 {
		classifierConfidence = 1
	}

	cfg, err := config.GetPipelineConfig(ctx)
	if err != nil {
		s.logger.Error("validation config unavailable", slog.String("error", err.Error()))
		return Result{FieldScores: map[string]float64{}}
	}

	required := s.requirements(intent, cfg)
	res := Result{FieldScores: make(map[string]float64, len(required.Fields))}

	critical := make(map[string]bool, len(required.Critical))
	for _, f := range required.Critical {
		critical[f] = true
	}

	var num, den float64
	for _, field := range required.Fields {
		weight, ok := cfg.Validation.FieldWeights[field]
		if !ok {
			weight = 1.0
		}
		if critical[field] {
			weight *= cfg.Validation.CriticalMultiplier
		}
		den += weight

		quality, present := fieldQuality(field, ents)
		if !present {
			res.MissingFields = append(res.MissingFields, field)
			continue
		}
		res.FieldScores[field] = quality
		num += weight * quality
	}

	score := 1.0
	if den > 0 {
		score = num / den
	}

	hits, contradictions := coherence(ctx, ents)
	res.CoherenceHits = hits
	res.Contradictions = contradictions
	score += float64(hits) * cfg.Validation.CoherenceBonus
	if score > 1 {
		score = 1
	}

	score *= classifierConfidence
	if len(contradictions) > 0 {
		score *= cfg.Validation.ContradictionPenalty
	}

	res.Score = score
	sortCriticalFirst(res.MissingFields, critical)

	span.SetAttributes(
		attribute.String("intent", intent),
		attribute.Float64("score", res.Score),
		attribute.Int("missing", len(res.MissingFields)),
		attribute.Int("contradictions", len(res.Contradictions)),
	)
	return res
}

// requirements resolves the field spec for the intent, registry first.
func (s *Scorer) requirements(intent string, cfg *config.PipelineConfig) collab.RequiredFields {
	if s.registry != nil {
		if spec, ok := s.registry.Requirements(intent); ok {
			return spec
		}
	}
	if spec, ok := cfg.Validation.RequiredFields[intent]; ok {
		return collab.RequiredFields{Fields: spec.Fields, Critical: spec.Critical}
	}
	return collab.RequiredFields{}
}

// fieldQuality returns the quality of one extracted field in [0,1] along
// with whether it is present at all. Quality starts from the extraction
// confidence and collapses for implausible numeric values.
func fieldQuality(field string, ents *entities.ExtractedEntities) (float64, bool) {
	switch field {
	case "age_days":
		age, ok := ents.AgeInDays()
		if !ok {
			return 0, false
		}
		if age < 0 || age > maxPlausibleAgeDays {
			return implausibleQuality, true
		}
		if ents.AgeDays.Present {
			return ents.AgeDays.Confidence, true
		}
		return ents.AgeWeeks.Confidence, true

	case "flock_size":
		if !ents.FlockSize.Present {
			return 0, false
		}
		if ents.FlockSize.Value < 1 || ents.FlockSize.Value > maxPlausibleFlock {
			return implausibleQuality, true
		}
		return ents.FlockSize.Confidence, true

	default:
		_, conf, present := ents.ByName(field)
		if !present {
			return 0, false
		}
		return conf, true
	}
}

// coherence runs the cross-field consistency checks: each satisfied check
// earns a bonus, each violated hard rule records a contradiction.
func coherence(ctx context.Context, ents *entities.ExtractedEntities) (hits int, contradictions []string) {
	lex, err := config.GetLexicon(ctx)
	if err != nil {
		return 0, nil
	}

	// Species vs. genetic line. A layer flock of a broiler line (or the
	// reverse) is a hard contradiction, not a plausible query.
	if ents.Species.Present() && ents.Line.Present() {
		lineSpecies := lex.BreedSpecies(ents.Line.Value)
		switch {
		case lineSpecies == "":
			// Unknown line, nothing to check.
		case lineSpecies == ents.Species.Value:
			hits++
		default:
			contradictions = append(contradictions, "species_line_mismatch")
		}
	}

	// Age vs. production phase window.
	if age, ok := ents.AgeInDays(); ok && ents.Phase.Present() {
		if min, max, known := lex.PhaseWindow(ents.Phase.Value); known {
			if age >= min && age <= max {
				hits++
			} else {
				contradictions = append(contradictions, "age_phase_mismatch")
			}
		}
	}

	return hits, contradictions
}

// sortCriticalFirst orders missing fields so critical ones lead, keeping
// the original order within each group.
func sortCriticalFirst(fields []string, critical map[string]bool) {
	sort.SliceStable(fields, func(i, j int) bool {
		return critical[fields[i]] && !critical[fields[j]]
	})
}
