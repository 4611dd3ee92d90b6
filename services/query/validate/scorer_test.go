// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/AvicoreAI/avicore/services/query/entities"
)

func field(value string, conf float64) entities.Field {
	return entities.Field{Value: value, Confidence: conf, Provenance: entities.ProvenanceInferred}
}

func numeric(value int, conf float64) entities.NumericField {
	return entities.NumericField{Value: value, Present: true, Confidence: conf, Provenance: entities.ProvenanceInferred}
}

func TestScore_CompleteQuery(t *testing.T) {
	s := NewScorer(nil, nil)
	ents := &entities.ExtractedEntities{
		Line:    field("ross_308", 0.9),
		Species: field("broiler", 0.9),
		Sex:     field("male", 0.9),
		Metric:  field("body_weight", 0.9),
		AgeDays: numeric(35, 0.9),
	}

	res := s.Score(context.Background(), "performance_targets", ents, 0.9)

	if len(res.MissingFields) != 0 {
		t.Errorf("expected no missing fields, got %v", res.MissingFields)
	}
	if len(res.Contradictions) != 0 {
		t.Errorf("expected no contradictions, got %v", res.Contradictions)
	}
	// All qualities 0.9, one coherence hit (species matches line), scaled
	// by 0.9 classifier confidence.
	if res.Score < 0.75 {
		t.Errorf("expected a high score, got %v", res.Score)
	}
	if res.CoherenceHits != 1 {
		t.Errorf("expected one coherence hit, got %d", res.CoherenceHits)
	}
}

func TestScore_MissingCriticalFirst(t *testing.T) {
	s := NewScorer(nil, nil)
	ents := &entities.ExtractedEntities{
		Sex: field("male", 0.9),
	}

	res := s.Score(context.Background(), "performance_targets", ents, 0.9)

	// line, age_days, metric are missing; line and age_days are critical
	// and must lead the list.
	if len(res.MissingFields) != 3 {
		t.Fatalf("expected 3 missing fields, got %v", res.MissingFields)
	}
	if res.MissingFields[0] != "line" || res.MissingFields[1] != "age_days" {
		t.Errorf("critical fields must come first, got %v", res.MissingFields)
	}
	if res.MissingFields[2] != "metric" {
		t.Errorf("expected metric last, got %v", res.MissingFields)
	}
}

func TestScore_MonotonicWhenFieldAdded(t *testing.T) {
	s := NewScorer(nil, nil)
	partial := &entities.ExtractedEntities{
		Line:   field("ross_308", 0.9),
		Sex:    field("male", 0.9),
		Metric: field("body_weight", 0.9),
	}
	before := s.Score(context.Background(), "performance_targets", partial, 0.9)

	complete := &entities.ExtractedEntities{
		Line:    field("ross_308", 0.9),
		Sex:     field("male", 0.9),
		Metric:  field("body_weight", 0.9),
		AgeDays: numeric(35, 0.9),
	}
	after := s.Score(context.Background(), "performance_targets", complete, 0.9)

	if after.Score <= before.Score {
		t.Errorf("adding a valid required field must raise the score: %v -> %v",
			before.Score, after.Score)
	}
}

func TestScore_SpeciesLineContradiction(t *testing.T) {
	s := NewScorer(nil, nil)
	ents := &entities.ExtractedEntities{
		Line:    field("ross_308", 0.9),
		Species: field("layer", 0.9),
		Sex:     field("female", 0.9),
		Metric:  field("body_weight", 0.9),
		AgeDays: numeric(35, 0.9),
	}

	res := s.Score(context.Background(), "performance_targets", ents, 0.9)

	if len(res.Contradictions) != 1 || res.Contradictions[0] != "species_line_mismatch" {
		t.Fatalf("expected species_line_mismatch, got %v", res.Contradictions)
	}

	coherent := &entities.ExtractedEntities{
		Line:    field("ross_308", 0.9),
		Species: field("broiler", 0.9),
		Sex:     field("female", 0.9),
		Metric:  field("body_weight", 0.9),
		AgeDays: numeric(35, 0.9),
	}
	base := s.Score(context.Background(), "performance_targets", coherent, 0.9)
	if res.Score >= base.Score {
		t.Errorf("contradiction must lower the score: %v vs coherent %v", res.Score, base.Score)
	}
}

func TestScore_AgePhaseCoherence(t *testing.T) {
	s := NewScorer(nil, nil)

	inWindow := &entities.ExtractedEntities{
		Species: field("broiler", 0.9),
		Phase:   field("starter", 0.9),
		AgeDays: numeric(5, 0.9),
	}
	res := s.Score(context.Background(), "nutrition_guidance", inWindow, 0.9)
	if res.CoherenceHits != 1 {
		t.Errorf("age 5 in starter window must earn a coherence hit, got %d", res.CoherenceHits)
	}

	outOfWindow := &entities.ExtractedEntities{
		Species: field("broiler", 0.9),
		Phase:   field("starter", 0.9),
		AgeDays: numeric(40, 0.9),
	}
	res = s.Score(context.Background(), "nutrition_guidance", outOfWindow, 0.9)
	if len(res.Contradictions) != 1 || res.Contradictions[0] != "age_phase_mismatch" {
		t.Errorf("age 40 in starter phase must contradict, got %v", res.Contradictions)
	}
}

func TestScore_ImplausibleAgeCollapsesQuality(t *testing.T) {
	s := NewScorer(nil, nil)
	ents := &entities.ExtractedEntities{
		Line:    field("ross_308", 0.9),
		Sex:     field("male", 0.9),
		Metric:  field("body_weight", 0.9),
		AgeDays: numeric(999, 0.9),
	}

	res := s.Score(context.Background(), "performance_targets", ents, 0.9)

	// Present, so not missing; implausible, so low quality.
	for _, f := range res.MissingFields {
		if f == "age_days" {
			t.Error("implausible age must still count as present")
		}
	}
	if q := res.FieldScores["age_days"]; q != implausibleQuality {
		t.Errorf("expected collapsed quality %v, got %v", implausibleQuality, q)
	}
}

func TestScore_NoRequiredFields(t *testing.T) {
	s := NewScorer(nil, nil)

	res := s.Score(context.Background(), "ambiguous_general", &entities.ExtractedEntities{}, 0.3)

	if len(res.MissingFields) != 0 {
		t.Errorf("intent with no requirements has nothing missing, got %v", res.MissingFields)
	}
	// Base completeness is 1.0 with nothing required; only the classifier
	// confidence scales it down.
	if res.Score != 0.3 {
		t.Errorf("expected 0.3, got %v", res.Score)
	}
}

func TestScore_NilEntities(t *testing.T) {
	s := NewScorer(nil, nil)

	res := s.Score(context.Background(), "performance_targets", nil, 0.9)

	if res.Score != 0 {
		t.Errorf("all fields missing must score 0, got %v", res.Score)
	}
	if len(res.MissingFields) != 4 {
		t.Errorf("expected 4 missing fields, got %v", res.MissingFields)
	}
}

func TestResult_WireFieldNames(t *testing.T) {
	s := NewScorer(nil, nil)
	ents := &entities.ExtractedEntities{
		Line:    field("ross_308", 0.9),
		Species: field("broiler", 0.9),
		AgeDays: numeric(35, 0.9),
		Phase:   field("finisher", 0.8),
	}

	res := s.Score(context.Background(), "performance_targets", ents, 0.9)

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"score"`, `"missing_fields"`, `"coherence_hits"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("expected wire key %s in %s", key, raw)
		}
	}
	if strings.Contains(string(raw), `"Score"`) || strings.Contains(string(raw), `"CoherenceHits"`) {
		t.Errorf("exported Go names leaked into the wire format: %s", raw)
	}
}
