// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entities

import "strconv"

// =============================================================================
// Extracted Entity Types
// =============================================================================

// Provenance records whether a field came from explicit query syntax or was
// inferred from keywords/context.
type Provenance string

const (
	// ProvenanceExplicit marks fields set by recognized explicit syntax
	// (the "<product>: question" prefix). Always confidence 1.0.
	ProvenanceExplicit Provenance = "explicit"

	// ProvenanceInferred marks fields detected by lexicon or pattern matching,
	// or merged in from prior conversation turns.
	ProvenanceInferred Provenance = "inferred"
)

// Field is one extracted string-valued entity field.
//
// Invariant: Confidence is in [0, 1]. A zero-valued Field means "absent" —
// the extractor never fabricates a value for a missing signal.
type Field struct {
	// Value is the canonical value from the lexicon ("" = absent).
	Value string `json:"value"`

	// Confidence is the extraction confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Provenance is explicit or inferred.
	Provenance Provenance `json:"provenance,omitempty"`
}

// Present reports whether the field carries a value.
func (f Field) Present() bool { return f.Value != "" }

// NumericField is one extracted integer-valued entity field.
type NumericField struct {
	// Value is the extracted number. Meaningful only when Present is true;
	// zero is a legal value for some fields, so presence is tracked explicitly.
	Value int `json:"value"`

	// Present reports whether the field was detected at all.
	Present bool `json:"present"`

	// Confidence is the extraction confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Provenance is explicit or inferred.
	Provenance Provenance `json:"provenance,omitempty"`
}

// ExtractedEntities is the structured output of the entity extractor.
//
// Description:
//
//	One instance is created per request. Conversation-derived entities from
//	prior turns are merged in via Merge; the current turn always wins.
//
// Thread Safety: Not safe for concurrent mutation; each request owns its own.
type ExtractedEntities struct {
	// Product is an explicit product reference ("nano", "platinum", ...).
	Product Field `json:"product"`

	// Line is the genetic line ("ross_308", "lohmann_brown", ...).
	Line Field `json:"line"`

	// Species is broiler, layer, or breeder.
	Species Field `json:"species"`

	// Sex is male, female, or mixed.
	Sex Field `json:"sex"`

	// Housing is the housing type (tunnel, cage, floor, free_range).
	Housing Field `json:"housing"`

	// Phase is the production phase (starter, grower, finisher, rearing, lay).
	Phase Field `json:"phase"`

	// Metric is the requested performance metric ("body_weight", "fcr", ...).
	Metric Field `json:"metric"`

	// AgeDays is the flock age in days, when stated in days.
	AgeDays NumericField `json:"age_days"`

	// AgeWeeks is the flock age in weeks, when stated in weeks.
	AgeWeeks NumericField `json:"age_weeks"`

	// FlockSize is the number of birds.
	FlockSize NumericField `json:"flock_size"`
}

// AgeInDays returns the flock age normalized to days.
//
// Description:
//
//	Prefers an age stated in days; converts weeks to days otherwise. This is
//	a unit conversion of an extracted signal, not a default — when neither
//	unit was extracted, ok is false.
//
// Outputs:
//
//	days - Age in days.
//	ok - False when no age was extracted in either unit.
func (e *ExtractedEntities) AgeInDays() (days int, ok bool) {
	if e.AgeDays.Present {
		return e.AgeDays.Value, true
	}
	if e.AgeWeeks.Present {
		return e.AgeWeeks.Value * 7, true
	}
	return 0, false
}

// HasConcreteAge reports whether any age was extracted.
func (e *ExtractedEntities) HasConcreteAge() bool {
	return e.AgeDays.Present || e.AgeWeeks.Present
}

// Any reports whether at least one field was extracted.
func (e *ExtractedEntities) Any() bool {
	return e.Product.Present() || e.Line.Present() || e.Species.Present() ||
		e.Sex.Present() || e.Housing.Present() || e.Phase.Present() ||
		e.Metric.Present() || e.AgeDays.Present || e.AgeWeeks.Present ||
		e.FlockSize.Present
}

// Merge fills absent fields from prior-turn entities.
//
// Description:
//
//	Implements the conversation-context merge: the current turn always wins;
//	prior-turn values only fill fields the current turn left absent, and are
//	marked inferred regardless of their original provenance (they were not
//	stated in this turn).
//
// Inputs:
//
//	prior - Entities from earlier turns. Nil is a no-op.
func (e *ExtractedEntities) Merge(prior *ExtractedEntities) {
	if prior == nil {
		return
	}

	mergeField := func(dst *Field, src Field) {
		if !dst.Present() && src.Present() {
			*dst = Field{Value: src.Value, Confidence: src.Confidence, Provenance: ProvenanceInferred}
		}
	}
	mergeNumeric := func(dst *NumericField, src NumericField) {
		if !dst.Present && src.Present {
			*dst = NumericField{Value: src.Value, Present: true, Confidence: src.Confidence, Provenance: ProvenanceInferred}
		}
	}

	mergeField(&e.Product, prior.Product)
	mergeField(&e.Line, prior.Line)
	mergeField(&e.Species, prior.Species)
	mergeField(&e.Sex, prior.Sex)
	mergeField(&e.Housing, prior.Housing)
	mergeField(&e.Phase, prior.Phase)
	mergeField(&e.Metric, prior.Metric)
	mergeNumeric(&e.AgeDays, prior.AgeDays)
	mergeNumeric(&e.AgeWeeks, prior.AgeWeeks)
	mergeNumeric(&e.FlockSize, prior.FlockSize)
}

// ByName returns a field's value, confidence, and presence by its wire name.
//
// Description:
//
//	Used by the validation scorer, which iterates required-field lists that
//	arrive as strings from the intent specification registry. Numeric fields
//	return their decimal string representation.
//
// Inputs:
//
//	name - One of: product, line, species, sex, housing, phase, metric,
//	       age_days, flock_size.
//
// Outputs:
//
//	value - Canonical value ("" when absent).
//	confidence - Extraction confidence.
//	present - Whether the field was extracted (age_days is satisfied by a
//	          weeks-denominated age as well).
func (e *ExtractedEntities) ByName(name string) (value string, confidence float64, present bool) {
	switch name {
	case "product":
		return e.Product.Value, e.Product.Confidence, e.Product.Present()
	case "line":
		return e.Line.Value, e.Line.Confidence, e.Line.Present()
	case "species":
		return e.Species.Value, e.Species.Confidence, e.Species.Present()
	case "sex":
		return e.Sex.Value, e.Sex.Confidence, e.Sex.Present()
	case "housing":
		return e.Housing.Value, e.Housing.Confidence, e.Housing.Present()
	case "phase":
		return e.Phase.Value, e.Phase.Confidence, e.Phase.Present()
	case "metric":
		return e.Metric.Value, e.Metric.Confidence, e.Metric.Present()
	case "age_days":
		if days, ok := e.AgeInDays(); ok {
			conf := e.AgeDays.Confidence
			if !e.AgeDays.Present {
				conf = e.AgeWeeks.Confidence
			}
			return strconv.Itoa(days), conf, true
		}
		return "", 0, false
	case "flock_size":
		if e.FlockSize.Present {
			return strconv.Itoa(e.FlockSize.Value), e.FlockSize.Confidence, true
		}
		return "", 0, false
	}
	return "", 0, false
}
