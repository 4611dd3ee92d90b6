// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

// =============================================================================
// Intent and Complexity Types
// =============================================================================

// Intent is the closed set of question categories the pipeline recognizes.
//
// The set is closed on purpose: the router matches on it exhaustively, so a
// new intent forces a review of every routing rule and required-field table.
type Intent string

const (
	// IntentPerformanceTargets asks for breed-standard performance values
	// (weight at age, FCR, egg production curves).
	IntentPerformanceTargets Intent = "performance_targets"

	// IntentDiagnostics asks to investigate an observed production problem.
	IntentDiagnostics Intent = "diagnostics"

	// IntentEnvironmentSetpoints asks for climate/ventilation settings.
	IntentEnvironmentSetpoints Intent = "environment_setpoints"

	// IntentHealthDiagnosis asks about disease signs and likely conditions.
	IntentHealthDiagnosis Intent = "health_diagnosis"

	// IntentNutritionGuidance asks about feed, rations, and nutrients.
	IntentNutritionGuidance Intent = "nutrition_guidance"

	// IntentEconomicsCalculation asks for cost/profit arithmetic.
	IntentEconomicsCalculation Intent = "economics_calculation"

	// IntentEquipmentSizing asks how much equipment a flock needs.
	IntentEquipmentSizing Intent = "equipment_sizing"

	// IntentProductConfiguration asks how to configure a named product.
	IntentProductConfiguration Intent = "product_configuration"

	// IntentAmbiguousGeneral is the fallback when no category matches.
	IntentAmbiguousGeneral Intent = "ambiguous_general"
)

// Level is the complexity band derived from the complexity score.
type Level string

const (
	// LevelSimple covers scores below 25. Single-hop lookup questions.
	LevelSimple Level = "simple"

	// LevelMedium covers scores in [25, 50). Some reasoning required.
	LevelMedium Level = "medium"

	// LevelHigh covers scores of 50 and above. Needs multi-step reasoning
	// downstream.
	LevelHigh Level = "high"
)

// Complexity score bands. A score at or above the band's threshold maps to
// that level; bands are checked high to low.
const (
	highComplexityThreshold   = 50
	mediumComplexityThreshold = 25
)

// Factor names one complexity signal category that fired.
type Factor string

const (
	// FactorMultiSymptom fires when two or more problem signs appear.
	FactorMultiSymptom Factor = "multi_symptom"

	// FactorOptimization fires on optimization/strategy vocabulary.
	FactorOptimization Factor = "optimization"

	// FactorCausalReasoning fires on why/cause vocabulary.
	FactorCausalReasoning Factor = "causal_reasoning"

	// FactorComparative fires on comparison vocabulary.
	FactorComparative Factor = "comparative"

	// FactorMultiStep fires on procedure/sequence vocabulary.
	FactorMultiStep Factor = "multi_step"

	// FactorComplexDiagnostic fires on symptom+context diagnostic phrasing.
	FactorComplexDiagnostic Factor = "complex_diagnostic"

	// FactorLongQuery fires on unusually long questions.
	FactorLongQuery Factor = "long_query"

	// FactorQuantifiedProblem fires when a problem is stated with numbers
	// ("mortality jumped 3%").
	FactorQuantifiedProblem Factor = "quantified_problem"
)

// Result is the classifier's output for one query.
type Result struct {
	// Intent is the assigned category.
	Intent Intent `json:"intent"`

	// Confidence is the classifier's confidence in [0, 1]. Low-confidence
	// classifications resolve to IntentAmbiguousGeneral rather than erroring.
	Confidence float64 `json:"confidence"`

	// Complexity is the additive score in [0, 100].
	Complexity int `json:"complexity"`

	// Level is the band derived from Complexity.
	Level Level `json:"level"`

	// Factors lists the signal categories that contributed to the score,
	// in the fixed evaluation order.
	Factors []Factor `json:"factors,omitempty"`
}

// levelForScore maps a complexity score to its band.
func levelForScore(score int) Level {
	switch {
	case score >= highComplexityThreshold:
		return LevelHigh
	case score >= mediumComplexityThreshold:
		return LevelMedium
	default:
		return LevelSimple
	}
}
