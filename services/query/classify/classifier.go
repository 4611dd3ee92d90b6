// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/entities"
)

// =============================================================================
// OTel Tracer
// =============================================================================

var classifierTracer = otel.Tracer("avicore.query.classify")

// =============================================================================
// Complexity Signal Tables
// =============================================================================
//
// Each category is evaluated independently and capped before summing, so a
// query stuffed with one kind of vocabulary cannot dominate the score. The
// per-category caps sum to 100.

// complexityCategory is one independently-capped signal category.
type complexityCategory struct {
	factor   Factor
	perHit   int
	cap      int
	keywords []string
}

var complexityCategories = []complexityCategory{
	{
		factor: FactorMultiSymptom,
		perHit: 7, cap: 21,
		keywords: []string{
			"mortality", "lethargy", "lethargic", "diarrhea", "coughing",
			"sneezing", "lameness", "wet litter", "huddling", "panting",
			"ruffled feathers", "drop in", "decline", "mortalidad",
			"mortalidade", "diarrea", "diarreia", "tos", "tosse",
		},
	},
	{
		factor: FactorOptimization,
		perHit: 6, cap: 12,
		keywords: []string{
			"optimize", "optimise", "improve", "maximize", "maximise",
			"minimize", "minimise", "strategy", "plan for", "best way",
			"optimizar", "mejorar", "otimizar", "melhorar",
		},
	},
	{
		factor: FactorCausalReasoning,
		perHit: 7, cap: 14,
		keywords: []string{
			"why", "cause", "causes", "caused", "reason", "because",
			"due to", "leads to", "explain", "por que", "por qué",
			"causa", "razon", "razón", "motivo",
		},
	},
	{
		factor: FactorComparative,
		perHit: 7, cap: 14,
		keywords: []string{
			"compare", "comparison", "versus", "vs", "better than",
			"difference between", "instead of", "comparar", "diferencia",
			"diferença", "mejor que", "melhor que",
		},
	},
	{
		factor: FactorMultiStep,
		perHit: 6, cap: 12,
		keywords: []string{
			"step by step", "steps", "procedure", "process for",
			"and then", "first", "afterwards", "schedule", "program for",
			"paso a paso", "procedimiento", "passo a passo",
		},
	},
}

// complexDiagnosticPatterns capture diagnostic phrasings that combine an
// observation with flock context, which reliably need multi-step reasoning.
var complexDiagnosticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(mortality|mortalidad|mortalidade).{0,40}\b(at|since|after|desde|despues|após)\b`),
	regexp.MustCompile(`(?i)\b(started|began|empez|começ)\w*\b.{0,50}\b(days?|weeks?|dias?|días?|semanas?)\b`),
	regexp.MustCompile(`(?i)\b(some|several|algunos?|algumas?)\b.{0,30}\b(birds?|aves|pollos|frangos|galinhas|gallinas)\b.{0,40}\b(but|pero|mas)\b`),
}

const (
	complexDiagnosticScore = 13
	complexDiagnosticCap   = 13
)

// quantifiedProblemPattern matches a number or percentage near problem
// vocabulary ("mortality jumped 3%", "dropped 5 points").
var quantifiedProblemPattern = regexp.MustCompile(`(?i)\b(\d{1,3}(?:\.\d+)?)\s*(%|percent|por ?ciento|pontos|points)\b|\b(jumped|dropped|fell|rose|increased|decreased|subio|subió|bajo|bajó|caiu|subiu)\b.{0,20}\b\d`)

const (
	quantifiedProblemScore = 12
	quantifiedProblemCap   = 12
)

// Long-query thresholds (word counts) and scores. Cap 12.
const (
	longQueryWords   = 28
	mediumQueryWords = 16
	longQueryScore   = 12
	mediumQueryScore = 6
)

// =============================================================================
// Intent Keyword Tables
// =============================================================================

// intentRule is one entry in the fixed-priority intent list.
type intentRule struct {
	intent   Intent
	keywords []string
}

// complexIntentRules are candidates considered only when the complexity
// level is non-simple. Checking them first on a simple query would
// misclassify plain domain questions as diagnostics.
var complexIntentRules = []intentRule{
	{
		intent: IntentHealthDiagnosis,
		keywords: []string{
			"sick", "disease", "symptom", "symptoms", "diagnose", "diagnosis", "diagnostics", "infection", "virus",
			"coccidiosis", "newcastle", "gumboro", "bronchitis", "colibacillosis",
			"enfermedad", "sintoma", "síntoma", "doença", "doente",
			"diarrhea", "diarrea", "diarreia", "lethargy", "lameness",
		},
	},
	{
		intent: IntentDiagnostics,
		keywords: []string{
			"mortality", "drop", "drops", "decline", "problem", "issue", "losing",
			"underperforming", "underperformance", "behind target", "wet litter", "mortalidad",
			"mortalidade", "problema", "caida", "caída", "queda",
		},
	},
}

// classicIntentRules is the fixed-priority list checked for every query,
// after the complex candidates. First rule with a keyword hit wins.
var classicIntentRules = []intentRule{
	{
		intent: IntentEnvironmentSetpoints,
		keywords: []string{
			"temperature", "humidity", "ventilation", "setpoint", "setpoints", "climate",
			"air speed", "co2", "ammonia", "brooding", "heater",
			"temperatura", "humedad", "umidade", "ventilacion", "ventilación",
			"ventilação", "clima",
		},
	},
	{
		intent: IntentNutritionGuidance,
		keywords: []string{
			"feed formula", "ration", "diet", "nutrient", "protein", "lysine",
			"methionine", "calcium", "phosphorus", "premix", "feeding program",
			"racion", "ración", "dieta", "proteina", "proteína", "racao", "ração",
		},
	},
	{
		intent: IntentEconomicsCalculation,
		keywords: []string{
			"cost", "price", "profit", "margin", "roi", "revenue", "payback",
			"economics", "costo", "precio", "ganancia", "custo", "preço", "lucro",
		},
	},
	{
		intent: IntentEquipmentSizing,
		keywords: []string{
			"how many feeders", "how many drinkers", "feeder space",
			"drinker space", "nipple", "nipples", "capacity", "sizing", "stocking density",
			"bebederos", "comederos", "bebedouros", "comedouros", "densidad",
		},
	},
	{
		intent: IntentPerformanceTargets,
		keywords: []string{
			"target", "standard", "expected", "weight", "weigh", "gain", "fcr",
			"feed conversion", "egg production", "uniformity", "performance",
			"objetivo", "estandar", "estándar", "esperado", "peso", "meta",
			"padrão", "produccion", "producción", "produção",
		},
	},
}

// Intent confidence levels by evidence strength.
const (
	intentConfidenceStrong   = 0.9 // two or more keyword hits
	intentConfidenceSingle   = 0.7 // exactly one keyword hit
	intentConfidenceFallback = 0.3 // AmbiguousGeneral default
)

// =============================================================================
// Classifier
// =============================================================================

// Classifier assigns a closed-set intent and an additive complexity score.
//
// Description:
//
//	Pure function of the query text, the extracted entities, and the fixed
//	keyword tables above: identical input yields identical output across
//	repeated calls, which the router's tests rely on.
//
// Thread Safety: Safe for concurrent use (all state is read-only).
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a Classifier.
//
// Inputs:
//
//	logger - Logger instance. Must not be nil.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify scores complexity and assigns an intent for one query.
//
// Description:
//
//	Complexity is summed across independently-capped signal categories.
//	Intent assignment checks the complex-intent candidates first only when
//	the complexity level is non-simple, then falls through the classic
//	fixed-priority list, defaulting to AmbiguousGeneral.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	query - The (prefix-stripped) query text.
//	ents - Extracted entities for the same query. May be nil.
//
// Outputs:
//
//	*Result - The classification. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (c *Classifier) Classify(ctx context.Context, query string, ents *entities.ExtractedEntities) *Result {
	_, span := classifierTracer.Start(ctx, "classify.Classifier.Classify")
	defer span.End()

	lowered := strings.ToLower(query)
	padded := padForMatch(lowered)

	score, factors := c.scoreComplexity(lowered, padded)
	level := levelForScore(score)

	intent, confidence := c.assignIntent(padded, ents, level)

	span.SetAttributes(
		attribute.String("intent", string(intent)),
		attribute.Float64("confidence", confidence),
		attribute.Int("complexity", score),
		attribute.String("level", string(level)),
	)

	return &Result{
		Intent:     intent,
		Confidence: confidence,
		Complexity: score,
		Level:      level,
		Factors:    factors,
	}
}

// scoreComplexity sums the capped category scores.
func (c *Classifier) scoreComplexity(lowered, padded string) (int, []Factor) {
	var total int
	var factors []Factor

	for _, cat := range complexityCategories {
		hits := countHits(padded, cat.keywords)
		if hits == 0 {
			continue
		}
		// Multi-symptom needs at least two distinct signs to mean anything.
		if cat.factor == FactorMultiSymptom && hits < 2 {
			continue
		}
		score := hits * cat.perHit
		if score > cat.cap {
			score = cat.cap
		}
		total += score
		factors = append(factors, cat.factor)
	}

	diagScore := 0
	for _, re := range complexDiagnosticPatterns {
		if re.MatchString(lowered) {
			diagScore += complexDiagnosticScore
		}
	}
	if diagScore > 0 {
		if diagScore > complexDiagnosticCap {
			diagScore = complexDiagnosticCap
		}
		total += diagScore
		factors = append(factors, FactorComplexDiagnostic)
	}

	words := len(strings.Fields(lowered))
	switch {
	case words >= longQueryWords:
		total += longQueryScore
		factors = append(factors, FactorLongQuery)
	case words >= mediumQueryWords:
		total += mediumQueryScore
		factors = append(factors, FactorLongQuery)
	}

	if quantifiedProblemPattern.MatchString(lowered) {
		q := quantifiedProblemScore
		if q > quantifiedProblemCap {
			q = quantifiedProblemCap
		}
		total += q
		factors = append(factors, FactorQuantifiedProblem)
	}

	if total > 100 {
		total = 100
	}
	return total, factors
}

// assignIntent walks the priority lists.
func (c *Classifier) assignIntent(padded string, ents *entities.ExtractedEntities, level Level) (Intent, float64) {
	// An explicit product reference is the strongest possible signal.
	if ents != nil && ents.Product.Present() {
		return IntentProductConfiguration, intentConfidenceStrong
	}

	// Complex-intent candidates only when the query is non-simple, so a
	// plain "what is the target weight" never becomes a diagnosis.
	if level != LevelSimple {
		for _, rule := range complexIntentRules {
			if hits := countHits(padded, rule.keywords); hits > 0 {
				return rule.intent, hitConfidence(hits)
			}
		}
	}

	for _, rule := range classicIntentRules {
		if hits := countHits(padded, rule.keywords); hits > 0 {
			return rule.intent, hitConfidence(hits)
		}
	}

	return IntentAmbiguousGeneral, intentConfidenceFallback
}

// countHits counts how many keywords appear in the padded query as whole
// words, so "cost" does not fire on "costa" or "age" on "storage".
func countHits(padded string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			hits++
		}
	}
	return hits
}

// padForMatch strips punctuation, collapses whitespace, and pads the ends
// so every keyword occurrence sits between spaces.
func padForMatch(lowered string) string {
	var b strings.Builder
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return " " + strings.Join(strings.Fields(b.String()), " ") + " "
}

// hitConfidence maps keyword evidence to a confidence level.
func hitConfidence(hits int) float64 {
	if hits >= 2 {
		return intentConfidenceStrong
	}
	return intentConfidenceSingle
}
