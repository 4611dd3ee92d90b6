// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entities

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AvicoreAI/avicore/services/query/config"
)

// =============================================================================
// OTel Tracer
// =============================================================================

var extractorTracer = otel.Tracer("avicore.query.entities")

// =============================================================================
// Extraction Confidence Levels
// =============================================================================

const (
	// confidenceExplicit is assigned to explicit-syntax fields.
	confidenceExplicit = 1.0

	// confidenceKeyword is assigned to unambiguous lexicon matches.
	confidenceKeyword = 0.9

	// confidenceLoose is assigned to partial/shorthand matches (a bare brand
	// name without the line number, an abbreviated unit).
	confidenceLoose = 0.7
)

// =============================================================================
// Numeric Patterns
// =============================================================================

// Digit counts are bounded so a serial number or phone number in the query
// can never be mistaken for an age or flock size.
var (
	// agePattern matches "35 days", "35-day-old", "5 weeks", "a los 21 dias",
	// "35d", "5 sem". Group 1 = number, group 2 = unit.
	agePattern = regexp.MustCompile(`\b(\d{1,3})\s*[- ]?\s*(days?|day-old|d\b|dias?|días?|weeks?|week-old|wk?s?\b|semanas?|sem\b)`)

	// flockSizePattern matches "20000 birds", "20,000 birds", "flock of 15000".
	// Group 1 = number with optional thousands separators.
	flockSizePattern = regexp.MustCompile(`\b(\d{1,3}(?:[,.]\d{3})+|\d{3,7})\s*(birds?|chickens?|hens?|broilers?|layers?|head|aves|pollos|frangos|galinhas|gallinas)\b`)

	// flockOfPattern matches "flock of 20000" / "lote de 20000" phrasing.
	flockOfPattern = regexp.MustCompile(`\b(?:flock|house|barn|lote|galpon|galpón|aviario)\s+(?:of|de|com|con)?\s*(\d{1,3}(?:[,.]\d{3})+|\d{3,7})\b`)

	// productPrefixPattern captures a short leading token before a colon.
	// The token itself is validated against the product lexicon; an
	// unrecognized token leaves the query untouched.
	productPrefixPattern = regexp.MustCompile(`^\s*([a-zA-Z][a-zA-Z0-9 _-]{0,23}?)\s*:\s*(.+)$`)
)

// weekUnits marks units that denominate the age in weeks.
var weekUnits = map[string]bool{
	"week": true, "weeks": true, "week-old": true, "wk": true, "wks": true,
	"semana": true, "semanas": true, "sem": true, "w": true,
}

// looseAgeUnits are single-letter abbreviations whose meaning is less certain.
var looseAgeUnits = map[string]bool{"d": true, "w": true, "wk": true, "sem": true}

// =============================================================================
// Extractor
// =============================================================================

// Extraction is the extractor's full output: the structured entities plus the
// query text with any explicit prefix stripped.
type Extraction struct {
	// Entities holds the extracted fields.
	Entities ExtractedEntities

	// Query is the text all downstream stages must see: the original query
	// with the explicit product prefix (if any) removed.
	Query string

	// Language is the language hint the extraction ran with.
	Language string
}

// Extractor pulls structured fields out of raw query text using layered
// pattern matching: explicit prefix syntax, lexicon keywords, then bounded
// numeric patterns.
//
// Description:
//
//	The extractor never fabricates a field — absence of a signal yields an
//	absent field. Defaults for missing values belong to the validation
//	scorer and the calculation adapter, not here.
//
// Thread Safety: Safe for concurrent use (all state is read-only).
type Extractor struct {
	lexicon *config.Lexicon
	logger  *slog.Logger
}

// NewExtractor creates an Extractor over the given lexicon.
//
// Inputs:
//
//	lexicon - Keyword tables. Must not be nil.
//	logger - Logger instance. Must not be nil.
//
// Outputs:
//
//	*Extractor - The constructed extractor. Never nil.
func NewExtractor(lexicon *config.Lexicon, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{lexicon: lexicon, logger: logger}
}

// Extract runs layered extraction over one query.
//
// Description:
//
//  1. Explicit prefix detection: a recognized product token followed by a
//     colon is matched with confidence 1.0 and stripped from the query
//     before any further processing.
//  2. Lexicon keyword detection for line, species, sex, housing, phase,
//     and metric, longest match wins per field.
//  3. Bounded-digit numeric patterns for age (days/weeks) and flock size.
//
// Empty or malformed input yields an all-absent result — that is a valid
// "no information" outcome, not an error.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	query - Raw query text.
//	language - Language hint (BCP 47 code, informational).
//
// Outputs:
//
//	*Extraction - Entities plus the prefix-stripped query. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (x *Extractor) Extract(ctx context.Context, query, language string) *Extraction {
	_, span := extractorTracer.Start(ctx, "entities.Extractor.Extract")
	defer span.End()

	out := &Extraction{Query: strings.TrimSpace(query), Language: language}
	if out.Query == "" {
		span.SetAttributes(attribute.Bool("empty_input", true))
		return out
	}

	// Layer 1: explicit product prefix.
	if m := productPrefixPattern.FindStringSubmatch(out.Query); m != nil {
		if canonical := x.lexicon.FindProduct(m[1]); canonical != "" {
			out.Entities.Product = Field{
				Value:      canonical,
				Confidence: confidenceExplicit,
				Provenance: ProvenanceExplicit,
			}
			out.Query = strings.TrimSpace(m[2])
			span.SetAttributes(attribute.String("explicit_product", canonical))
		}
	}

	normalized := normalizeForMatch(out.Query)

	// Layer 2: lexicon keyword detection.
	x.matchBreed(normalized, &out.Entities)
	out.Entities.Species = pickKeyword(normalized, x.lexicon.Species, out.Entities.Species)
	out.Entities.Sex = pickKeyword(normalized, x.lexicon.Sex, Field{})
	out.Entities.Housing = pickKeyword(normalized, x.lexicon.Housing, Field{})
	out.Entities.Metric = pickKeyword(normalized, x.lexicon.Metrics, Field{})
	x.matchPhase(normalized, &out.Entities)

	// Layer 3: numeric patterns. These run on the raw lowercased text, not
	// the normalized form, because normalization strips the thousands
	// separators inside "20,000 birds".
	lowered := strings.ToLower(out.Query)
	x.matchAge(lowered, &out.Entities)
	x.matchFlockSize(lowered, &out.Entities)

	span.SetAttributes(
		attribute.Bool("line_present", out.Entities.Line.Present()),
		attribute.Bool("metric_present", out.Entities.Metric.Present()),
		attribute.Bool("age_present", out.Entities.HasConcreteAge()),
	)

	return out
}

// matchBreed resolves the genetic line and, when the line implies a species
// and none was stated, leaves species for the coherence check rather than
// filling it in (the extractor reports signals, not conclusions).
func (x *Extractor) matchBreed(normalized string, e *ExtractedEntities) {
	bestLen := 0
	for _, b := range x.lexicon.Breeds {
		for _, syn := range b.Synonyms {
			if len(syn) > bestLen && containsPhrase(normalized, syn) {
				e.Line = Field{Value: b.Canonical, Confidence: confidenceKeyword, Provenance: ProvenanceInferred}
				bestLen = len(syn)
			}
		}
		for _, syn := range b.Loose {
			if len(syn) > bestLen && containsPhrase(normalized, syn) {
				e.Line = Field{Value: b.Canonical, Confidence: confidenceLoose, Provenance: ProvenanceInferred}
				bestLen = len(syn)
			}
		}
	}
}

// matchPhase resolves the production phase keyword.
func (x *Extractor) matchPhase(normalized string, e *ExtractedEntities) {
	bestLen := 0
	for _, p := range x.lexicon.Phases {
		for _, syn := range p.Synonyms {
			if len(syn) > bestLen && containsPhrase(normalized, syn) {
				e.Phase = Field{Value: p.Canonical, Confidence: confidenceKeyword, Provenance: ProvenanceInferred}
				bestLen = len(syn)
			}
		}
	}
}

// matchAge extracts the flock age in days or weeks.
func (x *Extractor) matchAge(lowered string, e *ExtractedEntities) {
	m := agePattern.FindStringSubmatch(lowered)
	if m == nil {
		return
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}

	unit := strings.TrimSpace(m[2])
	conf := confidenceKeyword
	if looseAgeUnits[unit] {
		conf = confidenceLoose
	}

	if weekUnits[unit] || weekUnits[strings.TrimSuffix(unit, ".")] {
		e.AgeWeeks = NumericField{Value: n, Present: true, Confidence: conf, Provenance: ProvenanceInferred}
		return
	}
	e.AgeDays = NumericField{Value: n, Present: true, Confidence: conf, Provenance: ProvenanceInferred}
}

// matchFlockSize extracts the bird count.
func (x *Extractor) matchFlockSize(lowered string, e *ExtractedEntities) {
	var raw string
	if m := flockSizePattern.FindStringSubmatch(lowered); m != nil {
		raw = m[1]
	} else if m := flockOfPattern.FindStringSubmatch(lowered); m != nil {
		raw = m[1]
	}
	if raw == "" {
		return
	}

	raw = strings.NewReplacer(",", "", ".", "").Replace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return
	}
	e.FlockSize = NumericField{Value: n, Present: true, Confidence: confidenceKeyword, Provenance: ProvenanceInferred}
}

// =============================================================================
// Matching helpers
// =============================================================================

// pickKeyword returns the best lexicon match for one field, longest synonym
// first. The current value is kept when no better match is found.
func pickKeyword(normalized string, entries []config.KeywordEntry, current Field) Field {
	best := current
	bestLen := 0
	if current.Present() {
		bestLen = len(current.Value)
	}
	for _, entry := range entries {
		for _, syn := range entry.Synonyms {
			if len(syn) > bestLen && containsPhrase(normalized, syn) {
				best = Field{Value: entry.Canonical, Confidence: confidenceKeyword, Provenance: ProvenanceInferred}
				bestLen = len(syn)
			}
		}
		for _, syn := range entry.Loose {
			if len(syn) > bestLen && containsPhrase(normalized, syn) {
				best = Field{Value: entry.Canonical, Confidence: confidenceLoose, Provenance: ProvenanceInferred}
				bestLen = len(syn)
			}
		}
	}
	return best
}

// normalizeForMatch lowercases the query and replaces punctuation with
// spaces so word-boundary matching works on "Ross 308?" and "35 days,".
func normalizeForMatch(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase appears in normalized text on word
// boundaries. Both inputs must already be lowercase.
func containsPhrase(normalized, phrase string) bool {
	return strings.Contains(" "+normalized+" ", " "+phrase+" ")
}
