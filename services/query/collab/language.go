// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"context"
	"strings"
)

// Compile-time interface implementation check.
var _ LanguageDetector = (*HeuristicDetector)(nil)

// Function words and diacritic markers per supported language. Scoring is
// hits over query words; function words are far more frequent than domain
// vocabulary, so even short queries usually contain one.
var languageMarkers = map[string][]string{
	"es": {
		"que", "qué", "cual", "cuál", "como", "cómo", "cuanto", "cuánto",
		"para", "por", "con", "una", "los", "las", "del", "este", "esta",
		"días", "semanas", "pollos", "gallinas", "ponedoras", "engorde",
	},
	"pt": {
		"que", "qual", "como", "quanto", "quantos", "para", "com", "uma",
		"dos", "das", "não", "são", "você", "frangos", "galinhas",
		"poedeiras", "ração", "semanas", "dias",
	},
	"en": {
		"what", "which", "how", "the", "for", "with", "should", "many",
		"much", "days", "weeks", "birds", "broilers", "layers", "flock",
	},
}

// HeuristicDetector guesses the query language from function-word overlap.
//
// # Description
//
// Zero-dependency detector good enough for routing synonyms: the lexicon
// carries all three languages anyway, so a wrong guess only affects the
// hint passed to the domain classifier. Ties resolve to English.
//
// # Thread Safety
//
// Safe for concurrent use (read-only tables).
type HeuristicDetector struct{}

// NewHeuristicDetector creates a HeuristicDetector.
func NewHeuristicDetector() *HeuristicDetector { return &HeuristicDetector{} }

// Detect returns the best-scoring language code and a rough confidence.
func (d *HeuristicDetector) Detect(_ context.Context, text string) (string, float64) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return "en", 0
	}

	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,;:!?¿¡\"'()")] = struct{}{}
	}

	best, bestHits := "en", 0
	for _, lang := range []string{"en", "es", "pt"} {
		hits := 0
		for _, marker := range languageMarkers[lang] {
			if _, ok := wordSet[marker]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	if bestHits == 0 {
		return "en", 0
	}

	conf := float64(bestHits) / float64(len(words))
	if conf > 1 {
		conf = 1
	}
	return best, conf
}
