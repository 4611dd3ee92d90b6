// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"strings"
	"testing"
)

func TestGetLexicon_LoadsEmbeddedDefault(t *testing.T) {
	ResetLexicon()
	t.Cleanup(ResetLexicon)

	lex, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}
	if len(lex.Breeds) == 0 || len(lex.Metrics) == 0 || len(lex.DomainKeywords) == 0 {
		t.Fatalf("embedded lexicon is missing tables: breeds=%d metrics=%d keywords=%d",
			len(lex.Breeds), len(lex.Metrics), len(lex.DomainKeywords))
	}

	// Second call returns the same cached pointer.
	again, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("second GetLexicon: %v", err)
	}
	if again != lex {
		t.Error("expected the cached lexicon pointer on the second call")
	}
}

func TestGetLexicon_NilContext(t *testing.T) {
	if _, err := GetLexicon(nil); err == nil { //nolint:staticcheck
		t.Fatal("expected an error for nil context")
	}
}

func TestLoadLexicon_NormalizesCase(t *testing.T) {
	yaml := `
species:
  - canonical: broiler
    synonyms: ["Broiler", "  BROILERS  "]
breeds:
  - canonical: ross_308
    species: broiler
    synonyms: ["Ross 308"]
`
	lex, err := LoadLexicon(context.Background(), []byte(yaml))
	if err != nil {
		t.Fatalf("LoadLexicon: %v", err)
	}
	if got := lex.Species[0].Synonyms; got[0] != "broiler" || got[1] != "broilers" {
		t.Errorf("synonyms not normalized: %v", got)
	}
	if lex.Breeds[0].Synonyms[0] != "ross 308" {
		t.Errorf("breed synonym not lowercased: %v", lex.Breeds[0].Synonyms)
	}
}

func TestLoadLexicon_RejectsUnknownBreedSpecies(t *testing.T) {
	yaml := `
species:
  - canonical: broiler
    synonyms: ["broiler"]
breeds:
  - canonical: mystery_bird
    species: ostrich
    synonyms: ["mystery"]
`
	if _, err := LoadLexicon(context.Background(), []byte(yaml)); err == nil {
		t.Fatal("expected a validation error for an unknown species")
	}
}

func TestLoadLexicon_RejectsBreedWithoutSynonyms(t *testing.T) {
	yaml := `
breeds:
  - canonical: ross_308
    synonyms: []
`
	if _, err := LoadLexicon(context.Background(), []byte(yaml)); err == nil {
		t.Fatal("expected a validation error for empty synonyms")
	}
}

func TestLoadLexicon_RejectsInvalidPhaseWindow(t *testing.T) {
	yaml := `
phases:
  - canonical: starter
    min_age_days: 10
    max_age_days: 3
    synonyms: ["starter"]
`
	if _, err := LoadLexicon(context.Background(), []byte(yaml)); err == nil {
		t.Fatal("expected a validation error for an inverted age window")
	}
}

func TestLoadLexicon_EmptyData(t *testing.T) {
	if _, err := LoadLexicon(context.Background(), nil); err == nil {
		t.Fatal("expected an error for empty data")
	}
}

func TestFindProduct(t *testing.T) {
	lex, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}

	if got := lex.FindProduct("Nano"); got != "nano" {
		t.Errorf("FindProduct(Nano) = %q, want nano", got)
	}
	if got := lex.FindProduct("platinum pro"); got != "platinum" {
		t.Errorf("FindProduct(platinum pro) = %q, want the canonical platinum", got)
	}
	if got := lex.FindProduct("thermostat"); got != "" {
		t.Errorf("FindProduct(thermostat) = %q, want no match", got)
	}
}

func TestBreedSpeciesAndPhaseWindow(t *testing.T) {
	lex, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}

	if got := lex.BreedSpecies("ross_308"); got != "broiler" {
		t.Errorf("BreedSpecies(ross_308) = %q, want broiler", got)
	}
	if got := lex.BreedSpecies("lohmann_brown"); got != "layer" {
		t.Errorf("BreedSpecies(lohmann_brown) = %q, want layer", got)
	}

	min, max, ok := lex.PhaseWindow("starter")
	if !ok || min != 0 || max != 10 {
		t.Errorf("PhaseWindow(starter) = %d..%d/%v, want 0..10", min, max, ok)
	}
	if _, _, ok := lex.PhaseWindow("molting"); ok {
		t.Error("PhaseWindow(molting) unexpectedly found")
	}
}

func TestLexiconHash_SensitiveToVocabulary(t *testing.T) {
	base := `
species:
  - canonical: broiler
    synonyms: ["broiler"]
domain_keywords: ["broiler", "fcr"]
`
	changed := `
species:
  - canonical: broiler
    synonyms: ["broiler"]
domain_keywords: ["broiler", "fcr", "litter"]
`
	a, err := LoadLexicon(context.Background(), []byte(base))
	if err != nil {
		t.Fatalf("load base: %v", err)
	}
	b, err := LoadLexicon(context.Background(), []byte(changed))
	if err != nil {
		t.Fatalf("load changed: %v", err)
	}

	if a.Hash() != a.Hash() {
		t.Error("hash is not stable across calls")
	}
	if a.Hash() == b.Hash() {
		t.Error("adding a domain keyword did not change the hash")
	}
	if len(a.Hash()) != 64 || strings.ToLower(a.Hash()) != a.Hash() {
		t.Errorf("hash %q is not lowercase hex sha256", a.Hash())
	}
}

func TestSwapLexicon_ReplacesAtomically(t *testing.T) {
	ResetLexicon()
	t.Cleanup(ResetLexicon)

	orig, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}

	next, err := LoadLexicon(context.Background(), []byte(`
species:
  - canonical: layer
    synonyms: ["layer"]
`))
	if err != nil {
		t.Fatalf("LoadLexicon: %v", err)
	}

	SwapLexicon(next)
	got, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon after swap: %v", err)
	}
	if got != next {
		t.Error("swap did not replace the cached lexicon")
	}
	if got == orig {
		t.Error("old lexicon still cached after swap")
	}

	// A nil swap is ignored, never clears the cache.
	SwapLexicon(nil)
	if again, _ := GetLexicon(context.Background()); again != next {
		t.Error("nil swap disturbed the cached lexicon")
	}
}
