// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Lexicon
// =============================================================================

//go:embed lexicons.yaml
var defaultLexiconYAML []byte

// MaxYAMLFileSize caps any YAML document this package will parse.
// Lexicon and rule files are hand-curated; anything above 1MB is a mistake.
const MaxYAMLFileSize = 1 << 20

var configTracer = otel.Tracer("avicore.query.config")

// =============================================================================
// Lexicon Types
// =============================================================================

// Lexicon holds every keyword table the pipeline consults: product names,
// genetic lines, species/sex/housing/phase vocabulary, metric names, and the
// unambiguous domain keywords used by the relevance gate's fast path.
//
// Description:
//
//	Loaded once at startup from lexicons.yaml (embedded default, overridable
//	from disk). Synonym entries carry multilingual variants (en/es/pt) because
//	field queries arrive in whichever language the farm staff types.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Lexicon struct {
	// Products are controller/equipment product names recognized in the
	// explicit "<product>: question" prefix syntax.
	Products []ProductEntry `yaml:"products"`

	// Breeds are genetic lines mapped to their canonical name and species.
	Breeds []BreedEntry `yaml:"breeds"`

	// Species vocabulary (broiler, layer, breeder).
	Species []KeywordEntry `yaml:"species"`

	// Sex vocabulary (male, female, mixed).
	Sex []KeywordEntry `yaml:"sex"`

	// Housing vocabulary (tunnel, cage, floor, free_range).
	Housing []KeywordEntry `yaml:"housing"`

	// Phases are production phases with their expected age windows,
	// used both for extraction and for age/phase coherence checks.
	Phases []PhaseEntry `yaml:"phases"`

	// Metrics are the performance metrics a query can ask for.
	Metrics []KeywordEntry `yaml:"metrics"`

	// DomainKeywords accept a query as in-domain without any external call
	// when present. Keep this list high-precision: a false positive here
	// bypasses the external classifier entirely.
	DomainKeywords []string `yaml:"domain_keywords"`
}

// ProductEntry is one recognized product reference.
type ProductEntry struct {
	// Canonical is the normalized product identifier.
	Canonical string `yaml:"canonical"`

	// Aliases are additional prefix tokens that resolve to this product.
	Aliases []string `yaml:"aliases"`
}

// BreedEntry maps a genetic line's synonyms to its canonical name and species.
type BreedEntry struct {
	// Canonical is the normalized line name (e.g., "ross_308").
	Canonical string `yaml:"canonical"`

	// Species is the species this line belongs to (broiler, layer, breeder).
	// Used by the validator's line/species contradiction rule.
	Species string `yaml:"species"`

	// Synonyms match with high confidence (0.9).
	Synonyms []string `yaml:"synonyms"`

	// Loose synonyms match with reduced confidence (0.7), e.g. a bare
	// brand name without the line number.
	Loose []string `yaml:"loose,omitempty"`
}

// KeywordEntry maps synonyms to a canonical vocabulary value.
type KeywordEntry struct {
	// Canonical is the normalized value.
	Canonical string `yaml:"canonical"`

	// Synonyms match with high confidence (0.9).
	Synonyms []string `yaml:"synonyms"`

	// Loose synonyms match with reduced confidence (0.7).
	Loose []string `yaml:"loose,omitempty"`
}

// PhaseEntry is a production phase with its expected age window in days.
type PhaseEntry struct {
	// Canonical is the normalized phase name.
	Canonical string `yaml:"canonical"`

	// Species restricts the phase to one species ("" = any).
	Species string `yaml:"species,omitempty"`

	// MinAgeDays/MaxAgeDays bound the expected age window for this phase.
	MinAgeDays int `yaml:"min_age_days"`
	MaxAgeDays int `yaml:"max_age_days"`

	// Synonyms match with high confidence (0.9).
	Synonyms []string `yaml:"synonyms"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	lexiconMu      sync.RWMutex
	cachedLexicon  *Lexicon
	lexiconLoadErr error
)

// GetLexicon returns the cached lexicon, loading the embedded default on
// first call.
//
// Description:
//
//	Loads lexicons.yaml on first call and caches for subsequent calls.
//	Hot reload replaces the cached pointer atomically via SwapLexicon.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*Lexicon - The loaded lexicon. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetLexicon(ctx context.Context) (*Lexicon, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetLexicon: ctx must not be nil")
	}

	lexiconMu.RLock()
	if cachedLexicon != nil || lexiconLoadErr != nil {
		lex, err := cachedLexicon, lexiconLoadErr
		lexiconMu.RUnlock()
		return lex, err
	}
	lexiconMu.RUnlock()

	lexiconMu.Lock()
	defer lexiconMu.Unlock()
	if cachedLexicon == nil && lexiconLoadErr == nil {
		cachedLexicon, lexiconLoadErr = LoadLexicon(ctx, defaultLexiconYAML)
	}
	return cachedLexicon, lexiconLoadErr
}

// SwapLexicon atomically replaces the cached lexicon.
//
// Description:
//
//	Used by the hot-reload watcher. The whole table is replaced at once;
//	requests in flight keep the pointer they already read, so no request
//	ever observes a mix of old and new entries.
//
// Thread Safety: Safe for concurrent use.
func SwapLexicon(lex *Lexicon) {
	if lex == nil {
		return
	}
	lexiconMu.Lock()
	cachedLexicon = lex
	lexiconLoadErr = nil
	lexiconMu.Unlock()
}

// ResetLexicon clears the cached lexicon for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetLexicon() {
	lexiconMu.Lock()
	cachedLexicon = nil
	lexiconLoadErr = nil
	lexiconMu.Unlock()
}

// LoadLexicon parses and validates a Lexicon from YAML bytes.
//
// Description:
//
//	Parses the YAML, lowercases all synonym entries, and validates that
//	every entry has a canonical value and at least one synonym. Breed
//	entries must name a species that exists in the species table.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*Lexicon - The validated lexicon.
//	error - Non-nil if parsing or validation fails.
func LoadLexicon(ctx context.Context, data []byte) (*Lexicon, error) {
	_, span := configTracer.Start(ctx, "config.LoadLexicon")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadLexicon: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadLexicon: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("LoadLexicon: parsing YAML: %w", err)
	}

	lex.normalize()
	if err := lex.validate(); err != nil {
		return nil, fmt.Errorf("LoadLexicon: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("products", len(lex.Products)),
		attribute.Int("breeds", len(lex.Breeds)),
		attribute.Int("metrics", len(lex.Metrics)),
		attribute.Int("domain_keywords", len(lex.DomainKeywords)),
	)

	slog.Info("lexicon loaded",
		slog.Int("products", len(lex.Products)),
		slog.Int("breeds", len(lex.Breeds)),
		slog.Int("phases", len(lex.Phases)),
		slog.Int("domain_keywords", len(lex.DomainKeywords)),
	)

	return &lex, nil
}

// normalize lowercases every synonym, alias, and keyword in place.
func (l *Lexicon) normalize() {
	lower := func(ss []string) {
		for i := range ss {
			ss[i] = strings.ToLower(strings.TrimSpace(ss[i]))
		}
	}
	for i := range l.Products {
		l.Products[i].Canonical = strings.ToLower(l.Products[i].Canonical)
		lower(l.Products[i].Aliases)
	}
	for i := range l.Breeds {
		lower(l.Breeds[i].Synonyms)
		lower(l.Breeds[i].Loose)
	}
	for _, tbl := range [][]KeywordEntry{l.Species, l.Sex, l.Housing, l.Metrics} {
		for i := range tbl {
			lower(tbl[i].Synonyms)
			lower(tbl[i].Loose)
		}
	}
	for i := range l.Phases {
		lower(l.Phases[i].Synonyms)
	}
	lower(l.DomainKeywords)
}

// validate checks structural consistency of all tables.
func (l *Lexicon) validate() error {
	speciesSet := make(map[string]bool, len(l.Species))
	for i, s := range l.Species {
		if s.Canonical == "" {
			return fmt.Errorf("species[%d]: canonical must not be empty", i)
		}
		speciesSet[s.Canonical] = true
	}

	for i, p := range l.Products {
		if p.Canonical == "" {
			return fmt.Errorf("product[%d]: canonical must not be empty", i)
		}
	}

	for i, b := range l.Breeds {
		if b.Canonical == "" {
			return fmt.Errorf("breed[%d]: canonical must not be empty", i)
		}
		if len(b.Synonyms) == 0 {
			return fmt.Errorf("breed[%d] (%s): synonyms must not be empty", i, b.Canonical)
		}
		if b.Species != "" && !speciesSet[b.Species] {
			return fmt.Errorf("breed[%d] (%s): unknown species %q", i, b.Canonical, b.Species)
		}
	}

	for i, p := range l.Phases {
		if p.Canonical == "" {
			return fmt.Errorf("phase[%d]: canonical must not be empty", i)
		}
		if p.MinAgeDays < 0 || p.MaxAgeDays < p.MinAgeDays {
			return fmt.Errorf("phase[%d] (%s): invalid age window [%d, %d]", i, p.Canonical, p.MinAgeDays, p.MaxAgeDays)
		}
	}

	return nil
}

// =============================================================================
// Lookup Helpers
// =============================================================================

// FindProduct resolves a prefix token to a canonical product name.
//
// Outputs:
//
//	string - The canonical name, or "" if the token is not a known product.
func (l *Lexicon) FindProduct(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	for _, p := range l.Products {
		if p.Canonical == token {
			return p.Canonical
		}
		for _, a := range p.Aliases {
			if a == token {
				return p.Canonical
			}
		}
	}
	return ""
}

// BreedSpecies returns the species associated with a canonical line name.
//
// Outputs:
//
//	string - The species, or "" if the line is unknown or species-agnostic.
func (l *Lexicon) BreedSpecies(canonical string) string {
	for _, b := range l.Breeds {
		if b.Canonical == canonical {
			return b.Species
		}
	}
	return ""
}

// PhaseWindow returns the expected age window in days for a canonical phase.
//
// Outputs:
//
//	min, max - The window bounds in days.
//	ok - False if the phase is unknown.
func (l *Lexicon) PhaseWindow(canonical string) (min, max int, ok bool) {
	for _, p := range l.Phases {
		if p.Canonical == canonical {
			return p.MinAgeDays, p.MaxAgeDays, true
		}
	}
	return 0, 0, false
}

// Hash returns a stable SHA256 digest of the lexicon content.
//
// Description:
//
//	Used as part of the gate decision cache key so that any lexicon change
//	invalidates previously cached decisions. The digest covers canonical
//	names and synonym lists in sorted order, making it insensitive to YAML
//	formatting.
//
// Outputs:
//
//	string - Hex-encoded SHA256 digest.
func (l *Lexicon) Hash() string {
	var parts []string
	for _, p := range l.Products {
		parts = append(parts, "product:"+p.Canonical+":"+strings.Join(p.Aliases, ","))
	}
	for _, b := range l.Breeds {
		parts = append(parts, "breed:"+b.Canonical+":"+b.Species+":"+strings.Join(b.Synonyms, ",")+":"+strings.Join(b.Loose, ","))
	}
	for _, kw := range l.DomainKeywords {
		parts = append(parts, "domain:"+kw)
	}
	sort.Strings(parts)

	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
