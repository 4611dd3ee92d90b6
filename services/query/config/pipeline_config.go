// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Pipeline Configuration
// =============================================================================

//go:embed pipeline_defaults.yaml
var defaultPipelineYAML []byte

// =============================================================================
// Pipeline Configuration Types
// =============================================================================

// PipelineConfig holds every tunable threshold of the routing pipeline.
//
// Description:
//
//	The gate thresholds (0.9 fast-confidence, 0.7 search-relevance) are
//	empirically tuned constants. They live here — not hardcoded in the gate —
//	so operators can adjust them per deployment and tests can override them.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type PipelineConfig struct {
	Gate       GateConfig       `yaml:"gate"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Validation ValidationConfig `yaml:"validation"`
}

// GateConfig tunes the domain relevance gate.
type GateConfig struct {
	// FastConfidenceThreshold terminates the gate at the classifier step when
	// the classifier's confidence meets or exceeds it (accept or reject).
	FastConfidenceThreshold float64 `yaml:"fast_confidence_threshold"`

	// SearchRelevanceThreshold accepts the query during fallback search when
	// the best of the top-K results scores at or above it.
	SearchRelevanceThreshold float64 `yaml:"search_relevance_threshold"`

	// SearchTopK is how many knowledge-base results the fallback inspects.
	SearchTopK int `yaml:"search_top_k"`

	// ClassifierTimeout bounds the external classifier call.
	ClassifierTimeout Duration `yaml:"classifier_timeout"`

	// SearchTimeout bounds the fallback search call.
	SearchTimeout Duration `yaml:"search_timeout"`

	// CacheTTL is the lifetime of cached gate decisions. Zero disables caching.
	CacheTTL Duration `yaml:"cache_ttl"`
}

// FusionConfig tunes reciprocal rank fusion and reranking.
type FusionConfig struct {
	// RRFK is the k constant in 1/(k + rank). 60 is the value from the
	// original Cormack et al. evaluation and works well untouched.
	RRFK int `yaml:"rrf_k"`

	// RetrieveTopK is how many candidates each search mode returns.
	RetrieveTopK int `yaml:"retrieve_top_k"`

	// FuseTopN is how many fused candidates are sent to the reranker.
	FuseTopN int `yaml:"fuse_top_n"`

	// FinalTopM is how many reranked candidates reach the generation step.
	FinalTopM int `yaml:"final_top_m"`

	// BreedBoost is added to a candidate's fused score when its metadata
	// names a genetic line referenced in the query.
	BreedBoost float64 `yaml:"breed_boost"`

	// SearchTimeout bounds each retrieval call (vector and lexical run in
	// parallel, each with its own deadline).
	SearchTimeout Duration `yaml:"search_timeout"`

	// RerankTimeout bounds the cross-encoder rerank call.
	RerankTimeout Duration `yaml:"rerank_timeout"`
}

// ValidationConfig tunes the completeness scorer.
type ValidationConfig struct {
	// FieldWeights assigns a relative weight per field name. Missing entries
	// default to 1.0.
	FieldWeights map[string]float64 `yaml:"field_weights"`

	// CriticalMultiplier scales the weight of fields marked critical.
	CriticalMultiplier float64 `yaml:"critical_multiplier"`

	// ContradictionPenalty multiplies the final score when a hard
	// business-rule contradiction is detected.
	ContradictionPenalty float64 `yaml:"contradiction_penalty"`

	// CoherenceBonus is added per satisfied cross-field consistency check.
	CoherenceBonus float64 `yaml:"coherence_bonus"`

	// RequiredFields is the legacy static fallback table, keyed by intent
	// name. Consulted only when the intent specification registry is
	// unavailable.
	RequiredFields map[string]RequiredFieldSet `yaml:"required_fields"`
}

// RequiredFieldSet lists the required fields for one intent.
type RequiredFieldSet struct {
	// Fields are all required field names.
	Fields []string `yaml:"fields"`

	// Critical is the subset whose absence blocks confident answering.
	Critical []string `yaml:"critical"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultFastConfidenceThreshold is the gate's classifier termination bar.
	DefaultFastConfidenceThreshold = 0.9

	// DefaultSearchRelevanceThreshold is the fallback search acceptance bar.
	DefaultSearchRelevanceThreshold = 0.7

	// DefaultSearchTopK is the fallback search depth.
	DefaultSearchTopK = 5

	// DefaultRRFK is the reciprocal rank fusion constant.
	DefaultRRFK = 60

	// DefaultRetrieveTopK is the per-mode retrieval depth.
	DefaultRetrieveTopK = 20

	// DefaultFuseTopN is the rerank input size.
	DefaultFuseTopN = 20

	// DefaultFinalTopM is the rerank output size.
	DefaultFinalTopM = 5

	// DefaultCriticalMultiplier scales critical field weights.
	DefaultCriticalMultiplier = 1.5

	// DefaultContradictionPenalty is the multiplicative business-rule penalty.
	DefaultContradictionPenalty = 0.7
)

// =============================================================================
// Loading
// =============================================================================

var (
	pipelineConfigMu      sync.RWMutex
	cachedPipelineConfig  *PipelineConfig
	pipelineConfigLoadErr error
)

// GetPipelineConfig returns the cached pipeline configuration, loading the
// embedded default on first call.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*PipelineConfig - The loaded configuration. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetPipelineConfig(ctx context.Context) (*PipelineConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetPipelineConfig: ctx must not be nil")
	}

	pipelineConfigMu.RLock()
	if cachedPipelineConfig != nil || pipelineConfigLoadErr != nil {
		cfg, err := cachedPipelineConfig, pipelineConfigLoadErr
		pipelineConfigMu.RUnlock()
		return cfg, err
	}
	pipelineConfigMu.RUnlock()

	pipelineConfigMu.Lock()
	defer pipelineConfigMu.Unlock()
	if cachedPipelineConfig == nil && pipelineConfigLoadErr == nil {
		cachedPipelineConfig, pipelineConfigLoadErr = LoadPipelineConfig(ctx, defaultPipelineYAML)
	}
	return cachedPipelineConfig, pipelineConfigLoadErr
}

// SwapPipelineConfig atomically replaces the cached pipeline configuration.
//
// Thread Safety: Safe for concurrent use.
func SwapPipelineConfig(cfg *PipelineConfig) {
	if cfg == nil {
		return
	}
	pipelineConfigMu.Lock()
	cachedPipelineConfig = cfg
	pipelineConfigLoadErr = nil
	pipelineConfigMu.Unlock()
}

// ResetPipelineConfig clears the cached config for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetPipelineConfig() {
	pipelineConfigMu.Lock()
	cachedPipelineConfig = nil
	pipelineConfigLoadErr = nil
	pipelineConfigMu.Unlock()
}

// LoadPipelineConfig loads and validates a PipelineConfig from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing numeric fields, and
//	validates threshold ranges.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*PipelineConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadPipelineConfig(ctx context.Context, data []byte) (*PipelineConfig, error) {
	_, span := configTracer.Start(ctx, "config.LoadPipelineConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadPipelineConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadPipelineConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadPipelineConfig: parsing YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("LoadPipelineConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Float64("gate.fast_confidence_threshold", cfg.Gate.FastConfidenceThreshold),
		attribute.Float64("gate.search_relevance_threshold", cfg.Gate.SearchRelevanceThreshold),
		attribute.Int("fusion.rrf_k", cfg.Fusion.RRFK),
		attribute.Int("fusion.final_top_m", cfg.Fusion.FinalTopM),
	)

	slog.Info("pipeline config loaded",
		slog.Float64("gate_fast_threshold", cfg.Gate.FastConfidenceThreshold),
		slog.Float64("gate_search_threshold", cfg.Gate.SearchRelevanceThreshold),
		slog.Int("rrf_k", cfg.Fusion.RRFK),
		slog.Int("required_field_intents", len(cfg.Validation.RequiredFields)),
	)

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with package defaults.
func (c *PipelineConfig) applyDefaults() {
	if c.Gate.FastConfidenceThreshold <= 0 {
		c.Gate.FastConfidenceThreshold = DefaultFastConfidenceThreshold
	}
	if c.Gate.SearchRelevanceThreshold <= 0 {
		c.Gate.SearchRelevanceThreshold = DefaultSearchRelevanceThreshold
	}
	if c.Gate.SearchTopK <= 0 {
		c.Gate.SearchTopK = DefaultSearchTopK
	}
	if c.Gate.ClassifierTimeout <= 0 {
		c.Gate.ClassifierTimeout = Duration(2 * time.Second)
	}
	if c.Gate.SearchTimeout <= 0 {
		c.Gate.SearchTimeout = Duration(3 * time.Second)
	}

	if c.Fusion.RRFK <= 0 {
		c.Fusion.RRFK = DefaultRRFK
	}
	if c.Fusion.RetrieveTopK <= 0 {
		c.Fusion.RetrieveTopK = DefaultRetrieveTopK
	}
	if c.Fusion.FuseTopN <= 0 {
		c.Fusion.FuseTopN = DefaultFuseTopN
	}
	if c.Fusion.FinalTopM <= 0 {
		c.Fusion.FinalTopM = DefaultFinalTopM
	}
	if c.Fusion.SearchTimeout <= 0 {
		c.Fusion.SearchTimeout = Duration(3 * time.Second)
	}
	if c.Fusion.RerankTimeout <= 0 {
		c.Fusion.RerankTimeout = Duration(5 * time.Second)
	}

	if c.Validation.CriticalMultiplier <= 0 {
		c.Validation.CriticalMultiplier = DefaultCriticalMultiplier
	}
	if c.Validation.ContradictionPenalty <= 0 {
		c.Validation.ContradictionPenalty = DefaultContradictionPenalty
	}
	if c.Validation.FieldWeights == nil {
		c.Validation.FieldWeights = make(map[string]float64)
	}
}

// validate checks threshold ranges and table consistency.
func (c *PipelineConfig) validate() error {
	if c.Gate.FastConfidenceThreshold > 1.0 {
		return fmt.Errorf("gate.fast_confidence_threshold must be <= 1.0, got %v", c.Gate.FastConfidenceThreshold)
	}
	if c.Gate.SearchRelevanceThreshold > 1.0 {
		return fmt.Errorf("gate.search_relevance_threshold must be <= 1.0, got %v", c.Gate.SearchRelevanceThreshold)
	}
	if c.Validation.ContradictionPenalty > 1.0 {
		return fmt.Errorf("validation.contradiction_penalty must be <= 1.0, got %v", c.Validation.ContradictionPenalty)
	}
	if c.Fusion.FinalTopM > c.Fusion.FuseTopN {
		return fmt.Errorf("fusion.final_top_m (%d) must not exceed fusion.fuse_top_n (%d)", c.Fusion.FinalTopM, c.Fusion.FuseTopN)
	}
	for intent, rf := range c.Validation.RequiredFields {
		fieldSet := make(map[string]bool, len(rf.Fields))
		for _, f := range rf.Fields {
			fieldSet[f] = true
		}
		for _, crit := range rf.Critical {
			if !fieldSet[crit] {
				return fmt.Errorf("required_fields[%s]: critical field %q not in fields list", intent, crit)
			}
		}
	}
	return nil
}
