// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package collab defines the contracts the query pipeline has with the
// systems around it: the knowledge base, the domain classifier, the
// reranker, the performance-standards store, and the formula engine.
//
// The pipeline packages accept these interfaces and never construct the
// concrete clients themselves; cmd/query wires the real implementations
// and tests substitute fakes.
package collab

import (
	"context"

	"github.com/AvicoreAI/avicore/services/query/entities"
)

// =============================================================================
// Knowledge Base Search
// =============================================================================

// SearchMode selects which index a search runs against.
type SearchMode string

const (
	// SearchModeVector runs a semantic (embedding) search.
	SearchModeVector SearchMode = "vector"
	// SearchModeLexical runs a keyword (BM25) search.
	SearchModeLexical SearchMode = "lexical"
)

// SearchHit is one ranked knowledge-base result.
type SearchHit struct {
	// ID is the stable document chunk identifier.
	ID string `json:"id"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Source names the originating document (manual, guide, spec sheet).
	Source string `json:"source,omitempty"`
	// Score is the engine-reported relevance. Vector and lexical scores
	// are NOT comparable across modes; fusion must use ranks, not scores.
	Score float64 `json:"score"`
	// Breed is the breed/line tag on the chunk, empty when untagged.
	Breed string `json:"breed,omitempty"`
	// Species is the species tag on the chunk, empty when untagged.
	Species string `json:"species,omitempty"`
}

// SearchService retrieves ranked document chunks from the knowledge base.
//
// # Description
//
// One interface covers both retrieval modes so the fusion engine can fan
// out to vector and lexical searches through a single dependency.
// Implementations must return hits in descending relevance order.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SearchService interface {
	// Search returns up to topK hits for the query in the given mode.
	//
	// An unreachable backend returns a *ServiceError with
	// KindUnavailable. Zero matches is NOT an error: it returns an
	// empty slice and a nil error.
	Search(ctx context.Context, query string, topK int, mode SearchMode) ([]SearchHit, error)
}

// =============================================================================
// Domain Classifier
// =============================================================================

// DomainVerdict is the classifier's judgement on one query.
type DomainVerdict struct {
	// InDomain reports whether the text is about poultry production.
	InDomain bool
	// Confidence is the classifier's own confidence in [0,1].
	Confidence float64
}

// DomainClassifier decides whether free text belongs to the poultry
// production domain.
//
// Implementations must be safe for concurrent use.
type DomainClassifier interface {
	// ClassifyDomain judges the text. The language code is a hint and
	// may be empty. An unreachable classifier returns a *ServiceError
	// with KindUnavailable so the gate can fall through to search.
	ClassifyDomain(ctx context.Context, text, language string) (DomainVerdict, error)
}

// =============================================================================
// Reranker
// =============================================================================

// RankedHit is a reranked search hit with the reranker's score attached.
type RankedHit struct {
	SearchHit
	// RerankScore is the cross-encoder relevance score. Higher is better.
	RerankScore float64 `json:"rerank_score"`
}

// Reranker reorders fused candidates by query relevance and keeps the best.
//
// Implementations must be safe for concurrent use.
type Reranker interface {
	// Rerank scores every candidate against the query and returns the
	// top keep hits in descending score order. keep is clamped to
	// len(candidates). An unreachable reranker returns a *ServiceError
	// with KindUnavailable; the caller decides whether to degrade.
	Rerank(ctx context.Context, query string, candidates []SearchHit, keep int) ([]RankedHit, error)
}

// =============================================================================
// Performance Standards Store
// =============================================================================

// MetricValue is one resolved performance-standard number.
type MetricValue struct {
	Value float64
	Unit  string
	// Source names the standards table the value came from.
	Source string
}

// MetricsStore resolves official performance-standard values for a
// fully-specified lookup (line, age, sex, metric).
//
// Implementations must be safe for concurrent use.
type MetricsStore interface {
	// Lookup returns the standard value, or a *ServiceError with
	// KindNotFound when the table has no entry for the combination.
	Lookup(ctx context.Context, line string, ageDays int, sex, metric string) (MetricValue, error)
}

// =============================================================================
// Formula Engine
// =============================================================================

// FormulaResult is the outcome of one calculation run.
type FormulaResult struct {
	Value       float64
	Unit        string
	Confidence  float64
	Assumptions []string
	Warnings    []string
}

// FormulaRunner executes a named calculation over normalized parameters.
//
// Implementations must be safe for concurrent use.
type FormulaRunner interface {
	// Run executes the formula. Unknown formula names return a
	// *ServiceError with KindNotFound; parameter problems detected by
	// the engine return KindInvalidInput.
	Run(ctx context.Context, name string, params map[string]float64) (FormulaResult, error)
}

// =============================================================================
// Intent Requirements
// =============================================================================

// RequiredFields lists what an intent needs before routing downstream.
type RequiredFields struct {
	// Fields are the entity names the intent consumes.
	Fields []string
	// Critical is the subset whose absence weighs heaviest in the
	// completeness score. Always a subset of Fields.
	Critical []string
}

// IntentSpecRegistry maps an intent name to its field requirements.
//
// Implementations must be safe for concurrent use.
type IntentSpecRegistry interface {
	// Requirements returns the field spec for the intent. ok is false
	// when the registry has no entry, in which case the caller falls
	// back to its embedded defaults.
	Requirements(intent string) (RequiredFields, bool)
}

// =============================================================================
// Conversation Context
// =============================================================================

// ConversationStore exposes prior-turn entities for follow-up queries.
//
// The pipeline only reads: whatever writes turns into the store is
// outside this module.
type ConversationStore interface {
	// PriorEntities returns the entities extracted on the previous turn
	// of the session, or nil when the session is unknown or expired.
	PriorEntities(ctx context.Context, sessionID string) *entities.ExtractedEntities
}

// =============================================================================
// Language Detection
// =============================================================================

// LanguageDetector guesses the language of a query.
type LanguageDetector interface {
	// Detect returns an ISO 639-1 code ("en", "es", "pt") and a
	// confidence in [0,1]. Undetectable text returns ("en", 0).
	Detect(ctx context.Context, text string) (string, float64)
}
