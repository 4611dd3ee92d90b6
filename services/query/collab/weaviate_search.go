// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var searchTracer = otel.Tracer("avicore.query.collab.search")

// Compile-time interface implementation check.
var _ SearchService = (*WeaviateSearch)(nil)

// Name of the knowledge chunk class in the Weaviate schema.
const defaultKnowledgeClass = "KnowledgeChunk"

// WeaviateSearch implements SearchService against a Weaviate instance.
//
// # Description
//
// Lexical mode runs a BM25 query over the chunk content; vector mode runs
// a nearText semantic query against the same class. Both return the chunk
// text plus the breed/species tags the fusion boost needs.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is.
type WeaviateSearch struct {
	client  *weaviate.Client
	class   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewWeaviateSearch creates a WeaviateSearch over an existing client.
//
// Inputs:
//   - client: Connected Weaviate client.
//   - class: Schema class holding knowledge chunks. Empty uses
//     "KnowledgeChunk".
//   - timeout: Per-search deadline. Zero or negative uses 5s.
//   - logger: Structured logger.
func NewWeaviateSearch(client *weaviate.Client, class string, timeout time.Duration, logger *slog.Logger) *WeaviateSearch {
	if class == "" {
		class = defaultKnowledgeClass
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateSearch{client: client, class: class, timeout: timeout, logger: logger}
}

// Search runs one query in the given mode and returns ranked hits.
func (s *WeaviateSearch) Search(ctx context.Context, query string, topK int, mode SearchMode) ([]SearchHit, error) {
	ctx, span := searchTracer.Start(ctx, "collab.WeaviateSearch.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "breed"},
		{Name: "species"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
			{Name: "distance"},
		}},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithLimit(topK)

	switch mode {
	case SearchModeLexical:
		builder = builder.WithBM25(s.client.GraphQL().Bm25ArgBuilder().
			WithQuery(query).
			WithProperties("content"))
	case SearchModeVector:
		builder = builder.WithNearText(s.client.GraphQL().NearTextArgBuilder().
			WithConcepts([]string{query}))
	default:
		return nil, NewServiceError("kb_search", KindInvalidInput,
			fmt.Errorf("unknown search mode %q", mode))
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		kind := KindUnavailable
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		s.logger.Warn("knowledge base search failed",
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()))
		return nil, NewServiceError("kb_search", kind, err)
	}
	if len(resp.Errors) > 0 {
		return nil, NewServiceError("kb_search", KindUnavailable,
			fmt.Errorf("graphql error: %s", resp.Errors[0].Message))
	}

	hits := s.parseHits(resp.Data)
	s.logger.Debug("knowledge base search",
		slog.String("mode", string(mode)),
		slog.Int("hits", len(hits)))
	return hits, nil
}

// parseHits walks the GraphQL response shape Get -> class -> object list.
// Anything malformed is skipped rather than failing the whole search.
func (s *WeaviateSearch) parseHits(data map[string]models.JSONObject) []SearchHit {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[s.class].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]SearchHit, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		hit := SearchHit{
			Content: stringProp(obj, "content"),
			Source:  stringProp(obj, "source"),
			Breed:   stringProp(obj, "breed"),
			Species: stringProp(obj, "species"),
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			hit.ID = stringProp(add, "id")
			hit.Score = additionalScore(add)
		}
		if hit.Content == "" {
			continue
		}
		hits = append(hits, hit)
	}
	return hits
}

func stringProp(obj map[string]interface{}, key string) string {
	v, _ := obj[key].(string)
	return v
}

// additionalScore reads the BM25 score when present, otherwise converts
// the vector distance so that closer still means higher.
func additionalScore(add map[string]interface{}) float64 {
	switch v := add["score"].(type) {
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case float64:
		return v
	}
	if d, ok := add["distance"].(float64); ok {
		return 1.0 / (1.0 + d)
	}
	return 0
}
