// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// =============================================================================
// Reranker Wire Types
// =============================================================================

type rerankRequest struct {
	Query     string           `json:"query"`
	Documents []rerankDocument `json:"documents"`
	TopN      int              `json:"top_n"`
}

type rerankDocument struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
	Error   *classifyError `json:"error,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// Compile-time interface implementation check.
var _ Reranker = (*HTTPReranker)(nil)

// HTTPReranker implements Reranker against a cross-encoder rerank sidecar.
//
// Description:
//
//	Sends the query and candidate texts in one request; the sidecar
//	returns index/score pairs in descending score order. The client maps
//	the indexes back onto the original candidates so callers keep the
//	breed/species metadata the fusion boost attached.
//
// Thread Safety: HTTPReranker is safe for concurrent use.
type HTTPReranker struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewHTTPReranker creates a reranker client.
//
// Inputs:
//   - baseURL: The rerank endpoint, e.g. "http://reranker:8091/v1/rerank".
//   - timeout: Per-request timeout. Zero or negative uses 3s.
//   - logger: Structured logger.
func NewHTTPReranker(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPReranker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReranker{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Rerank scores candidates against the query and keeps the best.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []SearchHit, keep int) ([]RankedHit, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if keep <= 0 || keep > len(candidates) {
		keep = len(candidates)
	}

	docs := make([]rerankDocument, len(candidates))
	for i, c := range candidates {
		docs[i] = rerankDocument{ID: c.ID, Content: c.Content}
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs, TopN: keep})
	if err != nil {
		return nil, NewServiceError("reranker", KindInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewServiceError("reranker", KindInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		kind := KindUnavailable
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		r.logger.Warn("reranker unreachable", slog.String("error", err.Error()))
		return nil, NewServiceError("reranker", kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewServiceError("reranker", KindUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewServiceError("reranker", KindUnavailable,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var wire rerankResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewServiceError("reranker", KindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}
	if wire.Error != nil {
		return nil, NewServiceError("reranker", KindUnavailable,
			fmt.Errorf("%s: %s", wire.Error.Type, wire.Error.Message))
	}

	out := make([]RankedHit, 0, keep)
	for _, res := range wire.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		out = append(out, RankedHit{SearchHit: candidates[res.Index], RerankScore: res.Score})
		if len(out) == keep {
			break
		}
	}
	return out, nil
}
