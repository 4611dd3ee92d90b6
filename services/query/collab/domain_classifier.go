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

	"golang.org/x/time/rate"
)

// =============================================================================
// Classifier Wire Types
// =============================================================================

type classifyRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Domain   string `json:"domain"`
}

type classifyResponse struct {
	InDomain   bool           `json:"in_domain"`
	Confidence float64        `json:"confidence"`
	Error      *classifyError `json:"error,omitempty"`
}

type classifyError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// Compile-time interface implementation check.
var _ DomainClassifier = (*HTTPDomainClassifier)(nil)

// classifierDomain is the domain label sent with every request.
const classifierDomain = "poultry_production"

// HTTPDomainClassifier implements DomainClassifier using raw net/http.
//
// Description:
//
//	Calls the classifier sidecar's REST endpoint directly without an SDK.
//	A token-bucket rate limiter caps the request rate so a burst of
//	uncertain queries cannot saturate the sidecar; Wait blocks until a
//	token is available or the context expires.
//
// Thread Safety: HTTPDomainClassifier is safe for concurrent use.
type HTTPDomainClassifier struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewHTTPDomainClassifier creates a classifier client.
//
// Inputs:
//   - baseURL: The classify endpoint, e.g. "http://classifier:8090/v1/classify".
//   - timeout: Per-request timeout. Zero or negative uses 2s.
//   - rps: Sustained requests per second for the limiter. Zero or
//     negative disables limiting.
//   - logger: Structured logger.
func NewHTTPDomainClassifier(baseURL string, timeout time.Duration, rps float64, logger *slog.Logger) *HTTPDomainClassifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &HTTPDomainClassifier{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    limiter,
		logger:     logger,
	}
}

// ClassifyDomain judges whether the text is about poultry production.
func (c *HTTPDomainClassifier) ClassifyDomain(ctx context.Context, text, language string) (DomainVerdict, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindTimeout, err)
	}

	body, err := json.Marshal(classifyRequest{
		Text:     text,
		Language: language,
		Domain:   classifierDomain,
	})
	if err != nil {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindUnavailable
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		c.logger.Warn("domain classifier unreachable", slog.String("error", err.Error()))
		return DomainVerdict{}, NewServiceError("domain_classifier", kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindUnavailable,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var wire classifyResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}
	if wire.Error != nil {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindUnavailable,
			fmt.Errorf("%s: %s", wire.Error.Type, wire.Error.Message))
	}
	if wire.Confidence < 0 || wire.Confidence > 1 {
		return DomainVerdict{}, NewServiceError("domain_classifier", KindUnavailable,
			fmt.Errorf("confidence %v out of range", wire.Confidence))
	}

	return DomainVerdict{InDomain: wire.InDomain, Confidence: wire.Confidence}, nil
}
