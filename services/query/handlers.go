// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AvicoreAI/avicore/services/query/config"
	"github.com/AvicoreAI/avicore/services/query/pipeline"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// ResolveRequest is the body of POST /v1/query/resolve.
type ResolveRequest struct {
	// Query is the raw user question. Required.
	Query string `json:"query" binding:"required"`
	// SessionID links follow-up turns. Optional.
	SessionID string `json:"session_id"`
}

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse reports readiness, including which configuration
// snapshot is live.
type ReadyResponse struct {
	Ready       bool   `json:"ready"`
	LexiconHash string `json:"lexicon_hash,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the HTTP handlers for the query service.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	service *Service
}

// NewHandlers creates a Handlers.
//
// Inputs:
//
//	service - The service instance. Must not be nil.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the caller's X-Request-ID or mints one,
// and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

// HandleResolve handles POST /v1/query/resolve.
//
// Description:
//
//	Runs the full understanding pipeline on one query and returns the
//	structured routing payload. The response always carries the gate
//	verdict, the extracted entities, and the routing decision; exactly
//	one destination payload (documents, structured value, calculation,
//	or rejection) is set.
//
// Response:
//
//	200 OK: pipeline.Response
//	400 Bad Request: Missing or oversized query
//	499: Client canceled the request
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	// Correlate logs with the distributed trace when the caller sent
	// W3C TraceContext headers.
	if spanCtx := oteltrace.SpanContextFromContext(c.Request.Context()); spanCtx.HasTraceID() {
		logger = logger.With("trace_id", spanCtx.TraceID().String())
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query field is required",
			Code:  "MISSING_QUERY",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query must not be blank",
			Code:  "BLANK_QUERY",
		})
		return
	}
	if len(req.Query) > h.service.config.MaxQueryLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query exceeds the maximum length",
			Code:  "QUERY_TOO_LONG",
		})
		return
	}

	resp, err := h.service.Resolve(c.Request.Context(), pipeline.Request{
		Query:     req.Query,
		SessionID: req.SessionID,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.Status(499)
			return
		}
		logger.Error("pipeline resolve failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  "INTERNAL",
		})
		return
	}

	logger.Info("query resolved",
		slog.String("destination", string(resp.Routing.Destination)),
		slog.String("intent", string(resp.Classification.Intent)),
		slog.Bool("gate_accepted", resp.Gate.Accepted))
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/query/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// HandleReady handles GET /v1/query/ready.
//
// Description:
//
//	Ready means the lexicon and pipeline configuration load cleanly.
//	The current lexicon hash is included so operators can confirm which
//	vocabulary snapshot a replica is serving after a hot reload.
func (h *Handlers) HandleReady(c *gin.Context) {
	ctx := c.Request.Context()

	lex, err := config.GetLexicon(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false, Detail: err.Error()})
		return
	}
	if _, err := config.GetPipelineConfig(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false, Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Ready: true, LexiconHash: lex.Hash()})
}
