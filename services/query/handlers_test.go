// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AvicoreAI/avicore/services/query/calc"
	"github.com/AvicoreAI/avicore/services/query/classify"
	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/gate"
	"github.com/AvicoreAI/avicore/services/query/pipeline"
	"github.com/AvicoreAI/avicore/services/query/route"
	"github.com/AvicoreAI/avicore/services/query/validate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	logger := slog.Default()

	pipe := pipeline.New(pipeline.Options{
		Detector:   collab.NewHeuristicDetector(),
		Classifier: classify.NewClassifier(logger),
		Gate:       gate.NewGate(nil, nil, nil, logger),
		Scorer:     validate.NewScorer(collab.NewConfigIntentRegistry(), logger),
		Router:     route.NewRouter(logger),
		Metrics:    collab.NewStandardsStore(),
		Calc:       calc.NewAdapter(collab.NewLocalFormulaRunner(), logger),
		Logger:     logger,
	})
	service := NewService(DefaultServiceConfig(), pipe, collab.NewMemoryConversationStore(0), logger)

	r := gin.New()
	v1 := r.Group("/v1")
	RegisterRoutes(v1, NewHandlers(service))
	return r, service
}

func postResolve(t *testing.T, r *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/query/resolve", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleResolve_StructuredLookup(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := postResolve(t, r, ResolveRequest{Query: "ross 308 male body weight at 35 days"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Routing.Destination != route.DestStructuredStore {
		t.Errorf("destination = %s, want structured_store", resp.Routing.Destination)
	}
	if resp.Structured == nil || !resp.Structured.Found {
		t.Fatalf("structured = %+v, want a hit", resp.Structured)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}
}

func TestHandleResolve_EchoesRequestID(t *testing.T) {
	r, _ := setupTestRouter(t)

	raw, _ := json.Marshal(ResolveRequest{Query: "broiler brooding temperature"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query/resolve", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("X-Request-ID = %q, want the caller's id echoed", got)
	}
}

func TestHandleResolve_MissingQuery(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := postResolve(t, r, map[string]string{"session_id": "s1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if er.Code != "MISSING_QUERY" {
		t.Errorf("code = %q, want MISSING_QUERY", er.Code)
	}
}

func TestHandleResolve_BlankQuery(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := postResolve(t, r, ResolveRequest{Query: "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleResolve_OversizedQuery(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := postResolve(t, r, ResolveRequest{Query: strings.Repeat("broiler ", 1024)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if er.Code != "QUERY_TOO_LONG" {
		t.Errorf("code = %q, want QUERY_TOO_LONG", er.Code)
	}
}

func TestHandleResolve_SessionRecordedOnlyWhenAccepted(t *testing.T) {
	r, service := setupTestRouter(t)

	// An in-domain query populates the session.
	w := postResolve(t, r, ResolveRequest{Query: "ross 308 weight at 21 days", SessionID: "sess-9"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	prior := service.sessions.PriorEntities(t.Context(), "sess-9")
	if prior == nil || prior.Line.Value != "ross_308" {
		t.Fatalf("session context = %+v, want recorded ross_308", prior)
	}

	// A rejected query must not pollute another session.
	w = postResolve(t, r, ResolveRequest{Query: "recommend a holiday destination", SessionID: "sess-10"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := service.sessions.PriorEntities(t.Context(), "sess-10"); got != nil {
		t.Errorf("rejected query recorded context: %+v", got)
	}
}

func TestHandleHealth(t *testing.T) {
	r, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/query/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleReady_ReportsLexiconHash(t *testing.T) {
	r, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/query/ready", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Ready || resp.LexiconHash == "" {
		t.Errorf("ready response = %+v, want ready with a lexicon hash", resp)
	}
}
