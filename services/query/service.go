// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query exposes the understanding pipeline over HTTP.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/AvicoreAI/avicore/services/query/collab"
	"github.com/AvicoreAI/avicore/services/query/pipeline"
)

// ServiceConfig holds the service-level settings that are not part of the
// pipeline's own configuration.
type ServiceConfig struct {
	// SessionTTL bounds how long follow-up context survives between
	// turns of one session.
	SessionTTL time.Duration
	// MaxQueryLength rejects oversized request bodies before the
	// pipeline sees them.
	MaxQueryLength int
}

// DefaultServiceConfig returns the settings used when none are given.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SessionTTL:     30 * time.Minute,
		MaxQueryLength: 4096,
	}
}

// Service runs the pipeline for HTTP callers and maintains per-session
// conversation context across turns.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	config   ServiceConfig
	pipe     *pipeline.Pipeline
	sessions *collab.MemoryConversationStore
	logger   *slog.Logger
}

// NewService creates a Service.
//
// Inputs:
//
//	config - Service settings; zero values fall back to defaults.
//	pipe - The assembled pipeline. Must not be nil.
//	sessions - Conversation store for follow-up context. May be nil to
//	  disable context carry-over.
//	logger - Logger instance. May be nil.
func NewService(config ServiceConfig, pipe *pipeline.Pipeline, sessions *collab.MemoryConversationStore, logger *slog.Logger) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultServiceConfig().SessionTTL
	}
	if config.MaxQueryLength <= 0 {
		config.MaxQueryLength = DefaultServiceConfig().MaxQueryLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:   config,
		pipe:     pipe,
		sessions: sessions,
		logger:   logger,
	}
}

// Resolve runs one query through the pipeline and records the resolved
// entities for the session so follow-ups can inherit them.
func (s *Service) Resolve(ctx context.Context, req pipeline.Request) (*pipeline.Response, error) {
	resp, err := s.pipe.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.sessions != nil && req.SessionID != "" && resp.Gate.Accepted {
		s.sessions.Record(req.SessionID, resp.Entities)
	}
	return resp, nil
}
