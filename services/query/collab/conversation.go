// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"context"
	"sync"
	"time"

	"github.com/AvicoreAI/avicore/services/query/entities"
)

// Compile-time interface implementation check.
var _ ConversationStore = (*MemoryConversationStore)(nil)

const defaultSessionTTL = 30 * time.Minute

type sessionEntry struct {
	entities *entities.ExtractedEntities
	expires  time.Time
}

// MemoryConversationStore keeps prior-turn entities per session in memory.
//
// Description:
//
//	The pipeline reads through the ConversationStore interface; the HTTP
//	layer calls Record after each resolved turn. Entries expire after the
//	TTL and are reaped lazily on access.
//
// Thread Safety: MemoryConversationStore is safe for concurrent use.
type MemoryConversationStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryConversationStore creates a store. ttl <= 0 uses 30 minutes.
func NewMemoryConversationStore(ttl time.Duration) *MemoryConversationStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &MemoryConversationStore{
		sessions: make(map[string]sessionEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// PriorEntities returns the previous turn's entities, or nil when the
// session is unknown or expired.
func (s *MemoryConversationStore) PriorEntities(_ context.Context, sessionID string) *entities.ExtractedEntities {
	if sessionID == "" {
		return nil
	}

	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.now().After(entry.expires) {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil
	}
	return entry.entities
}

// Record stores the entities extracted on this turn, replacing the
// previous entry and resetting the TTL.
func (s *MemoryConversationStore) Record(sessionID string, ents *entities.ExtractedEntities) {
	if sessionID == "" || ents == nil {
		return
	}
	s.mu.Lock()
	s.sessions[sessionID] = sessionEntry{entities: ents, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
}
