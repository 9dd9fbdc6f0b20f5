// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists preview-session audit records, keyed by session
// id and by external request id.
//
// Two implementations: MemoryStore for tests and embedding, and FileStore
// for the daemon — one file per session under a data directory, encoded
// as deterministic CBOR and compressed with zstd. Records are append-only
// facts; neither implementation deletes.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when no session matches the given key.
var ErrNotFound = errors.New("session not found")

// Store is a keyed record store for preview sessions. No multi-record
// transactions; every call operates on one record.
type Store interface {
	// Create persists a new session. Fails if the id already exists.
	Create(session *Session) error

	// Update replaces an existing session record.
	Update(session *Session) error

	// Get returns a copy of the session with the given id.
	Get(id string) (*Session, error)

	// GetByRequestID returns a copy of the most recently created session
	// for the given external request id.
	GetByRequestID(requestID string) (*Session, error)

	// List returns copies of all sessions, ordered by session id.
	List() ([]*Session, error)
}

// MemoryStore is an in-memory Store. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string // creation order, for GetByRequestID recency
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create persists a new session.
func (m *MemoryStore) Create(session *Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	m.sessions[session.ID] = session.Clone()
	m.order = append(m.order, session.ID)
	return nil
}

// Update replaces an existing session record.
func (m *MemoryStore) Update(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; !exists {
		return fmt.Errorf("updating session %s: %w", session.ID, ErrNotFound)
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Get returns a copy of the session with the given id.
func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return session.Clone(), nil
}

// GetByRequestID returns the most recently created session for the
// request id.
func (m *MemoryStore) GetByRequestID(requestID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		session := m.sessions[m.order[i]]
		if session.RequestID == requestID {
			return session.Clone(), nil
		}
	}
	return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
}

// List returns copies of all sessions, ordered by session id.
func (m *MemoryStore) List() ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}
