// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides ThreadStore implementations: an in-memory map for
// tests and single-process development, and a Badger-backed store for
// persistence across restarts.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// MemoryStore is a map-backed ThreadStore.
//
// State is deep-copied through JSON on both Load and Save so callers can
// never mutate stored state through a retained pointer.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]byte
}

// Compile-time interface implementation check.
var _ agent.ThreadStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]byte),
	}
}

// Load implements agent.ThreadStore.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*agent.ThreadState, error) {
	s.mu.RLock()
	data, ok := s.threads[threadID]
	s.mu.RUnlock()

	if !ok {
		return nil, agent.ErrThreadNotFound
	}

	var state agent.ThreadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save implements agent.ThreadStore.
func (s *MemoryStore) Save(_ context.Context, state *agent.ThreadState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.threads[state.ThreadID] = data
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
