// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// threadKeyPrefix namespaces thread state keys in the shared keyspace.
const threadKeyPrefix = "thread/"

// BadgerStore persists thread state in an embedded Badger database.
//
// Thread Safety: safe for concurrent use. Badger serializes conflicting
// writes internally; the engine's per-thread single-writer rule means two
// writers never race on the same key anyway.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// Compile-time interface implementation check.
var _ agent.ThreadStore = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) a Badger database at dir.
//
// Inputs:
//
//	dir - Database directory. Created if missing.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*BadgerStore - Open store; caller must Close it.
//	error - Non-nil if the database cannot be opened.
func OpenBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil) // badger's own logger is too chatty for a sidecar store

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %s: %w", dir, err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With(slog.String("component", "badger_store")),
	}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Load implements agent.ThreadStore.
func (s *BadgerStore) Load(_ context.Context, threadID string) (*agent.ThreadState, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(threadKey(threadID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, agent.ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	var state agent.ThreadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding thread %s: %w", threadID, err)
	}
	return &state, nil
}

// Save implements agent.ThreadStore.
func (s *BadgerStore) Save(_ context.Context, state *agent.ThreadState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding thread %s: %w", state.ThreadID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(threadKey(state.ThreadID), data)
	})
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", state.ThreadID, err)
	}
	return nil
}

// threadKey builds the Badger key for a thread.
func threadKey(threadID string) []byte {
	return []byte(threadKeyPrefix + threadID)
}
