// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"sync"

	"github.com/google/uuid"
)

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// NewThreadID returns a fresh thread identifier.
func NewThreadID() string {
	return "thr_" + uuid.NewString()
}

// SessionRegistry enforces the single-writer rule for thread state.
//
// At most one engine invocation may mutate a given thread at a time. The
// registry does not queue: a second caller gets ErrThreadBusy immediately,
// because serializing queries on one thread belongs to the session layer
// above this core, not here.
//
// Thread Safety: safe for concurrent use.
type SessionRegistry struct {
	mu      sync.Mutex
	threads map[string]*threadSlot
}

// threadSlot tracks ownership of one thread.
type threadSlot struct {
	busy bool
	refs int
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		threads: make(map[string]*threadSlot),
	}
}

// Acquire claims exclusive write access to a thread.
//
// Outputs:
//
//	release - Must be called exactly once to return ownership.
//	error - ErrThreadBusy if another invocation holds the thread.
func (r *SessionRegistry) Acquire(threadID string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.threads[threadID]
	if !ok {
		slot = &threadSlot{}
		r.threads[threadID] = slot
	}
	if slot.busy {
		return nil, ErrThreadBusy
	}
	slot.busy = true
	slot.refs++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			slot.busy = false
			slot.refs--
			if slot.refs == 0 {
				delete(r.threads, threadID)
			}
		})
	}, nil
}

// Active returns the number of threads currently being processed.
func (r *SessionRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, slot := range r.threads {
		if slot.busy {
			n++
		}
	}
	return n
}
