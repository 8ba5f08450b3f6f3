// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestSessionRegistry_AcquireRelease(t *testing.T) {
	r := NewSessionRegistry()

	release, err := r.Acquire("thr_1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if r.Active() != 1 {
		t.Errorf("Active() = %d, want 1", r.Active())
	}

	if _, err := r.Acquire("thr_1"); !errors.Is(err, ErrThreadBusy) {
		t.Errorf("second Acquire() error = %v, want ErrThreadBusy", err)
	}

	// A different thread is unaffected.
	release2, err := r.Acquire("thr_2")
	if err != nil {
		t.Fatalf("Acquire(thr_2) error = %v", err)
	}
	release2()

	release()
	if r.Active() != 0 {
		t.Errorf("Active() = %d after release, want 0", r.Active())
	}

	// Released threads can be re-acquired.
	release3, err := r.Acquire("thr_1")
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	release3()
}

func TestSessionRegistry_ReleaseIdempotent(t *testing.T) {
	r := NewSessionRegistry()

	release, err := r.Acquire("thr_1")
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // second call must be a no-op

	release2, err := r.Acquire("thr_1")
	if err != nil {
		t.Fatalf("Acquire() after double release error = %v", err)
	}
	release2()
}

func TestSessionRegistry_ConcurrentAcquire(t *testing.T) {
	r := NewSessionRegistry()

	const goroutines = 50
	var wg sync.WaitGroup
	acquired := make(chan func(), goroutines)
	busy := 0
	var mu sync.Mutex

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			release, err := r.Acquire("thr_contended")
			if err != nil {
				mu.Lock()
				busy++
				mu.Unlock()
				return
			}
			acquired <- release
		}()
	}
	wg.Wait()
	close(acquired)

	wins := 0
	for release := range acquired {
		wins++
		release()
	}
	if wins != 1 {
		t.Errorf("%d goroutines acquired the thread, want exactly 1", wins)
	}
	if busy != goroutines-1 {
		t.Errorf("busy = %d, want %d", busy, goroutines-1)
	}
}

func TestIDGenerators(t *testing.T) {
	sess := NewSessionID()
	thr := NewThreadID()

	if !strings.HasPrefix(sess, "sess_") {
		t.Errorf("session id = %q, want sess_ prefix", sess)
	}
	if !strings.HasPrefix(thr, "thr_") {
		t.Errorf("thread id = %q, want thr_ prefix", thr)
	}
	if NewThreadID() == thr {
		t.Error("thread ids collide")
	}
}
