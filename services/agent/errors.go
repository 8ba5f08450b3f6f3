// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a phase transition is not in
	// the state machine's transition table.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrThreadNotFound is returned when a thread ID has no persisted state.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadBusy is returned when a query arrives for a thread that is
	// already being processed. Serializing concurrent queries on one thread
	// is the caller's responsibility.
	ErrThreadBusy = errors.New("thread is busy processing another query")

	// ErrFeedbackNotExpected is returned when feedback is supplied to a
	// thread that is not waiting in NEEDS_APPROVAL.
	ErrFeedbackNotExpected = errors.New("thread is not waiting for feedback")

	// ErrApprovalPending is returned when a new query arrives on a thread
	// that is waiting in NEEDS_APPROVAL. The pending approval must be
	// resolved through feedback first.
	ErrApprovalPending = errors.New("thread is waiting for approval feedback")
)

// BackendUnavailableError is returned by retrieval when a required backend
// cannot be reached after retries and no graceful degradation applies.
//
// It is retryable at the engine level: the engine escalates the strategy and
// re-routes, bounded by the error cap.
type BackendUnavailableError struct {
	// Backend names the failing backend ("graph", "vector", or "graph,vector").
	Backend string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// IsBackendUnavailable reports whether err is (or wraps) a
// BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var be *BackendUnavailableError
	return errors.As(err, &be)
}

// SynthesisError wraps a failure from the answer synthesizer. It is fatal
// for the current iteration: surfaced to the caller, never retried silently.
type SynthesisError struct {
	Err error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// IsSynthesisError reports whether err is (or wraps) a SynthesisError.
func IsSynthesisError(err error) bool {
	var se *SynthesisError
	return errors.As(err, &se)
}
