// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent implements the query-answering loop: route a question to the
// right knowledge source(s), retrieve, synthesize, and verify that the answer
// is backed by retrieved data.
//
// The loop is an explicit finite state machine over per-thread conversation
// state. Phases: START, ROUTED, RETRIEVED, SYNTHESIZED, VERIFIED, then one of
// RETRY (back to ROUTED), NEEDS_APPROVAL, DONE, or FAILED.
//
// Thread Safety:
//
//	Thread state is single-writer. The SessionRegistry guarantees at most
//	one engine invocation mutates a given thread at a time. The router and
//	verifier are stateless and shared freely.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Strategy is the retrieval plan chosen by the router for a query.
type Strategy string

const (
	// StrategyGraph queries only the structured graph backend.
	StrategyGraph Strategy = "GRAPH"

	// StrategyVector queries only the vector-similarity backend.
	StrategyVector Strategy = "VECTOR"

	// StrategyHybridSequential queries vector first, then uses its top
	// result to enrich the graph query.
	StrategyHybridSequential Strategy = "HYBRID_SEQUENTIAL"

	// StrategyHybridParallel queries both backends concurrently and
	// interleaves results.
	StrategyHybridParallel Strategy = "HYBRID_PARALLEL"

	// StrategyNoRetrieval skips retrieval entirely (greetings, empty input).
	StrategyNoRetrieval Strategy = "NO_RETRIEVAL"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// IsHybrid returns true for the two hybrid strategies.
func (s Strategy) IsHybrid() bool {
	return s == StrategyHybridSequential || s == StrategyHybridParallel
}

// RoutingDecision is the router's verdict for a single query.
//
// A decision is immutable once produced. Confidence is in [0, 1]; for the
// score-margin branches it is clamped to [0.5, 0.99], with fixed constants
// for the greeting (0.95), empty-input (0.99), and hybrid (0.85) branches.
type RoutingDecision struct {
	// Strategy is the retrieval plan to execute.
	Strategy Strategy `json:"strategy"`

	// Confidence expresses how decisive the indicator scores were.
	Confidence float64 `json:"confidence"`

	// Reasoning names the rule that fired and the indicators that matched.
	// It exists for audit and testing, never for control flow.
	Reasoning string `json:"reasoning"`

	// DetectedEntities lists detected entities in first-occurrence order,
	// duplicates removed.
	DetectedEntities []string `json:"detected_entities,omitempty"`
}

// Source identifies which backend produced a retrieval result.
type Source string

const (
	// SourceGraph marks results from the structured graph backend.
	SourceGraph Source = "graph"

	// SourceVector marks results from the vector-similarity backend.
	SourceVector Source = "vector"
)

// RetrievalResult is a single unit of retrieved content.
type RetrievalResult struct {
	// Content is the retrieved text.
	Content string `json:"content"`

	// Score is the backend-reported relevance. Graph and vector scores are
	// on different scales; merging normalizes per source.
	Score float64 `json:"score"`

	// Source is the backend that produced this result.
	Source Source `json:"source"`

	// Metadata carries backend-specific fields (entity names, document
	// source, partial flags).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Fingerprint returns a stable content fingerprint used for deduplication.
//
// The fingerprint is a SHA-256 over the lower-cased, whitespace-collapsed
// content, so trivially reformatted duplicates collapse to one entry.
func (r RetrievalResult) Fingerprint() string {
	normalized := strings.Join(strings.Fields(strings.ToLower(r.Content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// MergedContext is the ordered, deduplicated output of one retrieval pass.
//
// Results are ranked by score descending (normalized per source for hybrid
// merges); ties keep insertion order.
type MergedContext struct {
	// Results in final rank order.
	Results []RetrievalResult `json:"results"`

	// Partial is true when a hybrid retrieval lost one backend and the
	// context holds only the surviving backend's results.
	Partial bool `json:"partial"`
}

// Empty reports whether the context holds no results.
func (m *MergedContext) Empty() bool {
	return m == nil || len(m.Results) == 0
}

// GroundingVerdict is the verifier's classification of a synthesized answer.
//
// Derived, never persisted independently.
type GroundingVerdict struct {
	// IsGrounded is true when the answer passes length and indicator checks.
	IsGrounded bool `json:"is_grounded"`

	// MatchedIndicators holds the negative indicators found in the answer.
	// Matching short-circuits on the first hit, so this has at most one
	// element in practice.
	MatchedIndicators []string `json:"matched_indicators,omitempty"`

	// Reason is a short human-readable explanation of the verdict.
	Reason string `json:"reason,omitempty"`
}

// Exchange is one completed query/answer pair in a thread's history.
type Exchange struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// ThreadState is the persisted conversation state for one thread.
//
// Exactly one engine invocation mutates a ThreadState at any instant; the
// SessionRegistry enforces this. A new top-level query resets the iteration
// and error counters but keeps History as conversational context.
type ThreadState struct {
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`

	// SessionID identifies the owning client session.
	SessionID string `json:"session_id"`

	// Query is the query currently (or last) being processed.
	Query string `json:"query"`

	// Phase is the state machine position.
	Phase Phase `json:"phase"`

	// RouteDecision is the most recent routing decision, nil before START
	// completes.
	RouteDecision *RoutingDecision `json:"route_decision,omitempty"`

	// RetrievalResults holds the most recent merged retrieval output.
	RetrievalResults []RetrievalResult `json:"retrieval_results,omitempty"`

	// Error is the last error message, empty when the thread is healthy.
	Error string `json:"error,omitempty"`

	// ErrorCount is monotonically non-decreasing within one query's
	// processing; it resets to zero on a new top-level query.
	ErrorCount int `json:"error_count"`

	// IterationCount never exceeds MaxIterations.
	IterationCount int `json:"iteration_count"`

	// MaxIterations caps retrieval rounds for one query.
	MaxIterations int `json:"max_iterations"`

	// NeedsApproval is true while the thread waits for human feedback.
	NeedsApproval bool `json:"needs_approval"`

	// ApprovalRequest describes what the human is being asked to resolve.
	ApprovalRequest string `json:"approval_request,omitempty"`

	// HumanFeedback holds the supplied feedback once approval resumes.
	HumanFeedback string `json:"human_feedback,omitempty"`

	// FinalAnswer is set when the thread reaches DONE.
	FinalAnswer string `json:"final_answer,omitempty"`

	// Verified is true when FinalAnswer passed grounding verification.
	Verified bool `json:"verified"`

	// History holds completed exchanges, oldest first.
	History []Exchange `json:"history,omitempty"`

	// UpdatedAt is the last mutation time.
	UpdatedAt time.Time `json:"updated_at"`
}

// ResetForQuery prepares an existing thread for a new top-level query.
//
// Iteration and error counters reset; history, IDs, and the previous final
// answer survive as conversational context.
func (s *ThreadState) ResetForQuery(query string) {
	s.Query = query
	s.Phase = PhaseStart
	s.RouteDecision = nil
	s.RetrievalResults = nil
	s.Error = ""
	s.ErrorCount = 0
	s.IterationCount = 0
	s.NeedsApproval = false
	s.ApprovalRequest = ""
	s.HumanFeedback = ""
	s.FinalAnswer = ""
	s.Verified = false
}

// Router decides, per query, which knowledge source(s) to consult.
//
// Implementations must be pure functions of the query text, the supplied
// history, and their static vocabularies: no I/O, reproducible output.
type Router interface {
	// Route classifies a query into a RoutingDecision. History is prior
	// exchanges on the same thread, oldest first; it may inform entity
	// carry-over but must not break determinism.
	Route(query string, history []Exchange) RoutingDecision
}

// Retriever executes a routing decision against the retrieval backends.
type Retriever interface {
	// Retrieve runs the decision's strategy and returns merged results.
	// It returns a BackendUnavailableError when a required backend cannot
	// be reached and no graceful degradation applies.
	Retrieve(ctx context.Context, decision RoutingDecision, query string) (*MergedContext, error)
}

// Synthesizer turns retrieved context plus the query into prose.
type Synthesizer interface {
	// Synthesize produces a draft answer. Failures are wrapped in a
	// SynthesisError and are fatal for the current iteration.
	Synthesize(ctx context.Context, query string, mc *MergedContext, history []Exchange) (string, error)
}

// Verifier classifies synthesized prose as grounded or not.
//
// Implementations must be pure and deterministic with no I/O.
type Verifier interface {
	Verify(answer string) GroundingVerdict
}

// ThreadStore persists ThreadState across turns, keyed by thread ID.
type ThreadStore interface {
	// Load returns the state for a thread, or ErrThreadNotFound.
	Load(ctx context.Context, threadID string) (*ThreadState, error)

	// Save upserts the state for state.ThreadID.
	Save(ctx context.Context, state *ThreadState) error
}
