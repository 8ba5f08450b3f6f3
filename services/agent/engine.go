// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/bifrostlabs/bifrost/services/agent")

// unverifiedFootnote is appended to best-effort answers that exhausted the
// iteration budget without passing grounding verification.
const unverifiedFootnote = "\n\n⚠️ Unverified: this answer could not be verified against retrieved data."

// EngineConfig holds the answer loop's bounds and policies.
type EngineConfig struct {
	// MaxIterations caps retrieval rounds per query. Default: 3.
	MaxIterations int

	// ErrorCap is the error count beyond which a query fails. Default: 3.
	ErrorCap int

	// StrictUnverified escalates to human approval instead of returning a
	// best-effort unverified answer when iterations run out.
	StrictUnverified bool

	// RequestTimeout bounds one Ask or ProvideFeedback call end to end.
	// Default: 60s.
	RequestTimeout time.Duration
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:  3,
		ErrorCap:       3,
		RequestTimeout: 60 * time.Second,
	}
}

// normalize fills zero-value fields with defaults.
func (c EngineConfig) normalize() EngineConfig {
	d := DefaultEngineConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.ErrorCap <= 0 {
		c.ErrorCap = d.ErrorCap
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// Dependencies bundles the engine's collaborators.
type Dependencies struct {
	Router      Router
	Retriever   Retriever
	Synthesizer Synthesizer
	Verifier    Verifier
	Store       ThreadStore
	Metrics     *Metrics // may be nil
	Logger      *slog.Logger
}

// Engine drives the answer loop over per-thread conversation state.
//
// Description:
//
//	One Ask call routes, retrieves, synthesizes, and verifies, escalating
//	the retrieval strategy when grounding fails or a backend is down,
//	bounded by MaxIterations and ErrorCap. Threads that exhaust escalation
//	park in NEEDS_APPROVAL until ProvideFeedback resumes them for one bonus
//	pass.
//
// Thread Safety:
//
//	Safe for concurrent use across threads. Within one thread, the session
//	registry admits a single invocation at a time; concurrent calls get
//	ErrThreadBusy.
type Engine struct {
	cfg      EngineConfig
	deps     Dependencies
	machine  *PhaseMachine
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewEngine creates an engine from its collaborators.
//
// Outputs:
//
//	error - Non-nil if a required dependency is missing.
func NewEngine(cfg EngineConfig, deps Dependencies) (*Engine, error) {
	switch {
	case deps.Router == nil:
		return nil, fmt.Errorf("engine requires a Router")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("engine requires a Retriever")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("engine requires a Synthesizer")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("engine requires a Verifier")
	case deps.Store == nil:
		return nil, fmt.Errorf("engine requires a ThreadStore")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg.normalize(),
		deps:     deps,
		machine:  NewPhaseMachine(),
		sessions: NewSessionRegistry(),
		logger:   deps.Logger.With(slog.String("component", "engine")),
	}, nil
}

// ActiveThreads returns the number of threads currently being processed.
func (e *Engine) ActiveThreads() int {
	return e.sessions.Active()
}

// AskOption adjusts per-request processing bounds.
type AskOption func(*ThreadState)

// WithMaxIterations overrides the thread's retrieval-round budget. Values
// below one are ignored and the engine default applies.
func WithMaxIterations(n int) AskOption {
	return func(s *ThreadState) {
		if n > 0 {
			s.MaxIterations = n
		}
	}
}

// maxIterations returns the thread's retrieval-round budget, falling back
// to the engine default for threads persisted before the field existed.
func (e *Engine) maxIterations(state *ThreadState) int {
	if state.MaxIterations > 0 {
		return state.MaxIterations
	}
	return e.cfg.MaxIterations
}

// Ask processes one query on a thread.
//
// Description:
//
//	An empty threadID starts a new thread; a known threadID continues its
//	conversation with full history context. The returned state is terminal
//	(DONE, FAILED) or parked in NEEDS_APPROVAL.
//
// Outputs:
//
//	*ThreadState - The thread state after processing. Non-nil whenever the
//	               thread was admitted, including on FAILED.
//	error - ErrThreadBusy, ErrThreadNotFound, ErrApprovalPending, or a
//	        processing error mirrored in the state.
func (e *Engine) Ask(ctx context.Context, sessionID, threadID, query string, opts ...AskOption) (*ThreadState, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "engine.Ask")
	defer span.End()

	state, err := e.admitThread(ctx, sessionID, threadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("thread.id", state.ThreadID))

	release, err := e.sessions.Acquire(state.ThreadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	state.ResetForQuery(query)
	for _, opt := range opts {
		opt(state)
	}

	if err := e.runLoop(ctx, state, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	return state, nil
}

// ProvideFeedback resumes a thread parked in NEEDS_APPROVAL.
//
// Description:
//
//	The feedback is folded into the routing input for one bonus retrieval
//	pass that bypasses the iteration cap. The pass ends in DONE regardless
//	of the grounding verdict: the human has already been consulted, so a
//	still-ungrounded answer is returned flagged unverified rather than
//	parked again.
func (e *Engine) ProvideFeedback(ctx context.Context, threadID, feedback string) (*ThreadState, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "engine.ProvideFeedback")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	release, err := e.sessions.Acquire(threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := e.deps.Store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if state.Phase != PhaseNeedsApproval || !state.NeedsApproval {
		return nil, ErrFeedbackNotExpected
	}

	state.HumanFeedback = feedback
	state.NeedsApproval = false
	state.ApprovalRequest = ""

	if err := e.runLoop(ctx, state, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	return state, nil
}

// GetThread returns the persisted state of a thread.
func (e *Engine) GetThread(ctx context.Context, threadID string) (*ThreadState, error) {
	return e.deps.Store.Load(ctx, threadID)
}

// admitThread loads an existing thread or creates a new one.
func (e *Engine) admitThread(ctx context.Context, sessionID, threadID string) (*ThreadState, error) {
	if threadID == "" {
		return &ThreadState{
			ThreadID:      NewThreadID(),
			SessionID:     sessionID,
			Phase:         PhaseStart,
			MaxIterations: e.cfg.MaxIterations,
		}, nil
	}

	state, err := e.deps.Store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if state.Phase == PhaseNeedsApproval {
		return nil, ErrApprovalPending
	}
	return state, nil
}

// runLoop executes the routed answer loop until a terminal phase or
// NEEDS_APPROVAL. bonusPass marks the post-feedback pass, which bypasses the
// iteration cap and never parks again.
func (e *Engine) runLoop(ctx context.Context, state *ThreadState, bonusPass bool) error {
	// On the bonus pass the human's feedback augments the query everywhere:
	// routing, retrieval, and synthesis all see the merged input.
	query := state.Query
	if bonusPass && state.HumanFeedback != "" {
		query = state.Query + "\n" + state.HumanFeedback
	}

	decision := e.deps.Router.Route(query, state.History)
	e.deps.Metrics.ObserveDecision(decision.Strategy)
	state.RouteDecision = &decision
	if err := e.machine.Transition(state, PhaseRouted); err != nil {
		return err
	}

	e.logger.Info("query routed",
		slog.String("thread_id", state.ThreadID),
		slog.String("strategy", decision.Strategy.String()),
		slog.Float64("confidence", decision.Confidence))

	for {
		state.IterationCount++

		mc, err := e.deps.Retriever.Retrieve(ctx, decision, query)
		if err != nil {
			next, failErr := e.handleRetrievalFailure(ctx, state, decision, err, bonusPass)
			if failErr != nil {
				return failErr
			}
			if next == nil {
				// Parked in NEEDS_APPROVAL.
				return nil
			}
			decision = *next
			state.RouteDecision = &decision
			continue
		}

		if err := e.machine.Transition(state, PhaseRetrieved); err != nil {
			return err
		}
		state.RetrievalResults = mc.Results

		answer, err := e.deps.Synthesizer.Synthesize(ctx, query, mc, state.History)
		if err != nil {
			return e.failThread(ctx, state, fmt.Errorf("synthesis: %w", err))
		}
		if err := e.machine.Transition(state, PhaseSynthesized); err != nil {
			return err
		}

		// Greetings and other no-retrieval answers are conversational by
		// design; the length and indicator heuristics do not apply to them.
		if decision.Strategy == StrategyNoRetrieval {
			if err := e.machine.Transition(state, PhaseVerified); err != nil {
				return err
			}
			return e.finishThread(ctx, state, answer, true)
		}

		verdict := e.deps.Verifier.Verify(answer)
		e.deps.Metrics.ObserveVerdict(verdict.IsGrounded)
		if err := e.machine.Transition(state, PhaseVerified); err != nil {
			return err
		}

		if verdict.IsGrounded {
			return e.finishThread(ctx, state, answer, true)
		}

		e.logger.Warn("answer failed grounding",
			slog.String("thread_id", state.ThreadID),
			slog.String("strategy", decision.Strategy.String()),
			slog.String("reason", verdict.Reason))

		if bonusPass {
			// The human was already consulted; return the best effort.
			return e.finishThread(ctx, state, answer+unverifiedFootnote, false)
		}

		next, escalatable := escalateOnUngrounded(decision.Strategy)
		if !escalatable {
			return e.parkForApproval(ctx, state, verdict.Reason)
		}

		if state.IterationCount >= e.maxIterations(state) {
			if e.cfg.StrictUnverified {
				return e.parkForApproval(ctx, state,
					fmt.Sprintf("iteration budget exhausted; last verdict: %s", verdict.Reason))
			}
			return e.finishThread(ctx, state, answer+unverifiedFootnote, false)
		}

		e.deps.Metrics.ObserveEscalation("ungrounded")
		e.logger.Info("escalating strategy after ungrounded answer",
			slog.String("thread_id", state.ThreadID),
			slog.String("from", decision.Strategy.String()),
			slog.String("to", next.String()))

		decision = RoutingDecision{
			Strategy:         next,
			Confidence:       decision.Confidence,
			Reasoning:        fmt.Sprintf("escalated from %s after ungrounded answer", decision.Strategy),
			DetectedEntities: decision.DetectedEntities,
		}
		state.RouteDecision = &decision
		if err := e.machine.Transition(state, PhaseRouted); err != nil {
			return err
		}
	}
}

// handleRetrievalFailure applies the error cap and the backend-failure
// escalation ladder.
//
// Outputs:
//
//	*RoutingDecision - The escalated decision to retry with; nil when the
//	                   thread was parked for approval instead.
//	error - Non-nil when the thread failed terminally.
func (e *Engine) handleRetrievalFailure(ctx context.Context, state *ThreadState, decision RoutingDecision, cause error, bonusPass bool) (*RoutingDecision, error) {
	state.ErrorCount++
	state.Error = cause.Error()

	e.logger.Warn("retrieval failed",
		slog.String("thread_id", state.ThreadID),
		slog.String("strategy", decision.Strategy.String()),
		slog.Int("error_count", state.ErrorCount),
		slog.Any("error", cause))

	if state.ErrorCount > e.cfg.ErrorCap || !IsBackendUnavailable(cause) {
		return nil, e.failThread(ctx, state, cause)
	}
	if bonusPass {
		// No further passes remain after feedback; fail loudly rather than
		// spinning on a dead backend.
		return nil, e.failThread(ctx, state, cause)
	}
	if state.IterationCount >= e.maxIterations(state) {
		if parkErr := e.parkForApproval(ctx, state,
			fmt.Sprintf("retrieval kept failing: %v", cause)); parkErr != nil {
			return nil, parkErr
		}
		return nil, nil
	}

	next := escalateOnBackendFailure(decision.Strategy, state.ErrorCount)
	e.deps.Metrics.ObserveEscalation("backend_failure")
	if err := e.machine.Transition(state, PhaseRouted); err != nil {
		return nil, err
	}

	escalated := RoutingDecision{
		Strategy:         next,
		Confidence:       decision.Confidence,
		Reasoning:        fmt.Sprintf("escalated from %s after backend failure", decision.Strategy),
		DetectedEntities: decision.DetectedEntities,
	}
	return &escalated, nil
}

// finishThread records the final answer, appends the exchange to history,
// and persists the DONE state.
func (e *Engine) finishThread(ctx context.Context, state *ThreadState, answer string, verified bool) error {
	if err := e.machine.Transition(state, PhaseDone); err != nil {
		return err
	}
	state.FinalAnswer = answer
	state.Verified = verified
	state.Error = ""
	state.History = append(state.History, Exchange{Query: state.Query, Answer: answer})
	state.UpdatedAt = time.Now().UTC()

	if err := e.deps.Store.Save(ctx, state); err != nil {
		return fmt.Errorf("persisting thread %s: %w", state.ThreadID, err)
	}

	e.logger.Info("query answered",
		slog.String("thread_id", state.ThreadID),
		slog.Bool("verified", verified),
		slog.Int("iterations", state.IterationCount))
	return nil
}

// parkForApproval persists the thread in NEEDS_APPROVAL.
func (e *Engine) parkForApproval(ctx context.Context, state *ThreadState, reason string) error {
	if err := e.machine.Transition(state, PhaseNeedsApproval); err != nil {
		return err
	}
	state.NeedsApproval = true
	state.ApprovalRequest = fmt.Sprintf(
		"Automatic verification failed for %q (%s). Provide guidance to continue, e.g. rephrase the question or name the entities involved.",
		state.Query, reason)
	state.UpdatedAt = time.Now().UTC()

	if err := e.deps.Store.Save(ctx, state); err != nil {
		return fmt.Errorf("persisting thread %s: %w", state.ThreadID, err)
	}

	e.logger.Info("thread parked for approval",
		slog.String("thread_id", state.ThreadID),
		slog.String("reason", reason))
	return nil
}

// failThread persists the FAILED state and returns the cause.
func (e *Engine) failThread(ctx context.Context, state *ThreadState, cause error) error {
	if state.Phase != PhaseFailed {
		if err := e.machine.Transition(state, PhaseFailed); err != nil {
			// The failure still has to be recorded even if the edge was not
			// in the table for the current phase.
			state.Phase = PhaseFailed
		}
	}
	state.Error = cause.Error()
	state.UpdatedAt = time.Now().UTC()

	if saveErr := e.deps.Store.Save(ctx, state); saveErr != nil {
		e.logger.Error("failed to persist FAILED thread",
			slog.String("thread_id", state.ThreadID),
			slog.Any("error", saveErr))
	}

	e.logger.Error("query failed",
		slog.String("thread_id", state.ThreadID),
		slog.Int("error_count", state.ErrorCount),
		slog.Any("error", cause))
	return cause
}

// escalateOnUngrounded maps an ungrounded strategy to the next, broader one.
// Hybrid strategies have nowhere broader to go and report false.
func escalateOnUngrounded(s Strategy) (Strategy, bool) {
	switch s {
	case StrategyVector:
		return StrategyHybridParallel, true
	case StrategyGraph:
		return StrategyHybridSequential, true
	default:
		return s, false
	}
}

// escalateOnBackendFailure maps a failed strategy to the retry strategy.
// Graph gets one same-strategy retry before widening; vector widens
// immediately because its failure mode (index offline) rarely self-heals
// within a request.
func escalateOnBackendFailure(s Strategy, failures int) Strategy {
	switch s {
	case StrategyVector:
		return StrategyHybridParallel
	case StrategyHybridParallel:
		return StrategyHybridSequential
	case StrategyGraph:
		if failures <= 1 {
			return StrategyGraph
		}
		return StrategyHybridSequential
	default:
		return s
	}
}

// Unverified reports whether an answer carries the unverified footnote.
func Unverified(answer string) bool {
	return strings.Contains(answer, strings.TrimSpace(unverifiedFootnote))
}
