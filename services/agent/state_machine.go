// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"sync"
)

// Phase is a state in the conversation state machine.
type Phase string

const (
	// PhaseStart is entered when a query arrives on a thread.
	PhaseStart Phase = "START"

	// PhaseRouted means the router has produced a decision.
	PhaseRouted Phase = "ROUTED"

	// PhaseRetrieved means the orchestrator has assembled a MergedContext.
	PhaseRetrieved Phase = "RETRIEVED"

	// PhaseSynthesized means the synthesizer has produced a draft answer.
	PhaseSynthesized Phase = "SYNTHESIZED"

	// PhaseVerified means the grounding verifier has scored the draft.
	PhaseVerified Phase = "VERIFIED"

	// PhaseNeedsApproval means the thread is waiting for human feedback.
	PhaseNeedsApproval Phase = "NEEDS_APPROVAL"

	// PhaseDone is terminal: a final answer is set.
	PhaseDone Phase = "DONE"

	// PhaseFailed is terminal: processing stopped with a persistent error.
	PhaseFailed Phase = "FAILED"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal returns true for DONE and FAILED.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// AllPhases returns every valid phase.
func AllPhases() []Phase {
	return []Phase{
		PhaseStart,
		PhaseRouted,
		PhaseRetrieved,
		PhaseSynthesized,
		PhaseVerified,
		PhaseNeedsApproval,
		PhaseDone,
		PhaseFailed,
	}
}

// PhaseMachine enforces valid phase transitions for the answer loop.
//
// The machine enforces the following transition graph:
//
//	START → ROUTED                  : Router produced a decision
//	ROUTED → RETRIEVED              : Orchestrator assembled context
//	ROUTED → ROUTED                 : Backend unavailable, strategy escalated
//	ROUTED → NEEDS_APPROVAL         : Retrieval kept failing, human gate
//	ROUTED → FAILED                 : Error cap exceeded
//	RETRIEVED → SYNTHESIZED         : Synthesizer produced a draft
//	RETRIEVED → FAILED              : Synthesis failed (fatal for iteration)
//	SYNTHESIZED → VERIFIED          : Verifier scored the draft
//	VERIFIED → DONE                 : Answer grounded, or best-effort return
//	VERIFIED → ROUTED               : Ungrounded, strategy escalated, retry
//	VERIFIED → NEEDS_APPROVAL       : Escalation exhausted, human gate
//	NEEDS_APPROVAL → ROUTED         : Feedback supplied, one bonus pass
//	NEEDS_APPROVAL → DONE           : Feedback pass completed
//	DONE → START                    : New query on an existing thread
//	FAILED → START                  : New query on an existing thread
//
// Thread Safety:
//
//	PhaseMachine is safe for concurrent use.
type PhaseMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[Phase]map[Phase]bool
}

// NewPhaseMachine creates a phase machine with all valid transitions.
func NewPhaseMachine() *PhaseMachine {
	m := &PhaseMachine{
		transitions: make(map[Phase]map[Phase]bool),
	}

	for _, p := range AllPhases() {
		m.transitions[p] = make(map[Phase]bool)
	}

	m.addTransition(PhaseStart, PhaseRouted)

	m.addTransition(PhaseRouted, PhaseRetrieved)
	m.addTransition(PhaseRouted, PhaseRouted)
	m.addTransition(PhaseRouted, PhaseNeedsApproval)
	m.addTransition(PhaseRouted, PhaseFailed)

	m.addTransition(PhaseRetrieved, PhaseSynthesized)
	m.addTransition(PhaseRetrieved, PhaseFailed)

	m.addTransition(PhaseSynthesized, PhaseVerified)

	m.addTransition(PhaseVerified, PhaseDone)
	m.addTransition(PhaseVerified, PhaseRouted)
	m.addTransition(PhaseVerified, PhaseNeedsApproval)

	m.addTransition(PhaseNeedsApproval, PhaseRouted)
	m.addTransition(PhaseNeedsApproval, PhaseDone)

	m.addTransition(PhaseDone, PhaseStart)
	m.addTransition(PhaseFailed, PhaseStart)

	return m
}

// addTransition registers a valid transition.
func (m *PhaseMachine) addTransition(from, to Phase) {
	m.transitions[from][to] = true
}

// CanTransition checks whether from → to is a valid transition.
//
// Thread Safety: safe for concurrent use.
func (m *PhaseMachine) CanTransition(from, to Phase) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if toMap, ok := m.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition moves the thread state to a new phase.
//
// Description:
//
//	Validates the transition against the table and updates state.Phase.
//	Returns ErrInvalidTransition (wrapped with the attempted edge) if the
//	transition is not allowed.
//
// Thread Safety: safe for concurrent use; the caller must hold the thread's
// single-writer lock.
func (m *PhaseMachine) Transition(state *ThreadState, to Phase) error {
	if !m.CanTransition(state.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.Phase, to)
	}

	state.Phase = to
	return nil
}

// ValidTransitionsFrom returns all valid target phases from a given phase.
func (m *PhaseMachine) ValidTransitionsFrom(from Phase) []Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Phase
	if toMap, ok := m.transitions[from]; ok {
		for p, valid := range toMap {
			if valid {
				result = append(result, p)
			}
		}
	}
	return result
}
