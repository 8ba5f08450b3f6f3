// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api exposes the answer engine over HTTP: ask, feedback, and thread
// inspection endpoints plus health and metrics.
package api

import (
	"fmt"
	"strings"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// maxQueryLength bounds accepted query sizes. Longer inputs are almost
// certainly pasted documents, which belong in the ingestion path.
const maxQueryLength = 8192

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	// SessionID identifies the client session. Generated when empty.
	SessionID string `json:"session_id"`

	// ThreadID continues an existing conversation. Empty starts a new one.
	ThreadID string `json:"thread_id"`

	// Query is the natural-language question.
	Query string `json:"query" binding:"required"`

	// MaxIterations caps retrieval rounds for this request. Zero means the
	// engine default.
	MaxIterations int `json:"max_iterations"`
}

// EnsureDefaults fills generated identifiers.
func (r *AskRequest) EnsureDefaults() {
	if r.SessionID == "" {
		r.SessionID = agent.NewSessionID()
	}
}

// Validate checks request invariants beyond binding.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query must not be blank")
	}
	if len(r.Query) > maxQueryLength {
		return fmt.Errorf("query exceeds %d characters", maxQueryLength)
	}
	if r.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative")
	}
	return nil
}

// FeedbackRequest is the body of POST /v1/threads/:threadId/feedback.
type FeedbackRequest struct {
	// Feedback is the human guidance for a thread parked in NEEDS_APPROVAL.
	Feedback string `json:"feedback" binding:"required"`
}

// RoutingView is the routing decision exposed to clients.
type RoutingView struct {
	Strategy   string   `json:"strategy"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// AskResponse is the result of an ask or feedback call.
type AskResponse struct {
	ThreadID        string       `json:"thread_id"`
	SessionID       string       `json:"session_id"`
	Phase           string       `json:"phase"`
	Answer          string       `json:"answer,omitempty"`
	Verified        bool         `json:"verified"`
	NeedsApproval   bool         `json:"needs_approval"`
	ApprovalRequest string       `json:"approval_request,omitempty"`
	Iterations      int          `json:"iterations"`
	ErrorCount      int          `json:"error_count"`
	SourcesUsed     []string     `json:"sources_used,omitempty"`
	Routing         *RoutingView `json:"routing,omitempty"`
}

// ThreadResponse is the inspection view of GET /v1/threads/:threadId.
type ThreadResponse struct {
	AskResponse
	Query   string           `json:"query,omitempty"`
	Error   string           `json:"error,omitempty"`
	History []agent.Exchange `json:"history,omitempty"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// newAskResponse projects thread state into the client view.
func newAskResponse(state *agent.ThreadState) AskResponse {
	resp := AskResponse{
		ThreadID:        state.ThreadID,
		SessionID:       state.SessionID,
		Phase:           state.Phase.String(),
		Answer:          state.FinalAnswer,
		Verified:        state.Verified,
		NeedsApproval:   state.NeedsApproval,
		ApprovalRequest: state.ApprovalRequest,
		Iterations:      state.IterationCount,
		ErrorCount:      state.ErrorCount,
		SourcesUsed:     sourcesUsed(state),
	}
	if state.RouteDecision != nil {
		resp.Routing = &RoutingView{
			Strategy:   state.RouteDecision.Strategy.String(),
			Confidence: state.RouteDecision.Confidence,
			Reasoning:  state.RouteDecision.Reasoning,
			Entities:   state.RouteDecision.DetectedEntities,
		}
	}
	return resp
}

// sourcesUsed lists the distinct backends whose results fed the answer,
// in first-appearance order.
func sourcesUsed(state *agent.ThreadState) []string {
	var sources []string
	seen := map[agent.Source]bool{}
	for _, r := range state.RetrievalResults {
		if !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, string(r.Source))
		}
	}
	return sources
}

// newThreadResponse projects thread state into the inspection view.
func newThreadResponse(state *agent.ThreadState) ThreadResponse {
	return ThreadResponse{
		AskResponse: newAskResponse(state),
		Query:       state.Query,
		Error:       state.Error,
		History:     state.History,
	}
}
