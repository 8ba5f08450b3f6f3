// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// stubEngine returns scripted states and errors and records call arguments.
type stubEngine struct {
	askState      *agent.ThreadState
	askErr        error
	feedbackState *agent.ThreadState
	feedbackErr   error
	getState      *agent.ThreadState
	getErr        error

	lastSessionID string
	lastThreadID  string
	lastQuery     string
	lastFeedback  string
	lastMaxIters  int
}

func (s *stubEngine) Ask(_ context.Context, sessionID, threadID, query string, opts ...agent.AskOption) (*agent.ThreadState, error) {
	s.lastSessionID = sessionID
	s.lastThreadID = threadID
	s.lastQuery = query

	var scratch agent.ThreadState
	for _, opt := range opts {
		opt(&scratch)
	}
	s.lastMaxIters = scratch.MaxIterations
	return s.askState, s.askErr
}

func (s *stubEngine) ProvideFeedback(_ context.Context, threadID, feedback string) (*agent.ThreadState, error) {
	s.lastThreadID = threadID
	s.lastFeedback = feedback
	return s.feedbackState, s.feedbackErr
}

func (s *stubEngine) GetThread(_ context.Context, threadID string) (*agent.ThreadState, error) {
	s.lastThreadID = threadID
	return s.getState, s.getErr
}

func newTestRouter(engine AnswerEngine, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, engine, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), opts)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doneState() *agent.ThreadState {
	return &agent.ThreadState{
		ThreadID:       "thr_abc",
		SessionID:      "sess_abc",
		Query:          "What is Disney's ARR?",
		Phase:          agent.PhaseDone,
		FinalAnswer:    "Disney's ARR is $12M.",
		Verified:       true,
		IterationCount: 1,
		RetrievalResults: []agent.RetrievalResult{
			{Content: "Disney ARR $12M", Source: agent.SourceGraph, Score: 0.9},
			{Content: "Disney renewal 2026", Source: agent.SourceGraph, Score: 0.7},
		},
		RouteDecision: &agent.RoutingDecision{
			Strategy:         agent.StrategyGraph,
			Confidence:       0.8,
			Reasoning:        "structural indicators dominate",
			DetectedEntities: []string{"Disney"},
		},
	}
}

func TestAskHandler_Success(t *testing.T) {
	engine := &stubEngine{askState: doneState()}
	router := newTestRouter(engine, Options{})

	rec := doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{
		SessionID: "sess_abc",
		Query:     "What is Disney's ARR?",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ThreadID != "thr_abc" || resp.Answer != "Disney's ARR is $12M." || !resp.Verified {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Routing == nil || resp.Routing.Strategy != "GRAPH" || resp.Routing.Entities[0] != "Disney" {
		t.Errorf("routing = %+v", resp.Routing)
	}
	if len(resp.SourcesUsed) != 1 || resp.SourcesUsed[0] != "graph" {
		t.Errorf("sources_used = %v, want [graph]", resp.SourcesUsed)
	}
	if engine.lastQuery != "What is Disney's ARR?" || engine.lastSessionID != "sess_abc" {
		t.Errorf("engine saw session=%q query=%q", engine.lastSessionID, engine.lastQuery)
	}
}

func TestAskHandler_GeneratesSessionID(t *testing.T) {
	engine := &stubEngine{askState: doneState()}
	router := newTestRouter(engine, Options{})

	rec := doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{Query: "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(engine.lastSessionID, "sess_") {
		t.Errorf("session id = %q, want generated sess_ prefix", engine.lastSessionID)
	}
}

func TestAskHandler_BadRequests(t *testing.T) {
	engine := &stubEngine{askState: doneState()}
	router := newTestRouter(engine, Options{})

	cases := []struct {
		name string
		body any
	}{
		{"missing query", map[string]string{"session_id": "sess_1"}},
		{"blank query", AskRequest{Query: "   "}},
		{"oversized query", AskRequest{Query: strings.Repeat("a", maxQueryLength+1)}},
		{"negative max_iterations", AskRequest{Query: "q", MaxIterations: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/v1/ask", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAskHandler_MaxIterationsForwarded(t *testing.T) {
	engine := &stubEngine{askState: doneState()}
	router := newTestRouter(engine, Options{})

	rec := doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{Query: "q", MaxIterations: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if engine.lastMaxIters != 1 {
		t.Errorf("engine saw max iterations %d, want 1", engine.lastMaxIters)
	}

	// Zero leaves the engine default in place: no option is passed.
	rec = doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{Query: "q"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if engine.lastMaxIters != 0 {
		t.Errorf("engine saw max iterations %d, want engine default (0)", engine.lastMaxIters)
	}
}

func TestAskHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"thread not found", agent.ErrThreadNotFound, http.StatusNotFound},
		{"thread busy", agent.ErrThreadBusy, http.StatusConflict},
		{"approval pending", agent.ErrApprovalPending, http.StatusConflict},
		{"backend down", &agent.BackendUnavailableError{Backend: "graph", Err: errors.New("boom")}, http.StatusBadGateway},
		{"synthesis failure", &agent.SynthesisError{Err: errors.New("llm down")}, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubEngine{askErr: tc.err}, Options{})
			rec := doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{Query: "q"})
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAskHandler_FailedThreadIncludedInErrorBody(t *testing.T) {
	failed := doneState()
	failed.Phase = agent.PhaseFailed
	failed.FinalAnswer = ""
	failed.Verified = false
	engine := &stubEngine{
		askState: failed,
		askErr:   &agent.BackendUnavailableError{Backend: "graph,vector", Err: errors.New("both down")},
	}
	router := newTestRouter(engine, Options{})

	rec := doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{Query: "q"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var body struct {
		Error  string      `json:"error"`
		Thread AskResponse `json:"thread"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Thread.Phase != "FAILED" {
		t.Errorf("thread phase = %q, want FAILED", body.Thread.Phase)
	}
}

func TestFeedbackHandler(t *testing.T) {
	resumed := doneState()
	engine := &stubEngine{feedbackState: resumed}
	router := newTestRouter(engine, Options{})

	rec := doJSON(t, router, http.MethodPost, "/v1/threads/thr_abc/feedback",
		FeedbackRequest{Feedback: "focus on the Xylo contract"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if engine.lastThreadID != "thr_abc" || engine.lastFeedback != "focus on the Xylo contract" {
		t.Errorf("engine saw thread=%q feedback=%q", engine.lastThreadID, engine.lastFeedback)
	}

	// Feedback on a thread that is not parked.
	router = newTestRouter(&stubEngine{feedbackErr: agent.ErrFeedbackNotExpected}, Options{})
	rec = doJSON(t, router, http.MethodPost, "/v1/threads/thr_abc/feedback",
		FeedbackRequest{Feedback: "anything"})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	// Missing feedback body field.
	rec = doJSON(t, router, http.MethodPost, "/v1/threads/thr_abc/feedback", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestThreadHandler(t *testing.T) {
	state := doneState()
	state.History = []agent.Exchange{{Query: "q1", Answer: "a1"}}
	engine := &stubEngine{getState: state}
	router := newTestRouter(engine, Options{})

	rec := doJSON(t, router, http.MethodGet, "/v1/threads/thr_abc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp ThreadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ThreadID != "thr_abc" || len(resp.History) != 1 || resp.Query == "" {
		t.Errorf("resp = %+v", resp)
	}

	router = newTestRouter(&stubEngine{getErr: agent.ErrThreadNotFound}, Options{})
	rec = doJSON(t, router, http.MethodGet, "/v1/threads/thr_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	router := newTestRouter(&stubEngine{}, Options{})

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("response missing request id header")
	}

	// Client-supplied ids are echoed back unchanged.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if got := rec2.Header().Get(requestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

func TestRateLimit(t *testing.T) {
	engine := &stubEngine{askState: doneState()}
	router := newTestRouter(engine, Options{RequestsPerSecond: 1})

	// Burst allows the first few requests, then 429s follow.
	limited := false
	for i := 0; i < 10; i++ {
		rec := doJSON(t, router, http.MethodPost, "/v1/ask", AskRequest{Query: "q"})
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if !limited {
		t.Error("rate limiter never engaged over 10 rapid requests")
	}

	// Health endpoint is outside the limited group.
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d under rate limiting, want 200", rec.Code)
	}
}
