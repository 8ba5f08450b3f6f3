// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// AnswerEngine is the surface of the agent engine the API depends on.
type AnswerEngine interface {
	Ask(ctx context.Context, sessionID, threadID, query string, opts ...agent.AskOption) (*agent.ThreadState, error)
	ProvideFeedback(ctx context.Context, threadID, feedback string) (*agent.ThreadState, error)
	GetThread(ctx context.Context, threadID string) (*agent.ThreadState, error)
}

var _ AnswerEngine = (*agent.Engine)(nil)

// AskHandler answers POST /v1/ask.
//
// Description: Binds the request, runs the engine, and returns the resulting
// thread view. Threads parked for approval come back with needs_approval set
// rather than an error status.
//
// Inputs: AskRequest JSON body.
// Outputs: 200 AskResponse, 400 on bad input, 404/409/502/500 on engine errors.
func AskHandler(engine AnswerEngine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		req.EnsureDefaults()

		var opts []agent.AskOption
		if req.MaxIterations > 0 {
			opts = append(opts, agent.WithMaxIterations(req.MaxIterations))
		}

		state, err := engine.Ask(c.Request.Context(), req.SessionID, req.ThreadID, req.Query, opts...)
		if err != nil {
			writeEngineError(c, logger, err, state)
			return
		}
		c.JSON(http.StatusOK, newAskResponse(state))
	}
}

// FeedbackHandler answers POST /v1/threads/:threadId/feedback.
//
// Description: Supplies human feedback to a thread parked in NEEDS_APPROVAL
// and resumes it for one final pass.
func FeedbackHandler(engine AnswerEngine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := c.Param("threadId")

		var req FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		state, err := engine.ProvideFeedback(c.Request.Context(), threadID, req.Feedback)
		if err != nil {
			writeEngineError(c, logger, err, state)
			return
		}
		c.JSON(http.StatusOK, newAskResponse(state))
	}
}

// ThreadHandler answers GET /v1/threads/:threadId with the full thread state
// including history, for debugging and client resumption.
func ThreadHandler(engine AnswerEngine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := engine.GetThread(c.Request.Context(), c.Param("threadId"))
		if err != nil {
			writeEngineError(c, logger, err, nil)
			return
		}
		c.JSON(http.StatusOK, newThreadResponse(state))
	}
}

// HealthHandler answers GET /health.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// writeEngineError maps engine errors onto HTTP statuses. When the engine
// returns a terminal thread alongside the error, the thread view is included
// so clients can inspect the failed state.
func writeEngineError(c *gin.Context, logger *slog.Logger, err error, state *agent.ThreadState) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrThreadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrThreadBusy),
		errors.Is(err, agent.ErrApprovalPending),
		errors.Is(err, agent.ErrFeedbackNotExpected):
		status = http.StatusConflict
	case agent.IsBackendUnavailable(err), agent.IsSynthesisError(err):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("unhandled engine error", "error", err, "path", c.FullPath())
	}

	body := gin.H{"error": err.Error()}
	if state != nil {
		body["thread"] = newAskResponse(state)
	}
	c.JSON(status, body)
}
