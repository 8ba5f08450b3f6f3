// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Options tunes the HTTP surface.
type Options struct {
	// RequestsPerSecond bounds the v1 group. Zero disables rate limiting,
	// which is the right setting for tests and single-user deployments.
	RequestsPerSecond float64

	// ServiceName labels traces emitted by the gin instrumentation.
	ServiceName string
}

// SetupRoutes registers the answer engine endpoints on the router.
func SetupRoutes(router *gin.Engine, engine AnswerEngine, logger *slog.Logger, opts Options) {
	if opts.ServiceName == "" {
		opts.ServiceName = "bifrost-api"
	}

	// Tracing first so the request id middleware can annotate the span.
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(RequestID())

	router.GET("/health", HealthHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	if opts.RequestsPerSecond > 0 {
		v1.Use(RateLimit(opts.RequestsPerSecond))
	}
	{
		v1.POST("/ask", AskHandler(engine, logger))
		threads := v1.Group("/threads")
		{
			threads.GET("/:threadId", ThreadHandler(engine, logger))
			threads.POST("/:threadId/feedback", FeedbackHandler(engine, logger))
		}
	}
}
