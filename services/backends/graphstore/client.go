// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graphstore implements the graph retrieval backend as an HTTP
// client for the graph query service.
package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bifrostlabs/bifrost/services/agent"
)

var tracer = otel.Tracer("github.com/bifrostlabs/bifrost/services/backends/graphstore")

// queryPath is the graph service's query endpoint.
const queryPath = "/v1/graph/query"

// Config holds connection parameters for the graph service.
type Config struct {
	// BaseURL is the graph service root, e.g. http://graph:8200.
	BaseURL string

	// Timeout bounds one HTTP round trip. The orchestrator applies its own
	// per-backend deadline on top. Default: 15s.
	Timeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8200",
		Timeout: 15 * time.Second,
	}
}

// QueryError is a structured error from the graph service.
type QueryError struct {
	// StatusCode is the HTTP status returned by the service.
	StatusCode int

	// Message is the response body, truncated for logging.
	Message string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("graph service returned status %d: %s", e.StatusCode, e.Message)
}

// queryRequest is the wire format of a graph query.
type queryRequest struct {
	Query    string   `json:"query"`
	Entities []string `json:"entities,omitempty"`
	Limit    int      `json:"limit"`
}

// queryResponse is the wire format of a graph query result set.
type queryResponse struct {
	Results []struct {
		Content  string         `json:"content"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"results"`
}

// Client queries the graph service over HTTP.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a graph service client.
//
// Inputs:
//
//	config - Connection parameters (DefaultConfig() for defaults).
//	logger - Logger instance. Uses slog.Default() if nil.
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With(slog.String("component", "graphstore")),
	}
}

// Query sends one graph query and maps the response to retrieval results.
//
// Description:
//
//	Non-200 responses surface as *QueryError; transport failures surface as
//	wrapped errors. The orchestrator classifies either as backend
//	unavailability and applies retry policy, so this client performs no
//	retries of its own.
func (c *Client) Query(ctx context.Context, query string, entities []string, k int) ([]agent.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "graphstore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.Int("graph.limit", k),
		attribute.Int("graph.entities", len(entities)),
	)

	payload, err := json.Marshal(queryRequest{Query: query, Entities: entities, Limit: k})
	if err != nil {
		return nil, fmt.Errorf("marshaling graph query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+queryPath, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("building graph request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("calling graph service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetAttributes(attribute.Int("graph.status_code", resp.StatusCode))
		qerr := &QueryError{StatusCode: resp.StatusCode, Message: string(body)}
		span.RecordError(qerr)
		span.SetStatus(codes.Error, qerr.Error())
		return nil, qerr
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding graph response: %w", err)
	}

	results := make([]agent.RetrievalResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, agent.RetrievalResult{
			Content:  r.Content,
			Score:    r.Score,
			Source:   agent.SourceGraph,
			Metadata: r.Metadata,
		})
	}

	c.logger.Debug("graph query complete",
		slog.Int("requested", k),
		slog.Int("returned", len(results)))
	return results, nil
}
