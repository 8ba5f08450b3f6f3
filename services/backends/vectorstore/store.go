// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorstore implements the vector retrieval backend on Weaviate:
// near-vector search over ingested knowledge chunks, plus the ingestion path
// that chunks and embeds documents.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"

	"github.com/bifrostlabs/bifrost/services/agent"
)

var tracer = otel.Tracer("github.com/bifrostlabs/bifrost/services/backends/vectorstore")

// Config holds search parameters for the vector store.
type Config struct {
	// ClassName is the Weaviate class holding knowledge chunks.
	// Default: KnowledgeChunk.
	ClassName string

	// MinCertainty filters out weak matches. Weaviate certainty is in
	// [0, 1]. Default: 0.55.
	MinCertainty float64

	// MaxEmbedLength truncates queries before embedding. Default: 2048.
	MaxEmbedLength int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ClassName:      "KnowledgeChunk",
		MinCertainty:   0.55,
		MaxEmbedLength: 2048,
	}
}

// validateConfig corrects invalid values and logs what it changed.
func validateConfig(config Config) Config {
	defaults := DefaultConfig()

	if config.ClassName == "" {
		slog.Warn("Empty ClassName config, using default", "default", defaults.ClassName)
		config.ClassName = defaults.ClassName
	}
	if config.MinCertainty < 0 || config.MinCertainty >= 1 {
		slog.Warn("Invalid MinCertainty config, using default",
			"provided", config.MinCertainty, "default", defaults.MinCertainty)
		config.MinCertainty = defaults.MinCertainty
	}
	if config.MaxEmbedLength < 1 {
		slog.Warn("Invalid MaxEmbedLength config, using default",
			"provided", config.MaxEmbedLength, "default", defaults.MaxEmbedLength)
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}
	return config
}

// EmbeddingProvider computes text embeddings for queries and chunks.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// graphQLGetter is the slice of the Weaviate client the searcher uses.
// *weaviate.Client satisfies it through the GraphQL API; tests substitute
// a scripted implementation.
type graphQLGetter interface {
	Search(ctx context.Context, className string, vector []float32, limit int) (*models.GraphQLResponse, error)
}

// Store implements the vector retrieval backend over Weaviate.
//
// Thread Safety: safe for concurrent use; the Weaviate client pools
// connections internally.
type Store struct {
	querier  graphQLGetter
	embedder EmbeddingProvider
	config   Config
	logger   *slog.Logger
}

// NewStore creates a vector store backed by a Weaviate client.
//
// Inputs:
//
//	client - Connected Weaviate client.
//	embedder - Embedding provider for query vectors.
//	config - Search configuration (use DefaultConfig() for defaults).
//	logger - Logger instance. Uses slog.Default() if nil.
func NewStore(client *weaviate.Client, embedder EmbeddingProvider, config Config, logger *slog.Logger) *Store {
	return newStore(&weaviateQuerier{client: client}, embedder, config, logger)
}

// newStore is the injectable constructor used by tests.
func newStore(querier graphQLGetter, embedder EmbeddingProvider, config Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier:  querier,
		embedder: embedder,
		config:   validateConfig(config),
		logger:   logger.With(slog.String("component", "vectorstore")),
	}
}

// chunkResponse is the typed shape of a near-vector query response.
type chunkResponse struct {
	Get map[string][]struct {
		Content    string   `json:"content"`
		Source     string   `json:"source"`
		Entities   []string `json:"entities"`
		Additional struct {
			Certainty float64 `json:"certainty"`
		} `json:"_additional"`
	} `json:"Get"`
}

// Search embeds the query and runs a near-vector search.
//
// Description:
//
//	Results below MinCertainty are dropped. Scores are Weaviate certainty
//	values in [0, 1]. Errors are returned raw; the orchestrator classifies
//	them as backend unavailability.
func (s *Store) Search(ctx context.Context, query string, k int) ([]agent.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Search")
	defer span.End()

	truncated := query
	if len(query) > s.config.MaxEmbedLength {
		truncated = query[:s.config.MaxEmbedLength]
	}

	vector, err := s.embedder.Embed(ctx, truncated)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	resp, err := s.querier.Search(ctx, s.config.ClassName, vector, k)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", resp.Errors[0].Message)
	}

	parsed, err := parseGraphQLResponse[chunkResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	var results []agent.RetrievalResult
	for _, chunk := range parsed.Get[s.config.ClassName] {
		if chunk.Additional.Certainty < s.config.MinCertainty {
			continue
		}
		meta := map[string]any{"source_document": chunk.Source}
		if len(chunk.Entities) > 0 {
			meta["entities"] = chunk.Entities
		}
		results = append(results, agent.RetrievalResult{
			Content:  chunk.Content,
			Score:    chunk.Additional.Certainty,
			Source:   agent.SourceVector,
			Metadata: meta,
		})
	}

	s.logger.Debug("vector search complete",
		slog.Int("requested", k),
		slog.Int("returned", len(results)))
	return results, nil
}

// weaviateQuerier adapts *weaviate.Client to graphQLGetter.
type weaviateQuerier struct {
	client *weaviate.Client
}

// Search runs the near-vector GraphQL query.
//
// Certainty is requested instead of distance because it is always in [0, 1]
// regardless of the configured distance metric.
func (w *weaviateQuerier) Search(ctx context.Context, className string, vector []float32, limit int) (*models.GraphQLResponse, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "entities"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	return w.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
}

// parseGraphQLResponse converts Weaviate's dynamic response into a typed
// struct via the marshal/unmarshal round trip the client API requires.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshaling response data: %w", err)
	}

	var parsed T
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshaling response data: %w", err)
	}
	return &parsed, nil
}
