// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval executes routing decisions against the knowledge
// backends: single-backend strategies with retry, and hybrid strategies with
// graceful degradation to partial results when one backend is down.
package retrieval

import (
	"context"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// GraphBackend answers structured, relationship-shaped queries.
//
// Implementations live in services/backends and translate the query plus
// entity hints into the store's native query language.
type GraphBackend interface {
	// Query returns up to k results for the query. Entity hints narrow the
	// traversal; an empty slice means no narrowing.
	Query(ctx context.Context, query string, entities []string, k int) ([]agent.RetrievalResult, error)
}

// VectorBackend answers semantic-similarity queries over unstructured text.
type VectorBackend interface {
	// Search returns up to k results ranked by similarity to the query.
	Search(ctx context.Context, query string, k int) ([]agent.RetrievalResult, error)
}
