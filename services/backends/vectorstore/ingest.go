// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// IngestConfig holds chunking parameters for document ingestion.
type IngestConfig struct {
	// ChunkSize is the target chunk length in characters. Default: 1000.
	ChunkSize int

	// ChunkOverlap is the character overlap between adjacent chunks.
	// Default: 150.
	ChunkOverlap int
}

// DefaultIngestConfig returns production defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:    1000,
		ChunkOverlap: 150,
	}
}

// Document is one source document submitted for ingestion.
type Document struct {
	// Source identifies where the text came from (path, URL, system name).
	Source string

	// Text is the full document body.
	Text string

	// Entities are known entity names mentioned in the document. They are
	// stored per chunk and surface as retrieval hints later.
	Entities []string
}

// batchWriter is the slice of the Weaviate client the ingestor uses.
type batchWriter interface {
	WriteObjects(ctx context.Context, objects []*models.Object) error
}

// Ingestor chunks, embeds, and stores documents in the vector store.
//
// Thread Safety: safe for concurrent use.
type Ingestor struct {
	writer    batchWriter
	embedder  EmbeddingProvider
	className string
	splitter  textsplitter.RecursiveCharacter
	logger    *slog.Logger
}

// NewIngestor creates an ingestor writing to the given class.
//
// Inputs:
//
//	client - Connected Weaviate client.
//	embedder - Embedding provider for chunk vectors.
//	className - Target class. Defaults to DefaultConfig().ClassName.
//	cfg - Chunking parameters (DefaultIngestConfig() for defaults).
//	logger - Logger instance. Uses slog.Default() if nil.
func NewIngestor(client *weaviate.Client, embedder EmbeddingProvider, className string, cfg IngestConfig, logger *slog.Logger) *Ingestor {
	return newIngestor(&weaviateBatchWriter{client: client}, embedder, className, cfg, logger)
}

// newIngestor is the injectable constructor used by tests.
func newIngestor(writer batchWriter, embedder EmbeddingProvider, className string, cfg IngestConfig, logger *slog.Logger) *Ingestor {
	if className == "" {
		className = DefaultConfig().ClassName
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultIngestConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = DefaultIngestConfig().ChunkOverlap
	}
	if logger == nil {
		logger = slog.Default()
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
	)

	return &Ingestor{
		writer:    writer,
		embedder:  embedder,
		className: className,
		splitter:  splitter,
		logger:    logger.With(slog.String("component", "ingestor")),
	}
}

// Ingest chunks and stores one document.
//
// Description:
//
//	The document is split with a recursive character splitter, each chunk is
//	embedded, and all chunks are written in one batch. Ingestion is
//	all-or-nothing per document: an embedding or write failure aborts and no
//	partial chunk set is committed.
//
// Outputs:
//
//	int - Number of chunks written.
//	error - Non-nil on split, embedding, or write failure.
func (ing *Ingestor) Ingest(ctx context.Context, doc Document) (int, error) {
	chunks, err := ing.splitter.SplitText(doc.Text)
	if err != nil {
		return 0, fmt.Errorf("splitting document %s: %w", doc.Source, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := ing.embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("embedding chunk %d of %s: %w", i, doc.Source, err)
		}

		properties := map[string]any{
			"content":     chunk,
			"source":      doc.Source,
			"chunk_index": i,
		}
		if len(doc.Entities) > 0 {
			properties["entities"] = doc.Entities
		}

		objects = append(objects, &models.Object{
			Class:      ing.className,
			Properties: properties,
			Vector:     vector,
		})
	}

	if err := ing.writer.WriteObjects(ctx, objects); err != nil {
		return 0, fmt.Errorf("writing %d chunks of %s: %w", len(objects), doc.Source, err)
	}

	ing.logger.Info("document ingested",
		slog.String("source", doc.Source),
		slog.Int("chunks", len(objects)))
	return len(objects), nil
}

// weaviateBatchWriter adapts *weaviate.Client to batchWriter.
type weaviateBatchWriter struct {
	client *weaviate.Client
}

// WriteObjects writes one batch and surfaces per-object errors.
func (w *weaviateBatchWriter) WriteObjects(ctx context.Context, objects []*models.Object) error {
	resp, err := w.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("batch write: %w", err)
	}

	failed := 0
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("batch write: %d of %d objects rejected", failed, len(objects))
	}
	return nil
}
