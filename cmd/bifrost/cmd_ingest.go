// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/bifrostlabs/bifrost/pkg/logging"
	"github.com/bifrostlabs/bifrost/services/backends/vectorstore"
)

// ingestableExtensions are the file types the ingest command picks up when
// walking a directory.
var ingestableExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

func runIngest(cmd *cobra.Command, args []string) error {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for embedding")
	}

	weaviateURL := getEnvString("WEAVIATE_SERVICE_URL", "http://localhost:8080")
	parsed, err := url.Parse(weaviateURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return fmt.Errorf("create Weaviate client: %w", err)
	}

	logger := logging.Default("bifrost-ingest")
	embedder := vectorstore.NewOpenAIEmbedder(openai.NewClient(apiKey), os.Getenv("BIFROST_EMBED_MODEL"))

	ingestCfg := vectorstore.DefaultIngestConfig()
	if ingestChunk > 0 {
		ingestCfg.ChunkSize = ingestChunk
	}
	if ingestOverlap > 0 {
		ingestCfg.ChunkOverlap = ingestOverlap
	}
	ingestor := vectorstore.NewIngestor(client, embedder, ingestClass, ingestCfg, logger)

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no ingestable files found (looking for %v)", extensionList())
	}

	ctx := cmd.Context()
	totalChunks := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, err := ingestor.Ingest(ctx, vectorstore.Document{Source: path, Text: string(raw)})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("%s: %d chunks\n", path, n)
		totalChunks += n
	}
	fmt.Printf("ingested %d files, %d chunks\n", len(files), totalChunks)
	return nil
}

// collectFiles expands the path arguments into ingestable files, walking
// directories recursively.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestableExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func extensionList() []string {
	exts := make([]string, 0, len(ingestableExtensions))
	for ext := range ingestableExtensions {
		exts = append(exts, ext)
	}
	return exts
}
