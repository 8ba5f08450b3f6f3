// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serveStrict    bool
	serveRateLimit float64
	ingestClass    string
	ingestChunk    int
	ingestOverlap  int
	askThreadID    string
	askFeedback    string

	rootCmd = &cobra.Command{
		Use:   "bifrost",
		Short: "A question-answering service over graph and vector knowledge stores",
		Long: `Bifrost routes natural-language questions to the retrieval strategy
their shape calls for, grounds every answer in retrieved data, and
escalates to a human when it cannot.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the Bifrost HTTP server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Vocabulary administration ---
	vocabCmd = &cobra.Command{
		Use:   "vocab",
		Short: "Manage routing vocabulary files",
	}
	vocabCheckCmd = &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a vocabulary YAML before deploying it",
		Args:  cobra.ExactArgs(1),
		RunE:  runVocabCheck, // Defined in cmd_vocab.go
	}

	// --- Ingestion ---
	ingestCmd = &cobra.Command{
		Use:   "ingest [file or directory path...]",
		Short: "Chunk, embed, and load documents into the vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest, // Defined in cmd_ingest.go
	}

	// --- One-shot ask ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question against the configured backends",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAsk, // Defined in cmd_ask.go
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveStrict, "strict-unverified", false,
		"park unverifiable answers for approval instead of footnoting them")
	serveCmd.Flags().Float64Var(&serveRateLimit, "rate-limit", 0,
		"max requests per second on the v1 API (0 disables)")

	ingestCmd.Flags().StringVar(&ingestClass, "class", "KnowledgeChunk", "Weaviate class name")
	ingestCmd.Flags().IntVar(&ingestChunk, "chunk-size", 0, "chunk size in characters (0 uses the default)")
	ingestCmd.Flags().IntVar(&ingestOverlap, "chunk-overlap", 0, "chunk overlap in characters (0 uses the default)")

	askCmd.Flags().StringVar(&askThreadID, "thread", "", "continue an existing thread")
	askCmd.Flags().StringVar(&askFeedback, "feedback", "", "resume a parked thread with this feedback")

	vocabCmd.AddCommand(vocabCheckCmd)
	rootCmd.AddCommand(serveCmd, vocabCmd, ingestCmd, askCmd)
}
