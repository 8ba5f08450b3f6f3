// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command bifrost runs the Bifrost answer service and its admin tooling.
//
// # Environment Variables
//
//   - BIFROST_PORT: HTTP server port (default: 8080)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (default: http://localhost:8080)
//   - GRAPH_SERVICE_URL: graph query service URL (default: http://localhost:8200)
//   - OPENAI_API_KEY: API key for synthesis and embeddings (required)
//   - BIFROST_CHAT_MODEL: synthesis model override
//   - BIFROST_EMBED_MODEL: embedding model override
//   - BIFROST_DATA_DIR: Badger directory for thread persistence (empty: in-memory)
//   - BIFROST_VOCAB_PATH: routing vocabulary YAML, hot-reloaded on change
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (empty: no export)
//   - BIFROST_LOG_LEVEL: debug, info, warn, error (default: info)
//
// # Usage
//
//	# Run the server
//	bifrost serve
//
//	# Validate a vocabulary file before deploying it
//	bifrost vocab check configs/vocabulary.yaml
//
//	# Ingest documents into the vector store
//	bifrost ingest ./docs
//
//	# One-shot question against a local stack
//	bifrost ask "What is Disney's total ARR?"
package main

import (
	"os"
	"strconv"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
