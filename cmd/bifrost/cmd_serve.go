// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bifrostlabs/bifrost/services/server"
)

// serverConfigFromEnv builds the service configuration shared by the serve
// and ask commands.
func serverConfigFromEnv() server.Config {
	return server.Config{
		Port:         getEnvInt("BIFROST_PORT", 8080),
		WeaviateURL:  getEnvString("WEAVIATE_SERVICE_URL", "http://localhost:8080"),
		GraphURL:     getEnvString("GRAPH_SERVICE_URL", "http://localhost:8200"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		ChatModel:    os.Getenv("BIFROST_CHAT_MODEL"),
		EmbedModel:   os.Getenv("BIFROST_EMBED_MODEL"),
		DataDir:      os.Getenv("BIFROST_DATA_DIR"),
		VocabPath:    os.Getenv("BIFROST_VOCAB_PATH"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getEnvString("BIFROST_LOG_LEVEL", "info"),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := serverConfigFromEnv()
	cfg.StrictUnverified = serveStrict
	cfg.RequestsPerSecond = serveRateLimit

	svc, err := server.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
