// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server assembles the Bifrost answer service: routing, retrieval
// backends, synthesis, grounding verification, thread persistence, and the
// HTTP surface, bound together behind one Run call.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"

	"github.com/bifrostlabs/bifrost/pkg/logging"
	"github.com/bifrostlabs/bifrost/services/agent"
	"github.com/bifrostlabs/bifrost/services/agent/grounding"
	"github.com/bifrostlabs/bifrost/services/agent/retrieval"
	"github.com/bifrostlabs/bifrost/services/agent/routing"
	"github.com/bifrostlabs/bifrost/services/agent/synthesis"
	"github.com/bifrostlabs/bifrost/services/api"
	"github.com/bifrostlabs/bifrost/services/backends/graphstore"
	"github.com/bifrostlabs/bifrost/services/backends/vectorstore"
	"github.com/bifrostlabs/bifrost/services/store"
)

// Config is the deployment configuration, normally populated from
// environment variables by cmd/bifrost.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// WeaviateURL locates the vector database, e.g. http://localhost:8080.
	WeaviateURL string

	// GraphURL locates the graph query service.
	GraphURL string

	// OpenAIAPIKey authenticates synthesis and embedding calls. Required.
	OpenAIAPIKey string

	// ChatModel overrides the synthesis model.
	ChatModel string

	// EmbedModel overrides the embedding model.
	EmbedModel string

	// DataDir is the Badger directory for thread persistence. Empty keeps
	// threads in memory, which is fine for development and tests.
	DataDir string

	// VocabPath points at a routing vocabulary YAML. When set the file is
	// watched and hot-reloaded. Empty uses the built-in vocabulary.
	VocabPath string

	// OTelEndpoint is the OTLP gRPC collector address. Empty disables
	// trace export unless TraceStdout is set.
	OTelEndpoint string

	// TraceStdout dumps spans to stdout. Development only.
	TraceStdout bool

	// LogLevel is debug, info, warn, or error.
	LogLevel string

	// RequestsPerSecond bounds the v1 API group. Zero disables limiting.
	RequestsPerSecond float64

	// StrictUnverified parks unverifiable answers for human approval
	// instead of returning them footnoted.
	StrictUnverified bool
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = "http://localhost:8200"
	}
	return cfg
}

// Service is the assembled answer server.
type Service struct {
	config Config
	logger *slog.Logger

	router         *gin.Engine
	engine         *agent.Engine
	weaviateClient *weaviate.Client
	vocabWatcher   *routing.Watcher
	threadStore    agent.ThreadStore
	tracerCleanup  func(context.Context)
}

// New assembles the service from its configuration. The returned service
// holds open resources; call Run (which cleans up on exit) or Close.
func New(cfg Config) (*Service, error) {
	cfg = applyConfigDefaults(cfg)

	s := &Service{
		config: cfg,
		logger: logging.New(logging.Config{Level: cfg.LogLevel, Service: "bifrost"}),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if err := s.initTracer(); err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	if err := s.initEngine(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails. Shutdown drains in-flight requests for up to 10s.
func (s *Service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server listening", "port", s.config.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Router exposes the gin engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Engine exposes the answer engine for embedding the service in other
// binaries (the ask subcommand uses it directly).
func (s *Service) Engine() *agent.Engine {
	return s.engine
}

// Close releases resources without running the server.
func (s *Service) Close() {
	s.cleanup()
}

func (s *Service) cleanup() {
	if s.vocabWatcher != nil {
		if err := s.vocabWatcher.Close(); err != nil {
			s.logger.Warn("vocabulary watcher close error", "error", err)
		}
	}
	if closer, ok := s.threadStore.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			s.logger.Warn("thread store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// initTracer configures OpenTelemetry export. OTLP when a collector is
// configured, stdout when requested, otherwise spans stay in-process.
func (s *Service) initTracer() error {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	var err error
	switch {
	case s.config.OTelEndpoint != "":
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(s.config.OTelEndpoint),
			otlptracegrpc.WithInsecure())
	case s.config.TraceStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	default:
		return nil
	}
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("bifrost")))
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	s.tracerCleanup = func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}
	return nil
}

// initEngine wires every collaborator into the answer engine.
func (s *Service) initEngine() error {
	vocab, err := s.loadVocabulary()
	if err != nil {
		return err
	}

	queryRouter, err := routing.NewRouter(vocab, routing.DefaultConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}
	if s.config.VocabPath != "" {
		s.vocabWatcher, err = routing.WatchFile(s.config.VocabPath, queryRouter, s.logger)
		if err != nil {
			return fmt.Errorf("watch vocabulary: %w", err)
		}
	}

	gs := queryRouter.GroundingConfig()
	verifier := grounding.NewVerifier(grounding.Config{
		MinAnswerLength:    gs.MinAnswerLength,
		NegativeIndicators: gs.NegativeIndicators,
	}, s.logger)

	openaiClient := openai.NewClient(s.config.OpenAIAPIKey)

	vectorBackend, err := s.initVectorStore(openaiClient)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	graphCfg := graphstore.DefaultConfig()
	graphCfg.BaseURL = s.config.GraphURL
	graphBackend := graphstore.NewClient(graphCfg, s.logger)

	metrics := agent.NewMetrics(nil)
	orchestrator := retrieval.NewOrchestrator(graphBackend, vectorBackend,
		retrieval.DefaultConfig(), s.logger, metrics)

	synthCfg := synthesis.DefaultConfig()
	if s.config.ChatModel != "" {
		synthCfg.Model = s.config.ChatModel
	}
	synthesizer := synthesis.NewSynthesizer(openaiClient, synthCfg, s.logger)

	if err := s.initThreadStore(); err != nil {
		return fmt.Errorf("init thread store: %w", err)
	}

	engineCfg := agent.DefaultEngineConfig()
	engineCfg.StrictUnverified = s.config.StrictUnverified
	s.engine, err = agent.NewEngine(engineCfg, agent.Dependencies{
		Router:      queryRouter,
		Retriever:   orchestrator,
		Synthesizer: synthesizer,
		Verifier:    verifier,
		Store:       s.threadStore,
		Metrics:     metrics,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	return nil
}

func (s *Service) loadVocabulary() (*routing.Vocabulary, error) {
	if s.config.VocabPath == "" {
		return routing.DefaultVocabulary(), nil
	}
	vocab, err := routing.LoadVocabularyFile(s.config.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	return vocab, nil
}

func (s *Service) initVectorStore(openaiClient *openai.Client) (*vectorstore.Store, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		weaviateURL = "http://localhost:8080"
	}
	parsed, err := url.Parse(weaviateURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create Weaviate client: %w", err)
	}
	s.weaviateClient = client

	embedder := vectorstore.NewOpenAIEmbedder(openaiClient, s.config.EmbedModel)
	return vectorstore.NewStore(client, embedder, vectorstore.DefaultConfig(), s.logger), nil
}

func (s *Service) initThreadStore() error {
	if s.config.DataDir == "" {
		s.logger.Info("no data directory configured, threads are in-memory only")
		s.threadStore = store.NewMemoryStore()
		return nil
	}
	badgerStore, err := store.OpenBadgerStore(s.config.DataDir, s.logger)
	if err != nil {
		return err
	}
	s.threadStore = badgerStore
	return nil
}

func (s *Service) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	api.SetupRoutes(s.router, s.engine, s.logger, api.Options{
		RequestsPerSecond: s.config.RequestsPerSecond,
		ServiceName:       "bifrost-api",
	})
}
