// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bifrostlabs/bifrost/services/agent"
)

var tracer = otel.Tracer("github.com/bifrostlabs/bifrost/services/agent/retrieval")

// Config holds the orchestrator's execution parameters.
type Config struct {
	// K is the per-backend result count. Default: 5.
	K int

	// PerBackendTimeout bounds each backend call, including retries of that
	// call. Default: 10s.
	PerBackendTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 1.
	MaxRetries int

	// RetryBackoff is the base backoff between attempts, doubled per retry.
	// Default: 500ms.
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		K:                 5,
		PerBackendTimeout: 10 * time.Second,
		MaxRetries:        1,
		RetryBackoff:      500 * time.Millisecond,
	}
}

// normalize fills zero-value fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.K <= 0 {
		c.K = d.K
	}
	if c.PerBackendTimeout <= 0 {
		c.PerBackendTimeout = d.PerBackendTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Orchestrator executes routing decisions against the graph and vector
// backends.
//
// Description:
//
//	Single-backend strategies retry once with backoff and surface a
//	BackendUnavailableError on exhaustion. Hybrid strategies degrade
//	gracefully: if one backend fails the surviving backend's results are
//	returned with MergedContext.Partial set; only the loss of both is an
//	error. NO_RETRIEVAL returns an empty context without touching either
//	backend.
//
// Thread Safety: safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	graph   GraphBackend
	vector  VectorBackend
	logger  *slog.Logger
	metrics *agent.Metrics
}

// Compile-time interface implementation check.
var _ agent.Retriever = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator over the two backends.
//
// Inputs:
//
//	graph - Graph backend. Required for GRAPH and hybrid strategies.
//	vector - Vector backend. Required for VECTOR and hybrid strategies.
//	cfg - Execution parameters (DefaultConfig() for defaults).
//	logger - Logger instance. Uses slog.Default() if nil.
//	metrics - Loop instruments, may be nil.
func NewOrchestrator(graph GraphBackend, vector VectorBackend, cfg Config, logger *slog.Logger, metrics *agent.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg.normalize(),
		graph:   graph,
		vector:  vector,
		logger:  logger.With(slog.String("component", "orchestrator")),
		metrics: metrics,
	}
}

// Retrieve implements agent.Retriever.
func (o *Orchestrator) Retrieve(ctx context.Context, decision agent.RoutingDecision, query string) (*agent.MergedContext, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.strategy", decision.Strategy.String()),
		attribute.Int("retrieval.k", o.cfg.K),
		attribute.Int("retrieval.entities", len(decision.DetectedEntities)),
	)

	start := time.Now()
	mc, err := o.retrieve(ctx, decision, query)
	o.metrics.ObserveRetrieval(decision.Strategy, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("retrieval.results", len(mc.Results)),
		attribute.Bool("retrieval.partial", mc.Partial),
	)
	return mc, nil
}

// retrieve dispatches on strategy.
func (o *Orchestrator) retrieve(ctx context.Context, decision agent.RoutingDecision, query string) (*agent.MergedContext, error) {
	switch decision.Strategy {
	case agent.StrategyNoRetrieval:
		return &agent.MergedContext{}, nil

	case agent.StrategyGraph:
		results, err := o.callGraph(ctx, query, decision.DetectedEntities)
		if err != nil {
			return nil, err
		}
		sortByScore(results)
		return &agent.MergedContext{Results: dedupe(results)}, nil

	case agent.StrategyVector:
		results, err := o.callVector(ctx, query)
		if err != nil {
			return nil, err
		}
		sortByScore(results)
		return &agent.MergedContext{Results: dedupe(results)}, nil

	case agent.StrategyHybridSequential:
		return o.retrieveSequential(ctx, decision, query)

	case agent.StrategyHybridParallel:
		return o.retrieveParallel(ctx, decision, query)

	default:
		return nil, fmt.Errorf("unknown strategy %q", decision.Strategy)
	}
}

// retrieveSequential runs vector first, seeds the graph pass with what the
// vector pass surfaced, and merges vector-then-graph.
func (o *Orchestrator) retrieveSequential(ctx context.Context, decision agent.RoutingDecision, query string) (*agent.MergedContext, error) {
	vecResults, vecErr := o.callVector(ctx, query)

	hints := decision.DetectedEntities
	if vecErr == nil {
		hints = appendResultHints(hints, vecResults)
	}

	graphResults, graphErr := o.callGraph(ctx, query, hints)

	switch {
	case vecErr != nil && graphErr != nil:
		return nil, &agent.BackendUnavailableError{
			Backend: "graph,vector",
			Err:     fmt.Errorf("vector: %v; graph: %v", vecErr, graphErr),
		}
	case vecErr != nil:
		o.logger.Warn("sequential retrieval degraded to graph only", slog.Any("error", vecErr))
		return &agent.MergedContext{Results: mergeSequential(nil, graphResults), Partial: true}, nil
	case graphErr != nil:
		o.logger.Warn("sequential retrieval degraded to vector only", slog.Any("error", graphErr))
		return &agent.MergedContext{Results: mergeSequential(vecResults, nil), Partial: true}, nil
	default:
		return &agent.MergedContext{Results: mergeSequential(vecResults, graphResults)}, nil
	}
}

// retrieveParallel queries both backends concurrently and interleaves
// normalized results. One backend failing yields a partial context; the
// surviving backend is never cancelled by the other's failure.
func (o *Orchestrator) retrieveParallel(ctx context.Context, decision agent.RoutingDecision, query string) (*agent.MergedContext, error) {
	var (
		wg           sync.WaitGroup
		graphResults []agent.RetrievalResult
		vecResults   []agent.RetrievalResult
		graphErr     error
		vecErr       error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		graphResults, graphErr = o.callGraph(ctx, query, decision.DetectedEntities)
	}()
	go func() {
		defer wg.Done()
		vecResults, vecErr = o.callVector(ctx, query)
	}()
	wg.Wait()

	switch {
	case graphErr != nil && vecErr != nil:
		return nil, &agent.BackendUnavailableError{
			Backend: "graph,vector",
			Err:     fmt.Errorf("graph: %v; vector: %v", graphErr, vecErr),
		}
	case graphErr != nil:
		o.logger.Warn("parallel retrieval degraded to vector only", slog.Any("error", graphErr))
		return &agent.MergedContext{Results: mergeParallel(nil, vecResults), Partial: true}, nil
	case vecErr != nil:
		o.logger.Warn("parallel retrieval degraded to graph only", slog.Any("error", vecErr))
		return &agent.MergedContext{Results: mergeParallel(graphResults, nil), Partial: true}, nil
	default:
		return &agent.MergedContext{Results: mergeParallel(graphResults, vecResults)}, nil
	}
}

// callGraph queries the graph backend with retry and per-call timeout.
func (o *Orchestrator) callGraph(ctx context.Context, query string, entities []string) ([]agent.RetrievalResult, error) {
	results, err := o.withRetry(ctx, "graph", func(callCtx context.Context) ([]agent.RetrievalResult, error) {
		return o.graph.Query(callCtx, query, entities, o.cfg.K)
	})
	if err != nil {
		o.metrics.ObserveBackendFailure("graph")
		return nil, &agent.BackendUnavailableError{Backend: "graph", Err: err}
	}
	return results, nil
}

// callVector queries the vector backend with retry and per-call timeout.
func (o *Orchestrator) callVector(ctx context.Context, query string) ([]agent.RetrievalResult, error) {
	results, err := o.withRetry(ctx, "vector", func(callCtx context.Context) ([]agent.RetrievalResult, error) {
		return o.vector.Search(callCtx, query, o.cfg.K)
	})
	if err != nil {
		o.metrics.ObserveBackendFailure("vector")
		return nil, &agent.BackendUnavailableError{Backend: "vector", Err: err}
	}
	return results, nil
}

// withRetry runs one backend call with exponential backoff.
//
// Each attempt gets its own timeout. Backoff waits respect the parent
// context so a cancelled request never sleeps.
func (o *Orchestrator) withRetry(ctx context.Context, backend string, call func(context.Context) ([]agent.RetrievalResult, error)) ([]agent.RetrievalResult, error) {
	var lastErr error
	backoff := o.cfg.RetryBackoff

	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			o.logger.Warn("retrying backend call",
				slog.String("backend", backend),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.PerBackendTimeout)
		results, err := call(callCtx)
		cancel()
		if err == nil {
			return results, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// appendResultHints extends entity hints with entity names the vector pass
// surfaced in result metadata.
func appendResultHints(hints []string, results []agent.RetrievalResult) []string {
	seen := make(map[string]bool, len(hints))
	for _, h := range hints {
		seen[h] = true
	}

	out := append([]string(nil), hints...)
	for _, r := range results {
		names, ok := r.Metadata["entities"]
		if !ok {
			continue
		}
		switch v := names.(type) {
		case []string:
			for _, n := range v {
				if n != "" && !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
		case []any:
			for _, item := range v {
				if n, ok := item.(string); ok && n != "" && !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
		}
	}
	return out
}
