// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synthesis turns retrieved context and conversation history into a
// prose answer via an OpenAI-compatible chat completion endpoint.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bifrostlabs/bifrost/services/agent"
)

var tracer = otel.Tracer("github.com/bifrostlabs/bifrost/services/agent/synthesis")

// systemPrompt instructs the model to answer strictly from supplied context.
const systemPrompt = `You are a precise question-answering assistant.
Answer using ONLY the numbered context blocks provided in the user message.
Cite facts from the context; do not invent numbers, names, or relationships.
If the context does not contain the information needed, say so plainly.`

// conversationalPrompt is used when no retrieval context exists.
const conversationalPrompt = `You are a concise, friendly assistant.
Reply briefly and conversationally. Do not fabricate domain facts.`

// ChatCompleter is the subset of the OpenAI client the synthesizer needs.
// *openai.Client satisfies it; tests substitute a mock.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds generation parameters.
type Config struct {
	// Model is the chat completion model name. Default: gpt-4o-mini.
	Model string

	// Temperature for generation. Synthesis wants low variance. Default: 0.1.
	Temperature float32

	// MaxTokens caps the completion length. Default: 1024.
	MaxTokens int

	// MaxHistoryTurns is how many prior exchanges to include. Default: 5.
	MaxHistoryTurns int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Model:           openai.GPT4oMini,
		Temperature:     0.1,
		MaxTokens:       1024,
		MaxHistoryTurns: 5,
	}
}

// normalize fills zero-value fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = d.MaxHistoryTurns
	}
	return c
}

// Synthesizer produces draft answers from merged retrieval context.
//
// Thread Safety: safe for concurrent use.
type Synthesizer struct {
	client ChatCompleter
	cfg    Config
	logger *slog.Logger
}

// Compile-time interface implementation check.
var _ agent.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a synthesizer over a chat completion client.
func NewSynthesizer(client ChatCompleter, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		client: client,
		cfg:    cfg.normalize(),
		logger: logger.With(slog.String("component", "synthesizer")),
	}
}

// Synthesize implements agent.Synthesizer.
//
// Description:
//
//	Builds a chat completion request from the system prompt, the recent
//	history, and the query with its numbered context blocks, then returns
//	the model's text. Failures (transport, empty completion) are wrapped in
//	a SynthesisError, which the engine treats as fatal for the iteration.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, mc *agent.MergedContext, history []agent.Exchange) (string, error) {
	ctx, span := tracer.Start(ctx, "synthesis.Synthesize")
	defer span.End()

	results := 0
	if mc != nil {
		results = len(mc.Results)
	}
	span.SetAttributes(
		attribute.String("synthesis.model", s.cfg.Model),
		attribute.Int("synthesis.context_results", results),
	)

	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Messages:    s.buildMessages(query, mc, history),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &agent.SynthesisError{Err: err}
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("completion returned no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &agent.SynthesisError{Err: err}
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	span.SetAttributes(attribute.Int("synthesis.answer_length", len(answer)))
	return answer, nil
}

// buildMessages assembles the chat transcript for one completion call.
func (s *Synthesizer) buildMessages(query string, mc *agent.MergedContext, history []agent.Exchange) []openai.ChatCompletionMessage {
	system := systemPrompt
	if mc.Empty() {
		system = conversationalPrompt
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}

	if n := len(history); n > s.cfg.MaxHistoryTurns {
		history = history[n-s.cfg.MaxHistoryTurns:]
	}
	for _, ex := range history {
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Query},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Answer},
		)
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: buildUserPrompt(query, mc),
	})
	return msgs
}

// buildUserPrompt renders the query with its numbered context blocks.
func buildUserPrompt(query string, mc *agent.MergedContext) string {
	if mc.Empty() {
		return query
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range mc.Results {
		fmt.Fprintf(&b, "[Source %d: %s] %s\n", i+1, r.Source, r.Content)
	}
	if mc.Partial {
		b.WriteString("\nNote: one knowledge source was unavailable; the context above may be incomplete.\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
