// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Bifrost components.
//
// The package is a thin layer over Go's slog. It picks the output format
// for the destination: human-readable text when stderr is a terminal,
// JSON when output is redirected or the process runs under a supervisor.
// Every logger carries a service attribute so multi-service log streams
// stay attributable.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "bifrost-api"})
//	logger.Info("server listening", "addr", addr)
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must ensure PII,
// tokens, and secrets are not logged.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Format selects the handler encoding.
type Format string

const (
	// FormatAuto picks text for terminals and JSON otherwise.
	FormatAuto Format = "auto"

	// FormatText forces the human-readable slog text handler.
	FormatText Format = "text"

	// FormatJSON forces JSON, the right choice for log aggregation.
	FormatJSON Format = "json"
)

// Config controls logger construction. The zero value produces an info-level
// auto-format logger on stderr.
type Config struct {
	// Level is the minimum severity: debug, info, warn, or error.
	// Unrecognized values fall back to info.
	Level string

	// Service is attached to every record as the "service" attribute.
	Service string

	// Format selects the encoding. Empty means FormatAuto.
	Format Format

	// Output overrides the destination. Nil means os.Stderr.
	Output io.Writer

	// AddSource includes file:line in each record. Useful in development,
	// noisy in production.
	AddSource bool
}

// ParseLevel maps a level name to its slog value, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger per the config.
//
// Description: Selects a slog handler based on the configured format and
// the destination. FormatAuto inspects whether the output is a terminal.
//
// Thread Safety: The returned logger is safe for concurrent use.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch resolveFormat(cfg.Format, out) {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns an info-level logger for the CLI entry points.
func Default(service string) *slog.Logger {
	return New(Config{Service: service})
}

// Discard returns a logger that drops everything. Intended for tests and
// for components that treat logging as optional.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

func resolveFormat(f Format, out io.Writer) Format {
	switch f {
	case FormatText, FormatJSON:
		return f
	}
	if file, ok := out.(*os.File); ok {
		if isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd()) {
			return FormatText
		}
	}
	return FormatJSON
}
