// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package grounding classifies synthesized answers as grounded or not.
//
// Verification is a pure text heuristic: a minimum-length check followed by
// case-insensitive containment of curated negative indicators. It makes no
// network calls and never blocks, so it can sit inside the answer loop's
// hot path.
package grounding

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// Config holds the verifier's heuristic parameters.
//
// Deployments normally source these from the same versioned vocabulary file
// the router loads, so routing and grounding heuristics ship together.
type Config struct {
	// MinAnswerLength is the minimum character count (after trimming) for a
	// grounded answer. Default: 50.
	MinAnswerLength int

	// NegativeIndicators are phrases whose presence marks an answer as
	// ungrounded. Matched case-insensitively as substrings.
	NegativeIndicators []string
}

// DefaultConfig returns the built-in heuristic parameters.
func DefaultConfig() Config {
	return Config{
		MinAnswerLength: 50,
		NegativeIndicators: []string{
			"no results",
			"not available",
			"unable to find",
			"unable to locate",
			"no specific data",
			"couldn't find",
			"could not find",
			"does not contain",
			"doesn't contain",
			"no information",
			"no data",
			"i don't have",
			"i do not have",
			"sorry",
			"apologize",
			"as an ai",
		},
	}
}

// compiledConfig is the immutable lookup form of a Config.
type compiledConfig struct {
	minLength  int
	indicators []string
}

// Verifier is the deterministic grounding classifier.
//
// Verify is a pure function of the answer text and the loaded configuration.
// The configuration sits behind an atomic pointer so hot reloads swap it
// without locking readers.
//
// Thread Safety: safe for concurrent use.
type Verifier struct {
	cfg    atomic.Pointer[compiledConfig]
	logger *slog.Logger
}

// Compile-time interface implementation check.
var _ agent.Verifier = (*Verifier)(nil)

// NewVerifier creates a verifier from the given configuration.
//
// Inputs:
//
//	cfg - Heuristic parameters. Zero-value fields fall back to defaults.
//	logger - Logger instance. Uses slog.Default() if nil.
func NewVerifier(cfg Config, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Verifier{logger: logger.With(slog.String("component", "verifier"))}
	v.cfg.Store(compileConfig(cfg))
	return v
}

// Reload replaces the heuristic parameters atomically.
func (v *Verifier) Reload(cfg Config) {
	old := v.cfg.Swap(compileConfig(cfg))
	v.logger.Info("grounding config reloaded",
		slog.Int("old_indicators", len(old.indicators)),
		slog.Int("new_indicators", len(cfg.NegativeIndicators)))
}

// Verify implements agent.Verifier.
//
// Description:
//
//	Two checks, cheapest first. An answer shorter than the minimum length
//	(after whitespace trimming) is ungrounded. Otherwise the answer is
//	scanned for negative indicators, short-circuiting on the first hit.
//	An empty answer is always ungrounded.
//
// Thread Safety: safe for concurrent use.
func (v *Verifier) Verify(answer string) agent.GroundingVerdict {
	cfg := v.cfg.Load()

	trimmed := strings.TrimSpace(answer)
	if len(trimmed) < cfg.minLength {
		return agent.GroundingVerdict{
			IsGrounded: false,
			Reason:     fmt.Sprintf("answer length %d below minimum %d", len(trimmed), cfg.minLength),
		}
	}

	lowered := strings.ToLower(trimmed)
	for _, ind := range cfg.indicators {
		if strings.Contains(lowered, ind) {
			return agent.GroundingVerdict{
				IsGrounded:        false,
				MatchedIndicators: []string{ind},
				Reason:            fmt.Sprintf("negative indicator %q present", ind),
			}
		}
	}

	return agent.GroundingVerdict{
		IsGrounded: true,
		Reason:     "length and indicator checks passed",
	}
}

// compileConfig lower-cases indicators once and applies defaults.
func compileConfig(cfg Config) *compiledConfig {
	c := &compiledConfig{minLength: cfg.MinAnswerLength}
	if c.minLength <= 0 {
		c.minLength = DefaultConfig().MinAnswerLength
	}

	indicators := cfg.NegativeIndicators
	if indicators == nil {
		indicators = DefaultConfig().NegativeIndicators
	}
	for _, ind := range indicators {
		ind = strings.TrimSpace(strings.ToLower(ind))
		if ind != "" {
			c.indicators = append(c.indicators, ind)
		}
	}
	return c
}
