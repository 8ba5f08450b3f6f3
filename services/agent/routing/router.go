// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// Fixed confidence constants for the non-margin branches.
const (
	confidenceEmpty    = 0.99
	confidenceGreeting = 0.95
	confidenceHybrid   = 0.85
	confidenceFloor    = 0.5
	confidenceCeiling  = 0.99
)

// Config holds the router's tunable thresholds.
type Config struct {
	// MinHybridScore is the minimum each category score must reach before
	// a hybrid strategy is considered. Default: 1.0.
	MinHybridScore float64

	// MaxGreetingTokens is the longest token count treated as a possible
	// greeting/acknowledgment. Default: 3.
	MaxGreetingTokens int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinHybridScore:    1.0,
		MaxGreetingTokens: 3,
	}
}

// Router is the deterministic strategy classifier.
//
// Route is a pure function of the query, the supplied history, and the
// loaded vocabulary. The vocabulary is held behind an atomic pointer so a
// full reload swaps it without locking readers.
//
// Thread Safety: safe for concurrent use.
type Router struct {
	cfg    Config
	vocab  atomic.Pointer[compiledVocab]
	logger *slog.Logger
}

// Compile-time interface implementation check.
var _ agent.Router = (*Router)(nil)

// NewRouter creates a router from a validated vocabulary.
//
// Inputs:
//
//	vocab - The vocabulary to compile. Uses DefaultVocabulary() if nil.
//	cfg - Threshold configuration (DefaultConfig() for defaults).
//	logger - Logger instance. Uses slog.Default() if nil.
func NewRouter(vocab *Vocabulary, cfg Config, logger *slog.Logger) (*Router, error) {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if err := vocab.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinHybridScore <= 0 {
		cfg.MinHybridScore = DefaultConfig().MinHybridScore
	}
	if cfg.MaxGreetingTokens <= 0 {
		cfg.MaxGreetingTokens = DefaultConfig().MaxGreetingTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{cfg: cfg, logger: logger.With(slog.String("component", "router"))}
	r.vocab.Store(compile(vocab))
	return r, nil
}

// Reload replaces the vocabulary atomically.
//
// Description:
//
//	The new vocabulary is validated and compiled before the swap; a bad
//	vocabulary leaves the current one in place. Readers in flight keep
//	their snapshot — there is no partially-updated state.
func (r *Router) Reload(vocab *Vocabulary) error {
	if vocab == nil {
		return fmt.Errorf("nil vocabulary")
	}
	if err := vocab.Validate(); err != nil {
		return err
	}
	old := r.vocab.Swap(compile(vocab))
	r.logger.Info("vocabulary reloaded",
		slog.Int("old_version", old.version),
		slog.Int("new_version", vocab.Version))
	return nil
}

// VocabularyVersion returns the loaded vocabulary revision.
func (r *Router) VocabularyVersion() int {
	return r.vocab.Load().version
}

// GroundingConfig returns the grounding section of the loaded vocabulary.
func (r *Router) GroundingConfig() GroundingSection {
	return r.vocab.Load().grounding
}

// Route implements agent.Router.
//
// Description:
//
//	Applies the decision table, highest priority first:
//
//	 1. Empty input → NO_RETRIEVAL (0.99).
//	 2. ≤3 tokens matching the greeting list → NO_RETRIEVAL (0.95).
//	 3. Both scores positive and above threshold, with an analysis verb on
//	    an entity → HYBRID_SEQUENTIAL; with a multi-entity comparison →
//	    HYBRID_PARALLEL (0.85 each).
//	 4. structural > definitional → GRAPH.
//	 5. definitional > structural → VECTOR.
//	 6. Tie (including 0–0) → VECTOR at 0.5, the low-confidence
//	    definitional fallback.
//
//	Margin-branch confidence is |s−d|/(s+d+1) clamped to [0.5, 0.99].
//	History only seeds entity carry-over for follow-up queries that detect
//	no entities of their own; it never changes indicator scores.
//
// Thread Safety: safe for concurrent use.
func (r *Router) Route(query string, history []agent.Exchange) agent.RoutingDecision {
	vocab := r.vocab.Load()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return agent.RoutingDecision{
			Strategy:   agent.StrategyNoRetrieval,
			Confidence: confidenceEmpty,
			Reasoning:  "empty input",
		}
	}

	normalized := normalizeQuery(trimmed)
	tokens := strings.Fields(normalized)

	if len(tokens) <= r.cfg.MaxGreetingTokens && vocab.greetings[normalized] {
		return agent.RoutingDecision{
			Strategy:   agent.StrategyNoRetrieval,
			Confidence: confidenceGreeting,
			Reasoning:  fmt.Sprintf("greeting/acknowledgment %q, no retrieval needed", normalized),
		}
	}

	scan := ScanEntities(trimmed, vocab.lexicon)
	if !scan.HasEntities() && len(history) > 0 {
		// Follow-up queries ("what about its renewal date?") inherit the
		// entities of the previous turn.
		prior := ScanEntities(history[len(history)-1].Query, vocab.lexicon)
		scan.Entities = prior.Entities
	}

	scores := r.score(normalized, scan, vocab)

	decision := r.decide(scores, scan)
	decision.DetectedEntities = scan.Entities
	r.logger.Debug("routing decision",
		slog.String("strategy", decision.Strategy.String()),
		slog.Float64("confidence", decision.Confidence),
		slog.Float64("structural", scores.structural),
		slog.Float64("definitional", scores.definitional),
		slog.Int("entities", len(scan.Entities)))
	return decision
}

// indicatorScores aggregates one query's scoring pass.
type indicatorScores struct {
	structural    float64
	definitional  float64
	matched       []string
	analysisHit   bool
	comparisonHit bool
}

// score runs indicator matching over the normalized query.
func (r *Router) score(normalized string, scan EntityScan, vocab *compiledVocab) indicatorScores {
	var s indicatorScores
	padded := " " + normalized + " "

	for _, ind := range vocab.structural {
		if strings.Contains(padded, " "+ind.Phrase+" ") {
			s.structural += ind.Weight
			s.matched = append(s.matched, "structural:"+ind.Phrase)
		}
	}
	for _, ind := range vocab.definitional {
		if strings.Contains(padded, " "+ind.Phrase+" ") {
			s.definitional += ind.Weight
			s.matched = append(s.matched, "definitional:"+ind.Phrase)
		}
	}

	// Possessive reference to a detected entity ("Disney's ARR") is a
	// structural ownership pattern.
	for _, p := range scan.Possessives {
		s.structural++
		s.matched = append(s.matched, "possessive:"+p)
	}

	// Analysis verbs acting on an entity and explicit multi-entity
	// comparisons need both backends, so they feed both scores.
	if len(scan.Entities) >= 1 && containsAny(padded, vocab.analysis) {
		s.analysisHit = true
		s.structural++
		s.definitional++
		s.matched = append(s.matched, "analysis")
	}
	if len(scan.Entities) >= 2 && containsAny(padded, vocab.comparison) {
		s.comparisonHit = true
		s.structural++
		s.definitional++
		s.matched = append(s.matched, "comparison")
	}

	// Entity presence doubles structural weight.
	if scan.HasEntities() {
		s.structural *= 2
	}
	return s
}

// decide applies the decision table to the computed scores.
func (r *Router) decide(s indicatorScores, scan EntityScan) agent.RoutingDecision {
	matched := strings.Join(s.matched, ", ")

	bothScored := s.structural > 0 && s.definitional > 0 &&
		s.structural >= r.cfg.MinHybridScore && s.definitional >= r.cfg.MinHybridScore

	switch {
	case bothScored && s.analysisHit:
		return agent.RoutingDecision{
			Strategy:   agent.StrategyHybridSequential,
			Confidence: confidenceHybrid,
			Reasoning: fmt.Sprintf("analysis verb on entity with structural=%.1f definitional=%.1f; matched: %s",
				s.structural, s.definitional, matched),
		}
	case bothScored && s.comparisonHit:
		return agent.RoutingDecision{
			Strategy:   agent.StrategyHybridParallel,
			Confidence: confidenceHybrid,
			Reasoning: fmt.Sprintf("multi-entity comparison with structural=%.1f definitional=%.1f; matched: %s",
				s.structural, s.definitional, matched),
		}
	case s.structural > s.definitional:
		return agent.RoutingDecision{
			Strategy:   agent.StrategyGraph,
			Confidence: marginConfidence(s.structural, s.definitional),
			Reasoning: fmt.Sprintf("structural indicators outweigh definitional (%.1f > %.1f); matched: %s",
				s.structural, s.definitional, matched),
		}
	case s.definitional > s.structural:
		return agent.RoutingDecision{
			Strategy:   agent.StrategyVector,
			Confidence: marginConfidence(s.structural, s.definitional),
			Reasoning: fmt.Sprintf("definitional indicators outweigh structural (%.1f > %.1f); matched: %s",
				s.definitional, s.structural, matched),
		}
	default:
		return agent.RoutingDecision{
			Strategy:   agent.StrategyVector,
			Confidence: confidenceFloor,
			Reasoning:  "indicator tie, low-confidence definitional fallback",
		}
	}
}

// marginConfidence is the normalized score margin clamped to [0.5, 0.99].
func marginConfidence(a, b float64) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	c := diff / (a + b + 1)
	if c < confidenceFloor {
		return confidenceFloor
	}
	if c > confidenceCeiling {
		return confidenceCeiling
	}
	return c
}

// containsAny reports whether any marker appears in the padded query.
func containsAny(padded string, markers []string) bool {
	for _, m := range markers {
		// Markers with embedded spaces (" vs ") carry their own boundaries.
		if strings.HasPrefix(m, " ") {
			if strings.Contains(padded, m) {
				return true
			}
			continue
		}
		if strings.Contains(padded, " "+m+" ") {
			return true
		}
	}
	return false
}

// normalizeQuery lower-cases the query and strips punctuation at token
// boundaries, keeping $ and % because they carry entity meaning.
func normalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '$', r == '%':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
