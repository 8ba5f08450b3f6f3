// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routing implements the deterministic query router: entity and
// keyword classification against curated vocabularies, and a fixed decision
// table that maps indicator scores to a retrieval strategy.
//
// Routing is a pure function of the query text and the loaded Vocabulary.
// No network calls, no side effects: identical input yields an identical
// RoutingDecision, which is what makes the router testable in isolation.
package routing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Indicator is one weighted keyword or phrase in a vocabulary category.
type Indicator struct {
	// Phrase is matched case-insensitively on word boundaries.
	Phrase string `yaml:"phrase" json:"phrase"`

	// Weight contributes to the category score on match. Zero or negative
	// weights are corrected to 1.0 at load time.
	Weight float64 `yaml:"weight" json:"weight"`
}

// GroundingSection configures the grounding verifier from the same
// versioned resource as the routing vocabularies, so both heuristics are
// reviewed and shipped together.
type GroundingSection struct {
	// MinAnswerLength is the minimum grounded answer length in characters.
	MinAnswerLength int `yaml:"min_answer_length" json:"min_answer_length"`

	// NegativeIndicators are phrases that mark an answer as ungrounded.
	// Matching is case-insensitive substring containment.
	NegativeIndicators []string `yaml:"negative_indicators" json:"negative_indicators"`
}

// Vocabulary is the versioned, loadable routing configuration.
//
// The vocabulary is read-only after compilation. Updating it means loading
// a new Vocabulary and swapping it in whole (Router.Reload); in-place
// mutation is not supported.
type Vocabulary struct {
	// Version identifies the vocabulary revision for audit logs.
	Version int `yaml:"version" json:"version"`

	// Structural indicators signal relationship-shaped questions that the
	// graph backend answers well.
	Structural []Indicator `yaml:"structural_indicators" json:"structural_indicators"`

	// Definitional indicators signal concept/explanation questions that the
	// vector backend answers well.
	Definitional []Indicator `yaml:"definitional_indicators" json:"definitional_indicators"`

	// ComparisonMarkers flag explicit multi-entity comparisons
	// ("compare X and Y").
	ComparisonMarkers []string `yaml:"comparison_markers" json:"comparison_markers"`

	// AnalysisMarkers flag analysis verbs acting on an entity
	// ("analyze X's impact on Y").
	AnalysisMarkers []string `yaml:"analysis_markers" json:"analysis_markers"`

	// Greetings are short inputs that need no retrieval at all.
	Greetings []string `yaml:"greetings" json:"greetings"`

	// EntityLexicon holds known organization/product/team names matched
	// case-insensitively regardless of capitalization in the query.
	EntityLexicon []string `yaml:"entity_lexicon" json:"entity_lexicon"`

	// Grounding configures the answer verifier.
	Grounding GroundingSection `yaml:"grounding" json:"grounding"`
}

// DefaultVocabulary returns the built-in vocabulary shipped with the binary.
//
// Deployments override it with a YAML file (see LoadVocabularyFile); the
// built-in copy keeps the router usable with zero configuration.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Version: 1,
		Structural: []Indicator{
			{Phrase: "relationship", Weight: 1},
			{Phrase: "related to", Weight: 1},
			{Phrase: "which customers", Weight: 1},
			{Phrase: "which teams", Weight: 1},
			{Phrase: "which accounts", Weight: 1},
			{Phrase: "how much revenue", Weight: 1},
			{Phrase: "how many", Weight: 1},
			{Phrase: "who owns", Weight: 1},
			{Phrase: "owned by", Weight: 1},
			{Phrase: "reports to", Weight: 1},
			{Phrase: "works with", Weight: 1},
			{Phrase: "depends on", Weight: 1},
			{Phrase: "connected to", Weight: 1},
			{Phrase: "arr", Weight: 1},
			{Phrase: "contract value", Weight: 1},
			{Phrase: "renewal date", Weight: 1},
			{Phrase: "account owner", Weight: 1},
		},
		Definitional: []Indicator{
			{Phrase: "what is", Weight: 1},
			{Phrase: "what are", Weight: 1},
			{Phrase: "explain", Weight: 1},
			{Phrase: "definition of", Weight: 1},
			{Phrase: "define", Weight: 1},
			{Phrase: "meaning of", Weight: 1},
			{Phrase: "best practices", Weight: 1},
			{Phrase: "how does", Weight: 1},
			{Phrase: "how do i", Weight: 1},
			{Phrase: "overview of", Weight: 1},
			{Phrase: "describe", Weight: 1},
			{Phrase: "tell me about", Weight: 1},
		},
		ComparisonMarkers: []string{
			"compare", "versus", " vs ", "difference between", "differences between",
		},
		AnalysisMarkers: []string{
			"analyze", "analyse", "impact on", "effect on", "influence on", "assess",
		},
		Greetings: []string{
			"hello", "hi", "hey", "yo", "thanks", "thank you", "ok", "okay",
			"bye", "goodbye", "good morning", "good afternoon", "good evening",
			"got it", "sounds good",
		},
		EntityLexicon: []string{},
		Grounding: GroundingSection{
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
		},
	}
}

// Validate checks the vocabulary and corrects recoverable problems.
//
// Description:
//
//	Zero/negative indicator weights are corrected to 1.0. Empty phrases and
//	duplicate categories are errors because they silently distort scoring.
//
// Outputs:
//
//	error - Non-nil if the vocabulary cannot be used.
func (v *Vocabulary) Validate() error {
	if v.Version <= 0 {
		return fmt.Errorf("vocabulary version must be positive, got %d", v.Version)
	}

	seen := make(map[string]string)
	checkCategory := func(category string, indicators []Indicator) error {
		for i := range indicators {
			phrase := strings.TrimSpace(strings.ToLower(indicators[i].Phrase))
			if phrase == "" {
				return fmt.Errorf("%s indicator %d has an empty phrase", category, i)
			}
			if prev, dup := seen[phrase]; dup && prev != category {
				return fmt.Errorf("phrase %q appears in both %s and %s; categories must be disjoint", phrase, prev, category)
			}
			seen[phrase] = category
			if indicators[i].Weight <= 0 {
				indicators[i].Weight = 1
			}
		}
		return nil
	}

	if err := checkCategory("structural", v.Structural); err != nil {
		return err
	}
	if err := checkCategory("definitional", v.Definitional); err != nil {
		return err
	}

	if v.Grounding.MinAnswerLength < 0 {
		return fmt.Errorf("grounding min_answer_length must be non-negative, got %d", v.Grounding.MinAnswerLength)
	}
	if v.Grounding.MinAnswerLength == 0 {
		v.Grounding.MinAnswerLength = 50
	}
	return nil
}

// LoadVocabularyFile reads and validates a vocabulary YAML file.
//
// Inputs:
//
//	path - Path to the YAML resource.
//
// Outputs:
//
//	*Vocabulary - The validated vocabulary.
//	error - Non-nil on read, parse, or validation failure.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary file: %w", err)
	}

	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing vocabulary file: %w", err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vocabulary %s: %w", path, err)
	}
	return &v, nil
}

// compiledVocab is the immutable lookup form of a Vocabulary.
//
// Compilation lower-cases every phrase once so Route never allocates for
// case folding of vocabulary entries.
type compiledVocab struct {
	version      int
	structural   []Indicator
	definitional []Indicator
	comparison   []string
	analysis     []string
	greetings    map[string]bool
	lexicon      []string
	grounding    GroundingSection
}

// compile builds the immutable lookup structures.
func compile(v *Vocabulary) *compiledVocab {
	c := &compiledVocab{
		version:   v.Version,
		greetings: make(map[string]bool, len(v.Greetings)),
		grounding: v.Grounding,
	}

	for _, ind := range v.Structural {
		c.structural = append(c.structural, Indicator{
			Phrase: strings.ToLower(strings.TrimSpace(ind.Phrase)),
			Weight: ind.Weight,
		})
	}
	for _, ind := range v.Definitional {
		c.definitional = append(c.definitional, Indicator{
			Phrase: strings.ToLower(strings.TrimSpace(ind.Phrase)),
			Weight: ind.Weight,
		})
	}
	for _, m := range v.ComparisonMarkers {
		c.comparison = append(c.comparison, strings.ToLower(m))
	}
	for _, m := range v.AnalysisMarkers {
		c.analysis = append(c.analysis, strings.ToLower(m))
	}
	for _, g := range v.Greetings {
		c.greetings[strings.ToLower(strings.TrimSpace(g))] = true
	}
	for _, e := range v.EntityLexicon {
		c.lexicon = append(c.lexicon, strings.ToLower(strings.TrimSpace(e)))
	}
	return c
}
