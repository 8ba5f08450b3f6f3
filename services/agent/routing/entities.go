// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// EntityScan is the result of entity detection over one query.
type EntityScan struct {
	// Entities in first-occurrence order, duplicates removed.
	Entities []string

	// Possessives lists entities that appeared in possessive form
	// ("Disney's ARR"), which is a structural routing signal.
	Possessives []string
}

// HasEntities reports whether any entity was detected.
func (s EntityScan) HasEntities() bool {
	return len(s.Entities) > 0
}

var (
	// currencyPattern matches money amounts like $12M, $3.5B, $100.
	currencyPattern = regexp.MustCompile(`\$\d+(?:[.,]\d+)?\s?[KMBkmb]?`)

	// percentPattern matches percentages like 10% or 3.5%.
	percentPattern = regexp.MustCompile(`\d+(?:\.\d+)?%`)
)

// entityStopwords are capitalized tokens that are never entities on their
// own: question words, articles, and auxiliaries that start or pepper
// natural-language questions.
var entityStopwords = map[string]bool{
	"i": true, "a": true, "an": true, "the": true, "this": true, "that": true,
	"what": true, "who": true, "which": true, "how": true, "why": true,
	"when": true, "where": true, "is": true, "are": true, "do": true,
	"does": true, "can": true, "could": true, "should": true, "please": true,
}

// queryVerbs are imperative verbs that open questions ("Compare X and Y").
// Sentence-initial capitalization makes them look like run openers, so they
// never start or extend a run from that position.
var queryVerbs = map[string]bool{
	"compare": true, "contrast": true, "analyze": true, "analyse": true,
	"explain": true, "describe": true, "summarize": true, "summarise": true,
	"list": true, "show": true, "find": true, "tell": true, "give": true,
	"evaluate": true, "define": true,
}

// candidate is a detected span pending ordering and deduplication.
type candidate struct {
	offset     int
	text       string
	possessive bool
}

// ScanEntities detects proper-noun-like entities in a query.
//
// Description:
//
//	Three detectors run over the original (case-preserved) text:
//	capitalized token runs (multi-word spans always count; single tokens
//	count when not sentence-initial, all-caps, or in the lexicon),
//	currency/percentage patterns, and case-insensitive lexicon matches.
//	Results keep first-occurrence order with duplicates removed.
//
// Inputs:
//
//	query - The raw query text. Casing must be preserved by the caller.
//	lexicon - Lower-cased known entity names (may be empty).
//
// Outputs:
//
//	EntityScan - Ordered entities and the subset seen in possessive form.
func ScanEntities(query string, lexicon []string) EntityScan {
	var candidates []candidate

	candidates = append(candidates, scanCapitalizedRuns(query, lexicon)...)

	for _, loc := range currencyPattern.FindAllStringIndex(query, -1) {
		candidates = append(candidates, candidate{offset: loc[0], text: strings.TrimSpace(query[loc[0]:loc[1]])})
	}
	for _, loc := range percentPattern.FindAllStringIndex(query, -1) {
		candidates = append(candidates, candidate{offset: loc[0], text: query[loc[0]:loc[1]]})
	}

	lowered := strings.ToLower(query)
	for _, phrase := range lexicon {
		if idx := strings.Index(lowered, phrase); idx >= 0 {
			candidates = append(candidates, candidate{offset: idx, text: query[idx : idx+len(phrase)]})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].offset < candidates[j].offset
	})

	var scan EntityScan
	seen := make(map[string]bool)
	possessive := make(map[string]bool)
	for _, c := range candidates {
		key := strings.ToLower(c.text)
		if key == "" {
			continue
		}
		if !seen[key] {
			seen[key] = true
			scan.Entities = append(scan.Entities, c.text)
		}
		if c.possessive && !possessive[key] {
			possessive[key] = true
			scan.Possessives = append(scan.Possessives, c.text)
		}
	}
	return scan
}

// scannedToken is a whitespace-delimited token with position metadata.
type scannedToken struct {
	clean         string
	offset        int
	possessive    bool
	sentenceStart bool
}

// scanCapitalizedRuns finds runs of capitalized tokens.
//
// A run of two or more capitalized tokens is always an entity, except that
// a sentence-initial imperative verb never anchors one. A single capitalized
// token is an entity unless it opens a sentence (where English capitalizes
// everything); all-caps acronyms and lexicon members count even there.
func scanCapitalizedRuns(query string, lexicon []string) []candidate {
	tokens := tokenize(query)
	lexSet := make(map[string]bool, len(lexicon))
	for _, l := range lexicon {
		lexSet[l] = true
	}

	var out []candidate
	i := 0
	for i < len(tokens) {
		if !isEntityToken(tokens[i]) {
			i++
			continue
		}
		// An imperative verb at sentence start ("Compare Netflix ...") is
		// capitalized by grammar, not by name. It must not anchor a run.
		if t := tokens[i]; t.sentenceStart && queryVerbs[strings.ToLower(t.clean)] &&
			!isAllCaps(t.clean) && !lexSet[strings.ToLower(t.clean)] {
			i++
			continue
		}
		j := i + 1
		for j < len(tokens) && isEntityToken(tokens[j]) {
			j++
		}

		run := tokens[i:j]
		text := joinTokens(run)
		poss := false
		for _, t := range run {
			if t.possessive {
				poss = true
			}
		}

		single := len(run) == 1
		if single {
			t := run[0]
			acceptable := !t.sentenceStart || isAllCaps(t.clean) || lexSet[strings.ToLower(t.clean)]
			if !acceptable {
				i = j
				continue
			}
		}
		out = append(out, candidate{offset: run[0].offset, text: text, possessive: poss})
		i = j
	}
	return out
}

// tokenize splits on whitespace, strips boundary punctuation, and records
// possessive suffixes and sentence starts.
func tokenize(query string) []scannedToken {
	var tokens []scannedToken
	sentenceStart := true

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		raw := query[start:end]
		endsSentence := strings.HasSuffix(raw, ".") || strings.HasSuffix(raw, "!") || strings.HasSuffix(raw, "?")

		clean := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		possessive := false
		for _, suffix := range []string{"'s", "’s", "'", "’"} {
			if strings.HasSuffix(clean, suffix) && len(clean) > len(suffix) {
				clean = strings.TrimSuffix(clean, suffix)
				possessive = true
				break
			}
		}
		if clean != "" {
			tokens = append(tokens, scannedToken{
				clean:         clean,
				offset:        start,
				possessive:    possessive,
				sentenceStart: sentenceStart,
			})
			sentenceStart = false
		}
		if endsSentence {
			sentenceStart = true
		}
		start = -1
	}

	for i, r := range query {
		if unicode.IsSpace(r) {
			flush(i)
		} else if start < 0 {
			start = i
		}
	}
	flush(len(query))
	return tokens
}

// isEntityToken reports whether a token can belong to an entity run.
func isEntityToken(t scannedToken) bool {
	if t.clean == "" || entityStopwords[strings.ToLower(t.clean)] {
		return false
	}
	runes := []rune(t.clean)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	// Single uppercase letters ("A", initials) are too noisy.
	return len(runes) >= 2
}

// isAllCaps reports whether a token is an acronym-style all-caps word.
func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 2
}

// joinTokens reassembles a run into entity text with original casing.
func joinTokens(run []scannedToken) string {
	parts := make([]string, len(run))
	for i, t := range run {
		parts[i] = t.clean
	}
	return strings.Join(parts, " ")
}
