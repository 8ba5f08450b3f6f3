// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"sort"

	"github.com/bifrostlabs/bifrost/services/agent"
)

// dedupe removes results whose normalized content fingerprint was already
// seen, keeping the first occurrence. Input order is preserved.
func dedupe(results []agent.RetrievalResult) []agent.RetrievalResult {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		fp := r.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, r)
	}
	return out
}

// sortByScore orders results by score descending. The sort is stable so
// equal-score results keep their insertion order, which keeps merges
// deterministic.
func sortByScore(results []agent.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// normalizePerSource rescales scores to [0, 1] within each source.
//
// Graph and vector backends score on different scales, so interleaving raw
// scores would systematically favor one backend. Each source's maximum maps
// to 1; a source whose scores are all zero (or negative) is left at zero.
func normalizePerSource(results []agent.RetrievalResult) []agent.RetrievalResult {
	max := make(map[agent.Source]float64)
	for _, r := range results {
		if r.Score > max[r.Source] {
			max[r.Source] = r.Score
		}
	}

	out := make([]agent.RetrievalResult, len(results))
	for i, r := range results {
		out[i] = r
		if m := max[r.Source]; m > 0 {
			out[i].Score = r.Score / m
		} else {
			out[i].Score = 0
		}
	}
	return out
}

// mergeSequential concatenates primary-then-secondary, dedupes on content
// fingerprint, and ranks by raw score. Used for HYBRID_SEQUENTIAL, where the
// second pass was seeded by the first and scores share a frame of reference
// per source already.
func mergeSequential(primary, secondary []agent.RetrievalResult) []agent.RetrievalResult {
	combined := make([]agent.RetrievalResult, 0, len(primary)+len(secondary))
	combined = append(combined, primary...)
	combined = append(combined, secondary...)
	combined = dedupe(combined)
	sortByScore(combined)
	return combined
}

// mergeParallel normalizes each source's scores, then dedupes and ranks.
// Used for HYBRID_PARALLEL, where both backends answered the same query
// independently and raw scales must not be compared directly.
func mergeParallel(a, b []agent.RetrievalResult) []agent.RetrievalResult {
	combined := make([]agent.RetrievalResult, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	combined = normalizePerSource(combined)
	combined = dedupe(combined)
	sortByScore(combined)
	return combined
}
