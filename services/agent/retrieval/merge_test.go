// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"testing"

	"github.com/bifrostlabs/bifrost/services/agent"
)

func TestDedupe(t *testing.T) {
	results := []agent.RetrievalResult{
		{Content: "Disney ARR is $12M", Score: 0.9, Source: agent.SourceVector},
		{Content: "disney   arr is $12m", Score: 0.7, Source: agent.SourceGraph},
		{Content: "Hulu ARR is $4M", Score: 0.8, Source: agent.SourceGraph},
	}

	got := dedupe(results)
	if len(got) != 2 {
		t.Fatalf("dedupe() kept %d results, want 2", len(got))
	}
	// First occurrence wins.
	if got[0].Score != 0.9 || got[0].Source != agent.SourceVector {
		t.Errorf("dedupe() kept %+v, want the first occurrence", got[0])
	}
}

func TestDedupe_Empty(t *testing.T) {
	if got := dedupe(nil); len(got) != 0 {
		t.Errorf("dedupe(nil) = %v, want empty", got)
	}
}

func TestNormalizePerSource(t *testing.T) {
	results := []agent.RetrievalResult{
		{Content: "g1", Score: 10, Source: agent.SourceGraph},
		{Content: "g2", Score: 5, Source: agent.SourceGraph},
		{Content: "v1", Score: 0.8, Source: agent.SourceVector},
		{Content: "v2", Score: 0.4, Source: agent.SourceVector},
	}

	got := normalizePerSource(results)

	want := []float64{1.0, 0.5, 1.0, 0.5}
	for i, w := range want {
		if got[i].Score != w {
			t.Errorf("normalized[%d].Score = %v, want %v", i, got[i].Score, w)
		}
	}

	// Input must not be mutated.
	if results[0].Score != 10 {
		t.Errorf("input mutated: results[0].Score = %v, want 10", results[0].Score)
	}
}

func TestNormalizePerSource_ZeroScores(t *testing.T) {
	results := []agent.RetrievalResult{
		{Content: "g1", Score: 0, Source: agent.SourceGraph},
	}
	got := normalizePerSource(results)
	if got[0].Score != 0 {
		t.Errorf("zero-score source normalized to %v, want 0", got[0].Score)
	}
}

func TestMergeSequential(t *testing.T) {
	vector := []agent.RetrievalResult{
		{Content: "shared fact", Score: 0.9, Source: agent.SourceVector},
		{Content: "vector only fact", Score: 0.6, Source: agent.SourceVector},
	}
	graph := []agent.RetrievalResult{
		{Content: "SHARED   fact", Score: 0.95, Source: agent.SourceGraph},
		{Content: "graph only fact", Score: 0.7, Source: agent.SourceGraph},
	}

	got := mergeSequential(vector, graph)
	if len(got) != 3 {
		t.Fatalf("mergeSequential() kept %d results, want 3", len(got))
	}
	// Vector's copy of the duplicate wins (primary first), then scores rank.
	if got[0].Content != "shared fact" {
		t.Errorf("top result = %q, want vector's copy of the duplicate", got[0].Content)
	}
	if got[1].Content != "graph only fact" || got[2].Content != "vector only fact" {
		t.Errorf("order = [%q %q %q], want score-descending", got[0].Content, got[1].Content, got[2].Content)
	}
}

func TestMergeParallel_NormalizesBeforeRanking(t *testing.T) {
	// Graph scores on a 0..10 scale, vector on 0..1. Without normalization
	// graph would always win; with it, each source's best ties at 1.0.
	graph := []agent.RetrievalResult{
		{Content: "graph best", Score: 10, Source: agent.SourceGraph},
		{Content: "graph weak", Score: 1, Source: agent.SourceGraph},
	}
	vector := []agent.RetrievalResult{
		{Content: "vector best", Score: 0.9, Source: agent.SourceVector},
	}

	got := mergeParallel(graph, vector)
	if len(got) != 3 {
		t.Fatalf("mergeParallel() kept %d results, want 3", len(got))
	}
	if got[0].Score != 1.0 || got[1].Score != 1.0 {
		t.Errorf("top two scores = %v, %v; want both normalized to 1.0", got[0].Score, got[1].Score)
	}
	// Stable sort keeps graph's entry first on the tie.
	if got[0].Content != "graph best" || got[1].Content != "vector best" {
		t.Errorf("tie order = [%q %q], want stable insertion order", got[0].Content, got[1].Content)
	}
	if got[2].Content != "graph weak" || got[2].Score != 0.1 {
		t.Errorf("last result = %+v, want graph weak at 0.1", got[2])
	}
}

func TestMergeParallel_Deterministic(t *testing.T) {
	graph := []agent.RetrievalResult{
		{Content: "a", Score: 3, Source: agent.SourceGraph},
		{Content: "b", Score: 3, Source: agent.SourceGraph},
	}
	vector := []agent.RetrievalResult{
		{Content: "c", Score: 0.5, Source: agent.SourceVector},
		{Content: "d", Score: 0.5, Source: agent.SourceVector},
	}

	first := mergeParallel(graph, vector)
	for i := 0; i < 20; i++ {
		got := mergeParallel(graph, vector)
		for j := range first {
			if got[j].Content != first[j].Content {
				t.Fatalf("merge order changed between runs: %v vs %v", got, first)
			}
		}
	}
}
