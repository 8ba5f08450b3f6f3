// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"reflect"
	"testing"
)

func TestScanEntities(t *testing.T) {
	tests := []struct {
		name            string
		query           string
		lexicon         []string
		wantEntities    []string
		wantPossessives []string
	}{
		{
			name:            "possessive single entity",
			query:           "What's Disney's total ARR across all contracts?",
			wantEntities:    []string{"Disney", "ARR"},
			wantPossessives: []string{"Disney"},
		},
		{
			name:         "two entities one possessive",
			query:        "Compare Netflix and Hulu's content strategies",
			wantEntities: []string{"Netflix", "Hulu"},
			// Hulu is possessive.
			wantPossessives: []string{"Hulu"},
		},
		{
			name:         "sentence initial verb does not anchor a run",
			query:        "Compare Walt Disney Company against the market",
			wantEntities: []string{"Walt Disney Company"},
		},
		{
			name:            "multi word entity run",
			query:           "Analyze the impact on Acme Corp's renewal",
			wantEntities:    []string{"Acme Corp"},
			wantPossessives: []string{"Acme Corp"},
		},
		{
			name:         "sentence initial capital is not an entity",
			query:        "Explain graceful degradation",
			wantEntities: nil,
		},
		{
			name:         "sentence initial acronym counts",
			query:        "ARR is down this quarter",
			wantEntities: []string{"ARR"},
		},
		{
			name:         "currency amount",
			query:        "which contracts are worth more than $12M this year",
			wantEntities: []string{"$12M"},
		},
		{
			name:         "percentage",
			query:        "did churn exceed 3.5% last month",
			wantEntities: []string{"3.5%"},
		},
		{
			name:         "lexicon match ignores casing",
			query:        "who owns the globex account",
			lexicon:      []string{"globex"},
			wantEntities: []string{"globex"},
		},
		{
			name:         "lexicon sentence initial counts",
			query:        "Globex renewal status",
			lexicon:      []string{"globex"},
			wantEntities: []string{"Globex"},
		},
		{
			name:         "duplicates collapse case insensitively",
			query:        "Is Netflix better than NETFLIX or Netflix?",
			wantEntities: []string{"Netflix"},
		},
		{
			name:         "question words are never entities",
			query:        "What Which Who When",
			wantEntities: nil,
		},
		{
			name:         "empty query",
			query:        "",
			wantEntities: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanEntities(tt.query, tt.lexicon)
			if !reflect.DeepEqual(got.Entities, tt.wantEntities) {
				t.Errorf("ScanEntities(%q).Entities = %v, want %v", tt.query, got.Entities, tt.wantEntities)
			}
			if !reflect.DeepEqual(got.Possessives, tt.wantPossessives) {
				t.Errorf("ScanEntities(%q).Possessives = %v, want %v", tt.query, got.Possessives, tt.wantPossessives)
			}
		})
	}
}

func TestScanEntities_FirstOccurrenceOrder(t *testing.T) {
	got := ScanEntities("Does Hulu depend on Netflix or does Netflix depend on Hulu?", nil)
	want := []string{"Hulu", "Netflix"}
	if !reflect.DeepEqual(got.Entities, want) {
		t.Errorf("Entities = %v, want first-occurrence order %v", got.Entities, want)
	}
}

func TestIsAllCaps(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ARR", true},
		{"K8S", true},
		{"Arr", false},
		{"arr", false},
		{"A", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isAllCaps(tt.in); got != tt.want {
			t.Errorf("isAllCaps(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
