// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package grounding

import (
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	v := NewVerifier(DefaultConfig(), nil)

	grounded := "Disney's total ARR across all active contracts is $12.4M, spread over three enterprise agreements renewing in Q3."

	tests := []struct {
		name          string
		answer        string
		wantGrounded  bool
		wantIndicator string
	}{
		{
			name:         "substantive answer passes",
			answer:       grounded,
			wantGrounded: true,
		},
		{
			name:         "empty answer fails",
			answer:       "",
			wantGrounded: false,
		},
		{
			name:         "whitespace only fails",
			answer:       "   \n\t  ",
			wantGrounded: false,
		},
		{
			name:         "short answer fails length check",
			answer:       "Yes.",
			wantGrounded: false,
		},
		{
			name:          "negative indicator fails",
			answer:        "The retrieved documents returned no results for that customer, so nothing can be concluded.",
			wantGrounded:  false,
			wantIndicator: "no results",
		},
		{
			name:          "indicator matching is case insensitive",
			answer:        "I am SORRY, but the knowledge base holds nothing relevant to that question at this time.",
			wantGrounded:  false,
			wantIndicator: "sorry",
		},
		{
			name:          "refusal boilerplate fails",
			answer:        "As an AI, I cannot determine the contract values involved in this relationship or ownership chain.",
			wantGrounded:  false,
			wantIndicator: "as an ai",
		},
		{
			name:         "exactly at minimum length passes",
			answer:       strings.Repeat("a", 50),
			wantGrounded: true,
		},
		{
			name:         "one below minimum length fails",
			answer:       strings.Repeat("a", 49),
			wantGrounded: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Verify(tt.answer)
			if got.IsGrounded != tt.wantGrounded {
				t.Errorf("Verify(%q).IsGrounded = %v, want %v (reason: %s)",
					tt.answer, got.IsGrounded, tt.wantGrounded, got.Reason)
			}
			if tt.wantIndicator != "" {
				if len(got.MatchedIndicators) != 1 || got.MatchedIndicators[0] != tt.wantIndicator {
					t.Errorf("MatchedIndicators = %v, want [%s]", got.MatchedIndicators, tt.wantIndicator)
				}
			}
		})
	}
}

func TestVerify_ShortCircuitsFirstIndicator(t *testing.T) {
	v := NewVerifier(Config{
		MinAnswerLength:    10,
		NegativeIndicators: []string{"alpha", "beta"},
	}, nil)

	got := v.Verify("this text contains alpha and also beta somewhere later")
	if got.IsGrounded {
		t.Fatal("answer with indicators verified as grounded")
	}
	if len(got.MatchedIndicators) != 1 || got.MatchedIndicators[0] != "alpha" {
		t.Errorf("MatchedIndicators = %v, want short-circuit on [alpha]", got.MatchedIndicators)
	}
}

func TestVerify_Deterministic(t *testing.T) {
	v := NewVerifier(DefaultConfig(), nil)
	answer := "The enterprise team owns eleven accounts with a combined contract value of $4.2M as of the last sync."

	first := v.Verify(answer)
	for i := 0; i < 50; i++ {
		got := v.Verify(answer)
		if got.IsGrounded != first.IsGrounded || got.Reason != first.Reason {
			t.Fatalf("Verify not deterministic on run %d: %+v vs %+v", i, got, first)
		}
	}
}

func TestVerifier_Reload(t *testing.T) {
	v := NewVerifier(DefaultConfig(), nil)

	answer := "The flux capacitor rating is within tolerance and all twelve readings agree on the measured value."
	if got := v.Verify(answer); !got.IsGrounded {
		t.Fatalf("baseline answer ungrounded: %s", got.Reason)
	}

	v.Reload(Config{
		MinAnswerLength:    10,
		NegativeIndicators: []string{"flux capacitor"},
	})

	got := v.Verify(answer)
	if got.IsGrounded {
		t.Error("answer grounded after reload added a matching indicator")
	}
}

func TestCompileConfig_Defaults(t *testing.T) {
	c := compileConfig(Config{})
	if c.minLength != 50 {
		t.Errorf("minLength = %d, want defaulted to 50", c.minLength)
	}
	if len(c.indicators) == 0 {
		t.Error("indicators empty, want defaults applied")
	}

	// Explicit empty slice means no indicator checks, not defaults.
	c = compileConfig(Config{MinAnswerLength: 10, NegativeIndicators: []string{}})
	if len(c.indicators) != 0 {
		t.Errorf("indicators = %v, want none for explicit empty slice", c.indicators)
	}
}
