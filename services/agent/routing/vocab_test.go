// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultVocabulary_Valid(t *testing.T) {
	v := DefaultVocabulary()
	if err := v.Validate(); err != nil {
		t.Fatalf("DefaultVocabulary().Validate() error = %v", err)
	}
	if v.Grounding.MinAnswerLength != 50 {
		t.Errorf("Grounding.MinAnswerLength = %d, want 50", v.Grounding.MinAnswerLength)
	}
	if len(v.Grounding.NegativeIndicators) == 0 {
		t.Error("Grounding.NegativeIndicators is empty")
	}
}

func TestVocabulary_Validate(t *testing.T) {
	t.Run("corrects non-positive weights", func(t *testing.T) {
		v := DefaultVocabulary()
		v.Structural[0].Weight = 0
		v.Definitional[0].Weight = -2

		if err := v.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if v.Structural[0].Weight != 1 {
			t.Errorf("structural weight = %v, want corrected to 1", v.Structural[0].Weight)
		}
		if v.Definitional[0].Weight != 1 {
			t.Errorf("definitional weight = %v, want corrected to 1", v.Definitional[0].Weight)
		}
	})

	t.Run("rejects empty phrase", func(t *testing.T) {
		v := DefaultVocabulary()
		v.Structural = append(v.Structural, Indicator{Phrase: "   ", Weight: 1})
		if err := v.Validate(); err == nil {
			t.Error("Validate() accepted an empty phrase")
		}
	})

	t.Run("rejects phrase in both categories", func(t *testing.T) {
		v := DefaultVocabulary()
		v.Definitional = append(v.Definitional, Indicator{Phrase: "who owns", Weight: 1})
		if err := v.Validate(); err == nil {
			t.Error("Validate() accepted a phrase present in both categories")
		}
	})

	t.Run("rejects non-positive version", func(t *testing.T) {
		v := DefaultVocabulary()
		v.Version = 0
		if err := v.Validate(); err == nil {
			t.Error("Validate() accepted version 0")
		}
	})

	t.Run("defaults min answer length", func(t *testing.T) {
		v := DefaultVocabulary()
		v.Grounding.MinAnswerLength = 0
		if err := v.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if v.Grounding.MinAnswerLength != 50 {
			t.Errorf("MinAnswerLength = %d, want defaulted to 50", v.Grounding.MinAnswerLength)
		}
	})
}

func TestLoadVocabularyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")

	content := `version: 3
structural_indicators:
  - phrase: "who owns"
    weight: 2
definitional_indicators:
  - phrase: "what is"
    weight: 1
comparison_markers: ["compare"]
analysis_markers: ["analyze"]
greetings: ["hello"]
entity_lexicon: ["globex"]
grounding:
  min_answer_length: 80
  negative_indicators: ["no results"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := LoadVocabularyFile(path)
	if err != nil {
		t.Fatalf("LoadVocabularyFile() error = %v", err)
	}
	if v.Version != 3 {
		t.Errorf("Version = %d, want 3", v.Version)
	}
	if len(v.Structural) != 1 || v.Structural[0].Weight != 2 {
		t.Errorf("Structural = %+v, want one indicator with weight 2", v.Structural)
	}
	if v.Grounding.MinAnswerLength != 80 {
		t.Errorf("MinAnswerLength = %d, want 80", v.Grounding.MinAnswerLength)
	}
}

func TestLoadVocabularyFile_Errors(t *testing.T) {
	if _, err := LoadVocabularyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadVocabularyFile() with missing file succeeded")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("version: [not, a, number]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVocabularyFile(path); err == nil {
		t.Error("LoadVocabularyFile() with malformed YAML succeeded")
	}
}

func TestCompile_LowerCasesPhrases(t *testing.T) {
	v := DefaultVocabulary()
	v.Structural = []Indicator{{Phrase: "Who Owns", Weight: 1}}
	v.Greetings = []string{"Hello"}
	v.EntityLexicon = []string{"Globex"}

	c := compile(v)
	if c.structural[0].Phrase != "who owns" {
		t.Errorf("compiled phrase = %q, want lower-cased", c.structural[0].Phrase)
	}
	if !c.greetings["hello"] {
		t.Error("compiled greetings missing lower-cased entry")
	}
	if c.lexicon[0] != "globex" {
		t.Errorf("compiled lexicon = %q, want lower-cased", c.lexicon[0])
	}
}
