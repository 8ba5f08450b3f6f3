// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bifrostlabs/bifrost/services/agent/routing"
)

func runVocabCheck(cmd *cobra.Command, args []string) error {
	path := args[0]

	vocab, err := routing.LoadVocabularyFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := vocab.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("%s: OK (version %d)\n", path, vocab.Version)
	fmt.Printf("  structural:   %d indicators\n", len(vocab.Structural))
	fmt.Printf("  definitional: %d indicators\n", len(vocab.Definitional))
	fmt.Printf("  comparison:   %d markers\n", len(vocab.ComparisonMarkers))
	fmt.Printf("  analysis:     %d markers\n", len(vocab.AnalysisMarkers))
	fmt.Printf("  greetings:    %d\n", len(vocab.Greetings))
	fmt.Printf("  lexicon:      %d entities\n", len(vocab.EntityLexicon))
	fmt.Printf("  grounding:    %d negative indicators, min length %d\n",
		len(vocab.Grounding.NegativeIndicators), vocab.Grounding.MinAnswerLength)
	return nil
}
