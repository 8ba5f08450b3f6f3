// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bifrostlabs/bifrost/services/agent"
	"github.com/bifrostlabs/bifrost/services/server"
)

// runAsk answers a single question without starting the HTTP server. It
// assembles the same engine the server uses and drives one Ask (or one
// feedback resumption when --feedback is set).
func runAsk(cmd *cobra.Command, args []string) error {
	svc, err := server.New(serverConfigFromEnv())
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()

	var state *agent.ThreadState
	if askFeedback != "" {
		if askThreadID == "" {
			return fmt.Errorf("--feedback requires --thread")
		}
		state, err = svc.Engine().ProvideFeedback(ctx, askThreadID, askFeedback)
	} else {
		if len(args) == 0 {
			return fmt.Errorf("a question is required unless --feedback is set")
		}
		state, err = svc.Engine().Ask(ctx, agent.NewSessionID(), askThreadID, args[0])
	}
	if err != nil {
		return err
	}

	printThread(state)
	return nil
}

func printThread(state *agent.ThreadState) {
	if state.RouteDecision != nil {
		fmt.Printf("strategy: %s (confidence %.2f)\n",
			state.RouteDecision.Strategy, state.RouteDecision.Confidence)
	}
	switch {
	case state.NeedsApproval:
		fmt.Printf("thread %s needs approval: %s\n", state.ThreadID, state.ApprovalRequest)
		fmt.Printf("resume with: bifrost ask --thread %s --feedback \"...\"\n", state.ThreadID)
	case state.FinalAnswer != "":
		fmt.Println()
		fmt.Println(state.FinalAnswer)
	default:
		fmt.Printf("thread %s finished in phase %s\n", state.ThreadID, state.Phase)
	}
}
