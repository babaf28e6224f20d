package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/decisis/govledger/pkg/config"
	"github.com/decisis/govledger/pkg/projection"
)

// runStatusCmd implements `govledger status`: replay a decision's
// ledger and print the derived status.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var decisionID string
	cmd.StringVar(&decisionID, "decision", "", "Decision ID (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if decisionID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --decision is required")
		return 2
	}

	cfg := config.Load()
	st, closeStore, err := openStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeStore()

	ctx := context.Background()
	if _, err := st.GetDecision(ctx, decisionID); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	events, err := st.ListEvents(ctx, decisionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "%s\t%s\t%d events\n",
		decisionID, projection.DeriveStatus(events), len(events))
	return 0
}
