package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/decisis/govledger/pkg/audit"
	"github.com/decisis/govledger/pkg/config"
)

// runExportCmd implements `govledger export`.
//
// Exit codes:
//
//	0 = bundle written
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		decisionID string
		outFile    string
	)
	cmd.StringVar(&decisionID, "decision", "", "Decision ID to export (REQUIRED)")
	cmd.StringVar(&outFile, "out", "", "Write bundle to file instead of stdout")

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

	bundle, err := audit.NewExporter(st).ExportHistory(context.Background(), decisionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return 2
	}

	out, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if outFile != "" {
		if err := os.WriteFile(outFile, out, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Wrote bundle %s to %s\n", bundle.BundleID, outFile)
		return 0
	}

	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}
