package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/decisis/govledger/pkg/audit"
)

// runVerifyCmd implements `govledger verify`.
//
// Re-checks an exported history bundle offline: seal, event ordering,
// artifact chain linearity and content hashes.
//
// Exit codes:
//
//	0 = bundle is sound
//	1 = integrity problems found
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundleFile string
		jsonOutput bool
	)
	cmd.StringVar(&bundleFile, "bundle", "", "Path to exported bundle JSON (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output problems as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundleFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle is required")
		return 2
	}

	raw, err := os.ReadFile(bundleFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var bundle audit.HistoryBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bundle is not valid JSON: %v\n", err)
		return 2
	}

	problems := audit.VerifyBundle(bundle)

	if jsonOutput {
		out, _ := json.MarshalIndent(problems, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else {
		for _, p := range problems {
			_, _ = fmt.Fprintln(stdout, p.String())
		}
	}

	if len(problems) > 0 {
		_, _ = fmt.Fprintf(stderr, "FAIL: %d problem(s) found\n", len(problems))
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "OK: bundle %s verified\n", bundle.BundleID)
	return 0
}
