package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"rewardguard/internal/domain"
	"rewardguard/internal/infra/policyopa"
)

// runPolicyEval evaluates a claim policy bundle against one input document,
// the way the daemon does at the reputation gate.
func runPolicyEval(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("policy eval", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var bundlePath string
	var bundleID string
	var inputPath string

	fs.StringVar(&bundlePath, "bundle", "", "policy bundle directory")
	fs.StringVar(&bundleID, "bundle-id", "claims", "bundle id")
	fs.StringVar(&inputPath, "input", "", "claim policy input JSON file")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if bundlePath == "" || inputPath == "" {
		fmt.Fprintln(stderr, "policy eval requires --bundle and --input")
		return 1
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(stderr, "read input: %v\n", err)
		return 1
	}
	var input domain.ClaimPolicyInput
	if err := json.Unmarshal(raw, &input); err != nil {
		fmt.Fprintf(stderr, "decode input: %v\n", err)
		return 1
	}

	ctx := context.Background()
	engine, err := policyopa.NewEngineFromBundlePath(ctx, bundlePath, bundleID)
	if err != nil {
		fmt.Fprintf(stderr, "load bundle: %v\n", err)
		return 1
	}
	out, err := engine.Evaluate(ctx, input)
	if err != nil {
		fmt.Fprintf(stderr, "evaluate: %v\n", err)
		return 1
	}
	if code := writeJSON(stdout, stderr, out); code != 0 {
		return code
	}
	if !out.Result.Allow {
		return 2
	}
	return 0
}
