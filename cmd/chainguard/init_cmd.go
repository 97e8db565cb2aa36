package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chainguard/core/pkg/config"
)

// runInitCmd validates a candidate initialize(config) payload through
// config.ParseInitConfig's schema check and DTO conversion, without
// requiring a running core — useful in CI to catch a malformed policy file
// before it reaches production, the same role an offline `conform`-style
// validation command plays.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	path := cmd.String("config", "", "path to an initialize(config) JSON payload (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "Error: --config is required")
		return 2
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: reading %s: %v\n", *path, err)
		return 2
	}

	cfg, err := config.ParseInitConfig(raw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid config: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(map[string]any{
		"name":              cfg.Name,
		"default_threshold": cfg.DefaultThreshold,
		"supported_chains":  cfg.SupportedChains,
		"policy_count":      len(cfg.Policies),
	}, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}
