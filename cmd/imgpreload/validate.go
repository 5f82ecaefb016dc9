package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/imgpreload"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Long: `Validate an imgpreload configuration file without fetching anything.

This command parses the YAML or TOML, expands environment variables, and
validates all fields. It's useful for CI/CD pipelines or pre-deployment
checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  imgpreload validate -c config.yaml
  imgpreload validate --config /etc/imgpreload/config.toml`,
		RunE: runValidate,
	}
	addConfigFlag(cmd)
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	direct := len(cfg.Images)
	fromSets := 0
	for _, s := range cfg.ImageSets {
		size := 1
		for _, vals := range s.Dimensions {
			size *= len(vals)
		}
		fromSets += size
	}

	concurrency := fmt.Sprintf("%d (default)", imgpreload.DefaultMaxConcurrency)
	if cfg.MaxConcurrent != nil {
		concurrency = fmt.Sprintf("%d", imgpreload.ClampConcurrency(*cfg.MaxConcurrent))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Enabled:     %t\n", cfg.IsEnabled())
	fmt.Fprintf(out, "  Method:      %s\n", cfg.Method)
	fmt.Fprintf(out, "  Concurrency: %s\n", concurrency)
	fmt.Fprintf(out, "  Timeout:     %s\n", cfg.Timeout.Duration())
	fmt.Fprintf(out, "  Load on:     %s\n", cfg.LoadOn)
	fmt.Fprintf(out, "  Images:      %d direct + %d from image sets = %d total\n",
		direct, fromSets, direct+fromSets)

	return nil
}
