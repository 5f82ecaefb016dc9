package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/imgpreload"
	"github.com/jpalmerr/imgpreload/config"
	"github.com/jpalmerr/imgpreload/hints"
)

func newHintsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hints",
		Short: "Print <link rel=\"preload\"> tags for the configured images",
		Long: `Print one <link rel="preload" as="image"> tag per configured image.

With --inject, the tags are added to the head of the given HTML file and the
whole document is written to stdout. Images that already have a preload tag
in the document are skipped.

No tags are produced when preloading is disabled for the page or the
method is javascript.

Example:
  imgpreload hints -c config.yaml
  imgpreload hints -c config.yaml --inject index.html > out.html`,
		RunE: runHints,
	}
	addConfigFlag(cmd)
	addPageFlags(cmd)
	cmd.Flags().String("inject", "", "HTML file to inject the tags into")
	return cmd
}

func runHints(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var urls []string
	page := pageFromFlags(cmd)
	if config.BuildPolicy(cfg).Allows(page) && imgpreload.Method(cfg.Method).UsesLinkHints() {
		urls, err = config.ImageURLs(cfg)
		if err != nil {
			return fmt.Errorf("failed to build image list: %w", err)
		}
	}
	opts := hints.Options{Debug: cfg.Debug}

	inject, _ := cmd.Flags().GetString("inject")
	if inject == "" {
		return hints.Render(cmd.OutOrStdout(), urls, opts)
	}

	f, err := os.Open(inject)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", inject, err)
	}
	defer func() { _ = f.Close() }()

	// pages without hints pass through untouched
	if len(urls) == 0 {
		_, err := io.Copy(cmd.OutOrStdout(), f)
		return err
	}

	if _, err := hints.Inject(f, cmd.OutOrStdout(), urls, opts); err != nil {
		return fmt.Errorf("failed to inject hints: %w", err)
	}
	return nil
}
