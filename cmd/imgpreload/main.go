// Package main is the entry point for the imgpreload CLI.
//
// imgpreload can be used as a library (SDK) or as a standalone binary with a
// YAML or TOML configuration file. This CLI provides the standalone binary.
//
// Usage:
//
//	imgpreload run -c config.yaml      # Preload the configured images once
//	imgpreload hints -c config.yaml    # Print <link rel="preload"> tags
//	imgpreload serve -c config.yaml    # Start the dashboard and API
//	imgpreload validate -c config.yaml # Validate configuration
//	imgpreload version                 # Show version info
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newRootCmd builds the command tree. The root only displays help.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imgpreload",
		Short: "Preload images with bounded concurrency",
		Long: `imgpreload fetches a configured list of images ahead of time so they are
already cached when a page needs them.

At most max_concurrent images (1 to 10) are in flight at once, every image
gets a per-image timeout, and images on other origins are fetched without
credentials.

Quick start:
  1. Create a config file (imgpreload.yaml)
  2. Run: imgpreload run -c imgpreload.yaml

Example config:
  method: both
  max_concurrent: 4
  page_origin: https://site.example
  images:
    - https://cdn.example/hero.jpg
    - /img/logo.png`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-format", "auto", "log format: auto, json or text")

	root.AddCommand(
		newRunCmd(),
		newHintsCmd(),
		newServeCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of this imgpreload binary.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imgpreload %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// addConfigFlag registers the required -c/--config flag.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
}

// addPageFlags registers the flags naming the page a decision is made for.
func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().String("page-id", "", "page identifier checked against exclude_pages")
	cmd.Flags().String("kind", "front_page", "page kind: front_page, posts_page, single, page, archive or other")
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
