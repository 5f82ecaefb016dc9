package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/imgpreload"
	"github.com/jpalmerr/imgpreload/config"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Preload the configured images once",
		Long: `Preload every configured image once and print a summary table.

Images are fetched with the configured concurrency and per-image timeout.
Failed images are listed in the table; they do not make the command fail.
Nothing is fetched when preloading is disabled for the page, or when the
method is link_preload (use "imgpreload hints" instead).

Example:
  imgpreload run -c config.yaml
  imgpreload run -c config.yaml --page-id 12 --kind page`,
		RunE: runRun,
	}
	addConfigFlag(cmd)
	addPageFlags(cmd)
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := commandLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	page := pageFromFlags(cmd)
	if !config.BuildPolicy(cfg).Allows(page) {
		fmt.Fprintf(out, "Preloading is disabled for page %q (%s).\n", page.ID, page.Kind)
		return nil
	}
	if method := imgpreload.Method(cfg.Method); !method.UsesScript() {
		fmt.Fprintf(out, "Method %s does not use script preloading; use \"imgpreload hints\".\n", method)
		return nil
	}

	urls, err := config.ImageURLs(cfg)
	if err != nil {
		return fmt.Errorf("failed to build image list: %w", err)
	}

	p, err := newPreloader(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	summary := p.Run(cmd.Context(), urls)
	if summary == nil {
		fmt.Fprintln(out, "No images configured.")
		return nil
	}

	renderSummary(out, summary)
	return nil
}

// loadConfig loads the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func pageFromFlags(cmd *cobra.Command) imgpreload.Page {
	id, _ := cmd.Flags().GetString("page-id")
	kind, _ := cmd.Flags().GetString("kind")
	return imgpreload.Page{ID: id, Kind: imgpreload.PageKind(kind)}
}

// newPreloader builds a Preloader from configuration.
func newPreloader(cfg *config.Config, logger *slog.Logger, extra ...imgpreload.Option) (*imgpreload.Preloader, error) {
	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, imgpreload.WithLogger(logger))
	opts = append(opts, extra...)

	p, err := imgpreload.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create preloader: %w", err)
	}
	return p, nil
}

func renderSummary(w io.Writer, s *imgpreload.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"#", "URL", "Status", "Reason", "Latency", "Mode"})

	for _, o := range s.Outcomes {
		status := string(o.Status)
		if o.Cached {
			status += " (cached)"
		}
		mode := "credentialed"
		if o.Anonymous {
			mode = "anonymous"
		}
		tw.AppendRow(table.Row{
			strconv.Itoa(o.Index + 1),
			o.URL,
			status,
			o.Reason.String(),
			fmt.Sprintf("%dms", o.Latency.Milliseconds()),
			mode,
		})
	}

	tw.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d successful, %d failed, %d total", s.Successful, s.Failed, s.Total),
		"",
		"",
		fmt.Sprintf("%dms", s.Duration().Milliseconds()),
		"",
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	tw.Render()
}
