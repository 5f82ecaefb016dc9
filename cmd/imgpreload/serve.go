package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/imgpreload"
	"github.com/jpalmerr/imgpreload/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		Long: `Start the imgpreload dashboard server.

The server will:
  - Load configuration from the specified file
  - Preload the configured images once the process is idle
  - Serve the dashboard, JSON API and link hints on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  imgpreload serve -c config.yaml
  imgpreload serve --config /etc/imgpreload/config.yaml`,
		RunE: runServe,
	}
	addConfigFlag(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := commandLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	urls, err := config.ImageURLs(cfg)
	if err != nil {
		return fmt.Errorf("failed to build image list: %w", err)
	}

	logger.Info("config loaded",
		"images", len(cfg.Images),
		"image_sets", len(cfg.ImageSets),
		"total", len(urls),
	)
	logger.Info("starting server",
		"port", cfg.Server.Port,
		"method", cfg.Method,
		"enabled", cfg.IsEnabled(),
	)

	p, err := newPreloader(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	// cancel on SIGINT/SIGTERM
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Serve(ctx, imgpreload.ServeOptions{
			Port:   cfg.Server.Port,
			Title:  cfg.Title,
			Images: urls,
			Policy: config.BuildPolicy(cfg),
			Debug:  cfg.Debug,
		})
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
