package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/imgpreload"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockImageServer(":9999")
	time.Sleep(100 * time.Millisecond)

	images := []string{
		"/img/hero.png",
		"/img/logo.png",
		"/img/flaky-banner.png",
		"/img/broken.png",
		"/img/slow-background.png",
		"http://127.0.0.1:9999/img/cdn-avatar.png",
	}
	for _, w := range []string{"320", "640", "1280"} {
		images = append(images, "/img/gallery-"+w+".png")
	}

	p, err := imgpreload.New(
		imgpreload.WithMethod(imgpreload.MethodBoth),
		imgpreload.WithMaxConcurrency(4),
		imgpreload.WithTimeout(1500*time.Millisecond),
		imgpreload.WithPageOrigin("http://localhost:9999"),
		imgpreload.WithCredentials("Authorization", "Bearer demo"),
		imgpreload.WithOutcomeCallback(func(o imgpreload.Outcome) {
			slog.Info("settled", "url", o.URL, "status", o.Status, "reason", o.Reason)
		}),
	)
	if err != nil {
		slog.Error("failed to create preloader", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   imgpreload Demo                                     ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Images:                                             ║")
	fmt.Println("  ║   • 6 same-origin, 1 cross-origin (anonymous)         ║")
	fmt.Println("  ║   • 1 broken, 1 flaky, 1 slower than the timeout      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = p.Serve(ctx, imgpreload.ServeOptions{
		Port:   8080,
		Title:  "imgpreload Demo",
		Images: images,
		Policy: imgpreload.PagePolicy{Enabled: true, LoadOn: imgpreload.LoadOnAll},
	})
	if err != nil {
		slog.Error("imgpreload error", "error", err)
		os.Exit(1)
	}
}
