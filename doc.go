// Package imgpreload fetches a list of images ahead of time so they are
// already cached when a page needs them.
//
// A [Preloader] fetches at most a configured number of images at once
// (1 to 10, default 3). Every image gets exactly one attempt and a per-image
// timeout, and every attempt settles into an [Outcome]: fulfilled, or
// rejected with a [FailureReason]. Individual failures never fail a run; the
// [Summary] lists them instead.
//
// # Quick Start
//
//	p, _ := imgpreload.New(
//	    imgpreload.WithMaxConcurrency(4),
//	    imgpreload.WithPageOrigin("https://site.example"),
//	)
//	defer p.Close()
//
//	summary := p.Run(ctx, []string{
//	    "https://cdn.example/hero.jpg",
//	    "/img/logo.png",
//	})
//	for _, o := range summary.Failures() {
//	    log.Printf("%s: %s", o.URL, o.Reason)
//	}
//
// [Preloader.Start] runs the same work in the background once the host is
// idle, and [Preloader.PreloadAdditional] queues more images later.
//
// # Configuration
//
// Preloader uses the functional options pattern:
//
//	p, err := imgpreload.New(
//	    imgpreload.WithMethod(imgpreload.MethodBoth),
//	    imgpreload.WithTimeout(5 * time.Second),
//	    imgpreload.WithCredentials("Authorization", "Bearer token"),
//	    imgpreload.WithHostRateLimit(20, time.Second),
//	    imgpreload.WithOutcomeCallback(func(o imgpreload.Outcome) { ... }),
//	)
//
// Images on the page origin are fetched with the configured credentials.
// Images on any other origin, and every absolute image when no page origin
// is set, are fetched anonymously.
//
// # Methods and Pages
//
// A [Method] selects script preloading, declarative link hints (see package
// hints) or both. A [PagePolicy] decides which pages get preloading at all.
//
// # Architecture
//
// imgpreload consists of several internal packages (under internal/):
//
//   - internal/pool: Sliding-window worker pool bounding concurrency
//   - internal/fetch: Pooled HTTP client with per-host rate limiting
//   - internal/store: In-memory outcome history with pub/sub for the dashboard
//   - internal/server: HTTP server with JSON API, link hints and Server-Sent Events
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package imgpreload
