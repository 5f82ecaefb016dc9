package imgpreload

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/imgpreload/dashboard"
	"github.com/jpalmerr/imgpreload/internal/metrics"
	"github.com/jpalmerr/imgpreload/internal/server"
	"github.com/jpalmerr/imgpreload/internal/store"
)

// DefaultPort is the dashboard port used when ServeOptions.Port is zero.
const DefaultPort = 8080

// ServeOptions configures [Preloader.Serve].
type ServeOptions struct {
	// Port is the HTTP port. Defaults to 8080.
	Port int

	// Title is the dashboard title.
	Title string

	// Images are preloaded once the host is idle, and served as link hints.
	Images []string

	// Policy decides which pages get preloading. Its zero value disables
	// everything; use [PagePolicy] with Enabled set.
	Policy PagePolicy

	// Debug adds diagnostic comments around served hints.
	Debug bool
}

// Serve runs the dashboard and API and blocks until ctx is cancelled.
//
// Every outcome and summary produced by this Preloader while serving is
// recorded for the dashboard. When the method uses script preloading and the
// policy allows the front page, Images are preloaded after the idle deferral.
// When the method uses link hints, GET /hints returns markup for Images on
// pages the policy allows. GET /metrics exposes Prometheus metrics.
//
// Serve should be called at most once per Preloader. Returns an error if the
// HTTP server cannot start or stops serving on its own; cancellation is not
// an error.
func (p *Preloader) Serve(ctx context.Context, opts ServeOptions) error {
	if ctx.Err() != nil {
		return nil
	}

	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	st := store.NewMemoryStore()
	m := metrics.New()
	p.addCallbacks(
		func(o Outcome) {
			m.ObserveOutcome(string(o.Status), o.Reason.String(), o.Cached, o.Latency)
			st.Update(outcomeToRecord(o))
		},
		func(s Summary) {
			m.ObserveRun(s.Failed, p.LoadedCount())
			st.AddRun(summaryToRecord(s))
		},
	)

	srv := server.NewServer(st, server.Config{
		Port:   port,
		Assets: dashboard.Assets,
		Title:  opts.Title,
		Preload: func(urls []string) {
			p.PreloadAdditional(ctx, urls...)
		},
		Hints:   p.hintsFor(opts),
		Debug:   opts.Debug,
		Metrics: m.Handler(),
		Logger:  p.logger,
	})
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	p.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", port))

	// a server failure cancels gctx, which stops the deferred run
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-srv.Done()
		return srv.Err()
	})

	if p.method.UsesScript() && opts.Policy.Allows(Page{Kind: PageFront}) && len(opts.Images) > 0 {
		g.Go(func() error {
			if p.waitForIdle(gctx) {
				p.Run(gctx, opts.Images)
			}
			return nil
		})
	}

	err := g.Wait()
	p.Wait()
	p.logger.Info("preload server stopped")
	return err
}

// hintsFor returns the hint lookup for the server's /hints route.
func (p *Preloader) hintsFor(opts ServeOptions) server.HintFunc {
	return func(pageID, kind string) []string {
		if !p.method.UsesLinkHints() {
			return nil
		}
		if !opts.Policy.Allows(Page{ID: pageID, Kind: PageKind(kind)}) {
			return nil
		}
		return opts.Images
	}
}

func outcomeToRecord(o Outcome) store.OutcomeRecord {
	var errStr *string
	if o.Err != nil {
		s := o.Err.Error()
		errStr = &s
	}
	return store.OutcomeRecord{
		RunID:     o.RunID,
		Index:     o.Index,
		URL:       o.URL,
		Status:    string(o.Status),
		Reason:    string(o.Reason),
		Cached:    o.Cached,
		Anonymous: o.Anonymous,
		LatencyMs: o.Latency.Milliseconds(),
		SettledAt: time.Now(),
		Error:     errStr,
	}
}

func summaryToRecord(s Summary) store.RunRecord {
	failures := make([]store.FailureRecord, 0, s.Failed)
	for _, o := range s.Failures() {
		failures = append(failures, store.FailureRecord{URL: o.URL, Reason: o.Reason.String()})
	}
	return store.RunRecord{
		RunID:       s.RunID,
		Method:      s.Method.String(),
		Concurrency: s.Concurrency,
		Successful:  s.Successful,
		Failed:      s.Failed,
		Total:       s.Total,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		DurationMs:  s.Duration().Milliseconds(),
		Failures:    failures,
	}
}
