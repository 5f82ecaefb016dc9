package imgpreload

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/imgpreload/internal/fetch"
	"github.com/jpalmerr/imgpreload/internal/pool"
)

const (
	// DefaultMaxConcurrency is used when no concurrency is configured.
	DefaultMaxConcurrency = 3

	// MaxConcurrencyLimit is the ceiling every concurrency value is clamped to.
	MaxConcurrencyLimit = 10

	// DefaultTimeout is the per-image timeout.
	DefaultTimeout = 10 * time.Second

	defaultInitialDelay = 100 * time.Millisecond
	idleMaxWait         = 2 * time.Second
)

// Preloader fetches lists of image URLs with bounded concurrency.
//
// A Preloader owns a dedup set of URLs that have loaded successfully during
// its lifetime; a URL in the set is never fetched again. Each run has its
// own queue and outcomes, so concurrent runs share the dedup set but nothing
// else. URLs in flight are not tracked, so two concurrent runs may both
// fetch the same URL.
//
// Credentials follow the resolved origin, not the spelling of the URL. A
// scheme-relative reference such as "//cdn.example/a.png" on page origin
// "https://site.example" names another host, so it is fetched anonymously
// like an absolute cross-origin URL, even though it is written relative.
//
// The typical lifecycle is:
//
//	p, err := imgpreload.New(
//	    imgpreload.WithPageOrigin("https://site.example"),
//	    imgpreload.WithMaxConcurrency(4),
//	    imgpreload.WithSummaryCallback(func(s imgpreload.Summary) { ... }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	p.Start(ctx, urls) // deferred until idle, returns immediately
//	p.Wait()
type Preloader struct {
	maxConcurrency int
	method         Method
	timeout        time.Duration
	pageOrigin     *url.URL
	initialDelay   time.Duration
	idle           <-chan struct{}
	fetcher        Fetcher
	client         *fetch.Client
	logger         *slog.Logger

	cbMu             sync.Mutex
	outcomeCallbacks []func(Outcome)
	summaryCallbacks []func(Summary)

	mu     sync.RWMutex
	loaded map[string]struct{}

	runs sync.WaitGroup
}

// New creates a new [Preloader] with the given options.
//
// Defaults:
//   - Max concurrency: 3 (clamped to [1, 10])
//   - Method: javascript
//   - Timeout: 10 seconds per image
//   - Initial delay: 100ms when no idle signal is configured
//   - Fetcher: pooled HTTP client
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Preloader, error) {
	cfg := &preloaderConfig{
		maxConcurrency: DefaultMaxConcurrency,
		method:         MethodJavaScript,
		timeout:        DefaultTimeout,
		initialDelay:   defaultInitialDelay,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Preloader{
		maxConcurrency:   cfg.maxConcurrency,
		method:           cfg.method,
		timeout:          cfg.timeout,
		pageOrigin:       cfg.pageOrigin,
		initialDelay:     cfg.initialDelay,
		idle:             cfg.idle,
		fetcher:          cfg.fetcher,
		logger:           logger,
		outcomeCallbacks: cfg.outcomeCallbacks,
		summaryCallbacks: cfg.summaryCallbacks,
		loaded:           make(map[string]struct{}),
	}

	if p.fetcher == nil {
		p.client = fetch.NewClient(fetch.Options{
			Headers: cfg.headers,
			Jar:     cfg.jar,
			Limiter: fetch.NewHostLimiter(cfg.rateRequests, cfg.rateWindow),
		})
		p.fetcher = httpFetcher{client: p.client}
	}

	return p, nil
}

// MaxConcurrency returns the effective (clamped) concurrency.
func (p *Preloader) MaxConcurrency() int {
	return p.maxConcurrency
}

// Method returns the configured preload method.
func (p *Preloader) Method() Method {
	return p.method
}

// Start preloads urls in the background once the host is idle.
//
// The run is deferred until the idle signal fires (at most 2 seconds), or by
// the initial delay when no idle signal is configured. Start returns
// immediately; completion is observed through summary callbacks and logs,
// and [Preloader.Wait] blocks until it is done.
//
// An empty list is a no-op. If ctx is cancelled before the run begins,
// nothing is fetched and no summary is produced.
func (p *Preloader) Start(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		p.logger.Info("no images to preload")
		return
	}
	urls = slices.Clone(urls)

	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		if !p.waitForIdle(ctx) {
			p.logger.Info("preload cancelled before start", "images", len(urls))
			return
		}
		p.Run(ctx, urls)
	}()
}

// PreloadAdditional preloads more URLs after the initial run.
//
// It starts a new run immediately, in the background, using the same
// concurrency limit and dedup set. A single URL is treated as a one-element
// list. An empty call is a no-op.
func (p *Preloader) PreloadAdditional(ctx context.Context, urls ...string) {
	if len(urls) == 0 {
		p.logger.Info("no images to preload")
		return
	}
	urls = slices.Clone(urls)

	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		p.Run(ctx, urls)
	}()
}

// Wait blocks until every run started by [Preloader.Start] or
// [Preloader.PreloadAdditional] has finished.
func (p *Preloader) Wait() {
	p.runs.Wait()
}

// Close waits for running preloads and releases idle connections.
func (p *Preloader) Close() {
	p.runs.Wait()
	p.client.Close()
}

// Run preloads urls and blocks until every URL has settled.
//
// Up to the configured concurrency of fetches are in flight at once; a slot
// freed by a settled fetch is refilled from the head of the remaining queue
// immediately. Every URL gets exactly one attempt and exactly one outcome,
// stored at its position in urls. Per-URL failures never fail the run.
//
// Run returns nil without fetching anything when urls is empty.
func (p *Preloader) Run(ctx context.Context, urls []string) *Summary {
	if len(urls) == 0 {
		p.logger.Info("no images to preload")
		return nil
	}

	runID := uuid.NewString()
	started := time.Now()
	p.logStart(runID, len(urls))

	outcomes := make([]Outcome, len(urls))
	pool.Run(ctx, p.maxConcurrency, len(urls), func(ctx context.Context, index int) {
		o := p.PreloadOne(ctx, urls[index])
		o.RunID = runID
		o.Index = index
		outcomes[index] = o
		p.notifyOutcome(o)
	})

	summary := newSummary(runID, p.method, p.maxConcurrency, outcomes, started)
	p.logSummary(summary)
	p.notifySummary(summary)
	return &summary
}

// PreloadOne preloads a single URL and returns its outcome.
//
// A URL that already loaded succeeds immediately without network activity.
// An empty or malformed URL fails with [ReasonInvalidURL] before any network
// activity. Otherwise the image is fetched; a fetch that has not settled
// within the timeout is abandoned (its context is cancelled, but PreloadOne
// does not wait for it) and fails with [ReasonTimeout]. A fetch that
// completes after its timeout does not mark the URL as loaded.
func (p *Preloader) PreloadOne(ctx context.Context, rawURL string) Outcome {
	out := Outcome{URL: rawURL}

	if p.Loaded(rawURL) {
		out.Status = OutcomeFulfilled
		out.Cached = true
		return out
	}

	target, anonymous, err := resolveTarget(rawURL, p.pageOrigin)
	if err != nil {
		return reject(out, ReasonInvalidURL, err)
	}
	out.Anonymous = anonymous

	if err := ctx.Err(); err != nil {
		return reject(out, ReasonNetworkError, fmt.Errorf("%w: %w", ErrNetwork, err))
	}

	start := time.Now()
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so an abandoned fetch can still deliver and exit
	done := make(chan error, 1)
	go func() {
		done <- p.safeFetch(fetchCtx, FetchRequest{URL: target, Anonymous: anonymous})
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		out.Latency = time.Since(start)
		if err != nil {
			return reject(out, ReasonNetworkError, fmt.Errorf("%w: %w", ErrNetwork, err))
		}
		p.markLoaded(rawURL)
		out.Status = OutcomeFulfilled
		return out

	case <-timer.C:
		out.Latency = time.Since(start)
		return reject(out, ReasonTimeout, fmt.Errorf("%w after %s", ErrTimeout, p.timeout))

	case <-ctx.Done():
		out.Latency = time.Since(start)
		return reject(out, ReasonNetworkError, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err()))
	}
}

// Loaded reports whether url has been preloaded successfully.
func (p *Preloader) Loaded(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.loaded[url]
	return ok
}

// LoadedCount returns the number of distinct URLs preloaded successfully.
func (p *Preloader) LoadedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.loaded)
}

func (p *Preloader) markLoaded(url string) {
	p.mu.Lock()
	p.loaded[url] = struct{}{}
	p.mu.Unlock()
}

func reject(out Outcome, reason FailureReason, err error) Outcome {
	out.Status = OutcomeRejected
	out.Reason = reason
	out.Err = err
	return out
}

// waitForIdle defers a run. Returns false if ctx ends first.
func (p *Preloader) waitForIdle(ctx context.Context) bool {
	if p.idle != nil {
		timer := time.NewTimer(idleMaxWait)
		defer timer.Stop()
		select {
		case <-p.idle:
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
		return true
	}

	if p.initialDelay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(p.initialDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// safeFetch calls the fetcher with panic recovery.
// If the fetcher panics, the full stack trace is logged with a correlation
// ID and an error containing the ID is returned.
func (p *Preloader) safeFetch(ctx context.Context, req FetchRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("fetcher panic",
				"correlation_id", correlationID,
				"url", req.URL,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("fetcher panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.fetcher.Fetch(ctx, req)
}

func (p *Preloader) logStart(runID string, images int) {
	p.logger.Info("preload starting",
		"run_id", runID,
		"images", images,
		"method", p.method.String(),
		"concurrency", p.maxConcurrency,
	)

	switch p.method {
	case MethodBoth:
		p.logger.Info("using script preloading and link preload hints",
			"run_id", runID,
			"note", "link preload hints are emitted into the page head",
		)
	case MethodLinkPreload:
		p.logger.Info("using link preload hints only",
			"run_id", runID,
			"note", "check the page source for <link rel=\"preload\"> tags",
		)
	}
}

func (p *Preloader) logSummary(s Summary) {
	p.logger.Info("preload completed",
		"run_id", s.RunID,
		"successful", s.Successful,
		"failed", s.Failed,
		"total", s.Total,
		"duration_ms", s.Duration().Milliseconds(),
	)

	for _, o := range s.Failures() {
		p.logger.Warn("preload failed",
			"run_id", s.RunID,
			"url", o.URL,
			"reason", o.Reason.String(),
			"error", o.Err.Error(),
		)
	}
}

func (p *Preloader) notifyOutcome(o Outcome) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	for _, cb := range p.outcomeCallbacks {
		invokeCallbackSafe(cb, o, p.logger)
	}
}

func (p *Preloader) notifySummary(s Summary) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	for _, cb := range p.summaryCallbacks {
		invokeCallbackSafe(cb, s, p.logger)
	}
}

// addCallbacks registers callbacks after construction. Used by Serve.
func (p *Preloader) addCallbacks(onOutcome func(Outcome), onSummary func(Summary)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.outcomeCallbacks = append(p.outcomeCallbacks, onOutcome)
	p.summaryCallbacks = append(p.summaryCallbacks, onSummary)
}

// invokeCallbackSafe calls a callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe[T any](cb func(T), v T, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked", "panic", r)
		}
	}()
	cb(v)
}
