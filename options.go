package imgpreload

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// preloaderConfig holds mutable state during Preloader construction.
type preloaderConfig struct {
	maxConcurrency   int
	method           Method
	timeout          time.Duration
	pageOrigin       *url.URL
	initialDelay     time.Duration
	idle             <-chan struct{}
	fetcher          Fetcher
	headers          map[string]string
	jar              http.CookieJar
	rateRequests     int
	rateWindow       time.Duration
	logger           *slog.Logger
	outcomeCallbacks []func(Outcome)
	summaryCallbacks []func(Summary)
}

// Option is a function that configures a [Preloader] during construction.
//
// Options return an error if validation fails.
type Option func(*preloaderConfig) error

// ClampConcurrency limits n to the inclusive range [1, 10].
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrencyLimit {
		return MaxConcurrencyLimit
	}
	return n
}

// WithMaxConcurrency sets how many images are fetched simultaneously.
//
// The value is clamped to [1, 10] regardless of what is requested, so this
// option never fails. Defaults to 3 if not specified.
//
// Example:
//
//	p, err := imgpreload.New(imgpreload.WithMaxConcurrency(5))
func WithMaxConcurrency(n int) Option {
	return func(cfg *preloaderConfig) error {
		cfg.maxConcurrency = ClampConcurrency(n)
		return nil
	}
}

// WithMethod records which preload transport the site is configured for.
//
// The controller fetches images regardless of method; the value is logged
// and used by [Preloader.Serve] to decide whether hints are served.
// Defaults to [MethodJavaScript].
//
// Returns an error for unknown methods.
func WithMethod(m Method) Option {
	return func(cfg *preloaderConfig) error {
		if !m.Valid() {
			return errors.New("method must be javascript, link_preload, or both")
		}
		cfg.method = m
		return nil
	}
}

// WithTimeout sets the per-image timeout. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *preloaderConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithPageOrigin sets the origin of the page images are preloaded for.
//
// Relative image URLs are resolved against it, and absolute URLs on any
// other origin are fetched without credentials.
//
// Example:
//
//	p, err := imgpreload.New(imgpreload.WithPageOrigin("https://site.example"))
//
// Returns an error unless origin is an absolute http or https URL.
func WithPageOrigin(origin string) Option {
	return func(cfg *preloaderConfig) error {
		u, err := parseOrigin(origin)
		if err != nil {
			return err
		}
		cfg.pageOrigin = u
		return nil
	}
}

// WithInitialDelay sets how long [Preloader.Start] defers a run when no idle
// signal is configured. Defaults to 100ms. Zero starts immediately.
//
// Returns an error if the duration is negative.
func WithInitialDelay(d time.Duration) Option {
	return func(cfg *preloaderConfig) error {
		if d < 0 {
			return errors.New("initial delay cannot be negative")
		}
		cfg.initialDelay = d
		return nil
	}
}

// WithIdleSignal gives [Preloader.Start] a host idle facility.
//
// Start waits until idle receives a value or is closed, but never longer
// than 2 seconds, so page-critical work gets priority over preloading.
// Nil channels are ignored.
func WithIdleSignal(idle <-chan struct{}) Option {
	return func(cfg *preloaderConfig) error {
		cfg.idle = idle
		return nil
	}
}

// WithFetcher replaces the default HTTP transport.
//
// Returns an error if f is nil.
func WithFetcher(f Fetcher) Option {
	return func(cfg *preloaderConfig) error {
		if f == nil {
			return errors.New("fetcher cannot be nil")
		}
		cfg.fetcher = f
		return nil
	}
}

// WithCredentials sets headers sent on same-origin and relative image
// requests. Cross-origin requests never carry them.
//
// Arguments are key-value pairs. Ignored when a custom [Fetcher] is set.
//
// Returns an error if an odd number of arguments is provided.
func WithCredentials(kv ...string) Option {
	return func(cfg *preloaderConfig) error {
		if len(kv)%2 != 0 {
			return errors.New("credentials require key-value pairs")
		}
		if cfg.headers == nil {
			cfg.headers = make(map[string]string, len(kv)/2)
		}
		for i := 0; i < len(kv); i += 2 {
			cfg.headers[kv[i]] = kv[i+1]
		}
		return nil
	}
}

// WithCookieJar sets the cookie jar used for same-origin and relative image
// requests. Ignored when a custom [Fetcher] is set.
func WithCookieJar(jar http.CookieJar) Option {
	return func(cfg *preloaderConfig) error {
		cfg.jar = jar
		return nil
	}
}

// WithHostRateLimit allows at most requests image fetches per window to any
// single host. Off by default. Ignored when a custom [Fetcher] is set.
//
// Returns an error if either value is not positive.
func WithHostRateLimit(requests int, window time.Duration) Option {
	return func(cfg *preloaderConfig) error {
		if requests <= 0 || window <= 0 {
			return errors.New("rate limit requests and window must be positive")
		}
		cfg.rateRequests = requests
		cfg.rateWindow = window
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *preloaderConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutcomeCallback registers a function called once per settled URL.
//
// Callbacks are invoked one at a time, in registration order, from the
// worker that settled the URL. They must be non-blocking: a slow callback
// holds a concurrency slot. Panics are recovered and logged.
//
// A callback must not call [Preloader.Run] or [Preloader.PreloadOne]
// synchronously on the same Preloader: the nested run waits for the callback
// lock the caller holds and never completes. Queue follow-up work with
// [Preloader.PreloadAdditional] instead.
//
// Nil callbacks are silently ignored.
func WithOutcomeCallback(cb func(Outcome)) Option {
	return func(cfg *preloaderConfig) error {
		if cb == nil {
			return nil
		}
		cfg.outcomeCallbacks = append(cfg.outcomeCallbacks, cb)
		return nil
	}
}

// WithSummaryCallback registers a function called once per completed run.
//
// This is how completion of [Preloader.Start] and
// [Preloader.PreloadAdditional] is observed. Panics are recovered and logged.
// Summary callbacks share the lock of outcome callbacks, so the same rule
// applies: start follow-up runs with [Preloader.PreloadAdditional], never
// with a synchronous [Preloader.Run].
//
// Nil callbacks are silently ignored.
func WithSummaryCallback(cb func(Summary)) Option {
	return func(cfg *preloaderConfig) error {
		if cb == nil {
			return nil
		}
		cfg.summaryCallbacks = append(cfg.summaryCallbacks, cb)
		return nil
	}
}
