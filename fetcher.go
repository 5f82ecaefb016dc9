package imgpreload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jpalmerr/imgpreload/internal/fetch"
)

// FetchRequest describes a single image fetch issued by a [Preloader].
type FetchRequest struct {
	// URL is the URL to fetch. Relative request URLs have already been
	// resolved against the page origin; without one they arrive as given.
	URL string

	// Anonymous is true when the fetch must not send cookies or credential
	// headers (cross-origin requests).
	Anonymous bool
}

// Fetcher loads an image into cache.
//
// Fetch returns nil once the image has been loaded and a non-nil error when
// the load failed. Implementations must return promptly when ctx is
// cancelled; the Preloader cancels ctx when it abandons a timed-out fetch
// but does not wait for Fetch to return.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) error
}

// FetcherFunc adapts an ordinary function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context, req FetchRequest) error

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) error {
	return f(ctx, req)
}

// httpFetcher is the default Fetcher, backed by the pooled HTTP client.
type httpFetcher struct {
	client *fetch.Client
}

func (h httpFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	return h.client.Fetch(ctx, req.URL, req.Anonymous).Error
}

// resolveTarget validates raw and resolves it against the page origin.
//
// A URL is fetched anonymously unless its origin equals the page origin;
// with no page origin every absolute URL counts as cross-origin. Relative
// URLs are resolved against the page origin when one is set, and are passed
// through unresolved otherwise: a path is credentialed, a scheme-relative
// reference naming a host is anonymous.
func resolveTarget(raw string, page *url.URL) (target string, anonymous bool, err error) {
	if strings.TrimSpace(raw) == "" {
		return "", false, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if u.IsAbs() {
		if !isHTTPScheme(u.Scheme) {
			return "", false, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("%w: missing host", ErrInvalidURL)
		}
		return u.String(), page == nil || origin(u) != origin(page), nil
	}

	// nothing to resolve against; the fetcher sees the reference as given
	if page == nil {
		return u.String(), u.Host != "", nil
	}
	resolved := page.ResolveReference(u)
	if !isHTTPScheme(resolved.Scheme) || resolved.Host == "" {
		return "", false, fmt.Errorf("%w: cannot resolve %q", ErrInvalidURL, raw)
	}
	return resolved.String(), origin(resolved) != origin(page), nil
}

// parseOrigin parses an absolute http(s) origin. Path, query and fragment are
// discarded.
func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid page origin: %w", err)
	}
	if !isHTTPScheme(u.Scheme) || u.Host == "" {
		return nil, errors.New("page origin must be an absolute http or https url")
	}
	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: u.Host, Path: "/"}, nil
}

// origin returns scheme://host:port with the default port made explicit.
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + strings.ToLower(u.Hostname()) + ":" + port
}

func isHTTPScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}
