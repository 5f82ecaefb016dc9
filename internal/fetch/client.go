package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxImageSize = 32 << 20 // 32MB

// connection pooling limits; MaxConnsPerHost matches the concurrency ceiling
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

const acceptImage = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"

// Response holds the result of an image request made by [Client].
type Response struct {
	// StatusCode is the HTTP status code.
	// Zero if the request failed before receiving a response.
	StatusCode int

	// ContentType is the response's Content-Type header.
	ContentType string

	// Bytes is the number of body bytes read, capped at 32MB.
	Bytes int64

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error is non-nil when the request failed, the status was not 2xx, or
	// the body could not be read in full.
	Error error
}

// Options configures a [Client].
type Options struct {
	// Headers are credential headers sent only on credentialed requests.
	Headers map[string]string

	// Jar holds cookies sent only on credentialed requests. May be nil.
	Jar http.CookieJar

	// Limiter applies per-host rate limiting. May be nil.
	Limiter *HostLimiter
}

// Client fetches images over HTTP so they land in intermediate caches.
//
// Client keeps two http.Clients over one shared transport: a credentialed
// client that carries the cookie jar and credential headers, and an
// anonymous client that carries neither. Timeouts are applied by the caller
// through the context.
type Client struct {
	credentialed *http.Client
	anonymous    *http.Client
	headers      map[string]string
	limiter      *HostLimiter
}

// NewClient creates a new image fetching [Client].
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Client{
		credentialed: &http.Client{Transport: transport, Jar: opts.Jar},
		anonymous:    &http.Client{Transport: transport},
		headers:      headers,
		limiter:      opts.Limiter,
	}
}

// Fetch downloads the image at url and discards the body.
//
// When anonymous is true the request carries no cookies and no credential
// headers. Fetch always returns a Response; errors are captured in the
// Error field rather than returned separately.
func (c *Client) Fetch(ctx context.Context, url string, anonymous bool) Response {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}
	req.Header.Set("Accept", acceptImage)

	if err := c.limiter.Wait(ctx, req.URL.Host); err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("rate limit wait: %w", err),
		}
	}

	httpClient := c.credentialed
	if anonymous {
		httpClient = c.anonymous
	} else {
		for key, value := range c.headers {
			req.Header.Set(key, value)
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	out := Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Latency = time.Since(start)
		out.Error = fmt.Errorf("unexpected status %d", resp.StatusCode)
		return out
	}

	// read the whole body so the response is complete in any cache on the path
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxImageSize))
	out.Bytes = n
	out.Latency = time.Since(start)
	if err != nil {
		out.Error = fmt.Errorf("failed to read response body: %w", err)
	}
	return out
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.credentialed == nil {
		return
	}
	if transport, ok := c.credentialed.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
