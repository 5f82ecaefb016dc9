package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter enforces a token-bucket rate limit per host.
//
// A nil *HostLimiter never blocks.
type HostLimiter struct {
	requests int
	window   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter allows requests per window for each host. Returns nil
// (no limiting) when either value is not positive.
func NewHostLimiter(requests int, window time.Duration) *HostLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &HostLimiter{
		requests: requests,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host is allowed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	return h.limiterFor(host).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.limiters[host]; ok {
		return l
	}
	every := h.window / time.Duration(h.requests)
	l := rate.NewLimiter(rate.Every(every), h.requests)
	h.limiters[host] = l
	return l
}
