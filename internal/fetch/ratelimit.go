package fetch

import (
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter enforces a per-host token bucket (burst of ten, refilled at
// ten tokens per 60 seconds), one bucket per host behind a mutex. It is not
// a strict sliding window: a full burst plus the refill can admit up to
// about twenty requests to one host within a single 60-second span.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiter() *hostLimiter {
	return &hostLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request to rawURL's host is permitted right now,
// consuming one token if so.
func (h *hostLimiter) Allow(rawURL string) bool {
	host := hostOf(rawURL)

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		// 10 requests per 60s sustained, burst of 10 to admit an initial
		// burst without penalizing a cold start.
		limiter = rate.NewLimiter(rate.Limit(10.0/60.0), 10)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Allow()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
