// Package ratelimit implements the inbound, per-principal sliding-window
// rate limiter (timestamp slices per identifier, per-minute and per-hour
// quotas). Distinct from
// internal/fetch's outbound per-host token bucket: this one gates callers of
// the request/response API, keyed by principal rather than host, and
// reports remaining quota for X-RateLimit-* headers rather than a bare
// allow/deny.
package ratelimit

import (
	"sync"
	"time"
)

// Config sets the per-minute and per-hour quotas. Zero values fall back to
// the documented defaults (60/minute, 1000/hour).
type Config struct {
	PerMinute int
	PerHour   int
}

// DefaultConfig returns the documented default quotas.
func DefaultConfig() Config {
	return Config{PerMinute: 60, PerHour: 1000}
}

type window struct {
	minute []time.Time
	hour   []time.Time
}

// Limiter enforces Config's quotas per principal, identified by whatever
// opaque string the caller resolves (inbound key, bearer subject, or client
// IP, in that preference order; resolution itself is the API layer's job,
// out of this package's scope).
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*window
}

// New constructs a Limiter with cfg, filling zero fields from DefaultConfig.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = def.PerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = def.PerHour
	}
	return &Limiter{cfg: cfg, windows: make(map[string]*window)}
}

// Decision is the outcome of one Allow call, carrying the fields the API
// layer needs for X-RateLimit-Limit / X-RateLimit-Remaining headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

// Allow records one request attempt for principal at now and reports
// whether it is permitted under both the per-minute and per-hour quotas.
// The tighter (lower remaining) of the two windows governs the reported
// Limit/Remaining.
func (l *Limiter) Allow(principal string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[principal]
	if !ok {
		w = &window{}
		l.windows[principal] = w
	}

	w.minute = trim(w.minute, now.Add(-time.Minute))
	w.hour = trim(w.hour, now.Add(-time.Hour))

	minuteRemaining := l.cfg.PerMinute - len(w.minute)
	hourRemaining := l.cfg.PerHour - len(w.hour)

	if minuteRemaining <= 0 || hourRemaining <= 0 {
		limit, remaining := l.cfg.PerMinute, minuteRemaining
		if hourRemaining < minuteRemaining {
			limit, remaining = l.cfg.PerHour, hourRemaining
		}
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: false, Limit: limit, Remaining: remaining}
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)

	limit, remaining := l.cfg.PerMinute, minuteRemaining-1
	if hourRemaining-1 < remaining {
		limit, remaining = l.cfg.PerHour, hourRemaining-1
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining}
}

func trim(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}
