// Package fetch implements the bounded-concurrency, validated, rate-limited,
// size-capped HTTP GET layer that feeds the signal computer: an SSRF guard,
// a per-host token bucket, a TTL cache, and a hard response size cap,
// applied in that order on every call. The cache is keyed by URL only, with
// no Vary on request headers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/worldpam/internal/errs"
	"github.com/cuemby/worldpam/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	userAgent      = "WorldPAM/1.0 (Geopolitical Risk Analysis Tool)"
	maxResponse    = 10 * 1024 * 1024
	readChunk      = 8 * 1024
	cacheTTL       = 10 * time.Minute
	defaultWorkers = 5
)

// Result is the outcome of one Fetch call.
type Result struct {
	SourceName string
	URL        string
	Data       []byte
	OK         bool
	Duration   time.Duration
	Error      string
}

// Request names one feed to fetch.
type Request struct {
	SourceName string
	URL        string
	Timeout    time.Duration
}

// Fetcher applies the SSRF guard, per-host rate limiting, TTL cache, and
// size-capped GET, in that order, on every call.
type Fetcher struct {
	client        *http.Client
	cache         *ttlCache
	limiter       *hostLimiter
	allowedHosts  map[string]bool
	allowLoopback bool
	metrics       *metrics.Collector
	log           zerolog.Logger
}

// New constructs a Fetcher. allowedHosts may be nil/empty to disable the
// whitelist half of the SSRF guard.
func New(allowedHosts map[string]bool, collector *metrics.Collector, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:       &http.Client{},
		cache:        newTTLCache(cacheTTL),
		limiter:      newHostLimiter(),
		allowedHosts: allowedHosts,
		metrics:      collector,
		log:          log,
	}
}

// CacheSize returns the number of entries currently in the feed cache.
func (f *Fetcher) CacheSize() int {
	return f.cache.size()
}

// AllowLoopback disables the loopback/private-range half of the URL guard
// for this fetcher so tests can drive the full pipeline against local
// listeners. The scheme check and host whitelist still apply.
func (f *Fetcher) AllowLoopback() {
	f.allowLoopback = true
}

// Fetch performs one validated, rate-limited, cached GET: SSRF guard,
// per-host token bucket, cache lookup, network GET, cache populate, in
// that order.
func (f *Fetcher) Fetch(ctx context.Context, sourceName, url string, timeout time.Duration) Result {
	start := time.Now()

	if !validateURL(url, f.allowedHosts, f.allowLoopback) {
		return Result{SourceName: sourceName, URL: url, OK: false, Duration: time.Since(start), Error: "url rejected by ssrf guard"}
	}

	if !f.limiter.Allow(url) {
		if f.metrics != nil {
			f.metrics.Increment("rate_limited", sourceName)
		}
		return Result{SourceName: sourceName, URL: url, OK: false, Duration: time.Since(start), Error: "rate limited"}
	}

	cacheKey := "feed:" + url
	if cached, ok := f.cache.get(cacheKey); ok {
		if f.metrics != nil {
			f.metrics.Increment("cache_hits", sourceName)
		}
		return Result{SourceName: sourceName, URL: url, Data: cached, OK: true, Duration: time.Since(start)}
	}

	var timer *metrics.Timer
	if f.metrics != nil {
		timer = f.metrics.NewTimer("feed_fetch", sourceName)
	}
	data, err := f.get(ctx, url, timeout)
	if timer != nil {
		timer.ObserveDuration()
	}

	if err != nil {
		terr := &errs.TransientNetworkError{Source: sourceName, Err: err}
		if f.metrics != nil {
			f.metrics.Increment("http_errors", sourceName)
		}
		f.log.Warn().Str("source", sourceName).Err(terr).Msg("feed fetch failed")
		return Result{SourceName: sourceName, URL: url, OK: false, Duration: time.Since(start), Error: terr.Error()}
	}

	if len(data) == 0 {
		terr := &errs.TransientNetworkError{Source: sourceName, Err: errors.New("empty body")}
		if f.metrics != nil {
			f.metrics.Increment("http_errors", sourceName)
		}
		return Result{SourceName: sourceName, URL: url, OK: false, Duration: time.Since(start), Error: terr.Error()}
	}

	f.cache.set(cacheKey, data, cacheTTL)
	if f.metrics != nil {
		f.metrics.Increment("http_success", sourceName)
		f.metrics.Increment("cache_misses", sourceName)
	}
	return Result{SourceName: sourceName, URL: url, Data: data, OK: true, Duration: time.Since(start)}
}

func (f *Fetcher) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if resp.ContentLength > maxResponse {
		return nil, fmt.Errorf("response too large: %d bytes", resp.ContentLength)
	}

	limited := io.LimitReader(resp.Body, maxResponse+1)
	var data []byte
	buf := make([]byte, readChunk)
	for {
		n, err := limited.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if len(data) > maxResponse {
				return nil, fmt.Errorf("response exceeded %d bytes", maxResponse)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// FetchAll fans out Fetch over requests with a semaphore-bounded worker
// group, always returning one entry per input (a synthetic error result on
// internal failure). Result ordering is not guaranteed.
func (f *Fetcher) FetchAll(ctx context.Context, requests []Request, maxConcurrent int) map[string]Result {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultWorkers
	}

	out := make(map[string]Result, len(requests))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrent)

	for _, req := range requests {
		wg.Add(1)
		sem <- struct{}{}
		go func(req Request) {
			defer wg.Done()
			defer func() { <-sem }()

			var result Result
			func() {
				defer func() {
					if r := recover(); r != nil {
						result = Result{SourceName: req.SourceName, URL: req.URL, OK: false, Error: fmt.Sprintf("panic: %v", r)}
					}
				}()
				result = f.Fetch(ctx, req.SourceName, req.URL, req.Timeout)
			}()

			mu.Lock()
			out[req.SourceName] = result
			mu.Unlock()
		}(req)
	}

	wg.Wait()
	return out
}
