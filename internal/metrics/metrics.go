// Package metrics provides thread-safe counters and timers for the
// ingestion/evaluation pipeline: package-level prometheus vectors for
// scraping, cumulative in-process counters and timers the CLI --stats
// summary reads, and a rolling window the health verdict derives from.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus vectors, registered once per process.
var (
	CountersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldpam_events_total",
			Help: "Total count of named pipeline events (http_success, http_errors, cache_hits, cache_misses, rate_limited, ...).",
		},
		[]string{"name", "source"},
	)

	TimerSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worldpam_timer_seconds",
			Help:    "Duration of named timed operations (feed_fetch, signal_compute, evaluation, ...).",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name", "source"},
	)
)

var registerOnce sync.Once

// MustRegister registers the package's prometheus collectors against reg.
// Safe to call more than once (e.g. once per Registry constructed within a
// test process): only the first call actually registers.
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(CountersTotal, TimerSeconds)
	})
}

// Handler returns the promhttp handler for the default registry, the
// scrape endpoint mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// event records one observed increment or timing sample for in-process
// windowed health derivation (see health.go).
type event struct {
	name string
	at   time.Time
	dur  time.Duration
}

// Collector is a thread-safe metrics sink. It updates both the package's
// prometheus vectors (for scraping), cumulative counters and timers (for
// the Summary snapshot), and an in-process rolling window (for Health).
type Collector struct {
	mu       sync.RWMutex
	counters map[string]int64
	timers   map[string][]time.Duration
	window   []event
}

// New constructs an empty Collector.
func New() *Collector {
	return &Collector{
		counters: make(map[string]int64),
		timers:   make(map[string][]time.Duration),
	}
}

// Increment bumps a named counter by one, optionally tagged with a source.
func (c *Collector) Increment(name string, source string) {
	c.mu.Lock()
	c.counters[name]++
	c.window = append(c.window, event{name: name, at: time.Now()})
	c.trimLocked()
	c.mu.Unlock()

	CountersTotal.WithLabelValues(name, source).Inc()
}

// Record stores a timing sample for name, optionally tagged with a source.
func (c *Collector) Record(name string, d time.Duration, source string) {
	c.mu.Lock()
	c.timers[name] = append(c.timers[name], d)
	c.window = append(c.window, event{name: name, at: time.Now(), dur: d})
	c.trimLocked()
	c.mu.Unlock()

	TimerSeconds.WithLabelValues(name, source).Observe(d.Seconds())
}

// trimLocked drops window entries older than 5 minutes. Caller holds c.mu.
func (c *Collector) trimLocked() {
	cutoff := time.Now().Add(-5 * time.Minute)
	i := 0
	for i < len(c.window) && c.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.window = c.window[i:]
	}
}

// TimerStats summarizes one timer's samples.
type TimerStats struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Sum   time.Duration `json:"sum"`
}

// Summary is the cumulative {counters, timers} snapshot the CLI --stats
// flag reads from.
type Summary struct {
	Counters map[string]int64      `json:"counters"`
	Timers   map[string]TimerStats `json:"timers"`
}

// Snapshot returns the current counters and timer statistics.
func (c *Collector) Snapshot() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Summary{
		Counters: make(map[string]int64, len(c.counters)),
		Timers:   make(map[string]TimerStats, len(c.timers)),
	}
	for k, v := range c.counters {
		out.Counters[k] = v
	}
	for name, samples := range c.timers {
		if len(samples) == 0 {
			continue
		}
		stats := TimerStats{Count: len(samples), Min: samples[0], Max: samples[0]}
		var sum time.Duration
		for _, s := range samples {
			sum += s
			if s < stats.Min {
				stats.Min = s
			}
			if s > stats.Max {
				stats.Max = s
			}
		}
		stats.Sum = sum
		stats.Mean = sum / time.Duration(len(samples))
		out.Timers[name] = stats
	}
	return out
}

// Timer is a scoped-acquisition helper: construct it at the start of an
// operation, call ObserveDuration when it completes.
type Timer struct {
	c      *Collector
	name   string
	source string
	start  time.Time
}

// NewTimer starts a scoped timer against the collector.
func (c *Collector) NewTimer(name, source string) *Timer {
	return &Timer{c: c, name: name, source: source, start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.c.Record(t.name, d, t.source)
	return d
}

// windowCounts returns counts of two named counters observed within the
// trailing 5-minute window, used by Health.
func (c *Collector) windowCounts(names ...string) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make(map[string]int64, len(names))
	for _, ev := range c.window {
		if ev.at.Before(cutoff) || !want[ev.name] {
			continue
		}
		out[ev.name]++
	}
	return out
}

// windowMean returns the mean duration for name observed within the
// trailing 5-minute window.
func (c *Collector) windowMean(name string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	var sum time.Duration
	var count int
	for _, ev := range c.window {
		if ev.at.Before(cutoff) || ev.name != name || ev.dur == 0 {
			continue
		}
		sum += ev.dur
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / time.Duration(count)
}
