// Package signal implements the keyword-match, time-window, per-source
// normalize-and-aggregate pipeline that turns fetched feeds into a single
// bounded signal value.
package signal

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/cuemby/worldpam/internal/changedetect"
	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/errs"
	"github.com/cuemby/worldpam/internal/feed"
	"github.com/cuemby/worldpam/internal/fetch"
	"github.com/cuemby/worldpam/internal/store"
)

// Computer resolves a signal binding against the configured sources,
// fetching and parsing each bound feed and aggregating keyword hits into a
// single clamped value.
type Computer struct {
	cfg      *config.Config
	fetcher  *fetch.Fetcher
	store    store.Store            // nil disables persistence side effects
	detector *changedetect.Detector // nil disables change-detection side effects
}

// New constructs a Computer. store may be nil: side effects (persisting
// FeedItems, SignalValues, SourceStatus) are then skipped.
func New(cfg *config.Config, fetcher *fetch.Fetcher, st store.Store) *Computer {
	return &Computer{cfg: cfg, fetcher: fetcher, store: st}
}

// SetDetector binds a change detector so every fetched source's parsed
// items are also run through the per-source content-hash diff, emitting
// feed_updated events on the same bus the signal/evaluation updates flow
// through. Optional: a nil detector (the default) disables this side
// effect without affecting signal computation.
func (c *Computer) SetDetector(d *changedetect.Detector) {
	c.detector = d
}

// Compute resolves signalName's binding, fetches every bound source, and
// returns the aggregated, capped value, persisting side effects when a
// Store is bound. A failed source contributes 0 to the aggregation and
// never aborts the remaining sources.
func (c *Computer) Compute(ctx context.Context, signalName string, country string) (float64, error) {
	sigDef, ok := c.cfg.SignalByName()[signalName]
	if !ok {
		return 0, &errs.NotFoundError{Kind: "signal", Name: signalName}
	}
	binding, ok := c.cfg.SignalBindings[signalName]
	if !ok {
		return 0, &errs.NotFoundError{Kind: "signal binding", Name: signalName}
	}

	keywords := effectiveKeywords(c.cfg, binding, country)
	sources := c.cfg.SourceByName()

	requests := make([]fetch.Request, 0, len(binding.Sources))
	for _, srcName := range binding.Sources {
		src, ok := sources[srcName]
		if !ok {
			continue
		}
		requests = append(requests, fetch.Request{
			SourceName: srcName,
			URL:        src.URL,
			Timeout:    time.Duration(src.Timeout) * time.Second,
		})
	}

	results := c.fetcher.FetchAll(ctx, requests, 5)

	now := time.Now().UTC()
	var values []float64
	for _, srcName := range binding.Sources {
		result, ok := results[srcName]
		if !ok || !result.OK {
			values = append(values, 0.0)
			if c.store != nil {
				errMsg := ""
				if ok {
					errMsg = result.Error
				} else {
					errMsg = "no result"
				}
				c.store.UpdateSourceStatus(srcName, false, errMsg)
			}
			continue
		}

		src := sources[srcName]
		items, perr := feed.Parse(src.Kind, result.Data)

		if c.detector != nil {
			c.detector.Process(srcName, src.URL, items)
		}

		if c.store != nil {
			for _, item := range items {
				hash := contentHash(item.Title, item.Summary)
				c.store.StoreFeedItem(&store.FeedItem{
					SourceName:   srcName,
					URL:          src.URL,
					Title:        item.Title,
					Summary:      item.Summary,
					PublishedRaw: item.PublishedRaw,
					FetchedAt:    now,
					ContentHash:  hash,
				})
			}
			if perr != nil {
				c.store.UpdateSourceStatus(srcName, false, perr.Error())
			} else {
				c.store.UpdateSourceStatus(srcName, true, "")
			}
		}

		values = append(values, perSourceScore(items, keywords, binding.WindowDays, now, c.cfg.StrictDates))
	}

	final := aggregate(values, sigDef.Aggregation)
	final = math.Min(final, sigDef.Cap)

	if c.store != nil {
		c.store.StoreSignalValue(&store.SignalValue{
			SignalName: signalName,
			Value:      final,
			Country:    country,
			ComputedAt: now,
			WindowDays: binding.WindowDays,
		})
	}

	return final, nil
}

// effectiveKeywords compiles the union of the binding's keyword sets,
// case-folded and trimmed, appending country as one extra keyword when set.
func effectiveKeywords(cfg *config.Config, binding config.SignalBinding, country string) []string {
	var out []string
	for _, ksName := range binding.KeywordSets {
		for _, kw := range cfg.KeywordSets[ksName] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				out = append(out, kw)
			}
		}
	}
	if country != "" {
		out = append(out, strings.ToLower(strings.TrimSpace(country)))
	}
	return out
}

// perSourceScore counts items whose title+summary contains any effective
// keyword and whose resolved published date falls within windowDays, then
// applies the √-dampening normalization: min(sqrt(hits)/sqrt(20), 1.0).
// When strict is set, items with no resolvable date are excluded instead of
// admitted permissively.
func perSourceScore(items []feed.Item, keywords []string, windowDays int, now time.Time, strict bool) float64 {
	if len(items) == 0 || len(keywords) == 0 {
		return 0.0
	}

	hits := 0
	for _, item := range items {
		text := strings.ToLower(item.Title + " " + item.Summary)
		matched := false
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		published := feed.ParseDate(item.PublishedRaw, windowDays, now)
		if published == nil && strict {
			continue
		}
		if feed.IsWithinWindow(published, windowDays, now) {
			hits++
		}
	}

	return math.Min(math.Sqrt(float64(hits))/math.Sqrt(20.0), 1.0)
}

func aggregate(values []float64, aggregation string) float64 {
	if len(values) == 0 {
		return 0.0
	}
	if aggregation == "max" {
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}
