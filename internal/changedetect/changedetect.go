// Package changedetect implements the per-source content-hash diff that
// emits feed_updated events on re-ingestion: MD5 over the concatenated
// title+summary of the first ten parsed items. The first ingestion of a
// source establishes the baseline and emits no event.
package changedetect

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/cuemby/worldpam/internal/eventbus"
	"github.com/cuemby/worldpam/internal/feed"
)

const sampleSize = 10

// Detector tracks the last-seen content hash per source.
type Detector struct {
	mu   sync.Mutex
	bus  *eventbus.Bus
	last map[string]string
}

// New constructs a Detector that publishes feed_updated events on bus.
func New(bus *eventbus.Bus) *Detector {
	return &Detector{bus: bus, last: make(map[string]string)}
}

// Process computes the hash of the first ten items for source/url and
// compares it to the previously observed hash. The first observation of a
// source establishes the baseline and emits nothing; a subsequent
// observation whose hash differs emits one feed_updated event carrying the
// item count and the first five items.
func (d *Detector) Process(source, url string, items []feed.Item) {
	hash := hashItems(items)

	d.mu.Lock()
	prev, seen := d.last[source]
	d.last[source] = hash
	d.mu.Unlock()

	if !seen || prev == hash {
		return
	}

	n := len(items)
	if n > 5 {
		n = 5
	}
	summaries := make([]eventbus.FeedItemSummary, 0, n)
	for _, it := range items[:n] {
		summaries = append(summaries, eventbus.FeedItemSummary{Title: it.Title, Summary: it.Summary})
	}

	d.bus.Publish(eventbus.Event{
		Kind: eventbus.KindFeedUpdated,
		Feed: &eventbus.FeedUpdated{
			Source:    source,
			URL:       url,
			ItemCount: len(items),
			Items:     summaries,
		},
	})
}

func hashItems(items []feed.Item) string {
	n := len(items)
	if n > sampleSize {
		n = sampleSize
	}
	h := md5.New()
	for _, it := range items[:n] {
		h.Write([]byte(it.Title))
		h.Write([]byte(it.Summary))
	}
	return hex.EncodeToString(h.Sum(nil))
}
