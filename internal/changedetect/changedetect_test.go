package changedetect

import (
	"io"
	"testing"
	"time"

	"github.com/cuemby/worldpam/internal/eventbus"
	"github.com/cuemby/worldpam/internal/feed"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestFirstObservationEstablishesBaselineSilently(t *testing.T) {
	bus := eventbus.New(testLogger())
	bus.Start()
	defer bus.Stop()

	var fired bool
	bus.Subscribe(eventbus.KindFeedUpdated, func(ev eventbus.Event) error {
		fired = true
		return nil
	})

	d := New(bus)
	d.Process("reuters_world", "http://example.com/feed", []feed.Item{
		{Title: "Troops mobilize", Summary: "at the border"},
	})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired, "first observation must not emit feed_updated")
}

func TestDifferingHashEmitsFeedUpdated(t *testing.T) {
	bus := eventbus.New(testLogger())
	bus.Start()
	defer bus.Stop()

	received := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.KindFeedUpdated, func(ev eventbus.Event) error {
		received <- ev
		return nil
	})

	d := New(bus)
	first := []feed.Item{{Title: "Troops mobilize", Summary: "at the border"}}
	second := []feed.Item{{Title: "New clashes reported", Summary: "near the frontier"}}

	d.Process("reuters_world", "http://example.com/feed", first)
	d.Process("reuters_world", "http://example.com/feed", second)

	select {
	case ev := <-received:
		require.NotNil(t, ev.Feed)
		assert.Equal(t, "reuters_world", ev.Feed.Source)
		assert.Equal(t, 1, ev.Feed.ItemCount)
		require.Len(t, ev.Feed.Items, 1)
		assert.Equal(t, "New clashes reported", ev.Feed.Items[0].Title)
	case <-time.After(time.Second):
		t.Fatal("expected feed_updated event on differing hash")
	}
}

func TestIdenticalContentEmitsNothing(t *testing.T) {
	bus := eventbus.New(testLogger())
	bus.Start()
	defer bus.Stop()

	var count int
	bus.Subscribe(eventbus.KindFeedUpdated, func(ev eventbus.Event) error {
		count++
		return nil
	})

	d := New(bus)
	items := []feed.Item{{Title: "Same headline", Summary: "unchanged"}}
	d.Process("ap_top", "http://example.com/ap", items)
	d.Process("ap_top", "http://example.com/ap", items)
	d.Process("ap_top", "http://example.com/ap", items)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, count)
}

func TestHashItemsCapsAtSampleSize(t *testing.T) {
	items := make([]feed.Item, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, feed.Item{Title: "same", Summary: "same"})
	}
	hashA := hashItems(items)

	fewer := items[:sampleSize]
	hashB := hashItems(fewer)

	assert.Equal(t, hashA, hashB, "items beyond sampleSize must not affect the hash")
}
