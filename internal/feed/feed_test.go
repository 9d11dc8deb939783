package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/cuemby/worldpam/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <item>
      <title>Troops mobilize at border</title>
      <description>Mobilization reported near the frontier.</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate>
    </item>
    <item>
      <title>Second story</title>
      <description>Unrelated item</description>
      <pubDate>Tue, 03 Jan 2006 15:04:05 +0000</pubDate>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example</title>
  <entry>
    <title>Ceasefire reached</title>
    <summary>Peace talks conclude with a truce.</summary>
    <updated>2024-03-01T12:00:00Z</updated>
  </entry>
  <entry>
    <title>Fallback to content</title>
    <content>Body only, no summary element.</content>
    <published>2024-03-02T00:00:00Z</published>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	items, err := Parse("rss", []byte(sampleRSS))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Troops mobilize at border", items[0].Title)
	assert.Equal(t, "Mobilization reported near the frontier.", items[0].Summary)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 +0000", items[0].PublishedRaw)
}

func TestParseAtom(t *testing.T) {
	items, err := Parse("atom", []byte(sampleAtom))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ceasefire reached", items[0].Title)
	assert.Equal(t, "Peace talks conclude with a truce.", items[0].Summary)
	assert.Equal(t, "Body only, no summary element.", items[1].Summary, "should fall back to <content> when <summary> absent")
}

func TestParseMalformedXMLReturnsParseError(t *testing.T) {
	items, err := Parse("rss", []byte("<rss><channel><item><title>unterminated"))
	var perr *errs.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, items)
}

func TestParseOversizeInputReturnsParseError(t *testing.T) {
	huge := strings.Repeat("a", maxInputBytes+1)
	items, err := Parse("rss", []byte(huge))
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestParseUnknownKindReturnsParseError(t *testing.T) {
	items, err := Parse("json", []byte(sampleRSS))
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestParseRejectsDeepNesting(t *testing.T) {
	var b strings.Builder
	b.WriteString("<rss><channel><item><title>")
	for i := 0; i < maxDepth+10; i++ {
		b.WriteString("<a>")
	}
	b.WriteString("deep")
	for i := 0; i < maxDepth+10; i++ {
		b.WriteString("</a>")
	}
	b.WriteString("</title></item></channel></rss>")

	items, err := Parse("rss", []byte(b.String()))
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestParseDateFormats(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	cases := []string{
		"Mon, 02 Jan 2006 15:04:05 +0000",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02 Jan 2006",
		"Jan 02, 2006",
	}
	for _, raw := range cases {
		got := ParseDate(raw, 7, now)
		require.NotNil(t, got, raw)
		assert.Equal(t, 2006, got.Year(), raw)
	}
}

func TestParseDateYearHintFallback(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	got := ParseDate("sometime in 2024 but not a real format", 10, now)
	require.NotNil(t, got)
	assert.WithinDuration(t, now.Add(-5*24*time.Hour), *got, time.Second)
}

func TestParseDateMonthNameFallback(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	got := ParseDate("somewhere in March, unparseable", 10, now)
	require.NotNil(t, got)
}

func TestParseDateUnparseableReturnsNil(t *testing.T) {
	now := time.Now()
	assert.Nil(t, ParseDate("completely bogus !!!", 7, now))
	assert.Nil(t, ParseDate("", 7, now))
}

func TestIsWithinWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * 24 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)
	future := now.Add(24 * time.Hour)

	assert.True(t, IsWithinWindow(&recent, 7, now))
	assert.False(t, IsWithinWindow(&old, 7, now))
	assert.False(t, IsWithinWindow(&future, 7, now))
	assert.True(t, IsWithinWindow(nil, 7, now), "unparseable date is permissive")
}
