package feed

import (
	"regexp"
	"strings"
	"time"
)

// dateLayouts are tried in order, RFC 822 variants first since RSS
// pubDate is the common case.
var dateLayouts = []string{
	time.RFC1123Z,               // "Mon, 02 Jan 2006 15:04:05 -0700"
	time.RFC1123,                // "Mon, 02 Jan 2006 15:04:05 MST"
	"Mon, 02 Jan 2006 15:04:05", // RFC 822 without timezone
	"2006-01-02T15:04:05Z07:00", // ISO 8601 with offset
	"2006-01-02T15:04:05Z",      // ISO 8601 UTC
	"2006-01-02T15:04:05",       // ISO 8601 without timezone
	"2006-01-02 15:04:05",       // simple
	"2006-01-02",                // date only
	"02 Jan 2006",               // day month year
	"Jan 02, 2006",              // month day, year
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var monthNames = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// ParseDate parses a feed's raw published-date string using the layout
// list above, falling back to an admission-permissive heuristic (a nearby
// year, or a month name) that places the item at now − windowDays/2, and
// finally to a nil (unparseable, no hint) which callers treat permissively.
func ParseDate(raw string, windowDays int, now time.Time) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			// time.Parse defaults to UTC when the layout carries no zone.
			return &t
		}
	}

	if m := yearRe.FindString(raw); m != "" {
		year := 0
		for _, c := range m {
			year = year*10 + int(c-'0')
		}
		if abs(year-now.Year()) <= 2 {
			fallback := now.Add(-time.Duration(windowDays/2) * 24 * time.Hour)
			return &fallback
		}
	}

	lower := strings.ToLower(raw)
	for _, m := range monthNames {
		if strings.Contains(lower, m) {
			fallback := now.Add(-time.Duration(windowDays/2) * 24 * time.Hour)
			return &fallback
		}
	}

	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// IsWithinWindow reports whether t falls within [now-windowDays, now]. A
// nil t (unparseable date) is permissively treated as within window.
func IsWithinWindow(t *time.Time, windowDays int, now time.Time) bool {
	if t == nil {
		return true
	}
	delta := now.Sub(*t)
	return delta >= 0 && delta <= time.Duration(windowDays)*24*time.Hour
}
