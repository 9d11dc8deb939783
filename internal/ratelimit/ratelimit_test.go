package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigFillsZeroFields(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, 60, l.cfg.PerMinute)
	assert.Equal(t, 1000, l.cfg.PerHour)
}

func TestAllowWithinQuota(t *testing.T) {
	l := New(Config{PerMinute: 5, PerHour: 100})
	now := time.Now()

	for i := 0; i < 5; i++ {
		d := l.Allow("alice", now)
		assert.True(t, d.Allowed)
	}
}

func TestAllowDeniesOverPerMinuteQuota(t *testing.T) {
	l := New(Config{PerMinute: 2, PerHour: 100})
	now := time.Now()

	assert.True(t, l.Allow("bob", now).Allowed)
	assert.True(t, l.Allow("bob", now).Allowed)
	d := l.Allow("bob", now)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, 0, d.Remaining)
}

func TestAllowIsolatesByPrincipal(t *testing.T) {
	l := New(Config{PerMinute: 1, PerHour: 100})
	now := time.Now()

	assert.True(t, l.Allow("alice", now).Allowed)
	assert.False(t, l.Allow("alice", now).Allowed)
	assert.True(t, l.Allow("bob", now).Allowed, "distinct principal has its own window")
}

func TestAllowWindowSlidesPastMinute(t *testing.T) {
	l := New(Config{PerMinute: 1, PerHour: 100})
	now := time.Now()

	assert.True(t, l.Allow("carol", now).Allowed)
	assert.False(t, l.Allow("carol", now.Add(30*time.Second)).Allowed)
	assert.True(t, l.Allow("carol", now.Add(61*time.Second)).Allowed)
}

func TestAllowPerHourQuotaGovernsWhenTighter(t *testing.T) {
	l := New(Config{PerMinute: 1000, PerHour: 1})
	now := time.Now()

	d1 := l.Allow("dave", now)
	assert.True(t, d1.Allowed)
	assert.Equal(t, 1, d1.Limit)

	d2 := l.Allow("dave", now)
	assert.False(t, d2.Allowed)
	assert.Equal(t, 1, d2.Limit)
}

func TestTrimDropsExpiredEntries(t *testing.T) {
	now := time.Now()
	times := []time.Time{now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now.Add(-10 * time.Second)}
	trimmed := trim(times, now.Add(-time.Minute))
	assert.Len(t, trimmed, 1)
}
