package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsumeWithinLimit(t *testing.T) {
	l := New(time.Minute, 3)

	r := l.Consume("tools", "client-a")
	assert.True(t, r.Allowed)
	assert.Equal(t, 2, r.Remaining)

	r = l.Consume("tools", "client-a")
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, r.Remaining)

	r = l.Consume("tools", "client-a")
	assert.True(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
}

func TestConsumeDenialCarriesRetryAfter(t *testing.T) {
	base := time.Now()
	denied := []string{}
	l := New(time.Minute, 1,
		WithClock(func() time.Time { return base }),
		WithDenyObserver(func(ns string) { denied = append(denied, ns) }))

	assert.True(t, l.Consume("tools", "client-a").Allowed)

	r := l.Consume("tools", "client-a")
	assert.False(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
	assert.Equal(t, 60, r.RetryAfterSeconds)
	assert.Equal(t, base.Add(time.Minute), r.ResetAt)
	assert.Equal(t, []string{"tools"}, denied)
}

func TestConsumeIsolatesKeys(t *testing.T) {
	l := New(time.Minute, 1)

	assert.True(t, l.Consume("tools", "client-a").Allowed)
	assert.False(t, l.Consume("tools", "client-a").Allowed)

	assert.True(t, l.Consume("tools", "client-b").Allowed, "identifiers are independent")
	assert.True(t, l.Consume("http", "client-a").Allowed, "namespaces are independent")
}

func TestWindowResets(t *testing.T) {
	clock := time.Now()
	l := New(time.Minute, 1, WithClock(func() time.Time { return clock }))

	assert.True(t, l.Consume("tools", "client-a").Allowed)
	assert.False(t, l.Consume("tools", "client-a").Allowed)

	clock = clock.Add(61 * time.Second)
	assert.True(t, l.Consume("tools", "client-a").Allowed, "new window after expiry")
}

func TestRetryAfterFloorsAtOne(t *testing.T) {
	clock := time.Now()
	l := New(time.Minute, 1, WithClock(func() time.Time { return clock }))

	assert.True(t, l.Consume("tools", "client-a").Allowed)
	clock = clock.Add(59*time.Second + 800*time.Millisecond)
	r := l.Consume("tools", "client-a")
	assert.False(t, r.Allowed)
	assert.Equal(t, 1, r.RetryAfterSeconds)
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	clock := time.Now()
	l := New(time.Minute, 5, WithClock(func() time.Time { return clock }))

	l.Consume("tools", "client-a")
	l.Consume("tools", "client-b")
	assert.Len(t, l.windows, 2)

	clock = clock.Add(2 * time.Minute)
	removed := l.sweep()
	assert.Equal(t, 2, removed)
	assert.Empty(t, l.windows)
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultWindow, l.windowLen)
	assert.Equal(t, DefaultMaxRequests, l.maxRequests)
}
