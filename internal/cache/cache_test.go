package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl, staleWindow time.Duration) (*Cache, *time.Time) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(ttl, staleWindow).WithClock(func() time.Time { return current })
	return c, &current
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c, _ := newTestCache(30*time.Second, 300*time.Second)

	payload, state := c.Get("quote:AAPL")
	assert.Nil(t, payload)
	assert.Equal(t, Miss, state)
}

func TestFreshStaleMissProgression(t *testing.T) {
	c, clock := newTestCache(30*time.Second, 300*time.Second)
	c.Put("quote:AAPL", "payload")

	payload, state := c.Get("quote:AAPL")
	require.Equal(t, Fresh, state)
	assert.Equal(t, "payload", payload)

	*clock = clock.Add(30 * time.Second)
	_, state = c.Get("quote:AAPL")
	assert.Equal(t, Fresh, state, "age == ttl is still fresh")

	*clock = clock.Add(10 * time.Second)
	payload, state = c.Get("quote:AAPL")
	require.Equal(t, Stale, state)
	assert.Equal(t, "payload", payload)

	*clock = clock.Add(300 * time.Second)
	payload, state = c.Get("quote:AAPL")
	assert.Equal(t, Miss, state)
	assert.Nil(t, payload)
}

func TestPutRefreshesAge(t *testing.T) {
	c, clock := newTestCache(30*time.Second, 300*time.Second)
	c.Put("quote:TSLA", "old")

	*clock = clock.Add(40 * time.Second)
	_, state := c.Get("quote:TSLA")
	require.Equal(t, Stale, state)

	c.Put("quote:TSLA", "new")
	payload, state := c.Get("quote:TSLA")
	require.Equal(t, Fresh, state)
	assert.Equal(t, "new", payload)
}

func TestStaleWindowNeverShorterThanTTL(t *testing.T) {
	c, clock := newTestCache(time.Minute, time.Second)
	c.Put("k", 1)

	*clock = clock.Add(59 * time.Second)
	_, state := c.Get("k")
	assert.Equal(t, Fresh, state)
}

func TestKeysAreIndependent(t *testing.T) {
	c, clock := newTestCache(30*time.Second, 300*time.Second)
	c.Put("quote:AAPL", "a")

	*clock = clock.Add(20 * time.Second)
	c.Put("quote:MSFT", "m")

	*clock = clock.Add(20 * time.Second)
	_, stateA := c.Get("quote:AAPL")
	_, stateM := c.Get("quote:MSFT")
	assert.Equal(t, Stale, stateA)
	assert.Equal(t, Fresh, stateM)
}
