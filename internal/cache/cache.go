package cache

import (
	"sync"
	"time"
)

// State classifies a lookup result relative to the entry's age.
type State int

const (
	Miss State = iota
	Fresh
	Stale
)

type entry struct {
	payload   any
	fetchedAt time.Time
}

// Cache is a keyed stale-while-revalidate store shared by all request
// goroutines. Entries past the TTL but inside the stale window are still
// served when the upstream fetch fails; entries past the stale window are
// treated as misses. Expiry is computed lazily at read time, there is no
// eviction goroutine.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]entry
	ttl         time.Duration
	staleWindow time.Duration
	now         func() time.Time
}

func New(ttl, staleWindow time.Duration) *Cache {
	if staleWindow < ttl {
		staleWindow = ttl
	}
	return &Cache{
		entries:     make(map[string]entry),
		ttl:         ttl,
		staleWindow: staleWindow,
		now:         time.Now,
	}
}

// WithClock substitutes the time source. Tests only.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Get(key string) (any, State) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, Miss
	}

	age := c.now().Sub(e.fetchedAt)
	switch {
	case age <= c.ttl:
		return e.payload, Fresh
	case age <= c.staleWindow:
		return e.payload, Stale
	default:
		return nil, Miss
	}
}

func (c *Cache) Put(key string, payload any) {
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, fetchedAt: c.now()}
	c.mu.Unlock()
}
