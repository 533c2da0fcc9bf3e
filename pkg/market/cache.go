package market

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"nakula/pkg/core"
)

type cacheEntry struct {
	markets     Markets
	version     uint64
	loadedAt    time.Time
	constraints map[string]Constraints
}

// Cache holds market metadata per exchange and memoizes resolved
// constraints. Entries never expire on their own; callers refresh with Put
// or drop them with Invalidate.
type Cache struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]*cacheEntry
	version uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock sets the clock used to stamp entries.
func WithClock(c clock.Clock) CacheOption {
	return func(cache *Cache) {
		cache.clock = c
	}
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		clock:   clock.New(),
		entries: make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put replaces the markets of exchange and resets its memoized constraints.
// It returns the version of the new entry; versions increase with every Put.
func (c *Cache) Put(exchange string, markets Markets) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	c.entries[exchange] = &cacheEntry{
		markets:     markets,
		version:     c.version,
		loadedAt:    c.clock.Now(),
		constraints: make(map[string]Constraints),
	}
	return c.version
}

// Get returns the cached markets of exchange.
func (c *Cache) Get(exchange string) (Markets, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[exchange]
	if !ok {
		return nil, false
	}
	return e.markets, true
}

// Entry returns the cached markets of exchange with the version Put
// assigned to them.
func (c *Cache) Entry(exchange string) (Markets, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[exchange]
	if !ok {
		return nil, 0, false
	}
	return e.markets, e.version, true
}

// Constraints resolves symbol against the cached markets of exchange.
func (c *Cache) Constraints(exchange, symbol string) (Constraints, error) {
	c.mu.RLock()
	e, ok := c.entries[exchange]
	if ok {
		if cached, hit := e.constraints[symbol]; hit {
			c.mu.RUnlock()
			return cached, nil
		}
	}
	c.mu.RUnlock()

	if !ok {
		return Unconstrained(symbol), fmt.Errorf("%s: %w", exchange, core.ErrNoMarkets)
	}

	resolved, err := Resolve(symbol, e.markets)
	if err != nil {
		return resolved, err
	}

	c.mu.Lock()
	if cur, ok := c.entries[exchange]; ok && cur == e {
		e.constraints[symbol] = resolved
	}
	c.mu.Unlock()
	return resolved, nil
}

// Invalidate drops the entry of exchange.
func (c *Cache) Invalidate(exchange string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, exchange)
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Age reports how long ago the markets of exchange were stored.
func (c *Cache) Age(exchange string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[exchange]
	if !ok {
		return 0, false
	}
	return c.clock.Since(e.loadedAt), true
}

// Exchanges returns the cached exchange names in sorted order.
func (c *Cache) Exchanges() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
