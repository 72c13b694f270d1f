package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type item struct {
	value     string
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryCache is the single-instance fallback used when Redis is not configured.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]item),
		now:   time.Now,
	}
}

// Get returns ("", nil) when a key is missing or expired.
func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return "", nil
	}
	if it.expired(c.now()) {
		delete(c.items, key)
		return "", nil
	}
	return it.value, nil
}

// Set uses ttl=0 for no expiry.
func (c *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := item{value: value}
	if ttl > 0 {
		it.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = it

	if len(c.items)%256 == 0 {
		c.sweepLocked()
	}
	return nil
}

func (c *MemoryCache) Take(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return "", nil
	}
	delete(c.items, key)
	if it.expired(c.now()) {
		return "", nil
	}
	return it.value, nil
}

// Incr treats a missing or non-numeric value as zero.
func (c *MemoryCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok || it.expired(c.now()) {
		it = item{}
		if ttl > 0 {
			it.expiresAt = c.now().Add(ttl)
		}
	}

	n, _ := strconv.ParseInt(it.value, 10, 64)
	n++
	it.value = strconv.FormatInt(n, 10)
	c.items[key] = it
	return n, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
	return nil
}

func (c *MemoryCache) sweepLocked() {
	now := c.now()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
		}
	}
}
