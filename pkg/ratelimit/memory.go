package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// InMemoryRateLimiter implements token bucket rate limiting for single instances
type InMemoryRateLimiter struct {
	requests int
	window   time.Duration

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	ops      uint64
	now      func() time.Time
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewInMemoryRateLimiter(requests int, window time.Duration) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		requests: requests,
		window:   window,
		limiters: make(map[string]*keyedLimiter),
		now:      time.Now,
	}
}

func (r *InMemoryRateLimiter) GetLimitDetails() (int, time.Duration) {
	return r.requests, r.window
}

func (r *InMemoryRateLimiter) IsLimited(_ context.Context, key string) (bool, error) {
	if key == "" {
		key = "__empty__"
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.limiters[key]
	if !ok {
		rps := float64(r.requests) / r.window.Seconds()
		k = &keyedLimiter{limiter: rate.NewLimiter(rate.Limit(rps), r.requests)}
		r.limiters[key] = k
	}
	k.lastSeen = now

	r.ops++
	if r.ops%1024 == 0 {
		r.evictIdle(now)
	}

	return !k.limiter.AllowN(now, 1), nil
}

// evictIdle drops keys unseen for two windows; their buckets would be full anyway.
func (r *InMemoryRateLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-2 * r.window)
	for key, l := range r.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
}

func (r *InMemoryRateLimiter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = make(map[string]*keyedLimiter)
	return nil
}
