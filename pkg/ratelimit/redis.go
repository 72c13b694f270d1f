package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "waitlist:ratelimit:"

// slidingWindowScript trims the sorted set to the window, rejects when full and
// otherwise records the request; 1 means limited.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local expire = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

	if redis.call('ZCARD', key) >= limit then
		return 1
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, expire)
	return 0
`)

// RedisRateLimiter implements sliding window rate limiting for distributed systems
type RedisRateLimiter struct {
	client    *redis.Client
	requests  int
	window    time.Duration
	keyPrefix string
	logger    Logger
}

func NewRedisRateLimiter(client *redis.Client, requests int, window time.Duration, scope string, logger Logger) *RedisRateLimiter {
	prefix := redisKeyPrefix
	if scope != "" {
		prefix += scope + ":"
	}
	return &RedisRateLimiter{
		client:    client,
		requests:  requests,
		window:    window,
		keyPrefix: prefix,
		logger:    logger,
	}
}

func (r *RedisRateLimiter) GetLimitDetails() (int, time.Duration) {
	return r.requests, r.window
}

func (r *RedisRateLimiter) IsLimited(ctx context.Context, key string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	fullKey := key
	if !strings.HasPrefix(key, r.keyPrefix) {
		fullKey = r.keyPrefix + key
	}

	nowMs := time.Now().UnixMilli()
	result, err := slidingWindowScript.Run(ctx, r.client, []string{fullKey},
		nowMs,
		r.window.Milliseconds(),
		r.requests,
		(2 * r.window).Milliseconds(),
		fmt.Sprintf("%d-%s", nowMs, randomMember()),
	).Int64()
	if err != nil {
		if r.logger != nil {
			r.logger.Error("Redis rate limit script execution failed", "key", fullKey, "error", err)
		}
		return false, fmt.Errorf("rate limiter Redis error: %w", err)
	}

	return result == 1, nil
}

// The Redis client is owned by the ApplicationConfig and closed there
func (r *RedisRateLimiter) Close() error {
	return nil
}

func randomMember() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
