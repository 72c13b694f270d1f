package config

import (
	"context"
	"os"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/pkg/cache"
	pkgredis "github.com/akeren/waitlist-gate/pkg/redis"
	"github.com/akeren/waitlist-gate/pkg/utils"
)

// Cache holds passcodes and pending OAuth state. Redis is used when
// configured, otherwise an in-process cache.
type Cache interface {
	// Get returns ("", nil) when a key is not found.
	Get(ctx context.Context, key string) (string, error)
	// Set uses ttl=0 for no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Take returns and removes a key in one step.
	Take(ctx context.Context, key string) (string, error)
	// Incr counts atomically; ttl applies when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type CacheConfig struct {
	Host      string
	Port      string
	Password  string
	KeyPrefix string
}

func NewCacheConfig() *CacheConfig {
	return &CacheConfig{
		Host:      os.Getenv("REDIS_HOST"),
		Port:      utils.GetEnvOrDefault("REDIS_PORT", "6379"),
		Password:  os.Getenv("REDIS_PASSWORD"),
		KeyPrefix: utils.GetEnvOrDefault("REDIS_KEY_PREFIX", "waitlist:"),
	}
}

func (cc *CacheConfig) IsConfigured() bool {
	return cc.Host != ""
}

func (cc *CacheConfig) NewCache(logger *log.Logger) (Cache, error) {
	if !cc.IsConfigured() {
		logger.Error("Cache (Redis) configuration is missing")
		return nil, ErrCacheNotConfigured
	}

	c, err := pkgredis.NewRedisCache(&pkgredis.Config{
		Host:      cc.Host,
		Port:      cc.Port,
		Password:  cc.Password,
		DB:        0,
		KeyPrefix: cc.KeyPrefix,
	})
	if err != nil {
		logger.Error("Failed to create Cache (Redis)", "error", err)
		return nil, err
	}

	logger.Info("Cache (Redis) connected successfully")
	return c, nil
}

// NewCacheOrMemory never fails: without a reachable Redis the service runs
// single-instance on an in-process cache.
func (cc *CacheConfig) NewCacheOrMemory(logger *log.Logger) Cache {
	if !cc.IsConfigured() {
		logger.Info("Cache (Redis) is not configured; using in-memory cache")
		return cache.NewMemoryCache()
	}

	c, err := cc.NewCache(logger)
	if err != nil {
		logger.Warn("Falling back to in-memory cache", "error", err)
		return cache.NewMemoryCache()
	}
	return c
}

func CloseCache(c Cache, logger *log.Logger) error {
	if c == nil {
		logger.Info("No cache provided; skipping cache close")
		return nil
	}

	if err := c.Close(); err != nil {
		logger.Error("Failed to close cache", "error", err)
		return err
	}

	logger.Info("Cache connection closed")
	return nil
}

var ErrCacheNotConfigured = &CacheError{Message: "cache host is not configured"}

type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}
