package router

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/akeren/waitlist-gate/pkg/ratelimit"
	"github.com/akeren/waitlist-gate/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	// DefaultTimeoutDuration is the default request timeout
	DefaultTimeoutDuration = 30 * time.Second

	defaultRateLimitScope = "default"
)

type Cache interface {
	Ping(ctx context.Context) error
}

type RedisClientProvider interface {
	GetClient() *redis.Client
}

type RouterService struct {
	engine      *gin.Engine
	server      *http.Server
	logger      *log.Logger
	redisClient *redis.Client
	registry    *prometheus.Registry
	config      RouterConfig

	rateLimiter ratelimit.RateLimiter

	mu                     sync.Mutex
	limiters               []ratelimit.RateLimiter
	handlerToControllerMap map[string]*RESTController
	rateLimitOverrides     map[string]ratelimit.RateLimiter
}

type RouterConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RequestTimeout    time.Duration
	// AllowedOrigins overrides CORS_ALLOWED_ORIGIN when non-empty.
	AllowedOrigins []string
}

func CreateRouterService(logger *log.Logger, cache Cache, routerConfig *RouterConfig) *RouterService {
	if mode, ok := os.LookupEnv("GIN_MODE"); ok && mode != "" {
		logger.Info("Setting Gin mode", "mode", mode)
		gin.SetMode(mode)
	}

	cfg := *routerConfig
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultTimeoutDuration
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = utils.SplitList(os.Getenv("CORS_ALLOWED_ORIGIN"))
	}

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())

	if utils.IsTracingEnabled() {
		ginRouter.Use(otelgin.Middleware(utils.OTelServiceName()))
		logger.Info("Tracing middleware enabled")
	}

	// ClientIP() must not trust X-Forwarded-For unless TRUSTED_PROXIES says so.
	trustedProxies := parseTrustedProxiesEnv(os.Getenv("TRUSTED_PROXIES"))
	if err := ginRouter.SetTrustedProxies(trustedProxies); err != nil {
		logger.Error("Invalid TRUSTED_PROXIES; disabling trusted proxies", "error", err)
		_ = ginRouter.SetTrustedProxies(nil)
	} else if trustedProxies == nil {
		logger.Info("Trusted proxies disabled (TRUSTED_PROXIES not set)")
	}

	rs := &RouterService{
		engine:                 ginRouter,
		logger:                 logger,
		redisClient:            usableRedisClient(logger, cache),
		registry:               prometheus.NewRegistry(),
		config:                 cfg,
		rateLimitOverrides:     make(map[string]ratelimit.RateLimiter),
		handlerToControllerMap: make(map[string]*RESTController),
	}

	rs.rateLimiter = rs.NewRateLimiter(defaultRateLimitScope, cfg.RateLimitRequests, cfg.RateLimitWindow)

	rs.mountMetrics()

	ginRouter.Use(rs.securityHeadersMiddleware())
	ginRouter.Use(rs.maxBodySizeMiddleware())
	ginRouter.Use(rs.corsMiddleware())
	ginRouter.Use(rs.correlationIDMiddleware())
	ginRouter.Use(rs.loggerInjectionMiddleware())
	ginRouter.Use(rs.rateLimitMiddleware())
	ginRouter.Use(rs.timeoutMiddleware())
	ginRouter.Use(rs.requestLoggingMiddleware())

	ginRouter.HandleMethodNotAllowed = true
	ginRouter.RedirectTrailingSlash = true

	ginRouter.NoRoute(func(c *gin.Context) {
		logger.WithCorrelationID(c.Request.Context()).Warn("Route not found", "path", c.Request.URL.Path)
		c.JSON(http.StatusNotFound, NotFoundResult("Route not found").ToJSON())
	})

	ginRouter.NoMethod(func(c *gin.Context) {
		logger.WithCorrelationID(c.Request.Context()).Warn("Method not allowed", "method", c.Request.Method)
		c.JSON(http.StatusMethodNotAllowed, ErrorResult(apperrors.StatusMethodNotAllowed, "Method not allowed", nil).ToJSON())
	})

	rs.server = &http.Server{
		Addr:    ":8080",
		Handler: ginRouter,

		// Handlers run on the request goroutine; the server timeouts bound them.
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("Router service initialized")
	return rs
}

func usableRedisClient(logger *log.Logger, cache Cache) *redis.Client {
	provider, ok := cache.(RedisClientProvider)
	if !ok || provider == nil {
		return nil
	}

	client := provider.GetClient()
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable for rate limiting, falling back to in-memory", "error", err)
		return nil
	}
	return client
}

func parseTrustedProxiesEnv(v string) []string {
	s := strings.TrimSpace(v)
	if s == "" {
		return nil
	}
	if s == "*" {
		// Local development only.
		return []string{"0.0.0.0/0", "::/0"}
	}
	return utils.SplitList(s)
}

// NewRateLimiter builds a limiter backed by Redis when the router has one and by
// memory otherwise. The router closes it on Cleanup.
func (routerService *RouterService) NewRateLimiter(scope string, requests int, window time.Duration) ratelimit.RateLimiter {
	limiter := ratelimit.NewRateLimiter(&ratelimit.RateLimitConfig{
		Requests: requests,
		Window:   window,
		Scope:    scope,
		Redis:    routerService.redisClient,
		Logger:   routerService.logger,
	})

	backend := "memory"
	if routerService.redisClient != nil {
		backend = "redis"
	}
	routerService.logger.Info("Rate limiter created",
		"scope", scope,
		"backend", backend,
		"requests", requests,
		"window", window)

	routerService.mu.Lock()
	routerService.limiters = append(routerService.limiters, limiter)
	routerService.mu.Unlock()

	return limiter
}

func (routerService *RouterService) GetDefaultRateLimitConfig() (int, time.Duration) {
	return routerService.config.RateLimitRequests, routerService.config.RateLimitWindow
}

// MetricsRegisterer returns the registry served on /metrics so domain packages
// can publish their own collectors.
func (routerService *RouterService) MetricsRegisterer() prometheus.Registerer {
	return routerService.registry
}

func (routerService *RouterService) GetEngine() *gin.Engine {
	return routerService.engine
}

func (routerService *RouterService) GetLogger(c *RequestContext) *log.Logger {
	return routerService.logger.WithCorrelationID(c.Request.Context())
}

func (routerService *RouterService) Cleanup() {
	routerService.mu.Lock()
	limiters := routerService.limiters
	routerService.limiters = nil
	routerService.mu.Unlock()

	for _, limiter := range limiters {
		if err := limiter.Close(); err != nil {
			routerService.logger.Error("Failed to close rate limiter", "error", err)
		}
	}
	routerService.logger.Info("Router service cleanup completed")
}

func (routerService *RouterService) MountController(controller *RESTController) {
	routerService.logger.Info("Mounting controller",
		"name", controller.name,
		"path", controller.mountPoint,
		"version", controller.version,
	)

	controller.prepare(routerService, controller)

	routerService.logger.Info("Controller mounted",
		"name", controller.name,
		"handlers", controller.handlerCount,
	)
}

func (routerService *RouterService) RunHTTPServer() error {
	addr := ":" + utils.GetEnvTrimmedOrDefault("APP_PORT", "8080")
	routerService.server.Addr = addr

	routerService.logger.Info("Starting HTTP server", "addr", addr)

	if err := routerService.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		routerService.logger.Error("Failed to start HTTP server", "error", err)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

func (routerService *RouterService) Shutdown(ctx context.Context) error {
	routerService.logger.Info("Shutting down HTTP server gracefully...")
	return routerService.server.Shutdown(ctx)
}
