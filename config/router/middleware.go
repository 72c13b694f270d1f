package router

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/akeren/waitlist-gate/pkg/ratelimit"
	"github.com/akeren/waitlist-gate/pkg/utils"
	"github.com/gin-gonic/gin"
)

const defaultMaxBodyBytes = int64(1 << 20)

func (routerService *RouterService) correlationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(log.CorrelationHeader)
		if id == "" {
			id = log.GenerateCorrelationID()
		}
		ctx := context.WithValue(c.Request.Context(), log.CorrelatedIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(log.CorrelationHeader, id)
		c.Next()
	}
}

func (routerService *RouterService) loggerInjectionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlatedLogger := routerService.logger.WithCorrelationID(c.Request.Context())
		c.Request = c.Request.WithContext(log.ContextWithLogger(c.Request.Context(), correlatedLogger))
		c.Next()
	}
}

func (routerService *RouterService) requestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.GetLoggerInstanceFromContext(c.Request.Context(), routerService.logger).Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"remote_addr", c.ClientIP(),
		)
	}
}

func (routerService *RouterService) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if shouldSetHSTS(c) {
			h.Set("Strict-Transport-Security", buildHSTSValue())
		}
		c.Next()
	}
}

func shouldSetHSTS(c *gin.Context) bool {
	appEnv := strings.ToLower(utils.GetEnvTrimmed("APP_ENV"))
	enabled := utils.GetEnvBool("HSTS_ENABLED", appEnv == "production" || appEnv == "prod")
	if !enabled {
		return false
	}

	if c.Request.TLS != nil {
		return true
	}
	// TLS terminated at a reverse proxy.
	return strings.EqualFold(strings.TrimSpace(c.GetHeader("X-Forwarded-Proto")), "https")
}

func buildHSTSValue() string {
	maxAge := int64(31536000)
	if raw := utils.GetEnvTrimmed("HSTS_MAX_AGE"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			maxAge = parsed
		}
	}

	value := fmt.Sprintf("max-age=%d", maxAge)
	if utils.GetEnvBool("HSTS_INCLUDE_SUBDOMAINS", true) {
		value += "; includeSubDomains"
	}
	return value
}

func (routerService *RouterService) maxBodySizeMiddleware() gin.HandlerFunc {
	maxBytes := defaultMaxBodyBytes
	if raw := strings.TrimSpace(os.Getenv("MAX_REQUEST_BODY_BYTES")); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			maxBytes = parsed
		}
	}

	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResult(
				http.StatusRequestEntityTooLarge,
				"Request payload too large",
				nil,
			).ToJSON())
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func (routerService *RouterService) originAllowed(origin string) bool {
	for _, allowed := range routerService.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (routerService *RouterService) corsMiddleware() gin.HandlerFunc {
	if len(routerService.config.AllowedOrigins) == 0 {
		routerService.logger.Warn("CORS_ALLOWED_ORIGIN not set, cross-origin requests will be denied")
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !routerService.originAllowed(origin) {
			routerService.logger.Warn("CORS origin not allowed", "origin", origin)
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Correlation-ID")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		h.Set("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(apperrors.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (routerService *RouterService) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), routerService.config.RequestTimeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		// gin.Context is not safe for concurrent use, so the chain stays on this goroutine.
		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			log.GetLoggerInstanceFromContext(ctx, routerService.logger).Warn("Request timeout detected")
			c.AbortWithStatusJSON(http.StatusRequestTimeout, ErrorResult(
				apperrors.StatusRequestTimeout,
				"Request timeout",
				nil,
			).ToJSON())
		}
	}
}

// limiterFor resolves the limiter for a route. Handler overrides win over
// controller overrides, which win over the router default.
func (routerService *RouterService) limiterFor(handlerKey string, controller *RESTController) ratelimit.RateLimiter {
	if limiter, ok := routerService.rateLimitOverrides[handlerKey]; ok {
		return limiter
	}
	if limiter, ok := routerService.rateLimitOverrides[controller.mountPoint]; ok {
		return limiter
	}
	return routerService.rateLimiter
}

func (routerService *RouterService) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			// Unmatched paths fall through to NoRoute/NoMethod.
			c.Next()
			return
		}

		handlerKey := routerService.keyForPathAndMethod(route, c.Request.Method)
		controller, found := routerService.handlerToControllerMap[handlerKey]
		if !found || controller == nil {
			// Routes registered outside a controller (for example /metrics) use the default limiter.
			controller = &RESTController{}
		}

		limiter := routerService.limiterFor(handlerKey, controller)
		if limiter == nil {
			c.Next()
			return
		}

		logger := log.GetLoggerInstanceFromContext(c.Request.Context(), routerService.logger)
		clientIP := c.ClientIP()
		limit, window := limiter.GetLimitDetails()
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Window", window.String())

		limited, err := limiter.IsLimited(c.Request.Context(), clientIP)
		if err != nil {
			// Fail open: an unavailable limiter must not take the API down.
			logger.Error("Rate limiter error", "error", err, "client_ip", clientIP)
			c.Next()
			return
		}

		if limited {
			logger.Warn("Rate limit exceeded", "client_ip", clientIP, "route", route)
			retryAfterSeconds := int(math.Max(1, math.Ceil(window.Seconds())))
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, TooManyRequestsResult(RateLimitResponse{
				Limit:      limit,
				Window:     window.String(),
				RetryAfter: strconv.Itoa(retryAfterSeconds),
			}).ToJSON())
			return
		}

		c.Next()
	}
}
