package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/internal/log"
	"gorm.io/gorm"
)

const (
	monitoringRequestsPerMinute = 10
	healthCheckTimeout          = 3 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// CircuitReporter is implemented by backends that guard remote calls with a circuit breaker.
type CircuitReporter interface {
	CircuitState() string
}

type HealthStatus struct {
	Database int    `json:"database"` // 1 = healthy, 0 = unhealthy
	Cache    int    `json:"cache"`    // 1 = healthy, 0 = unhealthy/not configured
	Backend  int    `json:"backend"`  // 1 = healthy, 0 = unhealthy
	Circuit  string `json:"circuit,omitempty"`
	Mode     string `json:"backend_mode"`
	Uptime   int    `json:"uptime"` // uptime in seconds
}

func (s HealthStatus) healthy() bool {
	return s.Database == 1 && s.Backend == 1
}

type MonitoringController struct {
	db          *gorm.DB
	logger      *log.Logger
	cache       Pinger
	backend     Pinger
	backendMode string
	startTime   time.Time
}

func NewMonitoringController(db *gorm.DB, logger *log.Logger, cache, backend Pinger, backendMode string) *router.RESTController {
	ctrl := &MonitoringController{
		db:          db,
		logger:      logger,
		cache:       cache,
		backend:     backend,
		backendMode: backendMode,
		startTime:   time.Now(),
	}

	return router.NewRESTController(
		"MonitoringController",
		"/",
		func(rs *router.RouterService, controller *router.RESTController) {
			limiter := rs.NewRateLimiter("monitoring", monitoringRequestsPerMinute, time.Minute)

			rs.AddGetHandler(controller, limiter, "", ctrl.monitor)
			rs.AddGetHandler(controller, limiter, "health", ctrl.healthCheck)
		},
	)
}

func (ctrl *MonitoringController) healthCheck(c *router.RequestContext) *router.ServiceResult {
	logger := router.GetLogger(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := ctrl.performHealthChecks(ctx, logger)
	if !status.healthy() {
		return router.ErrorResult(http.StatusServiceUnavailable, "waitlist-gate is degraded", status)
	}

	return router.OKResult(status, "waitlist-gate health check completed")
}

func (ctrl *MonitoringController) monitor(c *router.RequestContext) *router.ServiceResult {
	return router.OKResult("Monitoring endpoint is operational.", "Monitoring successful")
}

func (ctrl *MonitoringController) performHealthChecks(ctx context.Context, logger *log.Logger) HealthStatus {
	status := HealthStatus{
		Mode:   ctrl.backendMode,
		Uptime: int(time.Since(ctrl.startTime).Seconds()),
	}

	status.Database = check(ctx, logger, "database", ctrl.databasePinger())
	status.Cache = check(ctx, logger, "cache", ctrl.cache)
	status.Backend = check(ctx, logger, "backend", ctrl.backend)

	if reporter, ok := ctrl.backend.(CircuitReporter); ok {
		status.Circuit = reporter.CircuitState()
	}

	return status
}

func (ctrl *MonitoringController) databasePinger() Pinger {
	if ctrl.db == nil {
		return nil
	}
	return pingFunc(func(ctx context.Context) error {
		sqlDB, err := ctrl.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func check(ctx context.Context, logger *log.Logger, name string, p Pinger) int {
	if p == nil {
		logger.Info("Health check skipped; dependency not configured", "dependency", name)
		return 0
	}

	if err := p.Ping(ctx); err != nil {
		logger.Error("Health check failed", "dependency", name, "error", err)
		return 0
	}

	logger.Debug("Health check passed", "dependency", name)
	return 1
}
