package config

import (
	"context"
	"time"

	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	"github.com/akeren/waitlist-gate/pkg/constants"
	"github.com/akeren/waitlist-gate/pkg/utils"
	"github.com/caarlos0/env/v11"
	"gorm.io/gorm"
)

type ApplicationConfig struct {
	DB              *gorm.DB
	RouterService   *router.RouterService
	Logger          *log.Logger
	Cache           Cache
	Config          *AppConfig
	Backend         *BackendConfig
	Signup          *SignupConfig
	TracingShutdown func(context.Context) error

	cleanups []func()
}

// AppConfig holds the router level settings.
type AppConfig struct {
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	AllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGIN" envSeparator:","`
}

// NewAppConfig reads AppConfig from the environment. Malformed or
// non-positive values fall back to the defaults.
func NewAppConfig() *AppConfig {
	config := &AppConfig{}
	if err := env.Parse(config); err != nil {
		config = &AppConfig{AllowedOrigins: utils.SplitList(utils.GetEnvTrimmed("CORS_ALLOWED_ORIGIN"))}
	}

	if config.RateLimitRequests <= 0 {
		config.RateLimitRequests = constants.DefaultRateLimitRequests
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = constants.DefaultRateLimitWindow()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	return config
}

// OnCleanup registers fn to run first during Cleanup. Later registrations run earlier.
func (ac *ApplicationConfig) OnCleanup(fn func()) {
	ac.cleanups = append(ac.cleanups, fn)
}

func (ac *ApplicationConfig) Cleanup() {
	for i := len(ac.cleanups) - 1; i >= 0; i-- {
		ac.cleanups[i]()
	}

	if ac.TracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ac.TracingShutdown(ctx); err != nil {
			ac.Logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}

	if ac.RouterService != nil {
		ac.RouterService.Cleanup()
	}

	if ac.DB != nil {
		CloseDatabase(ac.DB, ac.Logger)
	}

	if ac.Cache != nil {
		CloseCache(ac.Cache, ac.Logger)
	}

	ac.Logger.Info("Application cleanup completed")
}

func LoadApplicationConfiguration(logger *log.Logger, autoMigrate bool) (*ApplicationConfig, error) {
	InitializeEnvFile(logger)

	if autoMigrate {
		appEnv := GetAppEnv()
		if err := ValidateAutoMigrateAllowed(appEnv); err != nil {
			return nil, err
		}
		if appEnv == "" {
			logger.Warn("APP_ENV not set; allowing --auto-migrate as development")
		}
	}

	backendCfg, err := LoadBackendConfig()
	if err != nil {
		return nil, err
	}

	signupCfg, err := LoadSignupConfig()
	if err != nil {
		return nil, err
	}

	tracingShutdown, err := SetupTracing(logger)
	if err != nil {
		return nil, err
	}

	db, err := NewDatabase(logger, nil)
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		if err := AutoMigrate(logger, db, models.ModelRegistry...); err != nil {
			CloseDatabase(db, logger)
			return nil, err
		}
	}

	appConfig := NewAppConfig()
	cache := NewCacheConfig().NewCacheOrMemory(logger)

	routerService := router.CreateRouterService(logger, cache, &router.RouterConfig{
		RateLimitRequests: appConfig.RateLimitRequests,
		RateLimitWindow:   appConfig.RateLimitWindow,
		RequestTimeout:    appConfig.RequestTimeout,
		AllowedOrigins:    appConfig.AllowedOrigins,
	})

	logger.Info("Application configuration loaded successfully",
		"backend_mode", backendCfg.Mode,
		"oauth_providers", len(signupCfg.OAuthProviders),
	)

	return &ApplicationConfig{
		DB:              db,
		RouterService:   routerService,
		Logger:          logger,
		Cache:           cache,
		Config:          appConfig,
		Backend:         backendCfg,
		Signup:          signupCfg,
		TracingShutdown: tracingShutdown,
	}, nil
}
