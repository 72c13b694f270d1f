package domain

import (
	"context"
	"fmt"
	"net/http"

	"github.com/akeren/waitlist-gate/config"
	"github.com/akeren/waitlist-gate/domain/monitoring"
	"github.com/akeren/waitlist-gate/domain/signup"
	"github.com/akeren/waitlist-gate/domain/waitlist"
	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/pkg/circuitbreaker"
	"github.com/akeren/waitlist-gate/pkg/retry"
	"github.com/akeren/waitlist-gate/pkg/utils"
)

// SetupCoreDomain wires the backend, mounts every controller and starts the
// idle flow sweeper, which stops when ctx is done.
func SetupCoreDomain(ctx context.Context, appConfig *config.ApplicationConfig) error {
	rs := appConfig.RouterService
	logger := appConfig.Logger

	waitlistFactory := waitlist.NewWaitlistServiceFactory(appConfig.DB, logger)

	b, err := NewBackend(appConfig, waitlistFactory.CreateService(), backend.NewMetrics(rs.MetricsRegisterer()))
	if err != nil {
		return err
	}

	signupFactory := signup.NewSignupServiceFactory(b, signup.Settings{
		Flow: signup.Config{
			FollowURL: appConfig.Signup.FollowURL,
			AllowList: signup.NewDomainAllowList(appConfig.Signup.AllowedDomains),
			Metrics:   signup.NewMetrics(rs.MetricsRegisterer()),
		},
		IdleTTL: appConfig.Signup.FlowIdleTTL,
		SiteURL: appConfig.Signup.SiteURL,
	}, logger)

	registry := signupFactory.CreateRegistry()
	go registry.Run(ctx)
	appConfig.OnCleanup(registry.Close)

	rs.MountController(monitoring.NewMonitoringControllerFactory(appConfig.DB, logger, appConfig.Cache, b, appConfig.Backend.Mode).CreateController())
	rs.MountController(waitlistFactory.CreateController())
	rs.MountController(signupFactory.CreateController())
	rs.MountController(signupFactory.CreateAuthController())

	return nil
}

// NewBackend builds the backend selected by BACKEND_MODE.
func NewBackend(appConfig *config.ApplicationConfig, store backend.WaitlistStore, metrics *backend.Metrics) (backend.Backend, error) {
	cfg := appConfig.Backend
	logger := appConfig.Logger.With("backend_mode", cfg.Mode)
	callbackURL := cfg.CallbackURL
	if callbackURL == "" {
		callbackURL = fmt.Sprintf("http://localhost:%s/v1/auth/callback", utils.GetEnvTrimmedOrDefault("APP_PORT", "8080"))
	}

	switch cfg.Mode {
	case config.BackendModeREST:
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.FailureThreshold = cfg.BreakerFailures
		breakerCfg.RecoveryTimeout = cfg.BreakerRecovery
		breakerCfg.IsFailure = backend.CountsAgainstCircuit
		breakerCfg.OnStateChange = func(from, to circuitbreaker.CircuitState) {
			logger.Warn("Backend circuit changed state", "from", from.String(), "to", to.String())
		}

		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.RetryAttempts
		retryCfg.BaseDelay = cfg.RetryBaseDelay
		policy := retry.NewExponentialBackoff(retryCfg)
		policy.OnRetry = func(attempt int, err error) {
			logger.Warn("Retrying backend request", "attempt", attempt, "error", err)
		}

		rest, err := backend.NewRESTBackend(backend.RESTConfig{
			BaseURL:       cfg.URL,
			APIKey:        cfg.APIKey,
			JWTSecret:     cfg.JWTSecret,
			CallbackURL:   callbackURL,
			OAuthStateTTL: cfg.OAuthStateTTL,
			Store:         appConfig.Cache,
			HTTPClient:    &http.Client{Timeout: cfg.Timeout, Transport: log.NewTransport(nil, logger)},
			Breaker:       circuitbreaker.NewCircuitBreaker(breakerCfg),
			Retry:         policy,
			Metrics:       metrics,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return rest, nil

	case config.BackendModeLocal:
		signer, err := backend.NewTokenSigner([]byte(cfg.SessionSigningKey), cfg.SessionIssuer, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}

		local, err := backend.NewLocalBackend(backend.LocalConfig{
			Waitlist:            store,
			Store:               appConfig.Cache,
			Signer:              signer,
			Providers:           appConfig.Signup.OAuthProviders,
			CallbackURL:         callbackURL,
			PasscodeTTL:         cfg.PasscodeTTL,
			PasscodeMaxAttempts: cfg.PasscodeMaxAttempts,
			OAuthStateTTL:       cfg.OAuthStateTTL,
			Metrics:             metrics,
			Logger:              logger,
		})
		if err != nil {
			return nil, err
		}
		return local, nil

	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}
