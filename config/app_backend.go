package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/pkg/constants"
	"github.com/caarlos0/env/v11"
)

const (
	BackendModeLocal = "local"
	BackendModeREST  = "rest"
)

// BackendConfig selects and tunes the waitlist/auth backend.
type BackendConfig struct {
	Mode string `env:"BACKEND_MODE" envDefault:"local"`

	// rest
	URL             string        `env:"BACKEND_URL"`
	APIKey          string        `env:"BACKEND_API_KEY"`
	JWTSecret       string        `env:"BACKEND_JWT_SECRET"`
	Timeout         time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	RetryAttempts   int           `env:"BACKEND_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay  time.Duration `env:"BACKEND_RETRY_BASE_DELAY" envDefault:"100ms"`
	BreakerFailures int           `env:"BACKEND_BREAKER_FAILURES" envDefault:"5"`
	BreakerRecovery time.Duration `env:"BACKEND_BREAKER_RECOVERY" envDefault:"30s"`

	// local
	SessionSigningKey   string        `env:"SESSION_SIGNING_KEY"`
	SessionIssuer       string        `env:"SESSION_ISSUER" envDefault:"waitlist-gate"`
	SessionTTL          time.Duration `env:"SESSION_TTL"`
	PasscodeTTL         time.Duration `env:"PASSCODE_TTL"`
	PasscodeMaxAttempts int           `env:"PASSCODE_MAX_ATTEMPTS"`

	// CallbackURL is the public URL of GET /v1/auth/callback.
	CallbackURL   string        `env:"OAUTH_CALLBACK_URL"`
	OAuthStateTTL time.Duration `env:"OAUTH_STATE_TTL"`
}

func LoadBackendConfig() (*BackendConfig, error) {
	cfg := &BackendConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse backend env: %w", err)
	}

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = constants.SessionTTL
	}
	if cfg.PasscodeTTL == 0 {
		cfg.PasscodeTTL = constants.PasscodeTTL
	}
	if cfg.PasscodeMaxAttempts == 0 {
		cfg.PasscodeMaxAttempts = constants.PasscodeMaxAttempts
	}
	if cfg.OAuthStateTTL == 0 {
		cfg.OAuthStateTTL = constants.OAuthStateTTL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *BackendConfig) Validate() error {
	switch c.Mode {
	case BackendModeREST:
		missing := []string{}
		if c.URL == "" {
			missing = append(missing, "BACKEND_URL")
		}
		if c.APIKey == "" {
			missing = append(missing, "BACKEND_API_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required backend env vars: %s", strings.Join(missing, ", "))
		}
	case BackendModeLocal:
		if len(c.SessionSigningKey) < 32 {
			return fmt.Errorf("SESSION_SIGNING_KEY must be at least 32 bytes in %s mode", BackendModeLocal)
		}
	default:
		return fmt.Errorf("unsupported BACKEND_MODE %q (allowed: %s, %s)", c.Mode, BackendModeLocal, BackendModeREST)
	}
	return nil
}
