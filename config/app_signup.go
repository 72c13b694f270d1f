package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/pkg/constants"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// SignupConfig holds the landing page settings. Values from SIGNUP_CONFIG_FILE
// fill in anything the environment leaves unset.
type SignupConfig struct {
	FollowURL      string        `env:"SIGNUP_FOLLOW_URL"`
	AllowedDomains []string      `env:"SIGNUP_ALLOWED_EMAIL_DOMAINS" envSeparator:","`
	FlowIdleTTL    time.Duration `env:"SIGNUP_FLOW_IDLE_TTL"`
	SiteURL        string        `env:"SITE_URL" envDefault:"http://localhost:3000"`
	ConfigFile     string        `env:"SIGNUP_CONFIG_FILE"`

	// OAuthProviders is keyed by lower-case provider name.
	OAuthProviders map[string]backend.OAuthProvider
}

type signupFile struct {
	FollowURL           string                  `yaml:"follow_url"`
	AllowedEmailDomains []string                `yaml:"allowed_email_domains"`
	FlowIdleTTL         string                  `yaml:"flow_idle_ttl"`
	OAuthProviders      []backend.OAuthProvider `yaml:"oauth_providers"`
}

type oauthEnv struct {
	GoogleClientID     string `env:"OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OAUTH_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"OAUTH_GITHUB_CLIENT_SECRET"`
}

func LoadSignupConfig() (*SignupConfig, error) {
	cfg := &SignupConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse signup env: %w", err)
	}

	var raw oauthEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse oauth env: %w", err)
	}
	cfg.OAuthProviders = builtinProviders(raw)

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if cfg.FollowURL == "" {
		cfg.FollowURL = constants.DefaultFollowURL
	}
	if cfg.FlowIdleTTL == 0 {
		cfg.FlowIdleTTL = constants.DefaultFlowIdleTTL
	}

	return cfg, nil
}

func builtinProviders(raw oauthEnv) map[string]backend.OAuthProvider {
	providers := make(map[string]backend.OAuthProvider)

	credentials := map[string][2]string{
		"google": {raw.GoogleClientID, raw.GoogleClientSecret},
		"github": {raw.GitHubClientID, raw.GitHubClientSecret},
	}
	for name, creds := range credentials {
		if creds[0] == "" {
			continue
		}
		p := backend.BuiltinProviders[name]
		p.ClientID, p.ClientSecret = creds[0], creds[1]
		providers[name] = p
	}
	return providers
}

func (c *SignupConfig) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read signup config %s: %w", path, err)
	}

	var file signupFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return fmt.Errorf("parse signup config %s: %w", path, err)
	}

	if c.FollowURL == "" {
		c.FollowURL = file.FollowURL
	}
	if len(c.AllowedDomains) == 0 {
		c.AllowedDomains = file.AllowedEmailDomains
	}
	if c.FlowIdleTTL == 0 && file.FlowIdleTTL != "" {
		ttl, err := time.ParseDuration(file.FlowIdleTTL)
		if err != nil {
			return fmt.Errorf("parse flow_idle_ttl in %s: %w", path, err)
		}
		c.FlowIdleTTL = ttl
	}

	for _, p := range file.OAuthProviders {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("oauth provider without a name in %s", path)
		}
		if _, fromEnv := c.OAuthProviders[name]; fromEnv {
			continue
		}

		// Built-in providers only need credentials in the file.
		merged := backend.BuiltinProviders[name]
		mergeProvider(&merged, p)
		merged.Name = name
		c.OAuthProviders[name] = merged
	}
	return nil
}

func mergeProvider(dst *backend.OAuthProvider, src backend.OAuthProvider) {
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.ClientSecret != "" {
		dst.ClientSecret = src.ClientSecret
	}
	if src.AuthURL != "" {
		dst.AuthURL = src.AuthURL
	}
	if src.TokenURL != "" {
		dst.TokenURL = src.TokenURL
	}
	if src.UserInfoURL != "" {
		dst.UserInfoURL = src.UserInfoURL
	}
	if len(src.Scopes) > 0 {
		dst.Scopes = src.Scopes
	}
}
