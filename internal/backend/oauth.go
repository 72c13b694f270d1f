package backend

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/pkg/constants"
)

const oauthStateKeyPrefix = "oauth:state:"

// OAuthProvider is an authorization-code provider the local backend signs visitors in with.
type OAuthProvider struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	Scopes       []string `yaml:"scopes"`
}

// BuiltinProviders holds the endpoints of providers that only need client credentials.
var BuiltinProviders = map[string]OAuthProvider{
	"google": {
		Name:        "google",
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:      []string{"openid", "email", "profile"},
	},
	"github": {
		Name:        "github",
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		Scopes:      []string{"read:user", "user:email"},
	},
}

// ComputeS256Challenge derives the PKCE code challenge for verifier.
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func generateToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type pendingAuthorization struct {
	FlowID         string `json:"flow_id"`
	Provider       string `json:"provider"`
	CodeVerifier   string `json:"code_verifier"`
	RedirectTarget string `json:"redirect_target"`
}

// oauthStateStore keeps pending authorizations keyed by the opaque state value.
type oauthStateStore struct {
	store Store
	ttl   time.Duration
}

// create returns the state value and the PKCE challenge for a new authorization.
func (s *oauthStateStore) create(ctx context.Context, req OAuthRedirect) (state, challenge string, err error) {
	verifier, err := generateToken(48)
	if err != nil {
		return "", "", fmt.Errorf("generate code verifier: %w", err)
	}
	state, err = generateToken(24)
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}

	payload, err := json.Marshal(pendingAuthorization{
		FlowID:         req.FlowID,
		Provider:       req.Provider,
		CodeVerifier:   verifier,
		RedirectTarget: req.RedirectTarget,
	})
	if err != nil {
		return "", "", err
	}

	ttl := s.ttl
	if ttl <= 0 {
		ttl = constants.OAuthStateTTL
	}
	if err := s.store.Set(ctx, oauthStateKeyPrefix+state, string(payload), ttl); err != nil {
		return "", "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, ComputeS256Challenge(verifier), nil
}

// consume returns the pending authorization for state exactly once.
func (s *oauthStateStore) consume(ctx context.Context, state string) (pendingAuthorization, error) {
	if strings.TrimSpace(state) == "" {
		return pendingAuthorization{}, ErrInvalidOAuthState
	}

	raw, err := s.store.Take(ctx, oauthStateKeyPrefix+state)
	if err != nil {
		return pendingAuthorization{}, fmt.Errorf("load oauth state: %w", err)
	}
	if raw == "" {
		return pendingAuthorization{}, ErrInvalidOAuthState
	}

	var pending pendingAuthorization
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return pendingAuthorization{}, ErrInvalidOAuthState
	}
	return pending, nil
}

func (p OAuthProvider) authorizeURL(redirectURI, state, challenge string) (string, error) {
	authURL, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth url for %s: %w", p.Name, err)
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("scope", strings.Join(p.Scopes, " "))
	query.Set("state", state)
	query.Set("code_challenge", challenge)
	query.Set("code_challenge_method", "S256")
	authURL.RawQuery = query.Encode()

	return authURL.String(), nil
}

type providerProfile struct {
	ProviderUserID string
	Email          string
}

func (p OAuthProvider) exchange(ctx context.Context, client *http.Client, redirectURI, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange with %s failed: status %d", p.Name, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", errors.New("missing access token")
	}
	return payload.AccessToken, nil
}

func (p OAuthProvider) fetchProfile(ctx context.Context, client *http.Client, accessToken string) (providerProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return providerProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return providerProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerProfile{}, fmt.Errorf("profile request to %s failed: status %d", p.Name, resp.StatusCode)
	}

	// OIDC providers answer with sub; GitHub answers with a numeric id.
	var payload struct {
		Sub   string          `json:"sub"`
		ID    json.RawMessage `json:"id"`
		Email string          `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return providerProfile{}, err
	}

	profile := providerProfile{ProviderUserID: payload.Sub, Email: payload.Email}
	if profile.ProviderUserID == "" && len(payload.ID) > 0 {
		var numeric int64
		if err := json.Unmarshal(payload.ID, &numeric); err == nil {
			profile.ProviderUserID = strconv.FormatInt(numeric, 10)
		} else {
			_ = json.Unmarshal(payload.ID, &profile.ProviderUserID)
		}
	}
	if profile.ProviderUserID == "" {
		return providerProfile{}, errors.New("missing provider user id")
	}
	return profile, nil
}
