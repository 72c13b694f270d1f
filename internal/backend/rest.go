package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	"github.com/akeren/waitlist-gate/pkg/circuitbreaker"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/akeren/waitlist-gate/pkg/retry"
)

const maxErrorBodyBytes = 64 << 10

type RESTConfig struct {
	BaseURL string
	APIKey  string
	// JWTSecret, when set, is used to verify access tokens returned by the service.
	JWTSecret string
	// CallbackURL is the public URL of the OAuth callback endpoint.
	CallbackURL   string
	OAuthStateTTL time.Duration

	Store      Store
	HTTPClient *http.Client
	Breaker    circuitbreaker.CircuitBreaker
	Retry      retry.RetryPolicy
	Hub        *SessionHub
	Metrics    *Metrics
	Logger     *log.Logger
}

// RESTBackend talks to a hosted data/auth service: PostgREST-style table
// writes under /rest/v1 and GoTrue-style auth under /auth/v1.
type RESTBackend struct {
	baseURL     *url.URL
	apiKey      string
	verifier    *TokenSigner
	callbackURL string
	states      *oauthStateStore
	httpClient  *http.Client
	breaker     circuitbreaker.CircuitBreaker
	retry       retry.RetryPolicy
	hub         *SessionHub
	metrics     *Metrics
	logger      *log.Logger
}

// postgrestError is the error body returned by the table API.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// statusError is a non-2xx answer from the service. It is never retried.
type statusError struct {
	Status int
	Body   postgrestError
}

func (e *statusError) Error() string {
	msg := e.Body.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Code != "" {
		return fmt.Sprintf("backend responded %d (%s): %s", e.Status, e.Body.Code, msg)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Status, msg)
}

func (e *statusError) Temporary() bool { return false }

// transportError wraps failures to reach the service or to read its answer.
// It is retried only when replaying the request cannot repeat a write.
type transportError struct {
	err        error
	replayable bool
}

func (e *transportError) Error() string   { return "backend unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Temporary() bool { return e.replayable }

// replayable reports whether a failed request may be sent again. Writes are
// replayed only when they never left this process.
func replayable(method string, wrote bool) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return !wrote
}

func NewRESTBackend(cfg RESTConfig) (*RESTBackend, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("backend api key is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("rest backend requires a cache store")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewDiscardLogger()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second, Transport: log.NewTransport(nil, cfg.Logger)}
	}
	if cfg.Hub == nil {
		cfg.Hub = NewSessionHub()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.NewExponentialBackoff(nil)
	}
	if cfg.Breaker == nil {
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.IsFailure = CountsAgainstCircuit
		cfg.Breaker = circuitbreaker.NewCircuitBreaker(breakerCfg)
	}

	b := &RESTBackend{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		states:      &oauthStateStore{store: cfg.Store, ttl: cfg.OAuthStateTTL},
		httpClient:  cfg.HTTPClient,
		breaker:     cfg.Breaker,
		retry:       cfg.Retry,
		hub:         cfg.Hub,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}

	if cfg.JWTSecret != "" {
		verifier, err := NewTokenSigner([]byte(cfg.JWTSecret), "", 0)
		if err != nil {
			return nil, err
		}
		b.verifier = verifier
	}

	return b, nil
}

// CountsAgainstCircuit opens the circuit only for outages, not for client errors such as conflicts.
func CountsAgainstCircuit(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

func (b *RESTBackend) endpoint(path string, query url.Values) string {
	u := *b.baseURL
	u.Path = b.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call sends one JSON request through the circuit breaker and retry policy and
// decodes a 2xx body into out when out is non-nil.
func (b *RESTBackend) call(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return b.breaker.Call(func() error {
		return b.retry.Execute(ctx, func(ctx context.Context) error {
			var wrote atomic.Bool
			traced := httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
				WroteHeaders: func() { wrote.Store(true) },
			})

			req, err := http.NewRequestWithContext(traced, method, b.endpoint(path, query), bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("apikey", b.apiKey)
			req.Header.Set("Authorization", "Bearer "+b.apiKey)
			req.Header.Set("Accept", "application/json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}

			resp, err := b.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &transportError{err: err, replayable: replayable(method, wrote.Load())}
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				se := &statusError{Status: resp.StatusCode}
				raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
				_ = json.Unmarshal(raw, &se.Body)
				if se.Body.Message == "" {
					// GoTrue reports errors as {"msg": ...} or {"error_description": ...}.
					var alt struct {
						Msg              string `json:"msg"`
						ErrorDescription string `json:"error_description"`
					}
					if json.Unmarshal(raw, &alt) == nil {
						se.Body.Message = firstNonEmpty(alt.Msg, alt.ErrorDescription)
					}
				}
				return se
			}

			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		})
	})
}

// mapError turns a call failure into the application error taxonomy.
func (b *RESTBackend) mapError(ctx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}

	logger := log.GetLoggerInstanceFromContext(ctx, b.logger)

	var se *statusError
	switch {
	case errors.As(err, &se) && (se.Body.Code == apperrors.PostgresUniqueViolationCode || se.Status == http.StatusConflict):
		return apperrors.NewConflictError("waitlist entry with this email already exists", err)
	case errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden):
		return apperrors.NewUnauthorizedError("backend rejected the credentials", err)
	case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
		return apperrors.NewTooManyRequestsError("backend rate limit reached", err)
	case errors.As(err, &se) && se.Status < http.StatusInternalServerError:
		return apperrors.NewInvalidRequestError(se.Body.Message, err)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		logger.Warn("Backend circuit open", "operation", operation)
		return apperrors.NewUnavailableError("backend temporarily unavailable", err)
	}

	logger.Error("Backend call failed", "operation", operation, "error", err)
	return apperrors.NewUpstreamError("backend request failed", err)
}

func (b *RESTBackend) InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) (err error) {
	defer func() { b.metrics.observe("insert_waitlist_entry", err) }()

	row := map[string]any{
		"email":                entry.Email,
		"twitter_handle":       nullable(entry.TwitterHandle),
		"is_following_twitter": entry.IsFollowingTwitter,
		"ip_address":           nil,
		"user_agent":           entry.UserAgent,
	}

	err = b.call(ctx, http.MethodPost, "/rest/v1/waitlist", nil, row, map[string]string{"Prefer": "return=minimal"}, nil)
	return b.mapError(ctx, "insert_waitlist_entry", err)
}

func (b *RESTBackend) SendOneTimePasscode(ctx context.Context, email string) (err error) {
	defer func() { b.metrics.observe("send_passcode", err) }()

	body := map[string]any{"email": email, "create_user": true}
	err = b.call(ctx, http.MethodPost, "/auth/v1/otp", nil, body, nil, nil)
	return b.mapError(ctx, "send_passcode", err)
}

// authSession is the token response of the auth API.
type authSession struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		AppMetadata struct {
			Provider string `json:"provider"`
		} `json:"app_metadata"`
	} `json:"user"`
}

func (b *RESTBackend) toSession(raw authSession, provider string) (Session, error) {
	if raw.AccessToken == "" {
		return Session{}, errors.New("auth response carried no access token")
	}

	session := Session{
		UserID:      raw.User.ID,
		Email:       raw.User.Email,
		Provider:    firstNonEmpty(raw.User.AppMetadata.Provider, provider),
		AccessToken: raw.AccessToken,
	}
	switch {
	case raw.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(raw.ExpiresAt, 0).UTC()
	case raw.ExpiresIn > 0:
		session.ExpiresAt = time.Now().UTC().Add(time.Duration(raw.ExpiresIn) * time.Second)
	}

	if b.verifier != nil {
		claims, err := b.verifier.Verify(raw.AccessToken)
		if err != nil {
			return Session{}, err
		}
		if session.UserID == "" {
			session.UserID = claims.Subject
		}
		if session.Email == "" {
			session.Email = claims.Email
		}
		if claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time.UTC()
		}
	}
	return session, nil
}

func (b *RESTBackend) VerifyOneTimePasscode(ctx context.Context, flowID, email, code string) (session Session, err error) {
	defer func() { b.metrics.observe("verify_passcode", err) }()

	var raw authSession
	body := map[string]any{"type": "email", "email": email, "token": code}
	if err = b.mapError(ctx, "verify_passcode", b.call(ctx, http.MethodPost, "/auth/v1/verify", nil, body, nil, &raw)); err != nil {
		return Session{}, err
	}

	if session, err = b.toSession(raw, "email"); err != nil {
		return Session{}, apperrors.NewUpstreamError("backend returned an invalid session", err)
	}

	b.hub.Publish(flowID, session)
	return session, nil
}

func (b *RESTBackend) StartOAuthRedirect(ctx context.Context, req OAuthRedirect) (redirectURL string, err error) {
	defer func() { b.metrics.observe("start_oauth", err) }()

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return "", apperrors.NewInvalidRequestError("provider is required", ErrUnknownProvider)
	}
	req.Provider = provider

	state, challenge, err := b.states.create(ctx, req)
	if err != nil {
		return "", apperrors.NewInternalServerError("unable to start sign-in", err)
	}

	// The service appends ?code= to redirect_to, so our state rides along in it.
	callback, err := url.Parse(b.callbackURL)
	if err != nil {
		return "", apperrors.NewInternalServerError("invalid oauth callback url", err)
	}
	cq := callback.Query()
	cq.Set("state", state)
	callback.RawQuery = cq.Encode()

	query := url.Values{}
	query.Set("provider", provider)
	query.Set("redirect_to", callback.String())
	query.Set("code_challenge", challenge)
	query.Set("code_challenge_method", "s256")

	return b.endpoint("/auth/v1/authorize", query), nil
}

func (b *RESTBackend) CompleteOAuthRedirect(ctx context.Context, state, code string) (completion OAuthCompletion, err error) {
	defer func() { b.metrics.observe("complete_oauth", err) }()

	pending, err := b.states.consume(ctx, state)
	if err != nil {
		return OAuthCompletion{}, apperrors.NewInvalidRequestError("sign-in link is invalid or expired", err)
	}

	var raw authSession
	query := url.Values{"grant_type": {"pkce"}}
	body := map[string]any{"auth_code": code, "code_verifier": pending.CodeVerifier}
	if err = b.mapError(ctx, "complete_oauth", b.call(ctx, http.MethodPost, "/auth/v1/token", query, body, nil, &raw)); err != nil {
		return OAuthCompletion{}, err
	}

	session, err := b.toSession(raw, pending.Provider)
	if err != nil {
		return OAuthCompletion{}, apperrors.NewUpstreamError("backend returned an invalid session", err)
	}

	b.hub.Publish(pending.FlowID, session)

	return OAuthCompletion{
		FlowID:         pending.FlowID,
		RedirectTarget: pending.RedirectTarget,
		Session:        session,
	}, nil
}

func (b *RESTBackend) SubscribeSessionChanges(flowID string, fn func(Session)) Subscription {
	return b.hub.Subscribe(flowID, fn)
}

// Ping checks the auth health endpoint.
func (b *RESTBackend) Ping(ctx context.Context) error {
	return b.call(ctx, http.MethodGet, "/auth/v1/health", nil, nil, nil, nil)
}

// CircuitState reports the breaker state for health output.
func (b *RESTBackend) CircuitState() string {
	return b.breaker.State().String()
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
