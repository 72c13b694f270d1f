package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/domain/waitlist"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/google/uuid"
)

// WaitlistStore is the part of the waitlist service the local backend writes through.
type WaitlistStore interface {
	CreateEntry(ctx context.Context, entry *models.WaitlistEntry) (*waitlist.WaitlistEntryResponse, error)
	Ping(ctx context.Context) error
}

type LocalConfig struct {
	Waitlist  WaitlistStore
	Store     Store
	Mailer    Mailer
	Signer    *TokenSigner
	Providers map[string]OAuthProvider
	// CallbackURL is the public URL of the OAuth callback endpoint.
	CallbackURL string

	PasscodeTTL         time.Duration
	PasscodeMaxAttempts int
	PasscodeDigits      int
	OAuthStateTTL       time.Duration

	HTTPClient *http.Client
	Hub        *SessionHub
	Metrics    *Metrics
	Logger     *log.Logger
}

// LocalBackend serves the backend capability from this service's own database and cache.
type LocalBackend struct {
	waitlist    WaitlistStore
	passcodes   *PasscodeStore
	states      *oauthStateStore
	mailer      Mailer
	signer      *TokenSigner
	providers   map[string]OAuthProvider
	callbackURL string
	passcodeTTL time.Duration
	httpClient  *http.Client
	hub         *SessionHub
	metrics     *Metrics
	logger      *log.Logger
}

func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.Waitlist == nil {
		return nil, errors.New("local backend requires a waitlist store")
	}
	if cfg.Store == nil {
		return nil, errors.New("local backend requires a cache store")
	}
	if cfg.Signer == nil {
		return nil, errors.New("local backend requires a session signer")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewSessionHub()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewDiscardLogger()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = NewLogMailer(cfg.Logger)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second, Transport: log.NewTransport(nil, cfg.Logger)}
	}

	return &LocalBackend{
		waitlist:    cfg.Waitlist,
		passcodes:   NewPasscodeStore(cfg.Store, cfg.PasscodeTTL, cfg.PasscodeMaxAttempts, cfg.PasscodeDigits),
		states:      &oauthStateStore{store: cfg.Store, ttl: cfg.OAuthStateTTL},
		mailer:      cfg.Mailer,
		signer:      cfg.Signer,
		providers:   cfg.Providers,
		callbackURL: cfg.CallbackURL,
		passcodeTTL: cfg.PasscodeTTL,
		httpClient:  cfg.HTTPClient,
		hub:         cfg.Hub,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

func (b *LocalBackend) InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) (err error) {
	defer func() { b.metrics.observe("insert_waitlist_entry", err) }()

	if _, err = b.waitlist.CreateEntry(ctx, entry); err != nil {
		return err
	}
	return nil
}

func (b *LocalBackend) SendOneTimePasscode(ctx context.Context, email string) (err error) {
	defer func() { b.metrics.observe("send_passcode", err) }()

	email = waitlist.NormalizeEmail(email)
	code, err := b.passcodes.Issue(ctx, email)
	if err != nil {
		return apperrors.NewInternalServerError("unable to issue passcode", err)
	}

	if err = b.mailer.SendPasscode(ctx, email, code, b.passcodeTTL); err != nil {
		return apperrors.NewUpstreamError("unable to deliver passcode", err)
	}

	log.GetLoggerInstanceFromContext(ctx, b.logger).Info("Passcode issued", "email", email)
	return nil
}

func (b *LocalBackend) VerifyOneTimePasscode(ctx context.Context, flowID, email, code string) (session Session, err error) {
	defer func() { b.metrics.observe("verify_passcode", err) }()

	email = waitlist.NormalizeEmail(email)
	if err = b.passcodes.Verify(ctx, email, code); err != nil {
		if errors.Is(err, ErrInvalidPasscode) || errors.Is(err, ErrTooManyAttempts) {
			return Session{}, apperrors.NewUnauthorizedError(err.Error(), err)
		}
		return Session{}, apperrors.NewInternalServerError("unable to verify passcode", err)
	}

	session, err = b.signer.Issue(localUserID("email", email), email, "email")
	if err != nil {
		return Session{}, apperrors.NewInternalServerError("unable to create session", err)
	}

	b.hub.Publish(flowID, session)
	return session, nil
}

func (b *LocalBackend) provider(name string) (OAuthProvider, error) {
	p, ok := b.providers[strings.ToLower(name)]
	if !ok {
		return OAuthProvider{}, apperrors.NewInvalidRequestError(fmt.Sprintf("sign-in with %q is not available", name), ErrUnknownProvider)
	}
	return p, nil
}

func (b *LocalBackend) StartOAuthRedirect(ctx context.Context, req OAuthRedirect) (redirectURL string, err error) {
	defer func() { b.metrics.observe("start_oauth", err) }()

	p, err := b.provider(req.Provider)
	if err != nil {
		return "", err
	}
	req.Provider = p.Name

	state, challenge, err := b.states.create(ctx, req)
	if err != nil {
		return "", apperrors.NewInternalServerError("unable to start sign-in", err)
	}

	redirectURL, err = p.authorizeURL(b.callbackURL, state, challenge)
	if err != nil {
		return "", apperrors.NewInternalServerError("unable to start sign-in", err)
	}
	return redirectURL, nil
}

func (b *LocalBackend) CompleteOAuthRedirect(ctx context.Context, state, code string) (completion OAuthCompletion, err error) {
	defer func() { b.metrics.observe("complete_oauth", err) }()

	pending, err := b.states.consume(ctx, state)
	if err != nil {
		return OAuthCompletion{}, apperrors.NewInvalidRequestError("sign-in link is invalid or expired", err)
	}

	p, err := b.provider(pending.Provider)
	if err != nil {
		return OAuthCompletion{}, err
	}

	accessToken, err := p.exchange(ctx, b.httpClient, b.callbackURL, code, pending.CodeVerifier)
	if err != nil {
		return OAuthCompletion{}, apperrors.NewUpstreamError("unable to complete sign-in", err)
	}

	profile, err := p.fetchProfile(ctx, b.httpClient, accessToken)
	if err != nil {
		return OAuthCompletion{}, apperrors.NewUpstreamError("unable to complete sign-in", err)
	}

	session, err := b.signer.Issue(localUserID(p.Name, profile.ProviderUserID), waitlist.NormalizeEmail(profile.Email), p.Name)
	if err != nil {
		return OAuthCompletion{}, apperrors.NewInternalServerError("unable to create session", err)
	}

	b.hub.Publish(pending.FlowID, session)

	return OAuthCompletion{
		FlowID:         pending.FlowID,
		RedirectTarget: pending.RedirectTarget,
		Session:        session,
	}, nil
}

func (b *LocalBackend) SubscribeSessionChanges(flowID string, fn func(Session)) Subscription {
	return b.hub.Subscribe(flowID, fn)
}

func (b *LocalBackend) Ping(ctx context.Context) error {
	return b.waitlist.Ping(ctx)
}

// localUserID derives a stable user ID from an identity so repeat sign-ins map to one user.
func localUserID(provider, subject string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(provider+":"+subject)).String()
}
