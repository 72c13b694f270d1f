package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/akeren/waitlist-gate/domain/waitlist"
	"github.com/akeren/waitlist-gate/internal/models"
	"github.com/akeren/waitlist-gate/pkg/cache"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWaitlistStore struct {
	mu      sync.Mutex
	entries map[string]*models.WaitlistEntry
}

func (f *fakeWaitlistStore) CreateEntry(_ context.Context, entry *models.WaitlistEntry) (*waitlist.WaitlistEntryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[entry.Email]; exists {
		return nil, apperrors.NewConflictError("waitlist entry with this email already exists", nil)
	}
	f.entries[entry.Email] = entry
	resp := waitlist.ToWaitlistEntryResponse(entry)
	return &resp, nil
}

func (f *fakeWaitlistStore) Ping(context.Context) error { return nil }

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendPasscode(_ context.Context, to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[to] = code
	return nil
}

func newTestLocalBackend(t *testing.T, providers map[string]OAuthProvider) (*LocalBackend, *captureMailer) {
	t.Helper()

	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	signer, err := NewTokenSigner([]byte("test-signing-key-0123456789abcdef"), "waitlist-gate", time.Hour)
	require.NoError(t, err)

	mailer := &captureMailer{codes: map[string]string{}}
	b, err := NewLocalBackend(LocalConfig{
		Waitlist:            &fakeWaitlistStore{entries: map[string]*models.WaitlistEntry{}},
		Store:               mem,
		Mailer:              mailer,
		Signer:              signer,
		Providers:           providers,
		CallbackURL:         "https://api.example.com/v1/auth/callback",
		PasscodeTTL:         10 * time.Minute,
		PasscodeMaxAttempts: 5,
		PasscodeDigits:      6,
		OAuthStateTTL:       10 * time.Minute,
	})
	require.NoError(t, err)
	return b, mailer
}

func TestLocalBackend_InsertConflict(t *testing.T) {
	b, _ := newTestLocalBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.InsertWaitlistEntry(ctx, &models.WaitlistEntry{Email: "ada@gmail.com"}))

	err := b.InsertWaitlistEntry(ctx, &models.WaitlistEntry{Email: "ada@gmail.com"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestLocalBackend_PasscodeSignInPublishesSession(t *testing.T) {
	b, mailer := newTestLocalBackend(t, nil)
	ctx := context.Background()

	var received []Session
	sub := b.SubscribeSessionChanges("flow-1", func(s Session) { received = append(received, s) })
	defer sub.Unsubscribe()

	require.NoError(t, b.SendOneTimePasscode(ctx, "Ada@Gmail.com"))
	code := mailer.codes["ada@gmail.com"]
	require.Len(t, code, 6)

	_, err := b.VerifyOneTimePasscode(ctx, "flow-1", "ada@gmail.com", "not-it")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))
	assert.Empty(t, received)

	session, err := b.VerifyOneTimePasscode(ctx, "flow-1", "ada@gmail.com", code)
	require.NoError(t, err)
	assert.Equal(t, "ada@gmail.com", session.Email)
	assert.Equal(t, "email", session.Provider)
	require.Len(t, received, 1)
	assert.Equal(t, session, received[0])

	claims, err := b.signer.Verify(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, claims.Subject)
}

func TestLocalBackend_OAuthRoundTrip(t *testing.T) {
	var gotVerifier string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "the-code", r.PostForm.Get("code"))
			gotVerifier = r.PostForm.Get("code_verifier")
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "provider-token"})
		case "/user":
			assert.Equal(t, "Bearer provider-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 4242, "email": "Grace@Example.com"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer provider.Close()

	b, _ := newTestLocalBackend(t, map[string]OAuthProvider{
		"github": {
			Name:        "github",
			ClientID:    "client-id",
			AuthURL:     provider.URL + "/authorize",
			TokenURL:    provider.URL + "/token",
			UserInfoURL: provider.URL + "/user",
			Scopes:      []string{"read:user"},
		},
	})
	ctx := context.Background()

	var received []Session
	b.SubscribeSessionChanges("flow-9", func(s Session) { received = append(received, s) })

	redirect, err := b.StartOAuthRedirect(ctx, OAuthRedirect{FlowID: "flow-9", Provider: "GitHub", RedirectTarget: "https://zumolabs.xyz"})
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "https://api.example.com/v1/auth/callback", q.Get("redirect_uri"))
	state := q.Get("state")
	require.NotEmpty(t, state)

	completion, err := b.CompleteOAuthRedirect(ctx, state, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "flow-9", completion.FlowID)
	assert.Equal(t, "https://zumolabs.xyz", completion.RedirectTarget)
	assert.Equal(t, "grace@example.com", completion.Session.Email)
	assert.Equal(t, q.Get("code_challenge"), ComputeS256Challenge(gotVerifier))
	require.Len(t, received, 1)

	// State is single use.
	_, err = b.CompleteOAuthRedirect(ctx, state, "the-code")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidRequest))
}

func TestLocalBackend_UnknownProvider(t *testing.T) {
	b, _ := newTestLocalBackend(t, nil)

	_, err := b.StartOAuthRedirect(context.Background(), OAuthRedirect{FlowID: "f", Provider: "myspace"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidRequest))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
