// Package backend is the narrow capability the signup flow uses to persist
// waitlist entries and to authenticate visitors. Two implementations exist: a
// client for a hosted data/auth service and a self-hosted backend over the
// service's own database.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/akeren/waitlist-gate/internal/models"
)

//go:generate mockgen -source=backend.go -destination=mock_backend.go -package=backend

var (
	ErrUnknownProvider   = errors.New("unknown oauth provider")
	ErrInvalidOAuthState = errors.New("oauth state is invalid or expired")
	ErrInvalidPasscode   = errors.New("passcode is invalid or expired")
	ErrTooManyAttempts   = errors.New("too many passcode attempts")
)

// Session is an authenticated identity delivered to a flow through its
// session-change subscription.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Provider    string    `json:"provider"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type OAuthRedirect struct {
	FlowID   string
	Provider string
	// RedirectTarget is where the visitor lands once sign-in completes.
	RedirectTarget string
}

// OAuthCompletion is the result of a provider callback.
type OAuthCompletion struct {
	FlowID         string
	RedirectTarget string
	Session        Session
}

type Subscription interface {
	// Unsubscribe is idempotent.
	Unsubscribe()
}

type Backend interface {
	// InsertWaitlistEntry stores one signup. A duplicate email fails with a CONFLICT AppError.
	InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error

	// SendOneTimePasscode starts a passwordless sign-in for email.
	SendOneTimePasscode(ctx context.Context, email string) error

	// VerifyOneTimePasscode completes a passwordless sign-in and publishes the session to flowID.
	VerifyOneTimePasscode(ctx context.Context, flowID, email, code string) (Session, error)

	// StartOAuthRedirect returns the provider URL the visitor must be sent to.
	StartOAuthRedirect(ctx context.Context, req OAuthRedirect) (string, error)

	// CompleteOAuthRedirect exchanges the provider code and publishes the session to the originating flow.
	CompleteOAuthRedirect(ctx context.Context, state, code string) (OAuthCompletion, error)

	// SubscribeSessionChanges registers fn for sessions published to flowID.
	SubscribeSessionChanges(flowID string, fn func(Session)) Subscription

	Ping(ctx context.Context) error
}

// Store is the subset of the application cache the backends keep short-lived secrets in.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Take returns and deletes key in one step; "" means absent.
	Take(ctx context.Context, key string) (string, error)
	// Incr adds one to the counter at key and returns the new value. ttl is
	// applied when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}
