package signup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	"github.com/akeren/waitlist-gate/pkg/constants"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/akeren/waitlist-gate/domain/signup"

type State int

const (
	StateIdle State = iota
	StateFollowing
	StateSubmitting
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFollowing:
		return "following"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateIdle, StateFollowing, StateSubmitting, StateSubmitted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown signup state %q", text)
}

type Config struct {
	// FollowURL is the social profile opened by the follow action.
	FollowURL string
	// AllowList restricts email domains; nil disables the restriction.
	AllowList *DomainAllowList
	Metrics   *Metrics
}

type Submission struct {
	Email         string
	TwitterHandle string
	UserAgent     string
}

// Snapshot is a point-in-time view of a flow.
type Snapshot struct {
	ID           string           `json:"id"`
	State        State            `json:"state"`
	Following    bool             `json:"following"`
	Submitted    bool             `json:"submitted"`
	FormVisible  bool             `json:"form_visible"`
	Session      *backend.Session `json:"session,omitempty"`
	Notification *Notification    `json:"notification,omitempty"`
}

// Flow is one visitor's signup state machine. All methods are safe for
// concurrent use; at most one insert is in flight at a time.
type Flow struct {
	id      string
	cfg     Config
	backend backend.Backend
	logger  *log.Logger
	now     func() time.Time

	mu           sync.Mutex
	following    bool
	submitting   bool
	submitted    bool
	formVisible  bool
	closed       bool
	session      *backend.Session
	notification *Notification
	lastActive   time.Time

	sub       backend.Subscription
	closeOnce sync.Once
}

// NewFlow mounts a flow and subscribes it to session changes for id.
func NewFlow(id string, b backend.Backend, cfg Config, logger *log.Logger) *Flow {
	if cfg.FollowURL == "" {
		cfg.FollowURL = constants.DefaultFollowURL
	}
	if logger == nil {
		logger = log.NewDiscardLogger()
	}

	f := &Flow{
		id:      id,
		cfg:     cfg,
		backend: b,
		logger:  logger.With("flow_id", id),
		now:     time.Now,
	}
	f.lastActive = f.now()
	f.sub = b.SubscribeSessionChanges(id, f.onSessionChange)
	return f
}

func (f *Flow) ID() string { return f.id }

func (f *Flow) onSessionChange(s backend.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.session = &s
	n := notifySignedIn(s.Email)
	f.notification = &n
	f.lastActive = f.now()
	f.logger.Info("Session changed", "provider", s.Provider)
}

// state must be called with f.mu held.
func (f *Flow) state() State {
	switch {
	case f.submitted:
		return StateSubmitted
	case f.submitting:
		return StateSubmitting
	case f.following:
		return StateFollowing
	default:
		return StateIdle
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state()
}

// Follow marks the follow gate as satisfied and returns the profile URL to open.
// The follow itself is never verified.
func (f *Flow) Follow() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", ErrFlowClosed
	}
	f.lastActive = f.now()

	if !f.following {
		f.following = true
		f.cfg.Metrics.followed()
		f.logger.Debug("Follow gate satisfied")
	}
	return f.cfg.FollowURL, nil
}

// SetFormVisible shows or hides the signup form.
func (f *Flow) SetFormVisible(visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFlowClosed
	}
	f.formVisible = visible
	f.lastActive = f.now()
	return nil
}

// precheck validates a submission in order and claims the in-flight slot. It
// must be called with f.mu held.
func (f *Flow) precheck(email string) (Notification, error) {
	switch {
	case f.closed:
		return Notification{}, ErrFlowClosed
	case f.submitting:
		return Notification{}, ErrSubmissionInFlight
	case f.submitted:
		return Notification{}, ErrAlreadySubmitted
	case email == "":
		return notifyEmailRequired, &ValidationError{Reason: ReasonEmailRequired}
	case !f.following:
		return notifyFollowRequired, &ValidationError{Reason: ReasonFollowRequired}
	case !f.cfg.AllowList.Allows(email):
		return notifyDomainNotAllowed, &ValidationError{Reason: ReasonDomainNotAllowed}
	}

	f.submitting = true
	return Notification{}, nil
}

// Submit inserts the waitlist entry. Exactly one notification describes the outcome.
func (f *Flow) Submit(ctx context.Context, s Submission) (Notification, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "signup.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("signup.flow_id", f.id))

	logger := f.loggerFor(ctx)
	email := strings.TrimSpace(s.Email)

	f.mu.Lock()
	f.lastActive = f.now()
	n, err := f.precheck(email)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			f.notification = &n
			f.cfg.Metrics.submission("invalid")
		}
		f.mu.Unlock()
		span.SetAttributes(attribute.String("signup.outcome", err.Error()))
		return n, err
	}
	f.mu.Unlock()

	insertErr := f.backend.InsertWaitlistEntry(ctx, &models.WaitlistEntry{
		Email:              email,
		TwitterHandle:      strings.TrimSpace(s.TwitterHandle),
		IsFollowingTwitter: true,
		IPAddress:          nil,
		UserAgent:          s.UserAgent,
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitting = false
	f.lastActive = f.now()

	switch {
	case insertErr == nil:
		n, err = notifySubmitted, nil
		f.submitted = true
		f.cfg.Metrics.submission("accepted")
		logger.Info("Waitlist signup accepted")
	case apperrors.IsType(insertErr, apperrors.ErrorTypeConflict):
		n, err = notifyAlreadyRegistered, &ConflictError{Email: email, Err: insertErr}
		f.cfg.Metrics.submission("conflict")
		logger.Info("Waitlist signup already registered")
	case apperrors.IsType(insertErr, apperrors.ErrorTypeInvalidRequest):
		n, err = notifyEmailInvalid, &ValidationError{Reason: ReasonEmailInvalid}
		f.cfg.Metrics.submission("invalid")
		logger.Info("Waitlist signup rejected as invalid", "error", insertErr)
	default:
		n, err = notifyGenericError, &UnknownError{Err: insertErr}
		f.cfg.Metrics.submission("error")
		logger.Error("Error submitting waitlist entry", "error", insertErr)
		span.RecordError(insertErr)
		span.SetStatus(codes.Error, "insert failed")
	}

	f.notification = &n
	return n, err
}

// Dismiss closes the confirmation so the visitor may submit again.
func (f *Flow) Dismiss() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFlowClosed
	}
	f.submitted = false
	f.notification = nil
	f.lastActive = f.now()
	return nil
}

// RequestPasscode asks the backend to email a one-time sign-in code.
func (f *Flow) RequestPasscode(ctx context.Context, email string) (Notification, error) {
	email = strings.TrimSpace(email)

	if f.isClosed() {
		return Notification{}, ErrFlowClosed
	}
	if email == "" {
		f.setNotification(notifyEmailRequired)
		return notifyEmailRequired, &ValidationError{Reason: ReasonEmailRequired}
	}

	if err := f.backend.SendOneTimePasscode(ctx, email); err != nil {
		f.loggerFor(ctx).Error("Error sending passcode", "error", err)
		f.setNotification(notifyGenericError)
		return notifyGenericError, &UnknownError{Err: err}
	}

	n := notifyPasscodeSent(email)
	f.setNotification(n)
	return n, nil
}

// VerifyPasscode completes a passcode sign-in. The session reaches the flow
// through its subscription.
func (f *Flow) VerifyPasscode(ctx context.Context, email, code string) (Notification, error) {
	email = strings.TrimSpace(email)

	if f.isClosed() {
		return Notification{}, ErrFlowClosed
	}
	if email == "" {
		f.setNotification(notifyEmailRequired)
		return notifyEmailRequired, &ValidationError{Reason: ReasonEmailRequired}
	}

	session, err := f.backend.VerifyOneTimePasscode(ctx, f.id, email, strings.TrimSpace(code))
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeUnauthorized) {
			f.setNotification(notifyInvalidPasscode)
			return notifyInvalidPasscode, err
		}
		f.loggerFor(ctx).Error("Error verifying passcode", "error", err)
		f.setNotification(notifyGenericError)
		return notifyGenericError, &UnknownError{Err: err}
	}

	return notifySignedIn(session.Email), nil
}

// StartOAuth returns the provider URL that continues sign-in.
func (f *Flow) StartOAuth(ctx context.Context, provider, redirectTarget string) (string, error) {
	if f.isClosed() {
		return "", ErrFlowClosed
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	redirectURL, err := f.backend.StartOAuthRedirect(ctx, backend.OAuthRedirect{
		FlowID:         f.id,
		Provider:       provider,
		RedirectTarget: redirectTarget,
	})
	if err != nil {
		f.loggerFor(ctx).Warn("Unable to start OAuth sign-in", "provider", provider, "error", err)
		return "", err
	}

	f.setNotification(notifyRedirecting(provider))
	return redirectURL, nil
}

// Session returns the signed-in identity, if any.
func (f *Flow) Session() (backend.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		return backend.Session{}, false
	}
	return *f.session, true
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := Snapshot{
		ID:          f.id,
		State:       f.state(),
		Following:   f.following,
		Submitted:   f.submitted,
		FormVisible: f.formVisible,
	}
	if f.session != nil {
		s := *f.session
		s.AccessToken = ""
		snap.Session = &s
	}
	if f.notification != nil {
		n := *f.notification
		snap.Notification = &n
	}
	return snap
}

// LastActive reports when the flow was last touched.
func (f *Flow) LastActive() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActive
}

// Close tears the flow down and releases its session subscription exactly once.
func (f *Flow) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		if f.sub != nil {
			f.sub.Unsubscribe()
		}
		f.logger.Debug("Signup flow closed")
	})
}

// loggerFor prefers the request-scoped logger so flow logs carry the correlation ID.
func (f *Flow) loggerFor(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(log.LoggerKeyForContext).(*log.Logger); ok {
		return l.With("flow_id", f.id)
	}
	return f.logger
}

func (f *Flow) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Flow) setNotification(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notification = &n
	f.lastActive = f.now()
}
