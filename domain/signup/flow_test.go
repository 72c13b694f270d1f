package signup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type flowFixture struct {
	flow    *Flow
	backend *backend.MockBackend
	sub     *backend.MockSubscription
	publish func(backend.Session)
}

func newFlowFixture(t *testing.T, allow *DomainAllowList) *flowFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	fx := &flowFixture{
		backend: backend.NewMockBackend(ctrl),
		sub:     backend.NewMockSubscription(ctrl),
	}

	fx.backend.EXPECT().
		SubscribeSessionChanges("flow-1", gomock.Any()).
		DoAndReturn(func(_ string, fn func(backend.Session)) backend.Subscription {
			fx.publish = fn
			return fx.sub
		})

	fx.flow = NewFlow("flow-1", fx.backend, Config{AllowList: allow}, log.NewDiscardLogger())
	return fx
}

func TestFlow_EmptyEmailNeverCallsBackend(t *testing.T) {
	for _, following := range []bool{false, true} {
		fx := newFlowFixture(t, NewDomainAllowList(nil))
		if following {
			_, err := fx.flow.Follow()
			require.NoError(t, err)
		}

		n, err := fx.flow.Submit(context.Background(), Submission{Email: "   "})

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, ReasonEmailRequired, ve.Reason)
		assert.Equal(t, VariantDestructive, n.Variant)
		assert.Equal(t, "Email required", n.Title)
	}
}

func TestFlow_FollowRequiredBeforeSubmit(t *testing.T) {
	fx := newFlowFixture(t, NewDomainAllowList(nil))

	for _, email := range []string{"new@gmail.com", "user@example.com", "not-an-email"} {
		n, err := fx.flow.Submit(context.Background(), Submission{Email: email})

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, ReasonFollowRequired, ve.Reason)
		assert.Equal(t, "Please follow us on Twitter first.", n.Description)
	}
	assert.Equal(t, StateIdle, fx.flow.State())
}

func TestFlow_DomainAllowList(t *testing.T) {
	fx := newFlowFixture(t, NewDomainAllowList(nil))
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	t.Run("rejects unlisted domain before any remote call", func(t *testing.T) {
		n, err := fx.flow.Submit(context.Background(), Submission{Email: "user@example.com"})

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, ReasonDomainNotAllowed, ve.Reason)
		assert.Equal(t, "Email not allowed", n.Title)
		assert.Equal(t, StateFollowing, fx.flow.State())
	})

	t.Run("major providers pass", func(t *testing.T) {
		for _, email := range []string{"user@gmail.com", "user@outlook.com", "user@yahoo.com"} {
			fx.backend.EXPECT().InsertWaitlistEntry(gomock.Any(), gomock.Any()).Return(nil)

			_, err := fx.flow.Submit(context.Background(), Submission{Email: email})
			require.NoError(t, err, email)
			require.NoError(t, fx.flow.Dismiss())
		}
	})
}

func TestFlow_ConflictReturnsToFollowing(t *testing.T) {
	fx := newFlowFixture(t, NewDomainAllowList(nil))
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	fx.backend.EXPECT().
		InsertWaitlistEntry(gomock.Any(), gomock.Any()).
		Return(apperrors.NewConflictError("waitlist entry with this email already exists", nil))

	n, err := fx.flow.Submit(context.Background(), Submission{Email: "taken@gmail.com"})

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "taken@gmail.com", ce.Email)
	assert.Equal(t, "Already registered", n.Title)
	assert.Equal(t, VariantDestructive, n.Variant)
	assert.Equal(t, StateFollowing, fx.flow.State())
	assert.False(t, fx.flow.Snapshot().Submitted)
}

func TestFlow_SuccessfulSubmitInsertsOnce(t *testing.T) {
	fx := newFlowFixture(t, NewDomainAllowList(nil))
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	fx.backend.EXPECT().
		InsertWaitlistEntry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e *models.WaitlistEntry) error {
			assert.Equal(t, "new@gmail.com", e.Email)
			assert.Equal(t, "@ada", e.TwitterHandle)
			assert.True(t, e.IsFollowingTwitter)
			assert.Nil(t, e.IPAddress)
			assert.Equal(t, "Mozilla/5.0", e.UserAgent)
			return nil
		}).
		Times(1)

	n, err := fx.flow.Submit(context.Background(), Submission{
		Email:         " new@gmail.com ",
		TwitterHandle: " @ada ",
		UserAgent:     "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.Equal(t, VariantSuccess, n.Variant)
	assert.Equal(t, "Success!", n.Title)
	assert.Equal(t, StateSubmitted, fx.flow.State())

	_, err = fx.flow.Submit(context.Background(), Submission{Email: "new@gmail.com"})
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, StateSubmitted, fx.flow.State())
}

func TestFlow_UnknownFailureIsGeneric(t *testing.T) {
	fx := newFlowFixture(t, nil)
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	fx.backend.EXPECT().
		InsertWaitlistEntry(gomock.Any(), gomock.Any()).
		Return(apperrors.NewUpstreamError("waitlist backend request failed", errors.New("dial tcp: connection refused")))

	n, err := fx.flow.Submit(context.Background(), Submission{Email: "user@example.com"})

	var ue *UnknownError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Something went wrong. Please try again.", n.Description)
	assert.NotContains(t, n.Description, "connection refused")
	assert.Equal(t, StateFollowing, fx.flow.State())
}

func TestFlow_RejectedAddressIsValidationError(t *testing.T) {
	fx := newFlowFixture(t, nil)
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	fx.backend.EXPECT().
		InsertWaitlistEntry(gomock.Any(), gomock.Any()).
		Return(apperrors.NewInvalidRequestError("invalid email format", errors.New("mail: expected single address")))

	n, err := fx.flow.Submit(context.Background(), Submission{Email: "a b@example.com"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonEmailInvalid, ve.Reason)
	assert.Equal(t, "Please enter a valid email address.", n.Description)
	assert.Equal(t, StateFollowing, fx.flow.State())
}

func TestFlow_SecondSubmitWhileInFlightMakesNoCall(t *testing.T) {
	fx := newFlowFixture(t, NewDomainAllowList(nil))
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})

	fx.backend.EXPECT().
		InsertWaitlistEntry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *models.WaitlistEntry) error {
			close(entered)
			<-release
			return nil
		}).
		Times(1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := fx.flow.Submit(context.Background(), Submission{Email: "new@gmail.com"})
		assert.NoError(t, err)
	}()

	<-entered
	assert.Equal(t, StateSubmitting, fx.flow.State())

	_, err = fx.flow.Submit(context.Background(), Submission{Email: "new@gmail.com"})
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(release)
	wg.Wait()
	assert.Equal(t, StateSubmitted, fx.flow.State())
}

func TestFlow_FollowIsIdempotent(t *testing.T) {
	fx := newFlowFixture(t, nil)

	first, err := fx.flow.Follow()
	require.NoError(t, err)
	second, err := fx.flow.Follow()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, fx.flow.Snapshot().Following)
	assert.Equal(t, StateFollowing, fx.flow.State())
}

func TestFlow_CloseReleasesSubscriptionOnce(t *testing.T) {
	fx := newFlowFixture(t, nil)
	fx.sub.EXPECT().Unsubscribe().Times(1)

	fx.flow.Close()
	fx.flow.Close()

	_, err := fx.flow.Follow()
	assert.ErrorIs(t, err, ErrFlowClosed)
	_, err = fx.flow.Submit(context.Background(), Submission{Email: "new@gmail.com"})
	assert.ErrorIs(t, err, ErrFlowClosed)

	fx.publish(backend.Session{Email: "late@gmail.com"})
	_, ok := fx.flow.Session()
	assert.False(t, ok)
}

func TestFlow_SessionChangeIsHeldOnFlow(t *testing.T) {
	fx := newFlowFixture(t, nil)

	fx.publish(backend.Session{
		UserID:      "user-1",
		Email:       "ada@gmail.com",
		Provider:    "google",
		AccessToken: "secret-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	s, ok := fx.flow.Session()
	require.True(t, ok)
	assert.Equal(t, "secret-token", s.AccessToken)

	snap := fx.flow.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "ada@gmail.com", snap.Session.Email)
	assert.Empty(t, snap.Session.AccessToken)
	require.NotNil(t, snap.Notification)
	assert.Equal(t, VariantSuccess, snap.Notification.Variant)
}

func TestFlow_DismissAllowsAnotherSubmission(t *testing.T) {
	fx := newFlowFixture(t, nil)
	_, err := fx.flow.Follow()
	require.NoError(t, err)

	fx.backend.EXPECT().InsertWaitlistEntry(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	_, err = fx.flow.Submit(context.Background(), Submission{Email: "a@gmail.com"})
	require.NoError(t, err)
	require.NoError(t, fx.flow.Dismiss())
	assert.Equal(t, StateFollowing, fx.flow.State())
	assert.Nil(t, fx.flow.Snapshot().Notification)

	_, err = fx.flow.Submit(context.Background(), Submission{Email: "b@gmail.com"})
	require.NoError(t, err)
}

func TestFlow_FormVisibility(t *testing.T) {
	fx := newFlowFixture(t, nil)

	require.NoError(t, fx.flow.SetFormVisible(true))
	assert.True(t, fx.flow.Snapshot().FormVisible)
	require.NoError(t, fx.flow.SetFormVisible(false))
	assert.False(t, fx.flow.Snapshot().FormVisible)
}

func TestFlow_Passcode(t *testing.T) {
	fx := newFlowFixture(t, nil)

	t.Run("email required", func(t *testing.T) {
		_, err := fx.flow.RequestPasscode(context.Background(), "")
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("request sends code", func(t *testing.T) {
		fx.backend.EXPECT().SendOneTimePasscode(gomock.Any(), "ada@gmail.com").Return(nil)

		n, err := fx.flow.RequestPasscode(context.Background(), " ada@gmail.com ")
		require.NoError(t, err)
		assert.Equal(t, VariantInfo, n.Variant)
		assert.Contains(t, n.Description, "ada@gmail.com")
	})

	t.Run("invalid code", func(t *testing.T) {
		fx.backend.EXPECT().
			VerifyOneTimePasscode(gomock.Any(), "flow-1", "ada@gmail.com", "000000").
			Return(backend.Session{}, apperrors.NewUnauthorizedError("passcode is invalid or expired", backend.ErrInvalidPasscode))

		n, err := fx.flow.VerifyPasscode(context.Background(), "ada@gmail.com", "000000")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))
		assert.Equal(t, "Invalid code", n.Title)
	})

	t.Run("valid code", func(t *testing.T) {
		fx.backend.EXPECT().
			VerifyOneTimePasscode(gomock.Any(), "flow-1", "ada@gmail.com", "123456").
			DoAndReturn(func(_ context.Context, flowID, email, _ string) (backend.Session, error) {
				s := backend.Session{Email: email, Provider: "email"}
				fx.publish(s)
				return s, nil
			})

		n, err := fx.flow.VerifyPasscode(context.Background(), "ada@gmail.com", "123456")
		require.NoError(t, err)
		assert.Equal(t, VariantSuccess, n.Variant)

		s, ok := fx.flow.Session()
		require.True(t, ok)
		assert.Equal(t, "ada@gmail.com", s.Email)
	})
}

func TestFlow_StartOAuth(t *testing.T) {
	fx := newFlowFixture(t, nil)

	fx.backend.EXPECT().
		StartOAuthRedirect(gomock.Any(), backend.OAuthRedirect{FlowID: "flow-1", Provider: "google", RedirectTarget: "/welcome"}).
		Return("https://accounts.example.com/authorize?state=abc", nil)

	redirectURL, err := fx.flow.StartOAuth(context.Background(), " Google ", "/welcome")
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.example.com/authorize?state=abc", redirectURL)

	snap := fx.flow.Snapshot()
	require.NotNil(t, snap.Notification)
	assert.Contains(t, snap.Notification.Description, "Google")
}
