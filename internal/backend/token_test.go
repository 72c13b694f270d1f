package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSigner_IssueAndVerify(t *testing.T) {
	signer, err := NewTokenSigner([]byte("test-signing-key-0123456789abcdef"), "waitlist-gate", time.Hour)
	require.NoError(t, err)

	session, err := signer.Issue("user-1", "ada@gmail.com", "github")
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.NotEmpty(t, session.AccessToken)

	claims, err := signer.Verify(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ada@gmail.com", claims.Email)
	assert.Equal(t, "github", claims.Provider)
}

func TestTokenSigner_RejectsExpiredAndForeignTokens(t *testing.T) {
	signer, err := NewTokenSigner([]byte("test-signing-key-0123456789abcdef"), "waitlist-gate", time.Minute)
	require.NoError(t, err)

	session, err := signer.Issue("user-1", "ada@gmail.com", "email")
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Minute)
	signer.now = func() time.Time { return later }
	_, err = signer.Verify(session.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenSigner([]byte("another-key-0123456789abcdef0000"), "waitlist-gate", time.Minute)
	require.NoError(t, err)
	_, err = other.Verify(session.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenSigner_RequiresKey(t *testing.T) {
	_, err := NewTokenSigner(nil, "", time.Minute)
	assert.Error(t, err)
}
