package main

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/akeren/waitlist-gate/config"
	"github.com/akeren/waitlist-gate/domain/signup"
	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newPromptFlow(t *testing.T) (*signup.Flow, *backend.MockBackend) {
	t.Helper()

	ctrl := gomock.NewController(t)
	b := backend.NewMockBackend(ctrl)
	sub := backend.NewMockSubscription(ctrl)
	b.EXPECT().SubscribeSessionChanges(gomock.Any(), gomock.Any()).Return(sub)
	sub.EXPECT().Unsubscribe().AnyTimes()

	f := signup.NewFlow("cli-flow", b, signup.Config{}, log.NewDiscardLogger())
	t.Cleanup(f.Close)
	return f, b
}

func TestPromptSignup_Accepted(t *testing.T) {
	f, b := newPromptFlow(t)
	b.EXPECT().InsertWaitlistEntry(gomock.Any(), gomock.Any()).Return(nil)

	var out bytes.Buffer
	err := promptSignup(f, bufio.NewScanner(strings.NewReader("y\nada@gmail.com\n@ada\n")), &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "https://x.com/Zumolabs_xyz")
	assert.Contains(t, out.String(), "[success] Success!")
}

func TestPromptSignup_SkippingFollowIsReported(t *testing.T) {
	f, _ := newPromptFlow(t)

	var out bytes.Buffer
	err := promptSignup(f, bufio.NewScanner(strings.NewReader("n\nada@gmail.com\n\n")), &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Follow required")
}

func TestPromptSignup_ConflictIsNotAnError(t *testing.T) {
	f, b := newPromptFlow(t)
	b.EXPECT().
		InsertWaitlistEntry(gomock.Any(), gomock.Any()).
		Return(apperrors.NewConflictError("waitlist entry with this email already exists", nil))

	var out bytes.Buffer
	err := promptSignup(f, bufio.NewScanner(strings.NewReader("\ntaken@gmail.com\n\n")), &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Already registered")
}

func TestRunSignup_LocalBackendOverSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waitlist.db")
	t.Setenv("DB_DRIVER", config.DBDriverSQLite)
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("BACKEND_MODE", config.BackendModeLocal)
	t.Setenv("SESSION_SIGNING_KEY", "cli-signing-key-0123456789abcdef0123")

	logger := log.NewDiscardLogger()
	db, err := config.NewDatabase(logger, nil)
	require.NoError(t, err)
	require.NoError(t, config.AutoMigrate(logger, db, models.ModelRegistry...))
	config.CloseDatabase(db, logger)

	var out bytes.Buffer
	require.NoError(t, RunSignup(logger, strings.NewReader("y\nAda@Gmail.com\n@ada\n"), &out))
	assert.Contains(t, out.String(), "[success] Success!")

	db, err = config.NewDatabase(logger, nil)
	require.NoError(t, err)
	defer config.CloseDatabase(db, logger)

	var entry models.WaitlistEntry
	require.NoError(t, db.Where("email = ?", "ada@gmail.com").First(&entry).Error)
	assert.Equal(t, "waitlist-gate-cli", entry.UserAgent)
}
