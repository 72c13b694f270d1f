package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/akeren/waitlist-gate/domain/waitlist"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestWriteStats(t *testing.T) {
	ctx := context.Background()

	t.Run("count only", func(t *testing.T) {
		repo := waitlist.NewMockWaitlistRepository(gomock.NewController(t))
		repo.EXPECT().CountEntries(gomock.Any()).Return(int64(42), nil)

		var out bytes.Buffer
		require.NoError(t, writeStats(ctx, waitlist.NewWaitlistService(log.NewDiscardLogger(), repo), "", &out))
		assert.Equal(t, "waitlist entries: 42\n", out.String())
	})

	t.Run("email on the waitlist", func(t *testing.T) {
		repo := waitlist.NewMockWaitlistRepository(gomock.NewController(t))
		repo.EXPECT().CountEntries(gomock.Any()).Return(int64(1), nil)
		repo.EXPECT().FindEntryByEmail(gomock.Any(), "ada@gmail.com").Return(&models.WaitlistEntry{
			ID:        1,
			Email:     "ada@gmail.com",
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}, nil)

		var out bytes.Buffer
		require.NoError(t, writeStats(ctx, waitlist.NewWaitlistService(log.NewDiscardLogger(), repo), " Ada@Gmail.com", &out))
		assert.Contains(t, out.String(), "ada@gmail.com: joined 2026-03-01T12:00:00Z")
	})

	t.Run("email not on the waitlist", func(t *testing.T) {
		repo := waitlist.NewMockWaitlistRepository(gomock.NewController(t))
		repo.EXPECT().CountEntries(gomock.Any()).Return(int64(0), nil)
		repo.EXPECT().FindEntryByEmail(gomock.Any(), "new@gmail.com").
			Return(nil, apperrors.NewNotFoundError("waitlist entry not found", nil))

		var out bytes.Buffer
		require.NoError(t, writeStats(ctx, waitlist.NewWaitlistService(log.NewDiscardLogger(), repo), "new@gmail.com", &out))
		assert.Contains(t, out.String(), "new@gmail.com: not on the waitlist")
	})
}
