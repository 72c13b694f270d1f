package waitlist

import (
	"context"
	"testing"

	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteRepository(t *testing.T) WaitlistRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.ModelRegistry...))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive for the whole test.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return NewWaitlistRepository(db)
}

func TestWaitlistRepository_UniqueEmail(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	created, err := repo.CreateEntry(ctx, &models.WaitlistEntry{Email: "ada@gmail.com", IsFollowingTwitter: true})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = repo.CreateEntry(ctx, &models.WaitlistEntry{Email: "ada@gmail.com"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	total, err := repo.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestWaitlistRepository_FindEntryByEmail(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	_, err := repo.FindEntryByEmail(ctx, "missing@gmail.com")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = repo.CreateEntry(ctx, &models.WaitlistEntry{Email: "grace@outlook.com", UserAgent: "curl/8"})
	require.NoError(t, err)

	entry, err := repo.FindEntryByEmail(ctx, "grace@outlook.com")
	require.NoError(t, err)
	assert.Equal(t, "curl/8", entry.UserAgent)
	assert.Nil(t, entry.IPAddress)

	assert.NoError(t, repo.Ping(ctx))
}
