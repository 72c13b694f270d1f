package waitlist

import (
	"context"
	"errors"

	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"gorm.io/gorm"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=waitlist

type WaitlistRepository interface {
	// CreateEntry persists a new waitlist entry; a duplicate email yields a CONFLICT error.
	CreateEntry(ctx context.Context, entry *models.WaitlistEntry) (*models.WaitlistEntry, error)
	// FindEntryByEmail retrieves a waitlist entry by its email.
	FindEntryByEmail(ctx context.Context, email string) (*models.WaitlistEntry, error)
	// CountEntries returns the number of signups.
	CountEntries(ctx context.Context) (int64, error)
	// Ping checks that the underlying database is reachable.
	Ping(ctx context.Context) error
}

type waitlistRepository struct {
	db *gorm.DB
}

func NewWaitlistRepository(db *gorm.DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

func (wr *waitlistRepository) CreateEntry(ctx context.Context, entry *models.WaitlistEntry) (*models.WaitlistEntry, error) {
	if err := wr.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, apperrors.NewConflictError("waitlist entry with this email already exists", err)
		}
		return nil, apperrors.NewDatabaseError("unable to create waitlist entry", err)
	}

	return entry, nil
}

func (wr *waitlistRepository) FindEntryByEmail(ctx context.Context, email string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry

	if err := wr.db.WithContext(ctx).Where("email = ?", email).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("waitlist entry not found", err)
		}
		return nil, apperrors.NewDatabaseError("failed to fetch waitlist entry", err)
	}

	return &entry, nil
}

func (wr *waitlistRepository) CountEntries(ctx context.Context) (int64, error) {
	var total int64

	if err := wr.db.WithContext(ctx).Model(&models.WaitlistEntry{}).Count(&total).Error; err != nil {
		return 0, apperrors.NewDatabaseError("unable to count waitlist entries", err)
	}

	return total, nil
}

func (wr *waitlistRepository) Ping(ctx context.Context) error {
	sqlDB, err := wr.db.DB()
	if err != nil {
		return apperrors.NewDatabaseError("database handle unavailable", err)
	}
	return sqlDB.PingContext(ctx)
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || apperrors.IsDuplicateKeyError(err)
}
