package waitlist

import (
	"context"
	"net/mail"
	"strings"

	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
)

type WaitlistService interface {
	// CreateEntry stores a signup. Uniqueness is left to the database index.
	CreateEntry(ctx context.Context, entry *models.WaitlistEntry) (*WaitlistEntryResponse, error)

	// FindEntryByEmail retrieves a waitlist entry by email.
	FindEntryByEmail(ctx context.Context, email string) (*WaitlistEntryResponse, error)

	// GetStats reports public waitlist figures.
	GetStats(ctx context.Context) (*WaitlistStatsResponse, error)

	Ping(ctx context.Context) error
}

type waitlistService struct {
	logger     *log.Logger
	repository WaitlistRepository
}

func NewWaitlistService(logger *log.Logger, repository WaitlistRepository) WaitlistService {
	return &waitlistService{logger: logger, repository: repository}
}

// NormalizeEmail trims and lowercases an address so the unique index sees one spelling per mailbox.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *waitlistService) CreateEntry(ctx context.Context, entry *models.WaitlistEntry) (*WaitlistEntryResponse, error) {
	logger := log.GetLoggerInstanceFromContext(ctx, s.logger)

	if entry == nil {
		logger.Error("CreateEntry received empty entry")
		return nil, apperrors.NewInvalidRequestError("entry cannot be nil", nil)
	}

	entry.Email = NormalizeEmail(entry.Email)
	if _, err := mail.ParseAddress(entry.Email); err != nil {
		logger.Error("CreateEntry received invalid email format", "email", entry.Email)
		return nil, apperrors.NewInvalidRequestError("invalid email format", err)
	}

	entry.TwitterHandle = strings.TrimSpace(entry.TwitterHandle)
	// The address is never collected at signup time.
	entry.IPAddress = nil

	created, err := s.repository.CreateEntry(ctx, entry)
	if err != nil {
		if apperrors.GetErrorType(err) == apperrors.ErrorTypeConflict {
			logger.Info("Waitlist entry already exists", "email", entry.Email)
		} else {
			logger.Error("Failed to create waitlist entry", "error", err)
		}
		return nil, err
	}

	response := ToWaitlistEntryResponse(created)
	return &response, nil
}

func (s *waitlistService) FindEntryByEmail(ctx context.Context, email string) (*WaitlistEntryResponse, error) {
	logger := log.GetLoggerInstanceFromContext(ctx, s.logger)

	email = NormalizeEmail(email)
	if email == "" {
		logger.Error("FindEntryByEmail received empty email")
		return nil, apperrors.NewInvalidRequestError("email cannot be empty", nil)
	}

	entry, err := s.repository.FindEntryByEmail(ctx, email)
	if err != nil {
		logger.Error("Failed to find waitlist entry", "email", email, "error", err)
		return nil, err
	}

	response := ToWaitlistEntryResponse(entry)
	return &response, nil
}

func (s *waitlistService) GetStats(ctx context.Context) (*WaitlistStatsResponse, error) {
	logger := log.GetLoggerInstanceFromContext(ctx, s.logger)

	total, err := s.repository.CountEntries(ctx)
	if err != nil {
		logger.Error("Failed to count waitlist entries", "error", err)
		return nil, err
	}

	return &WaitlistStatsResponse{Total: total}, nil
}

func (s *waitlistService) Ping(ctx context.Context) error {
	return s.repository.Ping(ctx)
}
