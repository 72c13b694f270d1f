package backend

import (
	"context"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
)

// Mailer delivers one-time passcodes.
type Mailer interface {
	SendPasscode(ctx context.Context, to, code string, ttl time.Duration) error
}

// LogMailer writes passcodes to the log instead of sending mail. Development only.
type LogMailer struct {
	logger *log.Logger
}

func NewLogMailer(logger *log.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasscode(ctx context.Context, to, code string, ttl time.Duration) error {
	log.GetLoggerInstanceFromContext(ctx, m.logger).Warn("Passcode delivered to log (no mailer configured)",
		"email", to,
		"code", code,
		"expires_in", ttl.String(),
	)
	return nil
}
