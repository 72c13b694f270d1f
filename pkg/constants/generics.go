package constants

import "time"

// RFC 3339 date-time format string.
// Use this format for all date-time serialization and communication with external systems.
const RFC3339DateTimeFormat = "2006-01-02T15:04:05Z07:00"

// Default rate limiting configuration
const (
	// DefaultRateLimitRequests is the default number of requests allowed per time window
	DefaultRateLimitRequests = 100
	// DefaultRateLimitWindow is the default time window for rate limiting
	DefaultRateLimitWindowMinutes = 1
)

// DefaultRateLimitWindow returns the default rate limit window duration
func DefaultRateLimitWindow() time.Duration {
	return time.Duration(DefaultRateLimitWindowMinutes) * time.Minute
}

// Signup flow defaults
const (
	DefaultFollowURL   = "https://x.com/Zumolabs_xyz"
	DefaultFlowIdleTTL = 30 * time.Minute

	SignupSubmitRequestsPerMinute = 10
	PasscodeRequestsPerMinute     = 5
)

// DefaultAllowedEmailDomains lists the consumer mail providers accepted when
// domain restriction is enabled.
var DefaultAllowedEmailDomains = []string{
	"gmail.com",
	"googlemail.com",
	"outlook.com",
	"hotmail.com",
	"live.com",
	"yahoo.com",
	"icloud.com",
	"me.com",
	"proton.me",
	"protonmail.com",
	"aol.com",
}

// Auth defaults
const (
	PasscodeTTL         = 10 * time.Minute
	PasscodeMaxAttempts = 5
	PasscodeDigits      = 6
	OAuthStateTTL       = 10 * time.Minute
	SessionTTL          = 24 * time.Hour
)
