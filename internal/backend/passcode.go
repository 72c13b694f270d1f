package backend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/pkg/constants"
	"golang.org/x/crypto/bcrypt"
)

const passcodeKeyPrefix = "passcode:"

type passcodeRecord struct {
	Hash      []byte    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasscodeStore issues and checks one-time passcodes. Only bcrypt hashes are stored.
type PasscodeStore struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
	digits      int
	now         func() time.Time
}

// NewPasscodeStore applies the package defaults to zero settings.
func NewPasscodeStore(store Store, ttl time.Duration, maxAttempts, digits int) *PasscodeStore {
	if ttl <= 0 {
		ttl = constants.PasscodeTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = constants.PasscodeMaxAttempts
	}
	if digits <= 0 {
		digits = constants.PasscodeDigits
	}
	return &PasscodeStore{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		digits:      digits,
		now:         time.Now,
	}
}

func passcodeKey(email string) string {
	return passcodeKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

func passcodeAttemptsKey(email string) string {
	return passcodeKey(email) + ":attempts"
}

// Issue replaces any outstanding passcode for email and returns the new one.
func (p *PasscodeStore) Issue(ctx context.Context, email string) (string, error) {
	code, err := randomDigits(p.digits)
	if err != nil {
		return "", fmt.Errorf("generate passcode: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash passcode: %w", err)
	}

	if err := p.store.Delete(ctx, passcodeAttemptsKey(email)); err != nil {
		return "", fmt.Errorf("reset passcode attempts: %w", err)
	}
	if err := p.save(ctx, email, passcodeRecord{Hash: hash, ExpiresAt: p.now().Add(p.ttl)}); err != nil {
		return "", err
	}
	return code, nil
}

// Verify consumes the passcode on success. Every call counts as an attempt
// before the code is compared, and the passcode is dropped once the attempt
// limit is reached. Concurrent correct guesses consume it at most once.
func (p *PasscodeStore) Verify(ctx context.Context, email, code string) error {
	key := passcodeKey(email)

	attempt, err := p.store.Incr(ctx, passcodeAttemptsKey(email), p.ttl)
	if err != nil {
		return fmt.Errorf("count passcode attempt: %w", err)
	}
	if attempt > int64(p.maxAttempts) {
		_ = p.store.Delete(ctx, key)
		return ErrTooManyAttempts
	}

	raw, err := p.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load passcode: %w", err)
	}
	if raw == "" {
		return ErrInvalidPasscode
	}

	var rec passcodeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		_ = p.store.Delete(ctx, key)
		return ErrInvalidPasscode
	}

	if !p.now().Before(rec.ExpiresAt) {
		_ = p.store.Delete(ctx, key)
		return ErrInvalidPasscode
	}

	if bcrypt.CompareHashAndPassword(rec.Hash, []byte(strings.TrimSpace(code))) != nil {
		if attempt >= int64(p.maxAttempts) {
			_ = p.store.Delete(ctx, key)
			return ErrTooManyAttempts
		}
		return ErrInvalidPasscode
	}

	// The Take decides which of several matching guesses wins.
	taken, err := p.store.Take(ctx, key)
	if err != nil {
		return fmt.Errorf("consume passcode: %w", err)
	}
	if taken != raw {
		// A newer passcode was issued meanwhile; put it back untouched.
		if taken != "" {
			var newer passcodeRecord
			if json.Unmarshal([]byte(taken), &newer) == nil {
				_ = p.save(ctx, email, newer)
			}
		}
		return ErrInvalidPasscode
	}
	_ = p.store.Delete(ctx, passcodeAttemptsKey(email))
	return nil
}

func (p *PasscodeStore) save(ctx context.Context, email string, rec passcodeRecord) error {
	remaining := rec.ExpiresAt.Sub(p.now())
	if remaining <= 0 {
		return ErrInvalidPasscode
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode passcode: %w", err)
	}

	if err := p.store.Set(ctx, passcodeKey(email), string(payload), remaining); err != nil {
		return fmt.Errorf("store passcode: %w", err)
	}
	return nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
