package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akeren/waitlist-gate/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPasscodeStore(t *testing.T) (*PasscodeStore, *time.Time) {
	t.Helper()

	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewPasscodeStore(mem, 10*time.Minute, 3, 6)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestPasscodeStore_IssueAndVerifyOnce(t *testing.T) {
	store, _ := newTestPasscodeStore(t)
	ctx := context.Background()

	code, err := store.Issue(ctx, "Ada@Gmail.com")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	require.NoError(t, store.Verify(ctx, "ada@gmail.com", code))
	assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", code), ErrInvalidPasscode)
}

func TestPasscodeStore_AttemptLimit(t *testing.T) {
	store, _ := newTestPasscodeStore(t)
	ctx := context.Background()

	code, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", wrong), ErrInvalidPasscode)
	assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", wrong), ErrInvalidPasscode)
	assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", wrong), ErrTooManyAttempts)

	// The passcode is gone once the limit is hit, even the right one.
	assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", code), ErrTooManyAttempts)

	fresh, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)
	assert.NoError(t, store.Verify(ctx, "ada@gmail.com", fresh))
}

func TestPasscodeStore_ParallelWrongGuessesHitTheLimit(t *testing.T) {
	store, _ := newTestPasscodeStore(t)
	ctx := context.Background()

	code, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	const guesses = 20
	results := make(chan error, guesses)
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Verify(ctx, "ada@gmail.com", wrong)
		}()
	}
	wg.Wait()
	close(results)

	var invalid, limited int
	for err := range results {
		switch {
		case errors.Is(err, ErrInvalidPasscode):
			invalid++
		case errors.Is(err, ErrTooManyAttempts):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 2, invalid)
	assert.Equal(t, guesses-2, limited)
	assert.Error(t, store.Verify(ctx, "ada@gmail.com", code))
}

func TestPasscodeStore_ParallelCorrectGuessesConsumeOnce(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := NewPasscodeStore(mem, 10*time.Minute, 10, 6)
	ctx := context.Background()

	code, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)

	const guesses = 5
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Verify(ctx, "ada@gmail.com", code) == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestPasscodeStore_Expiry(t *testing.T) {
	store, now := newTestPasscodeStore(t)
	ctx := context.Background()

	code, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)

	*now = now.Add(11 * time.Minute)

	assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", code), ErrInvalidPasscode)
}

func TestPasscodeStore_ReissueReplacesOldCode(t *testing.T) {
	store, _ := newTestPasscodeStore(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)
	second, err := store.Issue(ctx, "ada@gmail.com")
	require.NoError(t, err)

	if first != second {
		assert.ErrorIs(t, store.Verify(ctx, "ada@gmail.com", first), ErrInvalidPasscode)
	}
	assert.NoError(t, store.Verify(ctx, "ada@gmail.com", second))
}
