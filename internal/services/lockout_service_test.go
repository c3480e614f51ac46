package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/models"
)

func testLockoutConfig() config.LockoutConfig {
	return config.LockoutConfig{
		Tier1Attempts:      5,
		Tier1Duration:      15 * time.Minute,
		Tier2Attempts:      10,
		Tier2Duration:      1 * time.Hour,
		Tier3Attempts:      15,
		Tier3Duration:      24 * time.Hour,
		IPFailureThreshold: 20,
		IPFailureWindow:    30 * time.Minute,
		AttemptRetention:   30 * 24 * time.Hour,
	}
}

func newTestLockoutService(accounts *MockAccountRepository, attempts *MockLoginAttemptRepository) *LockoutService {
	svc := NewLockoutService(accounts, attempts, testLockoutConfig(), slog.Default())
	svc.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestLockoutService_CheckLockout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("unlocked account", func(t *testing.T) {
		svc := newTestLockoutService(&MockAccountRepository{}, &MockLoginAttemptRepository{})

		account := &models.Account{ID: uuid.New(), FailedLoginAttempts: 3}
		status := svc.CheckLockout(ctx, account)

		assert.False(t, status.Locked)
		assert.Equal(t, 3, status.Attempts)
	})

	t.Run("active lockout", func(t *testing.T) {
		svc := newTestLockoutService(&MockAccountRepository{}, &MockLoginAttemptRepository{})

		until := now.Add(10 * time.Minute)
		account := &models.Account{ID: uuid.New(), FailedLoginAttempts: 5, AccountLockedUntil: &until}
		status := svc.CheckLockout(ctx, account)

		assert.True(t, status.Locked)
		require.NotNil(t, status.LockedUntil)
		assert.Equal(t, until, *status.LockedUntil)
	})

	t.Run("expired lockout is cleared lazily", func(t *testing.T) {
		cleared := false
		accounts := &MockAccountRepository{
			ClearLockoutFunc: func(ctx context.Context, id uuid.UUID) error {
				cleared = true
				return nil
			},
		}
		svc := newTestLockoutService(accounts, &MockLoginAttemptRepository{})

		until := now.Add(-1 * time.Minute)
		account := &models.Account{ID: uuid.New(), FailedLoginAttempts: 5, AccountLockedUntil: &until}
		status := svc.CheckLockout(ctx, account)

		assert.False(t, status.Locked)
		assert.True(t, cleared)
		// counter survives the clear until a successful login
		assert.Equal(t, 5, status.Attempts)
	})

	t.Run("clear failure still reports unlocked", func(t *testing.T) {
		accounts := &MockAccountRepository{
			ClearLockoutFunc: func(ctx context.Context, id uuid.UUID) error {
				return errors.New("db down")
			},
		}
		svc := newTestLockoutService(accounts, &MockLoginAttemptRepository{})

		until := now.Add(-1 * time.Minute)
		account := &models.Account{ID: uuid.New(), AccountLockedUntil: &until}
		status := svc.CheckLockout(ctx, account)

		assert.False(t, status.Locked)
	})
}

func TestLockoutService_CheckIPRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("under threshold", func(t *testing.T) {
		attempts := &MockLoginAttemptRepository{
			CountFailedByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
				return 19, nil
			},
		}
		svc := newTestLockoutService(&MockAccountRepository{}, attempts)

		assert.NoError(t, svc.CheckIPRateLimit(ctx, "203.0.113.7"))
	})

	t.Run("at threshold", func(t *testing.T) {
		attempts := &MockLoginAttemptRepository{
			CountFailedByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
				return 20, nil
			},
		}
		svc := newTestLockoutService(&MockAccountRepository{}, attempts)

		err := svc.CheckIPRateLimit(ctx, "203.0.113.7")
		assert.ErrorIs(t, err, models.ErrRateLimited)
	})

	t.Run("storage error fails open", func(t *testing.T) {
		attempts := &MockLoginAttemptRepository{
			CountFailedByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
				return 0, errors.New("db down")
			},
		}
		svc := newTestLockoutService(&MockAccountRepository{}, attempts)

		assert.NoError(t, svc.CheckIPRateLimit(ctx, "203.0.113.7"))
	})

	t.Run("window boundary passed to repository", func(t *testing.T) {
		var gotSince time.Time
		attempts := &MockLoginAttemptRepository{
			CountFailedByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
				gotSince = since
				return 0, nil
			},
		}
		svc := newTestLockoutService(&MockAccountRepository{}, attempts)

		require.NoError(t, svc.CheckIPRateLimit(ctx, "203.0.113.7"))
		assert.Equal(t, svc.Now().Add(-30*time.Minute), gotSince)
	})
}

func TestLockoutService_RecordFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("unknown account records attempt only", func(t *testing.T) {
		var recorded *models.LoginAttempt
		attempts := &MockLoginAttemptRepository{
			RecordAttemptFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
				recorded = attempt
				return nil
			},
		}
		incremented := false
		accounts := &MockAccountRepository{
			IncrementFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) (int, error) {
				incremented = true
				return 0, nil
			},
		}
		svc := newTestLockoutService(accounts, attempts)

		status := svc.RecordFailure(ctx, nil, "ghost@example.com", "203.0.113.7", "test-agent", "unknown_account")

		assert.False(t, status.Locked)
		assert.False(t, incremented)
		require.NotNil(t, recorded)
		assert.False(t, recorded.Success)
		assert.Equal(t, "unknown_account", *recorded.FailureReason)
		assert.Equal(t, now.Add(30*24*time.Hour), recorded.ExpiresAt)
	})

	t.Run("below tier one stays unlocked", func(t *testing.T) {
		accounts := &MockAccountRepository{
			IncrementFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) (int, error) {
				return 4, nil
			},
		}
		svc := newTestLockoutService(accounts, &MockLoginAttemptRepository{})

		accountID := uuid.New()
		status := svc.RecordFailure(ctx, &accountID, "user@example.com", "203.0.113.7", "test-agent", "wrong_password")

		assert.False(t, status.Locked)
		assert.Equal(t, 4, status.Attempts)
	})

	tiers := []struct {
		name     string
		attempts int
		duration time.Duration
	}{
		{"tier one at five failures", 5, 15 * time.Minute},
		{"tier one persists through nine", 9, 15 * time.Minute},
		{"tier two at ten failures", 10, 1 * time.Hour},
		{"tier three at fifteen failures", 15, 24 * time.Hour},
		{"tier three beyond fifteen", 40, 24 * time.Hour},
	}

	for _, tc := range tiers {
		t.Run(tc.name, func(t *testing.T) {
			var lockedUntil time.Time
			accounts := &MockAccountRepository{
				IncrementFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) (int, error) {
					return tc.attempts, nil
				},
				SetLockoutFunc: func(ctx context.Context, id uuid.UUID, until time.Time) error {
					lockedUntil = until
					return nil
				},
			}
			svc := newTestLockoutService(accounts, &MockLoginAttemptRepository{})

			accountID := uuid.New()
			status := svc.RecordFailure(ctx, &accountID, "user@example.com", "203.0.113.7", "test-agent", "wrong_password")

			assert.True(t, status.Locked)
			assert.Equal(t, now.Add(tc.duration), lockedUntil)
			require.NotNil(t, status.LockedUntil)
			assert.Equal(t, lockedUntil, *status.LockedUntil)
		})
	}

	t.Run("increment failure degrades to unlocked", func(t *testing.T) {
		accounts := &MockAccountRepository{
			IncrementFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) (int, error) {
				return 0, errors.New("db down")
			},
		}
		svc := newTestLockoutService(accounts, &MockLoginAttemptRepository{})

		accountID := uuid.New()
		status := svc.RecordFailure(ctx, &accountID, "user@example.com", "203.0.113.7", "test-agent", "wrong_password")

		assert.False(t, status.Locked)
	})

	t.Run("lockout write failure degrades to unlocked", func(t *testing.T) {
		accounts := &MockAccountRepository{
			IncrementFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) (int, error) {
				return 5, nil
			},
			SetLockoutFunc: func(ctx context.Context, id uuid.UUID, until time.Time) error {
				return errors.New("db down")
			},
		}
		svc := newTestLockoutService(accounts, &MockLoginAttemptRepository{})

		accountID := uuid.New()
		status := svc.RecordFailure(ctx, &accountID, "user@example.com", "203.0.113.7", "test-agent", "wrong_password")

		assert.False(t, status.Locked)
		assert.Equal(t, 5, status.Attempts)
	})
}

func TestLockoutService_RecordRejection(t *testing.T) {
	ctx := context.Background()

	var recorded *models.LoginAttempt
	attempts := &MockLoginAttemptRepository{
		RecordAttemptFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			recorded = attempt
			return nil
		},
	}
	accounts := &MockAccountRepository{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) (int, error) {
			t.Fatal("a rejection must not charge the failure counter")
			return 0, nil
		},
	}
	svc := newTestLockoutService(accounts, attempts)

	accountID := uuid.New()
	svc.RecordRejection(ctx, accountID, "user@example.com", "203.0.113.7", "test-agent", "account_locked")

	require.NotNil(t, recorded)
	assert.False(t, recorded.Success)
	require.NotNil(t, recorded.AccountID)
	assert.Equal(t, accountID, *recorded.AccountID)
	assert.Equal(t, "account_locked", *recorded.FailureReason)
}

func TestLockoutService_RecordSuccess(t *testing.T) {
	ctx := context.Background()

	var recorded *models.LoginAttempt
	attempts := &MockLoginAttemptRepository{
		RecordAttemptFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			recorded = attempt
			return nil
		},
	}
	reset := false
	accounts := &MockAccountRepository{
		ResetFailedAttemptsFunc: func(ctx context.Context, id uuid.UUID) error {
			reset = true
			return nil
		},
	}
	svc := newTestLockoutService(accounts, attempts)

	accountID := uuid.New()
	svc.RecordSuccess(ctx, accountID, "user@example.com", "203.0.113.7", "test-agent")

	assert.True(t, reset)
	require.NotNil(t, recorded)
	assert.True(t, recorded.Success)
	require.NotNil(t, recorded.AccountID)
	assert.Equal(t, accountID, *recorded.AccountID)
	assert.Nil(t, recorded.FailureReason)
}
