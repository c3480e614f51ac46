package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalauth "github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/models"
	"github.com/jcalloway/bastion/pkg/auth"
)

// TestRepositories runs the repository layer against a real PostgreSQL
// instance. Each subtest starts from truncated tables.
func TestRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()

	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	accounts, attempts, tokens, mfa, devices, challenges, audit := InitializeRepositories(testDB.DB)

	reset := func(t *testing.T) {
		t.Helper()
		require.NoError(t, testDB.CleanupTables(ctx))
	}

	t.Run("account lockout lifecycle", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("lockout")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, false)
		require.NoError(t, err)

		got, err := accounts.GetByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.Equal(t, 0, got.FailedLoginAttempts)

		for i := 1; i <= 3; i++ {
			count, err := accounts.IncrementFailedAttempts(ctx, account.ID)
			require.NoError(t, err)
			assert.Equal(t, i, count)
		}

		until := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)
		require.NoError(t, accounts.SetLockout(ctx, account.ID, until))

		got, err = accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, got.AccountLockedUntil)
		assert.WithinDuration(t, until, *got.AccountLockedUntil, time.Second)

		require.NoError(t, accounts.ResetFailedAttempts(ctx, account.ID))
		got, err = accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FailedLoginAttempts)
		assert.Nil(t, got.AccountLockedUntil)
	})

	t.Run("unknown email returns not found", func(t *testing.T) {
		reset(t)

		_, err := accounts.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("login attempt counters", func(t *testing.T) {
		reset(t)

		email, _ := TestAccount("attempts")
		now := time.Now().UTC()
		reason := models.FailureReasonWrongPassword

		for i := 0; i < 3; i++ {
			err := attempts.RecordAttempt(ctx, &models.LoginAttempt{
				Email:         email,
				IPAddress:     "203.0.113.7",
				UserAgent:     "integration-test",
				Success:       false,
				FailureReason: &reason,
				AttemptedAt:   now,
				ExpiresAt:     now.Add(30 * 24 * time.Hour),
			})
			require.NoError(t, err)
		}

		count, err := attempts.CountFailedByEmail(ctx, email, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		count, err = attempts.CountFailedByIP(ctx, "203.0.113.7", now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		// Outside the window nothing counts
		count, err = attempts.CountFailedByEmail(ctx, email, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("refresh token rotation and reuse detection", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("tokens")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, false)
		require.NoError(t, err)

		now := time.Now().UTC()
		_, firstHash, err := internalauth.GenerateOpaqueToken()
		require.NoError(t, err)

		first, err := tokens.Create(ctx, &models.RefreshToken{
			AccountID: account.ID,
			TokenHash: firstHash,
			ExpiresAt: now.Add(30 * 24 * time.Hour),
			IPAddress: "203.0.113.7",
			UserAgent: "integration-test",
			MaxUsage:  1,
		})
		require.NoError(t, err)

		consumed, err := tokens.Consume(ctx, firstHash, now)
		require.NoError(t, err)
		assert.Equal(t, first.ID, consumed.ID)
		assert.Equal(t, 1, consumed.UsageCount)

		// At the usage budget a second consume fails
		_, err = tokens.Consume(ctx, firstHash, now)
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, secondHash, err := internalauth.GenerateOpaqueToken()
		require.NoError(t, err)

		_, err = tokens.Rotate(ctx, firstHash, &models.RefreshToken{
			AccountID: account.ID,
			TokenHash: secondHash,
			ExpiresAt: now.Add(30 * 24 * time.Hour),
			IPAddress: "203.0.113.7",
			UserAgent: "integration-test",
			MaxUsage:  1,
		})
		require.NoError(t, err)

		rotated, err := tokens.GetByHash(ctx, firstHash)
		require.NoError(t, err)
		assert.True(t, rotated.Rotated())
		require.NotNil(t, rotated.ReplacedByHash)
		assert.Equal(t, secondHash, *rotated.ReplacedByHash)

		active, err := tokens.ListActiveByAccount(ctx, account.ID, now)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, secondHash, active[0].TokenHash)

		revoked, err := tokens.RevokeAllForAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), revoked)
	})

	t.Run("backup code single spend", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("backup")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, true)
		require.NoError(t, err)

		hash, err := auth.HashPassword("AAAA2345")
		require.NoError(t, err)
		require.NoError(t, mfa.ReplaceBackupCodes(ctx, account.ID, []string{hash}))

		unused, err := mfa.ListUnusedBackupCodes(ctx, account.ID)
		require.NoError(t, err)
		require.Len(t, unused, 1)

		require.NoError(t, mfa.SpendBackupCode(ctx, unused[0].ID, "203.0.113.7", time.Now().UTC()))

		// Spending the same code twice loses the race
		err = mfa.SpendBackupCode(ctx, unused[0].ID, "203.0.113.7", time.Now().UTC())
		assert.ErrorIs(t, err, models.ErrNotFound)

		remaining, err := mfa.CountUnusedBackupCodes(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	})

	t.Run("concurrent token consume has one winner", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("race-consume")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, false)
		require.NoError(t, err)

		now := time.Now().UTC()
		_, hash, err := internalauth.GenerateOpaqueToken()
		require.NoError(t, err)

		_, err = tokens.Create(ctx, &models.RefreshToken{
			AccountID: account.ID,
			TokenHash: hash,
			ExpiresAt: now.Add(30 * 24 * time.Hour),
			IPAddress: "203.0.113.7",
			UserAgent: "integration-test",
			MaxUsage:  1,
		})
		require.NoError(t, err)

		const presenters = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(presenters)
		for i := 0; i < presenters; i++ {
			go func() {
				defer wg.Done()
				if _, err := tokens.Consume(ctx, hash, now); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
	})

	t.Run("concurrent backup code spend has one winner", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("race-spend")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, true)
		require.NoError(t, err)

		hash, err := auth.HashPassword("AAAA2345")
		require.NoError(t, err)
		require.NoError(t, mfa.ReplaceBackupCodes(ctx, account.ID, []string{hash}))

		unused, err := mfa.ListUnusedBackupCodes(ctx, account.ID)
		require.NoError(t, err)
		require.Len(t, unused, 1)

		const spenders = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(spenders)
		for i := 0; i < spenders; i++ {
			go func() {
				defer wg.Done()
				if err := mfa.SpendBackupCode(ctx, unused[0].ID, "203.0.113.7", time.Now().UTC()); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())

		remaining, err := mfa.CountUnusedBackupCodes(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	})

	t.Run("challenge session attempts", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("challenge")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, true)
		require.NoError(t, err)

		_, hash, err := internalauth.GenerateOpaqueToken()
		require.NoError(t, err)

		session, err := challenges.Create(ctx, &models.MFAChallengeSession{
			SessionToken: hash,
			AccountID:    account.ID,
			Method:       "totp",
			ExpiresAt:    time.Now().UTC().Add(5 * time.Minute),
		})
		require.NoError(t, err)

		got, err := challenges.GetByTokenHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.False(t, got.Verified)

		count, err := challenges.IncrementAttempts(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, challenges.MarkVerified(ctx, session.ID))

		// A verified session cannot be verified again
		err = challenges.MarkVerified(ctx, session.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("trusted device window", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("device")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, true)
		require.NoError(t, err)

		now := time.Now().UTC()
		fingerprint := internalauth.DeviceFingerprint(account.ID, "203.0.113.7", "integration-test")

		_, err = devices.Upsert(ctx, &models.TrustedDevice{
			AccountID:         account.ID,
			DeviceFingerprint: fingerprint,
			DeviceInfo:        "integration-test",
			ExpiresAt:         now.Add(30 * 24 * time.Hour),
		})
		require.NoError(t, err)

		found, err := devices.FindActive(ctx, account.ID, fingerprint, now)
		require.NoError(t, err)
		assert.True(t, found.Trusted(now))

		revoked, err := devices.RevokeAllForAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), revoked)

		_, err = devices.FindActive(ctx, account.ID, fingerprint, now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("audit events and daily summary", func(t *testing.T) {
		reset(t)

		email, password := TestAccount("audit")
		account, err := SeedAccount(ctx, testDB.Pool, email, password, false)
		require.NoError(t, err)

		now := time.Now().UTC()
		event, err := audit.InsertEvent(ctx, &models.AuditEvent{
			EventType:         models.AuditEventLogin,
			Category:          "auth",
			AccountID:         &account.ID,
			Success:           true,
			IPAddress:         "203.0.113.7",
			UserAgent:         "integration-test",
			DeviceFingerprint: "fp",
			RiskScore:         10,
			RiskFactors:       []string{},
			Metadata:          models.AuditMetadata{"mfa": false},
		})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, event.ID)

		events, err := audit.ListEventsByAccount(ctx, account.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.AuditEventLogin, events[0].EventType)

		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		require.NoError(t, audit.UpsertDailySummary(ctx, account.ID, day, models.AuditEventLogin, true))
		require.NoError(t, audit.UpsertDailySummary(ctx, account.ID, day, models.AuditEventLogin, true))

		summary, err := audit.GetDailySummary(ctx, account.ID, day)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.LoginCount)

		alert, err := audit.InsertAlert(ctx, &models.SuspiciousActivityAlert{
			EventID:     event.ID,
			AccountID:   &account.ID,
			Severity:    "high",
			Status:      "new",
			RiskScore:   75,
			RiskFactors: []string{"rapid_failures"},
		})
		require.NoError(t, err)

		require.NoError(t, audit.UpdateAlertStatus(ctx, alert.ID, "new", "investigating"))

		// A stale expected status does not transition
		err = audit.UpdateAlertStatus(ctx, alert.ID, "new", "resolved")
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}
