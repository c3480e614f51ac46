package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/models"
)

// LockoutAccountRepository defines the account operations the lockout tracker needs
type LockoutAccountRepository interface {
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error)
	SetLockout(ctx context.Context, id uuid.UUID, until time.Time) error
	ClearLockout(ctx context.Context, id uuid.UUID) error
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
}

// LoginAttemptRepository defines the attempt log operations the lockout tracker needs
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// LockoutService tracks failed logins and applies the progressive lockout
// ladder. Every storage error here fails open: a degraded database must never
// lock legitimate users out of authentication.
type LockoutService struct {
	accounts LockoutAccountRepository
	attempts LoginAttemptRepository
	config   config.LockoutConfig
	logger   *slog.Logger

	// Now is overridable for deterministic tests. Nil means time.Now.
	Now func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(accounts LockoutAccountRepository, attempts LoginAttemptRepository, cfg config.LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		accounts: accounts,
		attempts: attempts,
		config:   cfg,
		logger:   logger,
	}
}

func (s *LockoutService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CheckLockout reports whether the account is currently locked. Expired
// lockouts are cleared lazily here; the failure counter survives the clear
// and only resets on successful authentication.
func (s *LockoutService) CheckLockout(ctx context.Context, account *models.Account) *models.LockoutStatus {
	now := s.now()

	if account.AccountLockedUntil != nil && !now.Before(*account.AccountLockedUntil) {
		if err := s.accounts.ClearLockout(ctx, account.ID); err != nil {
			s.logger.Error("failed to clear expired lockout",
				slog.String("account_id", account.ID.String()),
				slog.Any("error", err))
		}
		account.AccountLockedUntil = nil
	}

	if account.Locked(now) {
		return &models.LockoutStatus{
			Locked:      true,
			LockedUntil: account.AccountLockedUntil,
			Attempts:    account.FailedLoginAttempts,
		}
	}

	return &models.LockoutStatus{Locked: false, Attempts: account.FailedLoginAttempts}
}

// CheckIPRateLimit blocks sources that have crossed the per-IP failure
// threshold within the window, independent of which accounts they targeted.
// Storage errors fail open.
func (s *LockoutService) CheckIPRateLimit(ctx context.Context, ipAddress string) error {
	since := s.now().Add(-s.config.IPFailureWindow)

	count, err := s.attempts.CountFailedByIP(ctx, ipAddress, since)
	if err != nil {
		s.logger.Error("failed to check IP rate limit",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return nil
	}

	if count >= s.config.IPFailureThreshold {
		s.logger.Warn("IP blocked for excessive failures",
			slog.String("ip_address", ipAddress),
			slog.Int("failures", count))
		return models.ErrRateLimited
	}

	return nil
}

// RecordFailure logs a failed attempt and, when the email resolved to an
// account, bumps its failure counter and applies any lockout the ladder calls
// for. The returned status reflects the post-failure state; storage errors
// degrade to an unlocked status rather than blocking the login path.
func (s *LockoutService) RecordFailure(ctx context.Context, accountID *uuid.UUID, email, ipAddress, userAgent, reason string) *models.LockoutStatus {
	now := s.now()

	attempt := &models.LoginAttempt{
		Email:         email,
		AccountID:     accountID,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: &reason,
		ExpiresAt:     now.Add(s.config.AttemptRetention),
	}
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("email", email),
			slog.Any("error", err))
	}

	if accountID == nil {
		return &models.LockoutStatus{Locked: false}
	}

	attempts, err := s.accounts.IncrementFailedAttempts(ctx, *accountID)
	if err != nil {
		s.logger.Error("failed to increment failure counter",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
		return &models.LockoutStatus{Locked: false}
	}

	duration := s.lockoutFor(attempts)
	if duration == 0 {
		return &models.LockoutStatus{Locked: false, Attempts: attempts}
	}

	until := now.Add(duration)
	if err := s.accounts.SetLockout(ctx, *accountID, until); err != nil {
		s.logger.Error("failed to apply lockout",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
		return &models.LockoutStatus{Locked: false, Attempts: attempts}
	}

	s.logger.Warn("account locked",
		slog.String("account_id", accountID.String()),
		slog.Int("failed_attempts", attempts),
		slog.Duration("duration", duration))

	return &models.LockoutStatus{Locked: true, LockedUntil: &until, Attempts: attempts}
}

// RecordRejection logs a failed attempt attributed to a known account without
// charging the failure counter. Used when the attempt is turned away before
// the password is checked, such as against an active lockout.
func (s *LockoutService) RecordRejection(ctx context.Context, accountID uuid.UUID, email, ipAddress, userAgent, reason string) {
	now := s.now()

	attempt := &models.LoginAttempt{
		Email:         email,
		AccountID:     &accountID,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: &reason,
		ExpiresAt:     now.Add(s.config.AttemptRetention),
	}
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("email", email),
			slog.Any("error", err))
	}
}

// RecordSuccess logs a successful attempt and resets the account's failure
// counter and any lingering lockout timestamp.
func (s *LockoutService) RecordSuccess(ctx context.Context, accountID uuid.UUID, email, ipAddress, userAgent string) {
	now := s.now()

	attempt := &models.LoginAttempt{
		Email:     email,
		AccountID: &accountID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
		ExpiresAt: now.Add(s.config.AttemptRetention),
	}
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("email", email),
			slog.Any("error", err))
	}

	if err := s.accounts.ResetFailedAttempts(ctx, accountID); err != nil {
		s.logger.Error("failed to reset failure counter",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
	}
}

// lockoutFor maps a failure count to a lockout duration. Thresholds are
// checked highest first so the counter lands on the longest tier it crossed.
func (s *LockoutService) lockoutFor(attempts int) time.Duration {
	switch {
	case attempts >= s.config.Tier3Attempts:
		return s.config.Tier3Duration
	case attempts >= s.config.Tier2Attempts:
		return s.config.Tier2Duration
	case attempts >= s.config.Tier1Attempts:
		return s.config.Tier1Duration
	default:
		return 0
	}
}
