package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/models"
	pkgauth "github.com/jcalloway/bastion/pkg/auth"
)

// LoginAccountRepository defines the account operations the login flow needs
type LoginAccountRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// LoginResult is the outcome of the first login phase. Either Tokens is set
// and authentication is complete, or MFARequired is true and the client must
// answer the challenge within its TTL.
type LoginResult struct {
	MFARequired        bool              `json:"mfa_required"`
	ChallengeToken     string            `json:"challenge_token,omitempty"`
	ChallengeExpiresAt *time.Time        `json:"challenge_expires_at,omitempty"`
	Tokens             *models.TokenPair `json:"tokens,omitempty"`
}

// LoginService orchestrates the full login sequence: IP rate limit, account
// resolution, lockout check, password verification, MFA, and token issuance.
// Unknown accounts and wrong passwords both come back as
// ErrInvalidCredentials so the endpoint cannot be used to enumerate accounts.
type LoginService struct {
	accounts LoginAccountRepository
	lockout  *LockoutService
	tokens   *TokenService
	mfa      *MFAService
	recorder EventRecorder
	logger   *slog.Logger
}

// NewLoginService creates a new LoginService
func NewLoginService(accounts LoginAccountRepository, lockout *LockoutService, tokens *TokenService, mfa *MFAService, recorder EventRecorder, logger *slog.Logger) *LoginService {
	return &LoginService{
		accounts: accounts,
		lockout:  lockout,
		tokens:   tokens,
		mfa:      mfa,
		recorder: recorder,
		logger:   logger,
	}
}

// Login runs the first phase of authentication.
func (s *LoginService) Login(ctx context.Context, email, password, ipAddress, userAgent, deviceInfo string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.lockout.CheckIPRateLimit(ctx, ipAddress); err != nil {
		s.lockout.RecordFailure(ctx, nil, email, ipAddress, userAgent, models.FailureReasonRateLimited)
		s.recordLoginFailure(ctx, nil, models.FailureReasonRateLimited, ipAddress, userAgent)
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.lockout.RecordFailure(ctx, nil, email, ipAddress, userAgent, models.FailureReasonUnknownAccount)
			s.recordLoginFailure(ctx, nil, models.FailureReasonUnknownAccount, ipAddress, userAgent)
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	status := s.lockout.CheckLockout(ctx, account)
	if status.Locked {
		// The account is known here, so the attempt row stays attributed;
		// the failure counter is not charged while the lock holds.
		s.lockout.RecordRejection(ctx, account.ID, email, ipAddress, userAgent, models.FailureReasonAccountLocked)
		s.recordLoginFailure(ctx, account, models.FailureReasonAccountLocked, ipAddress, userAgent)
		return nil, &models.AccountLockedError{LockedUntil: *status.LockedUntil, Attempts: status.Attempts}
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		after := s.lockout.RecordFailure(ctx, &account.ID, email, ipAddress, userAgent, models.FailureReasonWrongPassword)
		s.recordLoginFailure(ctx, account, models.FailureReasonWrongPassword, ipAddress, userAgent)

		if after.Locked {
			s.recorder.Record(ctx, EventRecord{
				EventType: models.AuditEventAccountLock,
				Category:  models.AuditCategorySecurity,
				AccountID: &account.ID,
				Success:   true,
				IPAddress: ipAddress,
				UserAgent: userAgent,
				Metadata:  models.AuditMetadata{"failed_attempts": after.Attempts},
			})
		}

		// The attempt that triggered the lock still reports generic
		// credentials failure; the lock surfaces on the next attempt.
		return nil, models.ErrInvalidCredentials
	}

	if account.MFAEnabled && !s.mfa.IsDeviceTrusted(ctx, account.ID, ipAddress, userAgent) {
		token, expiresAt, err := s.mfa.CreateChallenge(ctx, account.ID, ipAddress, userAgent)
		if err != nil {
			return nil, err
		}

		// Failure counter stays put until the second factor passes.
		return &LoginResult{
			MFARequired:        true,
			ChallengeToken:     token,
			ChallengeExpiresAt: &expiresAt,
		}, nil
	}

	return s.completeLogin(ctx, account, ipAddress, userAgent, deviceInfo, false)
}

// CompleteMFALogin runs the second phase: challenge verification and token
// issuance. MFA failures count toward the account lockout ladder.
func (s *LoginService) CompleteMFALogin(ctx context.Context, challengeToken, code string, trustDevice bool, ipAddress, userAgent, deviceInfo string) (*LoginResult, error) {
	result, err := s.mfa.VerifyChallenge(ctx, challengeToken, code, trustDevice, ipAddress, userAgent)
	if err != nil {
		var mfaErr *models.MFAFailedError
		if errors.As(err, &mfaErr) {
			// The challenge already knows which account is behind it, so the
			// failure can be charged against the lockout ladder.
			if accountID, lookupErr := s.mfa.ChallengeAccount(ctx, challengeToken); lookupErr == nil {
				if account, accErr := s.accounts.GetByID(ctx, accountID); accErr == nil {
					s.lockout.RecordFailure(ctx, &account.ID, account.Email, ipAddress, userAgent, models.FailureReasonMFAFailed)
					s.recordLoginFailure(ctx, account, models.FailureReasonMFAFailed, ipAddress, userAgent)
				}
			}
		}
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, result.AccountID)
	if err != nil {
		return nil, err
	}

	return s.completeLogin(ctx, account, ipAddress, userAgent, deviceInfo, true)
}

func (s *LoginService) completeLogin(ctx context.Context, account *models.Account, ipAddress, userAgent, deviceInfo string, viaMFA bool) (*LoginResult, error) {
	pair, err := s.tokens.IssueTokens(ctx, account, ipAddress, userAgent, deviceInfo)
	if err != nil {
		return nil, err
	}

	s.lockout.RecordSuccess(ctx, account.ID, account.Email, ipAddress, userAgent)

	s.recorder.Record(ctx, EventRecord{
		EventType: models.AuditEventLogin,
		Category:  models.AuditCategoryAuth,
		AccountID: &account.ID,
		Success:   true,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Metadata:  models.AuditMetadata{"mfa": viaMFA},
	})

	return &LoginResult{Tokens: pair}, nil
}

func (s *LoginService) recordLoginFailure(ctx context.Context, account *models.Account, reason, ipAddress, userAgent string) {
	rec := EventRecord{
		EventType:     models.AuditEventLoginFailed,
		Category:      models.AuditCategoryAuth,
		Success:       false,
		FailureReason: &reason,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
	}
	if account != nil {
		rec.AccountID = &account.ID
	}
	s.recorder.Record(ctx, rec)
}
