package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/models"
	pkgauth "github.com/jcalloway/bastion/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// MFARepository defines the configuration and backup code operations the MFA engine needs
type MFARepository interface {
	UpsertConfiguration(ctx context.Context, config *models.MFAConfiguration) (*models.MFAConfiguration, error)
	GetConfiguration(ctx context.Context, accountID uuid.UUID, method string) (*models.MFAConfiguration, error)
	EnableConfiguration(ctx context.Context, accountID uuid.UUID, method string) error
	IncrementFailedAttempts(ctx context.Context, accountID uuid.UUID, method string) (int, error)
	ResetFailedAttempts(ctx context.Context, accountID uuid.UUID, method string) error
	DeleteConfiguration(ctx context.Context, accountID uuid.UUID, method string) error
	ReplaceBackupCodes(ctx context.Context, accountID uuid.UUID, codeHashes []string) error
	ListUnusedBackupCodes(ctx context.Context, accountID uuid.UUID) ([]*models.BackupCode, error)
	SpendBackupCode(ctx context.Context, id uuid.UUID, ip string, at time.Time) error
	CountUnusedBackupCodes(ctx context.Context, accountID uuid.UUID) (int, error)
}

// TrustedDeviceRepository defines the trusted device operations the MFA engine needs
type TrustedDeviceRepository interface {
	Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error)
	FindActive(ctx context.Context, accountID uuid.UUID, fingerprint string, now time.Time) (*models.TrustedDevice, error)
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// ChallengeRepository defines the challenge session operations the MFA engine needs
type ChallengeRepository interface {
	Create(ctx context.Context, session *models.MFAChallengeSession) (*models.MFAChallengeSession, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.MFAChallengeSession, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// MFAAccountRepository defines the account operations the MFA engine needs
type MFAAccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// MFAService implements TOTP enrollment and verification, backup codes,
// trusted devices, and the challenge sessions that bridge the two login
// phases. MFA storage errors are hard failures; a second factor must never
// pass on a guess.
type MFAService struct {
	mfa        MFARepository
	devices    TrustedDeviceRepository
	challenges ChallengeRepository
	accounts   MFAAccountRepository
	totp       *auth.TOTPManager
	recorder   EventRecorder
	config     config.MFAConfig
	logger     *slog.Logger

	// BcryptCost for backup code hashes; tests lower it for speed.
	BcryptCost int
	// Now is overridable for deterministic tests. Nil means time.Now.
	Now func() time.Time
}

// NewMFAService creates a new MFAService
func NewMFAService(mfa MFARepository, devices TrustedDeviceRepository, challenges ChallengeRepository, accounts MFAAccountRepository, totp *auth.TOTPManager, recorder EventRecorder, cfg config.MFAConfig, logger *slog.Logger) *MFAService {
	return &MFAService{
		mfa:        mfa,
		devices:    devices,
		challenges: challenges,
		accounts:   accounts,
		totp:       totp,
		recorder:   recorder,
		config:     cfg,
		logger:     logger,
		BcryptCost: bcrypt.DefaultCost,
	}
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// StartEnrollment provisions a fresh TOTP secret for the account. The secret
// stays pending and worthless to an attacker until VerifyEnrollment proves
// the authenticator was configured. Restarting enrollment replaces any
// pending secret.
func (s *MFAService) StartEnrollment(ctx context.Context, accountID uuid.UUID) (*models.EnrollmentResponse, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.MFAEnabled {
		return nil, fmt.Errorf("%w: mfa is already enabled", models.ErrConflict)
	}

	generated, err := s.totp.GenerateSecret(account.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to provision TOTP secret: %w", err)
	}

	_, err = s.mfa.UpsertConfiguration(ctx, &models.MFAConfiguration{
		AccountID:       accountID,
		Method:          models.MFAMethodTOTP,
		SecretEncrypted: generated.Encrypted,
		SecretNonce:     generated.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store pending enrollment: %w", err)
	}

	return &models.EnrollmentResponse{
		Secret:          generated.Secret,
		ProvisioningURI: generated.ProvisioningURI,
		QRCode:          generated.QRCode,
	}, nil
}

// VerifyEnrollment completes enrollment by validating the first code against
// the pending secret. On success MFA is switched on and a fresh set of backup
// codes is returned; the raw codes are shown exactly once.
func (s *MFAService) VerifyEnrollment(ctx context.Context, accountID uuid.UUID, code, ipAddress, userAgent string) ([]string, error) {
	cfg, err := s.mfa.GetConfiguration(ctx, accountID, models.MFAMethodTOTP)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrEnrollmentRequired
		}
		return nil, err
	}

	if cfg.Enabled {
		return nil, fmt.Errorf("%w: mfa is already enabled", models.ErrConflict)
	}

	if err := s.validateTOTP(cfg, code); err != nil {
		s.recordMFAEvent(ctx, models.AuditEventMFAEnroll, accountID, false, "invalid enrollment code", ipAddress, userAgent, nil)
		return nil, err
	}

	if err := s.mfa.EnableConfiguration(ctx, accountID, models.MFAMethodTOTP); err != nil {
		return nil, fmt.Errorf("failed to enable mfa configuration: %w", err)
	}
	if err := s.accounts.SetMFAEnabled(ctx, accountID, true); err != nil {
		return nil, fmt.Errorf("failed to flag account mfa: %w", err)
	}

	codes, err := s.mintBackupCodes(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.recordMFAEvent(ctx, models.AuditEventMFAEnroll, accountID, true, "", ipAddress, userAgent, nil)

	return codes, nil
}

// IsDeviceTrusted reports whether the exact request fingerprint holds an
// active trust record. Lookup failures count as untrusted, which just means
// one extra challenge.
func (s *MFAService) IsDeviceTrusted(ctx context.Context, accountID uuid.UUID, ipAddress, userAgent string) bool {
	fingerprint := auth.DeviceFingerprint(accountID, ipAddress, userAgent)

	device, err := s.devices.FindActive(ctx, accountID, fingerprint, s.now())
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up trusted device",
				slog.String("account_id", accountID.String()),
				slog.Any("error", err))
		}
		return false
	}

	return device.Trusted(s.now())
}

// CreateChallenge opens a challenge session after a successful password check.
// The raw session token goes to the client; only its hash is stored.
func (s *MFAService) CreateChallenge(ctx context.Context, accountID uuid.UUID, ipAddress, userAgent string) (string, time.Time, error) {
	raw, hash, err := auth.GenerateOpaqueToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate challenge token: %w", err)
	}

	expiresAt := s.now().Add(s.config.ChallengeTTL)
	_, err = s.challenges.Create(ctx, &models.MFAChallengeSession{
		SessionToken: hash,
		AccountID:    accountID,
		Method:       models.MFAMethodTOTP,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create challenge session: %w", err)
	}

	s.recordMFAEvent(ctx, models.AuditEventMFAChallenge, accountID, true, "", ipAddress, userAgent, nil)

	return raw, expiresAt, nil
}

// VerifyChallenge validates a code against an open challenge session. The
// code is tried as TOTP first, then against unused backup codes. Each call
// consumes one attempt slot; a dead session (verified, exhausted, or expired)
// always returns ErrChallengeExpired and login must restart.
func (s *MFAService) VerifyChallenge(ctx context.Context, rawSessionToken, code string, trustDevice bool, ipAddress, userAgent string) (*models.ChallengeResult, error) {
	now := s.now()

	session, err := s.challenges.GetByTokenHash(ctx, auth.HashToken(rawSessionToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrChallengeExpired
		}
		return nil, err
	}

	if session.Dead(now, s.config.ChallengeMaxAttempt) {
		return nil, models.ErrChallengeExpired
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge attempt: %w", err)
	}
	if attempts > s.config.ChallengeMaxAttempt {
		return nil, models.ErrChallengeExpired
	}

	cfg, err := s.mfa.GetConfiguration(ctx, session.AccountID, models.MFAMethodTOTP)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrEnrollmentRequired
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, models.ErrEnrollmentRequired
	}

	// Only a wrong code falls through to the backup codes; an infrastructure
	// failure (secret decrypt) surfaces as an error instead of reading as a
	// mismatch.
	usedBackup := false
	verified := true
	if err := s.validateTOTP(cfg, code); err != nil {
		if !errors.Is(err, models.ErrMFAVerificationFailed) {
			return nil, err
		}
		usedBackup, err = s.trySpendBackupCode(ctx, session.AccountID, code, ipAddress, now)
		if err != nil {
			return nil, err
		}
		verified = usedBackup
	}

	if !verified {
		if _, err := s.mfa.IncrementFailedAttempts(ctx, session.AccountID, models.MFAMethodTOTP); err != nil {
			s.logger.Error("failed to bump mfa failure counter", slog.Any("error", err))
		}
		s.recordMFAEvent(ctx, models.AuditEventMFAVerify, session.AccountID, false, "invalid code", ipAddress, userAgent, nil)

		remaining := s.config.ChallengeMaxAttempt - attempts
		if remaining <= 0 {
			return nil, models.ErrChallengeExpired
		}
		return nil, &models.MFAFailedError{AttemptsRemaining: remaining}
	}

	// One-shot completion. Losing this race means another request already
	// finished the session, so treat it as dead.
	if err := s.challenges.MarkVerified(ctx, session.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrChallengeExpired
		}
		return nil, err
	}

	if err := s.mfa.ResetFailedAttempts(ctx, session.AccountID, models.MFAMethodTOTP); err != nil {
		s.logger.Error("failed to reset mfa failure counter", slog.Any("error", err))
	}

	if trustDevice {
		s.trustCurrentDevice(ctx, session.AccountID, ipAddress, userAgent)
	}

	s.recordMFAEvent(ctx, models.AuditEventMFAVerify, session.AccountID, true, "", ipAddress, userAgent,
		models.AuditMetadata{"used_backup_code": usedBackup})

	return &models.ChallengeResult{
		Verified:   true,
		AccountID:  session.AccountID,
		UsedBackup: usedBackup,
	}, nil
}

// ChallengeAccount resolves the account behind an open challenge token.
func (s *MFAService) ChallengeAccount(ctx context.Context, rawSessionToken string) (uuid.UUID, error) {
	session, err := s.challenges.GetByTokenHash(ctx, auth.HashToken(rawSessionToken))
	if err != nil {
		return uuid.Nil, err
	}
	return session.AccountID, nil
}

// Disable turns MFA off after re-verifying the account password. The
// enrollment, all backup codes, and all trusted devices are removed together.
func (s *MFAService) Disable(ctx context.Context, accountID uuid.UUID, password, ipAddress, userAgent string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return models.ErrInvalidCredentials
	}

	if !account.MFAEnabled {
		return fmt.Errorf("%w: mfa is not enabled", models.ErrBadRequest)
	}

	if err := s.mfa.DeleteConfiguration(ctx, accountID, models.MFAMethodTOTP); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to remove mfa configuration: %w", err)
	}
	if err := s.accounts.SetMFAEnabled(ctx, accountID, false); err != nil {
		return fmt.Errorf("failed to flag account mfa: %w", err)
	}
	if _, err := s.devices.RevokeAllForAccount(ctx, accountID); err != nil {
		s.logger.Error("failed to revoke trusted devices",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
	}

	s.recordMFAEvent(ctx, models.AuditEventMFADisable, accountID, true, "", ipAddress, userAgent, nil)

	return nil
}

// RegenerateBackupCodes replaces the account's backup codes after
// re-verifying the password. Unused codes from the previous set are
// invalidated.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, accountID uuid.UUID, password, ipAddress, userAgent string) ([]string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	if !account.MFAEnabled {
		return nil, fmt.Errorf("%w: mfa is not enabled", models.ErrBadRequest)
	}

	codes, err := s.mintBackupCodes(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.recordMFAEvent(ctx, models.AuditEventMFAEnroll, accountID, true, "", ipAddress, userAgent,
		models.AuditMetadata{"backup_codes_regenerated": true})

	return codes, nil
}

// BackupCodesRemaining reports how many codes the account can still spend
func (s *MFAService) BackupCodesRemaining(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.mfa.CountUnusedBackupCodes(ctx, accountID)
}

func (s *MFAService) validateTOTP(cfg *models.MFAConfiguration, code string) error {
	secret, err := s.totp.DecryptSecret(cfg.SecretEncrypted, cfg.SecretNonce)
	if err != nil {
		return fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	valid, err := s.totp.ValidateCode(string(secret), code, s.now())
	if err != nil {
		return err
	}
	if !valid {
		return models.ErrMFAVerificationFailed
	}
	return nil
}

// trySpendBackupCode compares the code against the account's unused backup
// codes and spends the match. A spend that loses the one-winner race counts
// as a failed verification, not an error.
func (s *MFAService) trySpendBackupCode(ctx context.Context, accountID uuid.UUID, code, ipAddress string, now time.Time) (bool, error) {
	unused, err := s.mfa.ListUnusedBackupCodes(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to list backup codes: %w", err)
	}

	for _, bc := range unused {
		if bcrypt.CompareHashAndPassword([]byte(bc.CodeHash), []byte(code)) != nil {
			continue
		}

		if err := s.mfa.SpendBackupCode(ctx, bc.ID, ipAddress, now); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("failed to spend backup code: %w", err)
		}
		return true, nil
	}

	return false, nil
}

func (s *MFAService) mintBackupCodes(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	codes, err := s.totp.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), s.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		hashes[i] = string(hash)
	}

	if err := s.mfa.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	return codes, nil
}

func (s *MFAService) trustCurrentDevice(ctx context.Context, accountID uuid.UUID, ipAddress, userAgent string) {
	fingerprint := auth.DeviceFingerprint(accountID, ipAddress, userAgent)

	_, err := s.devices.Upsert(ctx, &models.TrustedDevice{
		AccountID:         accountID,
		DeviceFingerprint: fingerprint,
		DeviceInfo:        userAgent,
		ExpiresAt:         s.now().Add(s.config.TrustedDeviceTTL),
	})
	if err != nil {
		s.logger.Error("failed to trust device",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
	}
}

func (s *MFAService) recordMFAEvent(ctx context.Context, eventType string, accountID uuid.UUID, success bool, reason, ipAddress, userAgent string, metadata models.AuditMetadata) {
	var failureReason *string
	if reason != "" {
		failureReason = &reason
	}

	s.recorder.Record(ctx, EventRecord{
		EventType:     eventType,
		Category:      models.AuditCategoryMFA,
		AccountID:     &accountID,
		Success:       success,
		FailureReason: failureReason,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Metadata:      metadata,
	})
}
