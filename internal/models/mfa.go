package models

import (
	"time"

	"github.com/google/uuid"
)

// MFA methods. TOTP is the only enrollable method; backup codes ride along
// with a TOTP configuration rather than forming one of their own.
const (
	MFAMethodTOTP = "totp"
)

// MFAConfiguration holds one (account, method) enrollment. The secret is
// stored AES-256-GCM encrypted and stays inert (Enabled=false) until the
// first verification succeeds.
type MFAConfiguration struct {
	ID              uuid.UUID  `db:"id"`
	AccountID       uuid.UUID  `db:"account_id"`
	Method          string     `db:"method"`
	SecretEncrypted []byte     `db:"secret_encrypted"`
	SecretNonce     []byte     `db:"secret_nonce"`
	Enabled         bool       `db:"enabled"`
	VerifiedAt      *time.Time `db:"verified_at"`
	FailedAttempts  int        `db:"failed_attempts"`
	CreatedAt       time.Time  `db:"created_at"`
}

// BackupCode is a single-use recovery credential. Ten are minted per
// enable/regenerate event; each is spendable exactly once.
type BackupCode struct {
	ID        uuid.UUID  `db:"id"`
	AccountID uuid.UUID  `db:"account_id"`
	CodeHash  string     `db:"code_hash"` // bcrypt hash of the raw code
	Used      bool       `db:"used"`
	UsedAt    *time.Time `db:"used_at"`
	UsedIP    *string    `db:"used_ip"`
	CreatedAt time.Time  `db:"created_at"`
}

// TrustedDevice exempts one exact (account, ip, user-agent) fingerprint from
// MFA challenges for a bounded window. Any drift in the fingerprint inputs
// silently falls back to a fresh challenge.
type TrustedDevice struct {
	ID                uuid.UUID `db:"id"`
	AccountID         uuid.UUID `db:"account_id"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	DeviceInfo        string    `db:"device_info"`
	CreatedAt         time.Time `db:"created_at"`
	ExpiresAt         time.Time `db:"expires_at"`
	Revoked           bool      `db:"revoked"`
}

// Trusted reports whether the trust window is still open.
func (d *TrustedDevice) Trusted(now time.Time) bool {
	return !d.Revoked && now.Before(d.ExpiresAt)
}

// MFAChallengeSession is the ephemeral state between a successful password
// check and second-factor verification. One-shot: once verified, exhausted,
// or expired it is dead and login must restart.
type MFAChallengeSession struct {
	ID           uuid.UUID `db:"id"`
	SessionToken string    `db:"session_token"` // SHA-256 hash of the raw token
	AccountID    uuid.UUID `db:"account_id"`
	Method       string    `db:"method"`
	Verified     bool      `db:"verified"`
	Attempts     int       `db:"attempts"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
}

// Dead reports whether the session can no longer be used for verification.
func (s *MFAChallengeSession) Dead(now time.Time, maxAttempts int) bool {
	return s.Verified || s.Attempts >= maxAttempts || !now.Before(s.ExpiresAt)
}

// EnrollmentResponse is returned when enrollment starts. The secret and
// provisioning URI are shown once and never again.
type EnrollmentResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"` // PNG data URL of the provisioning URI
}

// ChallengeResult is returned on successful challenge verification.
type ChallengeResult struct {
	Verified   bool      `json:"verified"`
	AccountID  uuid.UUID `json:"account_id"`
	UsedBackup bool      `json:"used_backup_code"`
}
