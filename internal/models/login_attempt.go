package models

import (
	"time"

	"github.com/google/uuid"
)

// LoginAttempt is an immutable record of a single login attempt. Rows are only
// ever inserted or removed by retention cleanup, never updated.
type LoginAttempt struct {
	ID            uuid.UUID  `db:"id"`
	Email         string     `db:"email"`
	AccountID     *uuid.UUID `db:"account_id"` // nil when the email matched no account
	IPAddress     string     `db:"ip_address"`
	UserAgent     string     `db:"user_agent"`
	Success       bool       `db:"success"`
	FailureReason *string    `db:"failure_reason"`
	AttemptedAt   time.Time  `db:"attempted_at"`
	ExpiresAt     time.Time  `db:"expires_at"` // retention cutoff for cleanup
}

// Failure reasons recorded on unsuccessful attempts.
const (
	FailureReasonUnknownAccount = "unknown_account"
	FailureReasonWrongPassword  = "wrong_password"
	FailureReasonAccountLocked  = "account_locked"
	FailureReasonRateLimited    = "rate_limited"
	FailureReasonMFAFailed      = "mfa_failed"
)
