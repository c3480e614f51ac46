package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the identity the security core protects. Profile data lives
// elsewhere; only the fields the lockout tracker and MFA engine mutate are
// modeled here.
type Account struct {
	ID                  uuid.UUID  `db:"id"`
	Email               string     `db:"email"`
	PasswordHash        string     `db:"password_hash"`
	MFAEnabled          bool       `db:"mfa_enabled"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	AccountLockedUntil  *time.Time `db:"account_locked_until"`
	Status              string     `db:"status"` // "active", "suspended", "disabled"
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Locked reports whether the account is under an active lockout at the given
// instant. An expired lockout timestamp counts as unlocked; clearing the stale
// row is the lockout tracker's job.
func (a *Account) Locked(now time.Time) bool {
	return a.AccountLockedUntil != nil && now.Before(*a.AccountLockedUntil)
}

// LockoutStatus is the result of a lockout check.
type LockoutStatus struct {
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Attempts    int        `json:"attempts"`
}
