package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication failure taxonomy. Wrong password and unknown account both
	// surface as ErrInvalidCredentials so callers cannot enumerate accounts.
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account is temporarily locked")
	ErrRateLimited           = errors.New("too many attempts from this source")
	ErrInvalidToken          = errors.New("token is invalid, expired, or revoked")
	ErrMFAVerificationFailed = errors.New("mfa verification failed")
	ErrChallengeExpired      = errors.New("mfa challenge session is no longer usable")
	ErrEnrollmentRequired    = errors.New("mfa enrollment has not been started")
)

// AccountLockedError carries the lockout expiry alongside the ErrAccountLocked
// sentinel so handlers can report remaining time without a second lookup.
type AccountLockedError struct {
	LockedUntil time.Time
	Attempts    int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked until %s", e.LockedUntil.Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// MFAFailedError carries the remaining attempt budget alongside the
// ErrMFAVerificationFailed sentinel.
type MFAFailedError struct {
	AttemptsRemaining int
}

func (e *MFAFailedError) Error() string {
	return fmt.Sprintf("mfa verification failed, %d attempts remaining", e.AttemptsRemaining)
}

func (e *MFAFailedError) Is(target error) bool {
	return target == ErrMFAVerificationFailed
}
