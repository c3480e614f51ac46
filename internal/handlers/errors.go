package handlers

import (
	"errors"
	"net/http"

	"github.com/jcalloway/bastion/internal/models"
	pkghttp "github.com/jcalloway/bastion/pkg/http"
)

// writeServiceError maps the service error taxonomy onto HTTP responses.
// Credential and token failures stay deliberately vague; lockout and MFA
// failures carry the extra fields clients need.
func writeServiceError(w http.ResponseWriter, err error) {
	var lockedErr *models.AccountLockedError
	if errors.As(err, &lockedErr) {
		pkghttp.WriteAccountLocked(w, lockedErr.LockedUntil)
		return
	}

	var mfaErr *models.MFAFailedError
	if errors.As(err, &mfaErr) {
		pkghttp.WriteMFAFailed(w, mfaErr.AttemptsRemaining)
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteForbidden(w, "Account is temporarily locked")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, "Too many attempts, try again later")
	case errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteUnauthorized(w, "Token is invalid or expired")
	case errors.Is(err, models.ErrChallengeExpired):
		pkghttp.WriteUnauthorized(w, "Challenge session is no longer usable, sign in again")
	case errors.Is(err, models.ErrMFAVerificationFailed):
		pkghttp.WriteUnauthorized(w, "Verification code was not accepted")
	case errors.Is(err, models.ErrEnrollmentRequired):
		pkghttp.WriteBadRequest(w, "MFA enrollment has not been completed")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Access denied")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		pkghttp.WriteInternalError(w, "An internal error occurred")
	}
}
