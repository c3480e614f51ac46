package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the standard API error envelope
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context

	// Lockout responses carry the expiry so clients can show a countdown.
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	// Failed MFA verifications carry the remaining attempt budget.
	AttemptsRemaining *int `json:"attempts_remaining,omitempty"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Encoding errors are not recoverable at this point
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteAccountLocked reports an active lockout with its expiry
func WriteAccountLocked(w http.ResponseWriter, lockedUntil time.Time) {
	writeErrorResponse(w, http.StatusForbidden, ErrorResponse{
		Error:       "account_locked",
		Message:     "Account is temporarily locked due to repeated failures",
		LockedUntil: &lockedUntil,
	})
}

// WriteMFAFailed reports a failed verification with the remaining attempts
func WriteMFAFailed(w http.ResponseWriter, attemptsRemaining int) {
	writeErrorResponse(w, http.StatusUnauthorized, ErrorResponse{
		Error:             "mfa_verification_failed",
		Message:           "Verification code was not accepted",
		AttemptsRemaining: &attemptsRemaining,
	})
}
