package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/models"
	pkghttp "github.com/jcalloway/bastion/pkg/http"
)

// MFAServiceInterface defines the MFA management operations the handler depends on
type MFAServiceInterface interface {
	StartEnrollment(ctx context.Context, accountID uuid.UUID) (*models.EnrollmentResponse, error)
	VerifyEnrollment(ctx context.Context, accountID uuid.UUID, code, ipAddress, userAgent string) ([]string, error)
	Disable(ctx context.Context, accountID uuid.UUID, password, ipAddress, userAgent string) error
	RegenerateBackupCodes(ctx context.Context, accountID uuid.UUID, password, ipAddress, userAgent string) ([]string, error)
	BackupCodesRemaining(ctx context.Context, accountID uuid.UUID) (int, error)
}

// MFAHandler handles MFA enrollment and management. All routes sit behind the
// access token middleware; the challenge verification that happens during
// login lives on AuthHandler instead.
type MFAHandler struct {
	service  MFAServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface, ipConfig *pkghttp.IPConfig) *MFAHandler {
	return &MFAHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// VerifyEnrollmentRequest represents the request body for completing enrollment
type VerifyEnrollmentRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// PasswordConfirmRequest re-verifies the password for sensitive MFA operations
type PasswordConfirmRequest struct {
	Password string `json:"password" validate:"required"`
}

// BackupCodesResponse carries a freshly minted set of backup codes
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// StartEnrollment provisions a TOTP secret for the authenticated account
func (h *MFAHandler) StartEnrollment(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enrollment, err := h.service.StartEnrollment(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollment)
}

// VerifyEnrollment completes enrollment and returns the one-time backup codes
func (h *MFAHandler) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req VerifyEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := pkghttp.ExtractUserAgent(r)

	codes, err := h.service.VerifyEnrollment(r.Context(), accountID, req.Code, ipAddress, userAgent)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Disable turns MFA off after password re-verification
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req PasswordConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := pkghttp.ExtractUserAgent(r)

	if err := h.service.Disable(r.Context(), accountID, req.Password, ipAddress, userAgent); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes replaces the account's backup codes
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req PasswordConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := pkghttp.ExtractUserAgent(r)

	codes, err := h.service.RegenerateBackupCodes(r.Context(), accountID, req.Password, ipAddress, userAgent)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// BackupCodeStatus reports how many backup codes remain spendable
func (h *MFAHandler) BackupCodeStatus(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	remaining, err := h.service.BackupCodesRemaining(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}
