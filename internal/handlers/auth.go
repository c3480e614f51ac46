package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jcalloway/bastion/internal/models"
	"github.com/jcalloway/bastion/internal/services"
	pkghttp "github.com/jcalloway/bastion/pkg/http"
)

// LoginServiceInterface defines the login orchestration the handler depends on
type LoginServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress, userAgent, deviceInfo string) (*services.LoginResult, error)
	CompleteMFALogin(ctx context.Context, challengeToken, code string, trustDevice bool, ipAddress, userAgent, deviceInfo string) (*services.LoginResult, error)
}

// TokenServiceInterface defines the token lifecycle operations the handler depends on
type TokenServiceInterface interface {
	Refresh(ctx context.Context, rawToken, ipAddress, userAgent string) (*models.TokenPair, error)
	RevokeToken(ctx context.Context, rawToken, ipAddress, userAgent string) error
}

// AuthHandler handles login, MFA completion, refresh, and logout
type AuthHandler struct {
	login    LoginServiceInterface
	tokens   TokenServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginServiceInterface, tokens TokenServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		login:    login,
		tokens:   tokens,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceInfo string `json:"device_info" validate:"max=256"`
}

// MFALoginRequest represents the second phase of a login with MFA
type MFALoginRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,min=6,max=8"`
	TrustDevice    bool   `json:"trust_device"`
	DeviceInfo     string `json:"device_info" validate:"max=256"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest represents the request body for logout
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Login handles the first phase of authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
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

	result, err := h.login.Login(r.Context(), req.Email, req.Password, ipAddress, userAgent, req.DeviceInfo)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// VerifyMFA completes a login that required a second factor
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req MFALoginRequest
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

	result, err := h.login.CompleteMFALogin(r.Context(), req.ChallengeToken, req.Code, req.TrustDevice, ipAddress, userAgent, req.DeviceInfo)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Refresh exchanges a refresh token for a new access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
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

	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken, ipAddress, userAgent)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Logout revokes the presented refresh token. Always succeeds from the
// client's perspective; revoking an unknown token is a no-op.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
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

	if err := h.tokens.RevokeToken(r.Context(), req.RefreshToken, ipAddress, userAgent); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
