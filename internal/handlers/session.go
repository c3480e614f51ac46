package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/models"
	pkghttp "github.com/jcalloway/bastion/pkg/http"
)

// SessionServiceInterface defines the session operations the handler depends on
type SessionServiceInterface interface {
	ListSessions(ctx context.Context, accountID uuid.UUID) ([]*models.SessionInfo, error)
	RevokeSession(ctx context.Context, accountID, sessionID uuid.UUID) error
	RevokeAllSessions(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// SessionHandler exposes the account's active refresh sessions
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// List returns the account's active sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Revoke revokes one session by id. Idempotent.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session id")
		return
	}

	if err := h.service.RevokeSession(r.Context(), accountID, sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll revokes every session for the account
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	revoked, err := h.service.RevokeAllSessions(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"sessions_revoked": revoked})
}
