package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/models"
	pkghttp "github.com/jcalloway/bastion/pkg/http"
)

// AuditServiceInterface defines the audit read and triage operations the handler depends on
type AuditServiceInterface interface {
	ListEvents(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)
	GetDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time) (*models.DailyAuditSummary, error)
	ListAlerts(ctx context.Context, status string, limit, offset int) ([]*models.SuspiciousActivityAlert, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, to string) (*models.SuspiciousActivityAlert, error)
}

// AuditHandler exposes the account's audit trail and the alert triage API
type AuditHandler struct {
	service AuditServiceInterface
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service AuditServiceInterface) *AuditHandler {
	return &AuditHandler{service: service}
}

// UpdateAlertStatusRequest represents the request body for alert triage
type UpdateAlertStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=investigating resolved false_positive"`
}

// ListEvents returns the authenticated account's audit events
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	events, err := h.service.ListEvents(r.Context(), accountID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GetDailySummary returns one day's aggregate for the authenticated account.
// The day defaults to today and accepts ?day=YYYY-MM-DD.
func (h *AuditHandler) GetDailySummary(w http.ResponseWriter, r *http.Request) {
	accountID := auth.GetAccountIDFromContext(r)
	if accountID == uuid.Nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	day := time.Now()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			pkghttp.WriteBadRequest(w, "day must be formatted as YYYY-MM-DD")
			return
		}
		day = parsed
	}

	summary, err := h.service.GetDailySummary(r.Context(), accountID, day)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListAlerts returns suspicious activity alerts, optionally filtered by ?status=
func (h *AuditHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	alerts, err := h.service.ListAlerts(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// UpdateAlertStatus transitions an alert through triage
func (h *AuditHandler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	alertID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid alert id")
		return
	}

	var req UpdateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	alert, err := h.service.UpdateAlertStatus(r.Context(), alertID, req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
