package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/models"
)

// Risk score weights and lookback windows. Scores are additive and capped at
// riskScoreCap; the alert threshold comes from configuration.
const (
	riskWeightFailure        = 20
	riskWeightNewIP          = 30
	riskWeightRapidFailures  = 25
	riskWeightNightWindow    = 15
	riskWeightSensitiveEvent = 20
	riskScoreCap             = 100

	newIPLookback         = 30 * 24 * time.Hour
	rapidFailureWindow    = 1 * time.Hour
	rapidFailureThreshold = 3

	// Local-time window where activity scores as anomalous.
	nightWindowStartHour = 2
	nightWindowEndHour   = 5
)

// Event types whose mere occurrence raises the score, success or not.
var sensitiveEventTypes = map[string]bool{
	models.AuditEventPasswordReset:  true,
	models.AuditEventPasswordChange: true,
	models.AuditEventAccountLock:    true,
	models.AuditEventMFADisable:     true,
	models.AuditEventTokenReuse:     true,
}

// AuditRepository defines the ledger operations the audit service needs
type AuditRepository interface {
	InsertEvent(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error)
	CountRecentFailures(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	HasAccountIPHistory(ctx context.Context, accountID uuid.UUID, ipAddress string, since time.Time) (bool, error)
	HasDeviceHistory(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error)
	ListEventsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)
	UpsertDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time, eventType string, success bool) error
	GetDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time) (*models.DailyAuditSummary, error)
	InsertAlert(ctx context.Context, alert *models.SuspiciousActivityAlert) (*models.SuspiciousActivityAlert, error)
	GetAlertByID(ctx context.Context, id uuid.UUID) (*models.SuspiciousActivityAlert, error)
	ListAlerts(ctx context.Context, status string, limit, offset int) ([]*models.SuspiciousActivityAlert, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

// EventRecord is the input to the audit ledger. Risk scoring happens at
// record time, not at read time.
type EventRecord struct {
	EventType     string
	Category      string
	AccountID     *uuid.UUID
	Success       bool
	FailureReason *string
	IPAddress     string
	UserAgent     string
	Metadata      models.AuditMetadata
}

// EventRecorder is implemented by the audit service and consumed by the other
// services so they can emit events without a concrete dependency.
type EventRecorder interface {
	Record(ctx context.Context, rec EventRecord)
}

// AuditService scores and persists security events, maintains the per-account
// daily summaries, and raises suspicious activity alerts. Recording is
// best-effort by contract: an audit failure is logged and swallowed so it can
// never fail the operation that produced the event.
type AuditService struct {
	repo       AuditRepository
	dispatcher *AuditDispatcher
	config     config.AuditConfig
	logger     *slog.Logger

	// Now is overridable for deterministic tests. Nil means time.Now.
	Now func() time.Time
}

// NewAuditService creates a new AuditService. The dispatcher may be nil when
// alert notifications are disabled.
func NewAuditService(repo AuditRepository, dispatcher *AuditDispatcher, cfg config.AuditConfig, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:       repo,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

func (s *AuditService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record scores the event, appends it to the ledger, folds it into the daily
// summary, and raises an alert when the score crosses the threshold.
func (s *AuditService) Record(ctx context.Context, rec EventRecord) {
	now := s.now()

	score, factors := s.scoreEvent(ctx, rec, now)

	var fingerprint string
	if rec.AccountID != nil {
		fingerprint = auth.DeviceFingerprint(*rec.AccountID, rec.IPAddress, rec.UserAgent)
	}

	event, err := s.repo.InsertEvent(ctx, &models.AuditEvent{
		EventType:         rec.EventType,
		Category:          rec.Category,
		AccountID:         rec.AccountID,
		Success:           rec.Success,
		FailureReason:     rec.FailureReason,
		IPAddress:         rec.IPAddress,
		UserAgent:         rec.UserAgent,
		DeviceFingerprint: fingerprint,
		RiskScore:         score,
		RiskFactors:       factors,
		Metadata:          rec.Metadata,
	})
	if err != nil {
		s.logger.Error("failed to record audit event",
			slog.String("event_type", rec.EventType),
			slog.Any("error", err))
		return
	}

	if rec.AccountID != nil {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if err := s.repo.UpsertDailySummary(ctx, *rec.AccountID, day, rec.EventType, rec.Success); err != nil {
			s.logger.Error("failed to update daily summary",
				slog.String("account_id", rec.AccountID.String()),
				slog.Any("error", err))
		}
	}

	if score >= s.config.AlertThreshold {
		s.raiseAlert(ctx, event)
	}
}

// scoreEvent computes the additive risk score and its contributing factors.
// History lookups that fail contribute nothing rather than blocking the write.
func (s *AuditService) scoreEvent(ctx context.Context, rec EventRecord, now time.Time) (int, []string) {
	score := 0
	factors := make([]string, 0, 4)

	if !rec.Success {
		score += riskWeightFailure
		factors = append(factors, models.RiskFactorFailure)
	}

	if sensitiveEventTypes[rec.EventType] {
		score += riskWeightSensitiveEvent
		factors = append(factors, models.RiskFactorSensitiveEvent)
	}

	hour := now.Hour()
	if hour >= nightWindowStartHour && hour < nightWindowEndHour {
		score += riskWeightNightWindow
		factors = append(factors, models.RiskFactorNightWindow)
	}

	if rec.AccountID != nil {
		seen, err := s.repo.HasAccountIPHistory(ctx, *rec.AccountID, rec.IPAddress, now.Add(-newIPLookback))
		if err != nil {
			s.logger.Error("failed to check IP history", slog.Any("error", err))
		} else if !seen {
			score += riskWeightNewIP
			factors = append(factors, models.RiskFactorNewIP)
		}

		failures, err := s.repo.CountRecentFailures(ctx, *rec.AccountID, now.Add(-rapidFailureWindow))
		if err != nil {
			s.logger.Error("failed to count recent failures", slog.Any("error", err))
		} else if failures >= rapidFailureThreshold {
			score += riskWeightRapidFailures
			factors = append(factors, models.RiskFactorRapidFailures)
		}

		// New device contributes to alert severity, not to the score.
		fingerprint := auth.DeviceFingerprint(*rec.AccountID, rec.IPAddress, rec.UserAgent)
		known, err := s.repo.HasDeviceHistory(ctx, *rec.AccountID, fingerprint)
		if err != nil {
			s.logger.Error("failed to check device history", slog.Any("error", err))
		} else if !known {
			factors = append(factors, models.RiskFactorNewDevice)
		}
	}

	if score > riskScoreCap {
		score = riskScoreCap
	}

	return score, factors
}

func (s *AuditService) raiseAlert(ctx context.Context, event *models.AuditEvent) {
	alert, err := s.repo.InsertAlert(ctx, &models.SuspiciousActivityAlert{
		EventID:     event.ID,
		AccountID:   event.AccountID,
		Severity:    deriveSeverity(event.RiskScore, event.RiskFactors),
		RiskScore:   event.RiskScore,
		RiskFactors: event.RiskFactors,
	})
	if err != nil {
		s.logger.Error("failed to raise suspicious activity alert",
			slog.String("event_id", event.ID.String()),
			slog.Any("error", err))
		return
	}

	s.logger.Warn("suspicious activity alert raised",
		slog.String("alert_id", alert.ID.String()),
		slog.String("severity", alert.Severity),
		slog.Int("risk_score", alert.RiskScore))

	if s.dispatcher != nil && alert.Severity == models.AlertSeverityCritical {
		s.dispatcher.Enqueue(alert)
	}
}

// deriveSeverity maps a score and its factors to an alert severity.
// First match wins: critical by score, then high for rapid failures, then
// medium for a new IP on a new device.
func deriveSeverity(score int, factors []string) string {
	has := func(factor string) bool {
		for _, f := range factors {
			if f == factor {
				return true
			}
		}
		return false
	}

	switch {
	case score >= 90:
		return models.AlertSeverityCritical
	case has(models.RiskFactorRapidFailures):
		return models.AlertSeverityHigh
	case has(models.RiskFactorNewIP) && has(models.RiskFactorNewDevice):
		return models.AlertSeverityMedium
	default:
		return models.AlertSeverityLow
	}
}

// ListEvents returns the account's audit trail, newest first
func (s *AuditService) ListEvents(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEventsByAccount(ctx, accountID, limit, offset)
}

// GetDailySummary returns one account-day aggregate
func (s *AuditService) GetDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time) (*models.DailyAuditSummary, error) {
	normalized := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return s.repo.GetDailySummary(ctx, accountID, normalized)
}

// ListAlerts returns alerts, optionally filtered by status
func (s *AuditService) ListAlerts(ctx context.Context, status string, limit, offset int) ([]*models.SuspiciousActivityAlert, error) {
	if status != "" && status != models.AlertStatusNew && status != models.AlertStatusInvestigating &&
		status != models.AlertStatusResolved && status != models.AlertStatusFalsePositive {
		return nil, fmt.Errorf("%w: unknown alert status %q", models.ErrBadRequest, status)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAlerts(ctx, status, limit, offset)
}

// UpdateAlertStatus transitions an alert through its triage lifecycle.
// Invalid transitions return ErrConflict; terminal alerts never reopen.
func (s *AuditService) UpdateAlertStatus(ctx context.Context, id uuid.UUID, to string) (*models.SuspiciousActivityAlert, error) {
	alert, err := s.repo.GetAlertByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !models.ValidStatusTransition(alert.Status, to) {
		return nil, fmt.Errorf("%w: cannot move alert from %s to %s", models.ErrConflict, alert.Status, to)
	}

	if err := s.repo.UpdateAlertStatus(ctx, id, alert.Status, to); err != nil {
		return nil, err
	}

	return s.repo.GetAlertByID(ctx, id)
}
