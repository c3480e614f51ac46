package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for the audit ledger
const (
	AuditEventLogin          = "login"
	AuditEventLoginFailed    = "login_failed"
	AuditEventMFAChallenge   = "mfa_challenge"
	AuditEventMFAVerify      = "mfa_verify"
	AuditEventMFAEnroll      = "mfa_enroll"
	AuditEventMFADisable     = "mfa_disable"
	AuditEventTokenRefresh   = "token_refresh"
	AuditEventTokenReuse     = "token_reuse"
	AuditEventTokenRevoke    = "token_revoke"
	AuditEventPasswordReset  = "password_reset"
	AuditEventPasswordChange = "password_change"
	AuditEventAccountLock    = "account_lock"
)

// Event categories
const (
	AuditCategoryAuth     = "authentication"
	AuditCategoryMFA      = "mfa"
	AuditCategoryToken    = "token"
	AuditCategorySecurity = "security"
)

// Risk factors attached to scored events
const (
	RiskFactorFailure        = "event_failed"
	RiskFactorNewIP          = "new_ip"
	RiskFactorRapidFailures  = "rapid_failures"
	RiskFactorNightWindow    = "night_window"
	RiskFactorSensitiveEvent = "sensitive_event"
	RiskFactorNewDevice      = "new_device"
)

// Alert severities and statuses
const (
	AlertSeverityLow      = "low"
	AlertSeverityMedium   = "medium"
	AlertSeverityHigh     = "high"
	AlertSeverityCritical = "critical"

	AlertStatusNew           = "new"
	AlertStatusInvestigating = "investigating"
	AlertStatusResolved      = "resolved"
	AlertStatusFalsePositive = "false_positive"
)

// AuditEvent is one immutable row in the security event ledger.
type AuditEvent struct {
	ID                uuid.UUID     `db:"id"`
	EventType         string        `db:"event_type"`
	Category          string        `db:"category"`
	AccountID         *uuid.UUID    `db:"account_id"`
	Success           bool          `db:"success"`
	FailureReason     *string       `db:"failure_reason"`
	IPAddress         string        `db:"ip_address"`
	UserAgent         string        `db:"user_agent"`
	DeviceFingerprint string        `db:"device_fingerprint"`
	RiskScore         int           `db:"risk_score"` // 0-100
	RiskFactors       []string      `db:"risk_factors"`
	Metadata          AuditMetadata `db:"metadata"`
	CreatedAt         time.Time     `db:"created_at"`
}

// DailyAuditSummary aggregates one account's activity for one calendar day.
// Counters are bumped incrementally; unique IP/device counts are recomputed
// by re-scanning that account-day's events on every update.
type DailyAuditSummary struct {
	AccountID           uuid.UUID `db:"account_id"`
	Day                 time.Time `db:"day"`
	LoginCount          int       `db:"login_count"`
	FailedLoginCount    int       `db:"failed_login_count"`
	PasswordChangeCount int       `db:"password_change_count"`
	TokenRefreshCount   int       `db:"token_refresh_count"`
	UniqueIPCount       int       `db:"unique_ip_count"`
	UniqueDeviceCount   int       `db:"unique_device_count"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// SuspiciousActivityAlert is raised when an event's risk score crosses the
// alert threshold. Status moves new -> investigating -> resolved/false_positive.
type SuspiciousActivityAlert struct {
	ID          uuid.UUID  `db:"id"`
	EventID     uuid.UUID  `db:"event_id"`
	AccountID   *uuid.UUID `db:"account_id"`
	Severity    string     `db:"severity"`
	Status      string     `db:"status"`
	RiskScore   int        `db:"risk_score"`
	RiskFactors []string   `db:"risk_factors"`
	CreatedAt   time.Time  `db:"created_at"`
	ResolvedAt  *time.Time `db:"resolved_at"`
}

// ValidStatusTransition reports whether an alert may move between statuses.
// Terminal statuses never reopen.
func ValidStatusTransition(from, to string) bool {
	switch from {
	case AlertStatusNew:
		return to == AlertStatusInvestigating || to == AlertStatusResolved || to == AlertStatusFalsePositive
	case AlertStatusInvestigating:
		return to == AlertStatusResolved || to == AlertStatusFalsePositive
	default:
		return false
	}
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}
