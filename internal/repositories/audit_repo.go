package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/database"
	"github.com/jcalloway/bastion/internal/models"
)

// AuditRepository handles the audit event ledger, daily summaries, and
// suspicious activity alerts
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditEventColumns = `id, event_type, category, account_id, success, failure_reason, ip_address, user_agent,
	device_fingerprint, risk_score, risk_factors, metadata, created_at`

func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	err := row.Scan(
		&e.ID, &e.EventType, &e.Category, &e.AccountID, &e.Success,
		&e.FailureReason, &e.IPAddress, &e.UserAgent, &e.DeviceFingerprint,
		&e.RiskScore, &e.RiskFactors, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

// InsertEvent appends an event to the ledger. Events are never updated or
// deleted except by retention cleanup.
func (r *AuditRepository) InsertEvent(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	query := `
		INSERT INTO audit_events (event_type, category, account_id, success, failure_reason,
			ip_address, user_agent, device_fingerprint, risk_score, risk_factors, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + auditEventColumns

	return scanAuditEvent(r.db.Pool.QueryRow(ctx, query,
		event.EventType, event.Category, event.AccountID, event.Success,
		event.FailureReason, event.IPAddress, event.UserAgent,
		event.DeviceFingerprint, event.RiskScore, event.RiskFactors, event.Metadata,
	))
}

// CountRecentFailures counts failed events for an account within a window.
// Feeds the rapid-failures risk signal.
func (r *AuditRepository) CountRecentFailures(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM audit_events
		WHERE account_id = $1 AND success = FALSE AND created_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, accountID, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// HasAccountIPHistory reports whether the account has any prior event from
// this IP within the lookback window. Feeds the new-IP risk signal.
func (r *AuditRepository) HasAccountIPHistory(ctx context.Context, accountID uuid.UUID, ipAddress string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM audit_events
			WHERE account_id = $1 AND ip_address = $2 AND created_at >= $3
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, accountID, ipAddress, since).Scan(&exists)
	return exists, database.MapPostgresError(err)
}

// HasDeviceHistory reports whether the account has any prior event from this
// device fingerprint. Feeds the new-device alert severity signal.
func (r *AuditRepository) HasDeviceHistory(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM audit_events
			WHERE account_id = $1 AND device_fingerprint = $2
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, accountID, fingerprint).Scan(&exists)
	return exists, database.MapPostgresError(err)
}

// ListEventsByAccount returns the account's events newest first, paginated
func (r *AuditRepository) ListEventsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditEventColumns + `
		FROM audit_events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}

// UpsertDailySummary folds one event into the account's summary row for the
// event's calendar day. Counters bump incrementally; the unique IP and device
// counts are recomputed from that day's ledger rows so concurrent updates
// converge on the right totals.
func (r *AuditRepository) UpsertDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time, eventType string, success bool) error {
	loginInc := 0
	failedInc := 0
	passwordInc := 0
	refreshInc := 0
	switch {
	case eventType == models.AuditEventLogin && success:
		loginInc = 1
	case eventType == models.AuditEventLoginFailed || (eventType == models.AuditEventLogin && !success):
		failedInc = 1
	case eventType == models.AuditEventPasswordChange || eventType == models.AuditEventPasswordReset:
		passwordInc = 1
	case eventType == models.AuditEventTokenRefresh:
		refreshInc = 1
	}

	query := `
		INSERT INTO audit_daily_summaries (account_id, day, login_count, failed_login_count,
			password_change_count, token_refresh_count, unique_ip_count, unique_device_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COUNT(DISTINCT ip_address) FROM audit_events
				WHERE account_id = $1 AND created_at >= $2 AND created_at < $2 + INTERVAL '1 day'),
			(SELECT COUNT(DISTINCT device_fingerprint) FROM audit_events
				WHERE account_id = $1 AND created_at >= $2 AND created_at < $2 + INTERVAL '1 day'
				AND device_fingerprint <> ''),
			CURRENT_TIMESTAMP)
		ON CONFLICT (account_id, day) DO UPDATE
		SET login_count = audit_daily_summaries.login_count + EXCLUDED.login_count,
		    failed_login_count = audit_daily_summaries.failed_login_count + EXCLUDED.failed_login_count,
		    password_change_count = audit_daily_summaries.password_change_count + EXCLUDED.password_change_count,
		    token_refresh_count = audit_daily_summaries.token_refresh_count + EXCLUDED.token_refresh_count,
		    unique_ip_count = EXCLUDED.unique_ip_count,
		    unique_device_count = EXCLUDED.unique_device_count,
		    updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.Pool.Exec(ctx, query, accountID, day, loginInc, failedInc, passwordInc, refreshInc)
	return database.MapPostgresError(err)
}

// GetDailySummary fetches one account-day summary
func (r *AuditRepository) GetDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time) (*models.DailyAuditSummary, error) {
	query := `
		SELECT account_id, day, login_count, failed_login_count, password_change_count,
			token_refresh_count, unique_ip_count, unique_device_count, updated_at
		FROM audit_daily_summaries
		WHERE account_id = $1 AND day = $2
	`

	var s models.DailyAuditSummary
	err := r.db.Pool.QueryRow(ctx, query, accountID, day).Scan(
		&s.AccountID, &s.Day, &s.LoginCount, &s.FailedLoginCount,
		&s.PasswordChangeCount, &s.TokenRefreshCount,
		&s.UniqueIPCount, &s.UniqueDeviceCount, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

const alertColumns = `id, event_id, account_id, severity, status, risk_score, risk_factors, created_at, resolved_at`

func scanAlert(row rowScanner) (*models.SuspiciousActivityAlert, error) {
	var a models.SuspiciousActivityAlert
	err := row.Scan(
		&a.ID, &a.EventID, &a.AccountID, &a.Severity, &a.Status,
		&a.RiskScore, &a.RiskFactors, &a.CreatedAt, &a.ResolvedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

// InsertAlert raises a suspicious activity alert in status new
func (r *AuditRepository) InsertAlert(ctx context.Context, alert *models.SuspiciousActivityAlert) (*models.SuspiciousActivityAlert, error) {
	query := `
		INSERT INTO suspicious_activity_alerts (event_id, account_id, severity, risk_score, risk_factors)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + alertColumns

	return scanAlert(r.db.Pool.QueryRow(ctx, query,
		alert.EventID, alert.AccountID, alert.Severity, alert.RiskScore, alert.RiskFactors,
	))
}

// GetAlertByID fetches a single alert
func (r *AuditRepository) GetAlertByID(ctx context.Context, id uuid.UUID) (*models.SuspiciousActivityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM suspicious_activity_alerts WHERE id = $1`
	return scanAlert(r.db.Pool.QueryRow(ctx, query, id))
}

// ListAlerts returns alerts newest first, optionally filtered by status
func (r *AuditRepository) ListAlerts(ctx context.Context, status string, limit, offset int) ([]*models.SuspiciousActivityAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM suspicious_activity_alerts
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	alerts := make([]*models.SuspiciousActivityAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// UpdateAlertStatus transitions an alert. Terminal statuses stamp resolved_at.
// The caller validates the transition before calling.
func (r *AuditRepository) UpdateAlertStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	query := `
		UPDATE suspicious_activity_alerts
		SET status = $3,
		    resolved_at = CASE WHEN $3 IN ('resolved', 'false_positive') THEN CURRENT_TIMESTAMP ELSE resolved_at END
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// DeleteOldEvents removes ledger rows past the retention window
func (r *AuditRepository) DeleteOldEvents(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM audit_events WHERE created_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
