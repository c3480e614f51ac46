package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/models"
)

// MockAccountRepository implements the account interfaces for testing
type MockAccountRepository struct {
	GetByEmailFunc              func(ctx context.Context, email string) (*models.Account, error)
	GetByIDFunc                 func(ctx context.Context, id uuid.UUID) (*models.Account, error)
	IncrementFailedAttemptsFunc func(ctx context.Context, id uuid.UUID) (int, error)
	SetLockoutFunc              func(ctx context.Context, id uuid.UUID, until time.Time) error
	ClearLockoutFunc            func(ctx context.Context, id uuid.UUID) error
	ResetFailedAttemptsFunc     func(ctx context.Context, id uuid.UUID) error
	SetMFAEnabledFunc           func(ctx context.Context, id uuid.UUID, enabled bool) error
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	if m.IncrementFailedAttemptsFunc != nil {
		return m.IncrementFailedAttemptsFunc(ctx, id)
	}
	return 1, nil
}

func (m *MockAccountRepository) SetLockout(ctx context.Context, id uuid.UUID, until time.Time) error {
	if m.SetLockoutFunc != nil {
		return m.SetLockoutFunc(ctx, id, until)
	}
	return nil
}

func (m *MockAccountRepository) ClearLockout(ctx context.Context, id uuid.UUID) error {
	if m.ClearLockoutFunc != nil {
		return m.ClearLockoutFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	if m.SetMFAEnabledFunc != nil {
		return m.SetMFAEnabledFunc(ctx, id, enabled)
	}
	return nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordAttemptFunc   func(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedByIPFunc func(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.CountFailedByIPFunc != nil {
		return m.CountFailedByIPFunc(ctx, ipAddress, since)
	}
	return 0, nil
}

// MockRefreshTokenRepository implements RefreshTokenRepository for testing
type MockRefreshTokenRepository struct {
	CreateFunc              func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	ConsumeFunc             func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	GetByHashFunc           func(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RotateFunc              func(ctx context.Context, consumedHash string, replacement *models.RefreshToken) (*models.RefreshToken, error)
	RevokeFunc              func(ctx context.Context, tokenHash string) error
	RevokeByIDFunc          func(ctx context.Context, accountID, id uuid.UUID) error
	RevokeAllForAccountFunc func(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListActiveByAccountFunc func(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.RefreshToken, error)
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	created := *token
	created.ID = uuid.New()
	return &created, nil
}

func (m *MockRefreshTokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, tokenHash, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) Rotate(ctx context.Context, consumedHash string, replacement *models.RefreshToken) (*models.RefreshToken, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, consumedHash, replacement)
	}
	created := *replacement
	created.ID = uuid.New()
	return &created, nil
}

func (m *MockRefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, tokenHash)
	}
	return nil
}

func (m *MockRefreshTokenRepository) RevokeByID(ctx context.Context, accountID, id uuid.UUID) error {
	if m.RevokeByIDFunc != nil {
		return m.RevokeByIDFunc(ctx, accountID, id)
	}
	return nil
}

func (m *MockRefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if m.RevokeAllForAccountFunc != nil {
		return m.RevokeAllForAccountFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockRefreshTokenRepository) ListActiveByAccount(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.RefreshToken, error) {
	if m.ListActiveByAccountFunc != nil {
		return m.ListActiveByAccountFunc(ctx, accountID, now)
	}
	return []*models.RefreshToken{}, nil
}

// MockMFARepository implements MFARepository for testing
type MockMFARepository struct {
	UpsertConfigurationFunc     func(ctx context.Context, config *models.MFAConfiguration) (*models.MFAConfiguration, error)
	GetConfigurationFunc        func(ctx context.Context, accountID uuid.UUID, method string) (*models.MFAConfiguration, error)
	EnableConfigurationFunc     func(ctx context.Context, accountID uuid.UUID, method string) error
	IncrementFailedAttemptsFunc func(ctx context.Context, accountID uuid.UUID, method string) (int, error)
	ResetFailedAttemptsFunc     func(ctx context.Context, accountID uuid.UUID, method string) error
	DeleteConfigurationFunc     func(ctx context.Context, accountID uuid.UUID, method string) error
	ReplaceBackupCodesFunc      func(ctx context.Context, accountID uuid.UUID, codeHashes []string) error
	ListUnusedBackupCodesFunc   func(ctx context.Context, accountID uuid.UUID) ([]*models.BackupCode, error)
	SpendBackupCodeFunc         func(ctx context.Context, id uuid.UUID, ip string, at time.Time) error
	CountUnusedBackupCodesFunc  func(ctx context.Context, accountID uuid.UUID) (int, error)
}

func (m *MockMFARepository) UpsertConfiguration(ctx context.Context, config *models.MFAConfiguration) (*models.MFAConfiguration, error) {
	if m.UpsertConfigurationFunc != nil {
		return m.UpsertConfigurationFunc(ctx, config)
	}
	created := *config
	created.ID = uuid.New()
	return &created, nil
}

func (m *MockMFARepository) GetConfiguration(ctx context.Context, accountID uuid.UUID, method string) (*models.MFAConfiguration, error) {
	if m.GetConfigurationFunc != nil {
		return m.GetConfigurationFunc(ctx, accountID, method)
	}
	return nil, models.ErrNotFound
}

func (m *MockMFARepository) EnableConfiguration(ctx context.Context, accountID uuid.UUID, method string) error {
	if m.EnableConfigurationFunc != nil {
		return m.EnableConfigurationFunc(ctx, accountID, method)
	}
	return nil
}

func (m *MockMFARepository) IncrementFailedAttempts(ctx context.Context, accountID uuid.UUID, method string) (int, error) {
	if m.IncrementFailedAttemptsFunc != nil {
		return m.IncrementFailedAttemptsFunc(ctx, accountID, method)
	}
	return 1, nil
}

func (m *MockMFARepository) ResetFailedAttempts(ctx context.Context, accountID uuid.UUID, method string) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, accountID, method)
	}
	return nil
}

func (m *MockMFARepository) DeleteConfiguration(ctx context.Context, accountID uuid.UUID, method string) error {
	if m.DeleteConfigurationFunc != nil {
		return m.DeleteConfigurationFunc(ctx, accountID, method)
	}
	return nil
}

func (m *MockMFARepository) ReplaceBackupCodes(ctx context.Context, accountID uuid.UUID, codeHashes []string) error {
	if m.ReplaceBackupCodesFunc != nil {
		return m.ReplaceBackupCodesFunc(ctx, accountID, codeHashes)
	}
	return nil
}

func (m *MockMFARepository) ListUnusedBackupCodes(ctx context.Context, accountID uuid.UUID) ([]*models.BackupCode, error) {
	if m.ListUnusedBackupCodesFunc != nil {
		return m.ListUnusedBackupCodesFunc(ctx, accountID)
	}
	return []*models.BackupCode{}, nil
}

func (m *MockMFARepository) SpendBackupCode(ctx context.Context, id uuid.UUID, ip string, at time.Time) error {
	if m.SpendBackupCodeFunc != nil {
		return m.SpendBackupCodeFunc(ctx, id, ip, at)
	}
	return nil
}

func (m *MockMFARepository) CountUnusedBackupCodes(ctx context.Context, accountID uuid.UUID) (int, error) {
	if m.CountUnusedBackupCodesFunc != nil {
		return m.CountUnusedBackupCodesFunc(ctx, accountID)
	}
	return 0, nil
}

// MockTrustedDeviceRepository implements TrustedDeviceRepository for testing
type MockTrustedDeviceRepository struct {
	UpsertFunc              func(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error)
	FindActiveFunc          func(ctx context.Context, accountID uuid.UUID, fingerprint string, now time.Time) (*models.TrustedDevice, error)
	RevokeAllForAccountFunc func(ctx context.Context, accountID uuid.UUID) (int64, error)
}

func (m *MockTrustedDeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, device)
	}
	created := *device
	created.ID = uuid.New()
	return &created, nil
}

func (m *MockTrustedDeviceRepository) FindActive(ctx context.Context, accountID uuid.UUID, fingerprint string, now time.Time) (*models.TrustedDevice, error) {
	if m.FindActiveFunc != nil {
		return m.FindActiveFunc(ctx, accountID, fingerprint, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if m.RevokeAllForAccountFunc != nil {
		return m.RevokeAllForAccountFunc(ctx, accountID)
	}
	return 0, nil
}

// MockChallengeRepository implements ChallengeRepository for testing
type MockChallengeRepository struct {
	CreateFunc            func(ctx context.Context, session *models.MFAChallengeSession) (*models.MFAChallengeSession, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.MFAChallengeSession, error)
	IncrementAttemptsFunc func(ctx context.Context, id uuid.UUID) (int, error)
	MarkVerifiedFunc      func(ctx context.Context, id uuid.UUID) error
}

func (m *MockChallengeRepository) Create(ctx context.Context, session *models.MFAChallengeSession) (*models.MFAChallengeSession, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	created := *session
	created.ID = uuid.New()
	return &created, nil
}

func (m *MockChallengeRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.MFAChallengeSession, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockChallengeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, id)
	}
	return 1, nil
}

func (m *MockChallengeRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	if m.MarkVerifiedFunc != nil {
		return m.MarkVerifiedFunc(ctx, id)
	}
	return nil
}

// MockAuditRepository implements AuditRepository for testing
type MockAuditRepository struct {
	InsertEventFunc         func(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error)
	CountRecentFailuresFunc func(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	HasAccountIPHistoryFunc func(ctx context.Context, accountID uuid.UUID, ipAddress string, since time.Time) (bool, error)
	HasDeviceHistoryFunc    func(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error)
	ListEventsByAccountFunc func(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)
	UpsertDailySummaryFunc  func(ctx context.Context, accountID uuid.UUID, day time.Time, eventType string, success bool) error
	GetDailySummaryFunc     func(ctx context.Context, accountID uuid.UUID, day time.Time) (*models.DailyAuditSummary, error)
	InsertAlertFunc         func(ctx context.Context, alert *models.SuspiciousActivityAlert) (*models.SuspiciousActivityAlert, error)
	GetAlertByIDFunc        func(ctx context.Context, id uuid.UUID) (*models.SuspiciousActivityAlert, error)
	ListAlertsFunc          func(ctx context.Context, status string, limit, offset int) ([]*models.SuspiciousActivityAlert, error)
	UpdateAlertStatusFunc   func(ctx context.Context, id uuid.UUID, from, to string) error
}

func (m *MockAuditRepository) InsertEvent(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	if m.InsertEventFunc != nil {
		return m.InsertEventFunc(ctx, event)
	}
	created := *event
	created.ID = uuid.New()
	return &created, nil
}

func (m *MockAuditRepository) CountRecentFailures(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	if m.CountRecentFailuresFunc != nil {
		return m.CountRecentFailuresFunc(ctx, accountID, since)
	}
	return 0, nil
}

func (m *MockAuditRepository) HasAccountIPHistory(ctx context.Context, accountID uuid.UUID, ipAddress string, since time.Time) (bool, error) {
	if m.HasAccountIPHistoryFunc != nil {
		return m.HasAccountIPHistoryFunc(ctx, accountID, ipAddress, since)
	}
	return true, nil
}

func (m *MockAuditRepository) HasDeviceHistory(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	if m.HasDeviceHistoryFunc != nil {
		return m.HasDeviceHistoryFunc(ctx, accountID, fingerprint)
	}
	return true, nil
}

func (m *MockAuditRepository) ListEventsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	if m.ListEventsByAccountFunc != nil {
		return m.ListEventsByAccountFunc(ctx, accountID, limit, offset)
	}
	return []*models.AuditEvent{}, nil
}

func (m *MockAuditRepository) UpsertDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time, eventType string, success bool) error {
	if m.UpsertDailySummaryFunc != nil {
		return m.UpsertDailySummaryFunc(ctx, accountID, day, eventType, success)
	}
	return nil
}

func (m *MockAuditRepository) GetDailySummary(ctx context.Context, accountID uuid.UUID, day time.Time) (*models.DailyAuditSummary, error) {
	if m.GetDailySummaryFunc != nil {
		return m.GetDailySummaryFunc(ctx, accountID, day)
	}
	return nil, models.ErrNotFound
}

func (m *MockAuditRepository) InsertAlert(ctx context.Context, alert *models.SuspiciousActivityAlert) (*models.SuspiciousActivityAlert, error) {
	if m.InsertAlertFunc != nil {
		return m.InsertAlertFunc(ctx, alert)
	}
	created := *alert
	created.ID = uuid.New()
	created.Status = models.AlertStatusNew
	return &created, nil
}

func (m *MockAuditRepository) GetAlertByID(ctx context.Context, id uuid.UUID) (*models.SuspiciousActivityAlert, error) {
	if m.GetAlertByIDFunc != nil {
		return m.GetAlertByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAuditRepository) ListAlerts(ctx context.Context, status string, limit, offset int) ([]*models.SuspiciousActivityAlert, error) {
	if m.ListAlertsFunc != nil {
		return m.ListAlertsFunc(ctx, status, limit, offset)
	}
	return []*models.SuspiciousActivityAlert{}, nil
}

func (m *MockAuditRepository) UpdateAlertStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	if m.UpdateAlertStatusFunc != nil {
		return m.UpdateAlertStatusFunc(ctx, id, from, to)
	}
	return nil
}

// MockEventRecorder implements EventRecorder and captures recorded events
type MockEventRecorder struct {
	Events []EventRecord
}

func (m *MockEventRecorder) Record(ctx context.Context, rec EventRecord) {
	m.Events = append(m.Events, rec)
}

// LastEvent returns the most recently recorded event, or nil
func (m *MockEventRecorder) LastEvent() *EventRecord {
	if len(m.Events) == 0 {
		return nil
	}
	return &m.Events[len(m.Events)-1]
}
