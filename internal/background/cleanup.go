package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcalloway/bastion/internal/repositories"
)

// CleanupManager periodically removes expired rows: login attempts past
// retention, dead refresh tokens, spent challenge sessions, lapsed trusted
// devices, and audit events past the retention window.
type CleanupManager struct {
	attempts   *repositories.LoginAttemptRepository
	tokens     *repositories.RefreshTokenRepository
	challenges *repositories.ChallengeRepository
	devices    *repositories.TrustedDeviceRepository
	audit      *repositories.AuditRepository
	logger     *slog.Logger
	interval   time.Duration
	retention  time.Duration
	stopCh     chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attempts *repositories.LoginAttemptRepository,
	tokens *repositories.RefreshTokenRepository,
	challenges *repositories.ChallengeRepository,
	devices *repositories.TrustedDeviceRepository,
	audit *repositories.AuditRepository,
	logger *slog.Logger,
	interval time.Duration,
	auditRetention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attempts:   attempts,
		tokens:     tokens,
		challenges: challenges,
		devices:    devices,
		audit:      audit,
		logger:     logger,
		interval:   interval,
		retention:  auditRetention,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	total := int64(0)

	if n, err := cm.attempts.DeleteExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to clean up login attempts", slog.Any("error", err))
	} else {
		total += n
	}

	// Expired and revoked tokens linger for the audit retention window so
	// reuse chains stay inspectable, then go.
	if n, err := cm.tokens.DeleteExpired(cleanupCtx, cm.retention); err != nil {
		cm.logger.Error("failed to clean up refresh tokens", slog.Any("error", err))
	} else {
		total += n
	}

	if n, err := cm.challenges.DeleteExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to clean up challenge sessions", slog.Any("error", err))
	} else {
		total += n
	}

	if n, err := cm.devices.DeleteExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to clean up trusted devices", slog.Any("error", err))
	} else {
		total += n
	}

	if n, err := cm.audit.DeleteOldEvents(cleanupCtx, time.Now().Add(-cm.retention)); err != nil {
		cm.logger.Error("failed to clean up audit events", slog.Any("error", err))
	} else {
		total += n
	}

	if total > 0 {
		cm.logger.Info("cleanup completed", slog.Int64("rows_deleted", total))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
