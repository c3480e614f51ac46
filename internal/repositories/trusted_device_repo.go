package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/database"
	"github.com/jcalloway/bastion/internal/models"
)

// TrustedDeviceRepository handles trusted device records
type TrustedDeviceRepository struct {
	db *database.DB
}

// NewTrustedDeviceRepository creates a new TrustedDeviceRepository
func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

const trustedDeviceColumns = `id, account_id, device_fingerprint, device_info, created_at, expires_at, revoked`

func scanTrustedDevice(row rowScanner) (*models.TrustedDevice, error) {
	var d models.TrustedDevice
	err := row.Scan(
		&d.ID, &d.AccountID, &d.DeviceFingerprint, &d.DeviceInfo,
		&d.CreatedAt, &d.ExpiresAt, &d.Revoked,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &d, nil
}

// Upsert records a trusted device. Re-trusting an existing fingerprint
// restarts its window and clears any revocation.
func (r *TrustedDeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error) {
	query := `
		INSERT INTO trusted_devices (account_id, device_fingerprint, device_info, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, device_fingerprint) DO UPDATE
		SET device_info = EXCLUDED.device_info,
		    expires_at = EXCLUDED.expires_at,
		    revoked = FALSE
		RETURNING ` + trustedDeviceColumns

	return scanTrustedDevice(r.db.Pool.QueryRow(ctx, query,
		device.AccountID, device.DeviceFingerprint, device.DeviceInfo, device.ExpiresAt,
	))
}

// FindActive looks up an unexpired, unrevoked trust record for the exact
// fingerprint. ErrNotFound means the device is not trusted.
func (r *TrustedDeviceRepository) FindActive(ctx context.Context, accountID uuid.UUID, fingerprint string, now time.Time) (*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE account_id = $1 AND device_fingerprint = $2 AND revoked = FALSE AND expires_at > $3
	`

	return scanTrustedDevice(r.db.Pool.QueryRow(ctx, query, accountID, fingerprint, now))
}

// HasHistory reports whether the fingerprint has ever been trusted for the
// account, regardless of expiry or revocation. Feeds the new-device risk
// signal.
func (r *TrustedDeviceRepository) HasHistory(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM trusted_devices
			WHERE account_id = $1 AND device_fingerprint = $2
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, accountID, fingerprint).Scan(&exists)
	return exists, database.MapPostgresError(err)
}

// RevokeAllForAccount revokes every trusted device for the account. Called
// when MFA is disabled or credentials are rotated after compromise.
func (r *TrustedDeviceRepository) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `
		UPDATE trusted_devices
		SET revoked = TRUE
		WHERE account_id = $1 AND revoked = FALSE
	`

	result, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes devices whose trust window closed
func (r *TrustedDeviceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM trusted_devices WHERE expires_at <= CURRENT_TIMESTAMP`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
