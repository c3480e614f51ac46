package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jcalloway/bastion/internal/database"
	"github.com/jcalloway/bastion/internal/models"
)

// MFARepository handles MFA configurations and backup codes
type MFARepository struct {
	db *database.DB
}

// NewMFARepository creates a new MFARepository
func NewMFARepository(db *database.DB) *MFARepository {
	return &MFARepository{db: db}
}

const mfaConfigColumns = `id, account_id, method, secret_encrypted, secret_nonce, enabled, verified_at, failed_attempts, created_at`

func scanMFAConfig(row rowScanner) (*models.MFAConfiguration, error) {
	var c models.MFAConfiguration
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Method, &c.SecretEncrypted, &c.SecretNonce,
		&c.Enabled, &c.VerifiedAt, &c.FailedAttempts, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// UpsertConfiguration starts or restarts an enrollment. Re-enrolling before
// verification replaces the pending secret; the configuration stays disabled
// until the first code verifies.
func (r *MFARepository) UpsertConfiguration(ctx context.Context, config *models.MFAConfiguration) (*models.MFAConfiguration, error) {
	query := `
		INSERT INTO mfa_configurations (account_id, method, secret_encrypted, secret_nonce)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, method) DO UPDATE
		SET secret_encrypted = EXCLUDED.secret_encrypted,
		    secret_nonce = EXCLUDED.secret_nonce,
		    enabled = FALSE,
		    verified_at = NULL,
		    failed_attempts = 0
		RETURNING ` + mfaConfigColumns

	return scanMFAConfig(r.db.Pool.QueryRow(ctx, query,
		config.AccountID, config.Method, config.SecretEncrypted, config.SecretNonce,
	))
}

// GetConfiguration fetches the account's configuration for a method
func (r *MFARepository) GetConfiguration(ctx context.Context, accountID uuid.UUID, method string) (*models.MFAConfiguration, error) {
	query := `SELECT ` + mfaConfigColumns + ` FROM mfa_configurations WHERE account_id = $1 AND method = $2`
	return scanMFAConfig(r.db.Pool.QueryRow(ctx, query, accountID, method))
}

// EnableConfiguration marks a configuration verified and active
func (r *MFARepository) EnableConfiguration(ctx context.Context, accountID uuid.UUID, method string) error {
	query := `
		UPDATE mfa_configurations
		SET enabled = TRUE, verified_at = CURRENT_TIMESTAMP, failed_attempts = 0
		WHERE account_id = $1 AND method = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, accountID, method)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// IncrementFailedAttempts bumps the configuration's failure counter and
// returns the post-increment value.
func (r *MFARepository) IncrementFailedAttempts(ctx context.Context, accountID uuid.UUID, method string) (int, error) {
	query := `
		UPDATE mfa_configurations
		SET failed_attempts = failed_attempts + 1
		WHERE account_id = $1 AND method = $2
		RETURNING failed_attempts
	`

	var attempts int
	if err := r.db.Pool.QueryRow(ctx, query, accountID, method).Scan(&attempts); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// ResetFailedAttempts zeroes the configuration's failure counter
func (r *MFARepository) ResetFailedAttempts(ctx context.Context, accountID uuid.UUID, method string) error {
	query := `
		UPDATE mfa_configurations
		SET failed_attempts = 0
		WHERE account_id = $1 AND method = $2
	`

	_, err := r.db.Pool.Exec(ctx, query, accountID, method)
	return database.MapPostgresError(err)
}

// DeleteConfiguration removes the account's enrollment and all backup codes
// in one transaction. Used when MFA is disabled.
func (r *MFARepository) DeleteConfiguration(ctx context.Context, accountID uuid.UUID, method string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
			return err
		}

		result, err := tx.Exec(ctx,
			`DELETE FROM mfa_configurations WHERE account_id = $1 AND method = $2`,
			accountID, method,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// ReplaceBackupCodes deletes the account's existing codes and inserts the new
// set atomically. A regenerate that fails midway leaves the old set intact.
func (r *MFARepository) ReplaceBackupCodes(ctx context.Context, accountID uuid.UUID, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
			return err
		}

		insert := `INSERT INTO backup_codes (account_id, code_hash) VALUES ($1, $2)`
		for _, hash := range codeHashes {
			if _, err := tx.Exec(ctx, insert, accountID, hash); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUnusedBackupCodes returns the account's spendable codes. The caller
// compares the presented code against each hash.
func (r *MFARepository) ListUnusedBackupCodes(ctx context.Context, accountID uuid.UUID) ([]*models.BackupCode, error) {
	query := `
		SELECT id, account_id, code_hash, used, used_at, used_ip, created_at
		FROM backup_codes
		WHERE account_id = $1 AND used = FALSE
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	codes := make([]*models.BackupCode, 0)
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CodeHash, &c.Used, &c.UsedAt, &c.UsedIP, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup code rows: %w", err)
	}

	return codes, nil
}

// SpendBackupCode consumes one code. The used = FALSE guard makes the spend a
// one-winner operation: a second concurrent spend of the same code sees
// ErrNotFound.
func (r *MFARepository) SpendBackupCode(ctx context.Context, id uuid.UUID, ip string, at time.Time) error {
	query := `
		UPDATE backup_codes
		SET used = TRUE, used_at = $2, used_ip = $3
		WHERE id = $1 AND used = FALSE
	`

	result, err := r.db.Pool.Exec(ctx, query, id, at, ip)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountUnusedBackupCodes returns how many codes remain spendable
func (r *MFARepository) CountUnusedBackupCodes(ctx context.Context, accountID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM backup_codes WHERE account_id = $1 AND used = FALSE`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(&count)
	return count, database.MapPostgresError(err)
}
