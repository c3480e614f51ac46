package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/database"
	"github.com/jcalloway/bastion/internal/models"
)

// AccountRepository handles the account fields owned by the security core:
// the failure counter, the lockout expiry, and the MFA flag.
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, password_hash, mfa_enabled, failed_login_attempts, account_locked_until, status, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.MFAEnabled,
		&a.FailedLoginAttempts, &a.AccountLockedUntil, &a.Status,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

// GetByEmail fetches an account by normalized email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.Pool.QueryRow(ctx, query, email))
}

// GetByID fetches an account by id
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.Pool.QueryRow(ctx, query, id))
}

// IncrementFailedAttempts bumps the failure counter in a single UPDATE and
// returns the post-increment value. Concurrent failures each get their own
// increment; none are lost to read-modify-write races.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING failed_login_attempts
	`

	var attempts int
	if err := r.db.Pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// SetLockout stamps the lockout expiry. Idempotent: re-applying the same or a
// later expiry is harmless.
func (r *AccountRepository) SetLockout(ctx context.Context, id uuid.UUID, until time.Time) error {
	query := `
		UPDATE accounts
		SET account_locked_until = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id, until)
	return database.MapPostgresError(err)
}

// ClearLockout removes an expired lockout without touching the failure
// counter. Called lazily from lockout checks.
func (r *AccountRepository) ClearLockout(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET account_locked_until = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// ResetFailedAttempts zeroes the counter and clears any lockout. Called on
// successful authentication.
func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, account_locked_until = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// SetMFAEnabled flips the account-level MFA flag
func (r *AccountRepository) SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE accounts
		SET mfa_enabled = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id, enabled)
	return database.MapPostgresError(err)
}
