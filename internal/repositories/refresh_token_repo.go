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

// RefreshTokenRepository handles refresh token persistence. Tokens are keyed
// by hash; the raw value never reaches this layer.
type RefreshTokenRepository struct {
	db *database.DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository
func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, account_id, token_hash, expires_at, device_info, ip_address, user_agent,
	last_used_at, usage_count, max_usage, revoked_at, replaced_by_hash, created_at`

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &t.DeviceInfo,
		&t.IPAddress, &t.UserAgent, &t.LastUsedAt, &t.UsageCount, &t.MaxUsage,
		&t.RevokedAt, &t.ReplacedByHash, &t.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// Create persists a new refresh token row
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	query := `
		INSERT INTO refresh_tokens (account_id, token_hash, expires_at, device_info, ip_address, user_agent, max_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + refreshTokenColumns

	return scanRefreshToken(r.db.Pool.QueryRow(ctx, query,
		token.AccountID, token.TokenHash, token.ExpiresAt,
		token.DeviceInfo, token.IPAddress, token.UserAgent, token.MaxUsage,
	))
}

// Consume atomically claims one use of the token identified by hash. The
// conditional UPDATE is the serialization point: of two concurrent presenters
// of the same one-time token, exactly one gets a row back and the other sees
// ErrNotFound.
func (r *RefreshTokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET usage_count = usage_count + 1, last_used_at = $2
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
		  AND usage_count < max_usage
		RETURNING ` + refreshTokenColumns

	return scanRefreshToken(r.db.Pool.QueryRow(ctx, query, tokenHash, now))
}

// GetByHash fetches a token row regardless of state. Used for reuse detection
// after a failed consume.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshToken(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Rotate supersedes a consumed token inside one transaction: the replacement
// is inserted, and the old row is revoked and linked to it via
// replaced_by_hash for forensic chaining.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, consumedHash string, replacement *models.RefreshToken) (*models.RefreshToken, error) {
	var created *models.RefreshToken

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO refresh_tokens (account_id, token_hash, expires_at, device_info, ip_address, user_agent, max_usage)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING ` + refreshTokenColumns

		var err error
		created, err = scanRefreshToken(tx.QueryRow(ctx, insert,
			replacement.AccountID, replacement.TokenHash, replacement.ExpiresAt,
			replacement.DeviceInfo, replacement.IPAddress, replacement.UserAgent, replacement.MaxUsage,
		))
		if err != nil {
			return err
		}

		supersede := `
			UPDATE refresh_tokens
			SET revoked_at = CURRENT_TIMESTAMP, replaced_by_hash = $2
			WHERE token_hash = $1 AND revoked_at IS NULL
		`
		if _, err := tx.Exec(ctx, supersede, consumedHash, replacement.TokenHash); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return created, nil
}

// Revoke marks the token identified by hash as revoked. Idempotent: revoking
// an already-revoked or unknown token is a no-op.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = CURRENT_TIMESTAMP
		WHERE token_hash = $1 AND revoked_at IS NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, tokenHash)
	return database.MapPostgresError(err)
}

// RevokeByID revokes a single session owned by the account. Idempotent.
func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, accountID, id uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, id, accountID)
	return database.MapPostgresError(err)
}

// RevokeAllForAccount revokes every live token for the account and returns
// how many were affected. Idempotent.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = CURRENT_TIMESTAMP
		WHERE account_id = $1 AND revoked_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ListActiveByAccount returns the account's live sessions, newest first.
func (r *RefreshTokenRepository) ListActiveByAccount(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}

	return tokens, nil
}

// DeleteExpired garbage-collects tokens that have been expired or revoked
// longer than the retention window.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= CURRENT_TIMESTAMP - $1::interval
		   OR revoked_at <= CURRENT_TIMESTAMP - $1::interval
	`

	result, err := r.db.Pool.Exec(ctx, query, retention)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
