package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/database"
	"github.com/jcalloway/bastion/internal/models"
)

// ChallengeRepository handles MFA challenge sessions
type ChallengeRepository struct {
	db *database.DB
}

// NewChallengeRepository creates a new ChallengeRepository
func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

const challengeColumns = `id, session_token, account_id, method, verified, attempts, expires_at, created_at`

func scanChallenge(row rowScanner) (*models.MFAChallengeSession, error) {
	var s models.MFAChallengeSession
	err := row.Scan(
		&s.ID, &s.SessionToken, &s.AccountID, &s.Method,
		&s.Verified, &s.Attempts, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Create persists a new challenge session
func (r *ChallengeRepository) Create(ctx context.Context, session *models.MFAChallengeSession) (*models.MFAChallengeSession, error) {
	query := `
		INSERT INTO mfa_challenge_sessions (session_token, account_id, method, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + challengeColumns

	return scanChallenge(r.db.Pool.QueryRow(ctx, query,
		session.SessionToken, session.AccountID, session.Method, session.ExpiresAt,
	))
}

// GetByTokenHash fetches a session by its hashed token
func (r *ChallengeRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.MFAChallengeSession, error) {
	query := `SELECT ` + challengeColumns + ` FROM mfa_challenge_sessions WHERE session_token = $1`
	return scanChallenge(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// IncrementAttempts bumps the session's attempt counter atomically and
// returns the post-increment value. Concurrent verification attempts each
// consume a distinct slot.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE mfa_challenge_sessions
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`

	var attempts int
	if err := r.db.Pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// MarkVerified completes the session. The verified = FALSE guard makes this a
// one-shot: a second concurrent completion sees ErrNotFound.
func (r *ChallengeRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE mfa_challenge_sessions
		SET verified = TRUE
		WHERE id = $1 AND verified = FALSE
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes dead challenge sessions
func (r *ChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM mfa_challenge_sessions WHERE expires_at <= CURRENT_TIMESTAMP`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
