package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/models"
)

// RefreshTokenRepository defines the token store operations the lifecycle manager needs
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	Consume(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, consumedHash string, replacement *models.RefreshToken) (*models.RefreshToken, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeByID(ctx context.Context, accountID, id uuid.UUID) error
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListActiveByAccount(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*models.RefreshToken, error)
}

// TokenAccountRepository resolves accounts when minting access tokens
type TokenAccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// TokenService manages the refresh token lifecycle: issuance, rotation on
// refresh, reuse detection, and revocation. Unlike the lockout path, token
// storage errors are hard failures; a refresh must never succeed on guesswork.
type TokenService struct {
	tokens   RefreshTokenRepository
	accounts TokenAccountRepository
	manager  *auth.TokenManager
	recorder EventRecorder
	config   config.TokenConfig
	logger   *slog.Logger

	// Now is overridable for deterministic tests. Nil means time.Now.
	Now func() time.Time
}

// NewTokenService creates a new TokenService
func NewTokenService(tokens RefreshTokenRepository, accounts TokenAccountRepository, manager *auth.TokenManager, recorder EventRecorder, cfg config.TokenConfig, logger *slog.Logger) *TokenService {
	return &TokenService{
		tokens:   tokens,
		accounts: accounts,
		manager:  manager,
		recorder: recorder,
		config:   cfg,
		logger:   logger,
	}
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenService) maxUsage() int {
	if s.config.RotationEnabled {
		return 1
	}
	if s.config.MaxUsage < 1 {
		return 1
	}
	return s.config.MaxUsage
}

// IssueTokens mints a fresh access/refresh pair for an authenticated account.
// The raw refresh token leaves through the return value and is never stored.
func (s *TokenService) IssueTokens(ctx context.Context, account *models.Account, ipAddress, userAgent, deviceInfo string) (*models.TokenPair, error) {
	accessToken, err := s.manager.GenerateAccessToken(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	raw, hash, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	_, err = s.tokens.Create(ctx, &models.RefreshToken{
		AccountID:  account.ID,
		TokenHash:  hash,
		ExpiresAt:  s.now().Add(s.config.RefreshTokenLifetime),
		DeviceInfo: deviceInfo,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		MaxUsage:   s.maxUsage(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		ExpiresIn:    int64(s.manager.AccessLifetime().Seconds()),
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. With
// rotation enabled the presented token is revoked and a replacement is
// returned; every failure surfaces as ErrInvalidToken so callers cannot
// distinguish expired, revoked, and unknown tokens.
//
// Presenting a token that was already rotated is treated as theft: the raw
// value reached two parties, so every session for the account is revoked
// before the generic error goes back.
func (s *TokenService) Refresh(ctx context.Context, rawToken, ipAddress, userAgent string) (*models.TokenPair, error) {
	now := s.now()
	hash := auth.HashToken(rawToken)

	consumed, err := s.tokens.Consume(ctx, hash, now)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.handleFailedConsume(ctx, hash, ipAddress, userAgent)
			return nil, models.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	account, err := s.accounts.GetByID(ctx, consumed.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account for refresh: %w", err)
	}

	accessToken, err := s.manager.GenerateAccessToken(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	pair := &models.TokenPair{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.manager.AccessLifetime().Seconds()),
	}

	if s.config.RotationEnabled {
		raw, newHash, err := auth.GenerateOpaqueToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate replacement token: %w", err)
		}

		_, err = s.tokens.Rotate(ctx, hash, &models.RefreshToken{
			AccountID:  account.ID,
			TokenHash:  newHash,
			ExpiresAt:  now.Add(s.config.RefreshTokenLifetime),
			DeviceInfo: consumed.DeviceInfo,
			IPAddress:  ipAddress,
			UserAgent:  userAgent,
			MaxUsage:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}

		pair.RefreshToken = raw
	}

	s.recorder.Record(ctx, EventRecord{
		EventType: models.AuditEventTokenRefresh,
		Category:  models.AuditCategoryToken,
		AccountID: &account.ID,
		Success:   true,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})

	return pair, nil
}

// handleFailedConsume inspects why a consume found no row. A token that was
// rotated away is the reuse signal; anything else is just an invalid token.
func (s *TokenService) handleFailedConsume(ctx context.Context, hash, ipAddress, userAgent string) {
	token, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		return
	}

	if !token.Rotated() {
		return
	}

	revoked, err := s.tokens.RevokeAllForAccount(ctx, token.AccountID)
	if err != nil {
		s.logger.Error("failed to revoke sessions after token reuse",
			slog.String("account_id", token.AccountID.String()),
			slog.Any("error", err))
	} else {
		s.logger.Warn("refresh token reuse detected, all sessions revoked",
			slog.String("account_id", token.AccountID.String()),
			slog.Int64("sessions_revoked", revoked))
	}

	reason := "refresh token replay"
	s.recorder.Record(ctx, EventRecord{
		EventType:     models.AuditEventTokenReuse,
		Category:      models.AuditCategorySecurity,
		AccountID:     &token.AccountID,
		Success:       false,
		FailureReason: &reason,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Metadata:      models.AuditMetadata{"sessions_revoked": revoked},
	})
}

// RevokeToken revokes the session behind a raw refresh token. Used by logout;
// idempotent, so revoking an unknown token succeeds silently.
func (s *TokenService) RevokeToken(ctx context.Context, rawToken, ipAddress, userAgent string) error {
	hash := auth.HashToken(rawToken)

	if err := s.tokens.Revoke(ctx, hash); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	if token, err := s.tokens.GetByHash(ctx, hash); err == nil {
		s.recorder.Record(ctx, EventRecord{
			EventType: models.AuditEventTokenRevoke,
			Category:  models.AuditCategoryToken,
			AccountID: &token.AccountID,
			Success:   true,
			IPAddress: ipAddress,
			UserAgent: userAgent,
		})
	}

	return nil
}

// RevokeSession revokes one of the account's sessions by id
func (s *TokenService) RevokeSession(ctx context.Context, accountID, sessionID uuid.UUID) error {
	return s.tokens.RevokeByID(ctx, accountID, sessionID)
}

// RevokeAllSessions revokes every live session for the account and returns
// how many were affected
func (s *TokenService) RevokeAllSessions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.tokens.RevokeAllForAccount(ctx, accountID)
}

// ListSessions returns the account's active sessions without exposing tokens
func (s *TokenService) ListSessions(ctx context.Context, accountID uuid.UUID) ([]*models.SessionInfo, error) {
	tokens, err := s.tokens.ListActiveByAccount(ctx, accountID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*models.SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, &models.SessionInfo{
			ID:         t.ID,
			DeviceInfo: t.DeviceInfo,
			IPAddress:  t.IPAddress,
			UserAgent:  t.UserAgent,
			LastUsedAt: t.LastUsedAt,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
		})
	}

	return sessions, nil
}
