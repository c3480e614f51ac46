package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/models"
)

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		JWTSecret:            "test-secret-at-least-sixteen-chars",
		AccessTokenLifetime:  15 * time.Minute,
		RefreshTokenLifetime: 30 * 24 * time.Hour,
		RotationEnabled:      true,
		MaxUsage:             1,
	}
}

func newTestTokenService(tokens *MockRefreshTokenRepository, accounts *MockAccountRepository, recorder *MockEventRecorder, cfg config.TokenConfig) *TokenService {
	manager := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenLifetime)
	svc := NewTokenService(tokens, accounts, manager, recorder, cfg, slog.Default())
	svc.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func testAccount() *models.Account {
	return &models.Account{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: "$2a$10$notrealhash",
		Status:       "active",
	}
}

func TestTokenService_IssueTokens(t *testing.T) {
	ctx := context.Background()
	account := testAccount()

	t.Run("returns pair and stores hash only", func(t *testing.T) {
		var stored *models.RefreshToken
		tokens := &MockRefreshTokenRepository{
			CreateFunc: func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
				stored = token
				created := *token
				created.ID = uuid.New()
				return &created, nil
			},
		}
		svc := newTestTokenService(tokens, &MockAccountRepository{}, &MockEventRecorder{}, testTokenConfig())

		pair, err := svc.IssueTokens(ctx, account, "203.0.113.7", "test-agent", "laptop")
		require.NoError(t, err)

		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, int64(900), pair.ExpiresIn)

		require.NotNil(t, stored)
		assert.Equal(t, account.ID, stored.AccountID)
		assert.Equal(t, auth.HashToken(pair.RefreshToken), stored.TokenHash)
		assert.NotEqual(t, pair.RefreshToken, stored.TokenHash)
		assert.Equal(t, 1, stored.MaxUsage)
		assert.Equal(t, "laptop", stored.DeviceInfo)
	})

	t.Run("access token carries account claims", func(t *testing.T) {
		cfg := testTokenConfig()
		svc := newTestTokenService(&MockRefreshTokenRepository{}, &MockAccountRepository{}, &MockEventRecorder{}, cfg)

		pair, err := svc.IssueTokens(ctx, account, "203.0.113.7", "test-agent", "")
		require.NoError(t, err)

		manager := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenLifetime)
		claims, err := manager.ValidateAccessToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, account.ID.String(), claims.AccountID)
		assert.Equal(t, account.Email, claims.Email)
	})

	t.Run("rotation off honors configured max usage", func(t *testing.T) {
		cfg := testTokenConfig()
		cfg.RotationEnabled = false
		cfg.MaxUsage = 5

		var stored *models.RefreshToken
		tokens := &MockRefreshTokenRepository{
			CreateFunc: func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
				stored = token
				return token, nil
			},
		}
		svc := newTestTokenService(tokens, &MockAccountRepository{}, &MockEventRecorder{}, cfg)

		_, err := svc.IssueTokens(ctx, account, "203.0.113.7", "test-agent", "")
		require.NoError(t, err)
		assert.Equal(t, 5, stored.MaxUsage)
	})

	t.Run("storage failure is fatal", func(t *testing.T) {
		tokens := &MockRefreshTokenRepository{
			CreateFunc: func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
				return nil, errors.New("db down")
			},
		}
		svc := newTestTokenService(tokens, &MockAccountRepository{}, &MockEventRecorder{}, testTokenConfig())

		_, err := svc.IssueTokens(ctx, account, "203.0.113.7", "test-agent", "")
		assert.Error(t, err)
	})
}

func TestTokenService_Refresh(t *testing.T) {
	ctx := context.Background()
	account := testAccount()
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}

	t.Run("rotation replaces the token", func(t *testing.T) {
		raw, hash, err := auth.GenerateOpaqueToken()
		require.NoError(t, err)

		var rotatedHash string
		var replacement *models.RefreshToken
		tokens := &MockRefreshTokenRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
				assert.Equal(t, hash, tokenHash)
				return &models.RefreshToken{
					ID:         uuid.New(),
					AccountID:  account.ID,
					TokenHash:  tokenHash,
					DeviceInfo: "laptop",
					UsageCount: 1,
					MaxUsage:   1,
				}, nil
			},
			RotateFunc: func(ctx context.Context, consumedHash string, repl *models.RefreshToken) (*models.RefreshToken, error) {
				rotatedHash = consumedHash
				replacement = repl
				return repl, nil
			},
		}
		recorder := &MockEventRecorder{}
		svc := newTestTokenService(tokens, accounts, recorder, testTokenConfig())

		pair, err := svc.Refresh(ctx, raw, "203.0.113.7", "test-agent")
		require.NoError(t, err)

		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.NotEqual(t, raw, pair.RefreshToken)

		assert.Equal(t, hash, rotatedHash)
		require.NotNil(t, replacement)
		assert.Equal(t, auth.HashToken(pair.RefreshToken), replacement.TokenHash)
		assert.Equal(t, "laptop", replacement.DeviceInfo)
		assert.Equal(t, 1, replacement.MaxUsage)

		last := recorder.LastEvent()
		require.NotNil(t, last)
		assert.Equal(t, models.AuditEventTokenRefresh, last.EventType)
		assert.True(t, last.Success)
	})

	t.Run("rotation disabled returns no replacement", func(t *testing.T) {
		cfg := testTokenConfig()
		cfg.RotationEnabled = false
		cfg.MaxUsage = 5

		rotated := false
		tokens := &MockRefreshTokenRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
				return &models.RefreshToken{AccountID: account.ID, TokenHash: tokenHash, UsageCount: 2, MaxUsage: 5}, nil
			},
			RotateFunc: func(ctx context.Context, consumedHash string, repl *models.RefreshToken) (*models.RefreshToken, error) {
				rotated = true
				return repl, nil
			},
		}
		svc := newTestTokenService(tokens, accounts, &MockEventRecorder{}, cfg)

		pair, err := svc.Refresh(ctx, "some-raw-token", "203.0.113.7", "test-agent")
		require.NoError(t, err)

		assert.NotEmpty(t, pair.AccessToken)
		assert.Empty(t, pair.RefreshToken)
		assert.False(t, rotated)
	})

	t.Run("unknown token is generic invalid", func(t *testing.T) {
		tokens := &MockRefreshTokenRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
				return nil, models.ErrNotFound
			},
			GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
				return nil, models.ErrNotFound
			},
		}
		svc := newTestTokenService(tokens, accounts, &MockEventRecorder{}, testTokenConfig())

		_, err := svc.Refresh(ctx, "bogus", "203.0.113.7", "test-agent")
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("expired token does not trigger reuse response", func(t *testing.T) {
		revokedAll := false
		tokens := &MockRefreshTokenRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
				return nil, models.ErrNotFound
			},
			GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
				// expired but never rotated
				return &models.RefreshToken{AccountID: account.ID, TokenHash: tokenHash}, nil
			},
			RevokeAllForAccountFunc: func(ctx context.Context, accountID uuid.UUID) (int64, error) {
				revokedAll = true
				return 0, nil
			},
		}
		recorder := &MockEventRecorder{}
		svc := newTestTokenService(tokens, accounts, recorder, testTokenConfig())

		_, err := svc.Refresh(ctx, "expired", "203.0.113.7", "test-agent")
		assert.ErrorIs(t, err, models.ErrInvalidToken)
		assert.False(t, revokedAll)
		assert.Empty(t, recorder.Events)
	})

	t.Run("rotated token replay revokes every session", func(t *testing.T) {
		revokedAccount := uuid.Nil
		revokedAt := time.Now()
		replaced := "abc"
		tokens := &MockRefreshTokenRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
				return nil, models.ErrNotFound
			},
			GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
				return &models.RefreshToken{
					AccountID:      account.ID,
					TokenHash:      tokenHash,
					RevokedAt:      &revokedAt,
					ReplacedByHash: &replaced,
				}, nil
			},
			RevokeAllForAccountFunc: func(ctx context.Context, accountID uuid.UUID) (int64, error) {
				revokedAccount = accountID
				return 3, nil
			},
		}
		recorder := &MockEventRecorder{}
		svc := newTestTokenService(tokens, accounts, recorder, testTokenConfig())

		_, err := svc.Refresh(ctx, "replayed", "203.0.113.7", "test-agent")
		assert.ErrorIs(t, err, models.ErrInvalidToken)
		assert.Equal(t, account.ID, revokedAccount)

		last := recorder.LastEvent()
		require.NotNil(t, last)
		assert.Equal(t, models.AuditEventTokenReuse, last.EventType)
		assert.Equal(t, models.AuditCategorySecurity, last.Category)
		assert.False(t, last.Success)
		assert.Equal(t, int64(3), last.Metadata["sessions_revoked"])
	})

	t.Run("storage failure is not invalid token", func(t *testing.T) {
		tokens := &MockRefreshTokenRepository{
			ConsumeFunc: func(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
				return nil, errors.New("db down")
			},
		}
		svc := newTestTokenService(tokens, accounts, &MockEventRecorder{}, testTokenConfig())

		_, err := svc.Refresh(ctx, "anything", "203.0.113.7", "test-agent")
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestTokenService_RevokeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes by hash", func(t *testing.T) {
		var revokedHash string
		tokens := &MockRefreshTokenRepository{
			RevokeFunc: func(ctx context.Context, tokenHash string) error {
				revokedHash = tokenHash
				return nil
			},
		}
		svc := newTestTokenService(tokens, &MockAccountRepository{}, &MockEventRecorder{}, testTokenConfig())

		require.NoError(t, svc.RevokeToken(ctx, "raw-token", "203.0.113.7", "test-agent"))
		assert.Equal(t, auth.HashToken("raw-token"), revokedHash)
	})

	t.Run("unknown token succeeds silently", func(t *testing.T) {
		svc := newTestTokenService(&MockRefreshTokenRepository{}, &MockAccountRepository{}, &MockEventRecorder{}, testTokenConfig())
		assert.NoError(t, svc.RevokeToken(ctx, "never-issued", "203.0.113.7", "test-agent"))
	})
}

func TestTokenService_ListSessions(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	tokens := &MockRefreshTokenRepository{
		ListActiveByAccountFunc: func(ctx context.Context, id uuid.UUID, now time.Time) ([]*models.RefreshToken, error) {
			return []*models.RefreshToken{
				{ID: uuid.New(), AccountID: id, TokenHash: "secret-hash", DeviceInfo: "laptop", IPAddress: "203.0.113.7"},
			}, nil
		},
	}
	svc := newTestTokenService(tokens, &MockAccountRepository{}, &MockEventRecorder{}, testTokenConfig())

	sessions, err := svc.ListSessions(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "laptop", sessions[0].DeviceInfo)
	assert.Equal(t, "203.0.113.7", sessions[0].IPAddress)
}
