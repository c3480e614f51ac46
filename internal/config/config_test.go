package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-at-least-sixteen-chars")
	t.Setenv("DB_PASSWORD", "postgres")
	t.Setenv("MFA_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "bastion", cfg.Database.Name)
	assert.Equal(t, "8080", cfg.Server.Port)

	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTokenLifetime)
	assert.Equal(t, 30*24*time.Hour, cfg.Token.RefreshTokenLifetime)
	assert.True(t, cfg.Token.RotationEnabled)

	assert.Equal(t, 5, cfg.Lockout.Tier1Attempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Tier1Duration)
	assert.Equal(t, 10, cfg.Lockout.Tier2Attempts)
	assert.Equal(t, 1*time.Hour, cfg.Lockout.Tier2Duration)
	assert.Equal(t, 15, cfg.Lockout.Tier3Attempts)
	assert.Equal(t, 24*time.Hour, cfg.Lockout.Tier3Duration)

	assert.Equal(t, 5*time.Minute, cfg.MFA.ChallengeTTL)
	assert.Equal(t, 5, cfg.MFA.ChallengeMaxAttempt)
	assert.Equal(t, 10, cfg.MFA.BackupCodeCount)
	assert.Equal(t, 30*24*time.Hour, cfg.MFA.TrustedDeviceTTL)

	assert.Equal(t, 70, cfg.Audit.AlertThreshold)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.False(t, cfg.Alert.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_TIER1_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_TIER1_DURATION", "5m")
	t.Setenv("REFRESH_ROTATION_ENABLED", "false")
	t.Setenv("REFRESH_MAX_USAGE", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Lockout.Tier1Attempts)
	assert.Equal(t, 5*time.Minute, cfg.Lockout.Tier1Duration)
	assert.False(t, cfg.Token.RotationEnabled)
	assert.Equal(t, 10, cfg.Token.MaxUsage)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing jwt secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("JWT_SECRET", "")

		_, err := Load()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("short jwt secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("JWT_SECRET", "short")

		_, err := Load()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("weak jwt secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("JWT_SECRET", "changeme")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("production requires a longer secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ENV", "production")
		t.Setenv("JWT_SECRET", "only-twenty-chars-xx")

		_, err := Load()
		assert.ErrorContains(t, err, "at least 32")
	})

	t.Run("missing db password", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DB_PASSWORD", "")

		_, err := Load()
		assert.ErrorContains(t, err, "DB_PASSWORD")
	})

	t.Run("encryption key must be 32 bytes", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MFA_ENCRYPTION_KEY", "too-short")

		_, err := Load()
		assert.ErrorContains(t, err, "MFA_ENCRYPTION_KEY")
	})

	t.Run("alert email needs addresses", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ALERT_EMAIL_ENABLED", "true")

		_, err := Load()
		assert.ErrorContains(t, err, "ALERT_EMAIL_FROM")
	})
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "bastion",
		Password: "secret",
		Name:     "bastion",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=bastion password=secret dbname=bastion sslmode=require",
		cfg.DSN(),
	)
}
