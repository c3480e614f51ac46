package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Token    TokenConfig
	Lockout  LockoutConfig
	MFA      MFAConfig
	Audit    AuditConfig
	Alert    AlertConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type TokenConfig struct {
	JWTSecret            string
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	// RotationEnabled is the primary mode: every successful refresh revokes
	// the presented token and mints a replacement. MaxUsage only matters when
	// rotation is off, where it caps how often one token may be reused.
	RotationEnabled bool
	MaxUsage        int
}

type LockoutConfig struct {
	// Progressive lockout ladder, checked highest threshold first.
	Tier1Attempts int // default 5
	Tier1Duration time.Duration
	Tier2Attempts int // default 10
	Tier2Duration time.Duration
	Tier3Attempts int // default 15
	Tier3Duration time.Duration

	// Distributed-attack blocking by source IP, independent of accounts.
	IPFailureThreshold int
	IPFailureWindow    time.Duration

	AttemptRetention time.Duration
}

type MFAConfig struct {
	Issuer              string
	EncryptionKey       string // 32 bytes, AES-256
	ChallengeTTL        time.Duration
	ChallengeMaxAttempt int
	BackupCodeCount     int
	TrustedDeviceTTL    time.Duration
}

type AuditConfig struct {
	RetentionDays   int
	AlertThreshold  int
	DispatchBuffer  int
	CleanupInterval time.Duration
}

type AlertConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	ToAddress   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Token: TokenConfig{
			JWTSecret:            jwtSecret,
			AccessTokenLifetime:  time.Duration(getEnvAsInt("ACCESS_TOKEN_LIFETIME_MINUTES", 15)) * time.Minute,
			RefreshTokenLifetime: time.Duration(getEnvAsInt("REFRESH_TOKEN_LIFETIME_DAYS", 30)) * 24 * time.Hour,
			RotationEnabled:      getEnvAsBool("REFRESH_ROTATION_ENABLED", true),
			MaxUsage:             getEnvAsInt("REFRESH_MAX_USAGE", 1),
		},
		Lockout: LockoutConfig{
			Tier1Attempts:      getEnvAsInt("LOCKOUT_TIER1_ATTEMPTS", 5),
			Tier1Duration:      getEnvAsDuration("LOCKOUT_TIER1_DURATION", 15*time.Minute),
			Tier2Attempts:      getEnvAsInt("LOCKOUT_TIER2_ATTEMPTS", 10),
			Tier2Duration:      getEnvAsDuration("LOCKOUT_TIER2_DURATION", 1*time.Hour),
			Tier3Attempts:      getEnvAsInt("LOCKOUT_TIER3_ATTEMPTS", 15),
			Tier3Duration:      getEnvAsDuration("LOCKOUT_TIER3_DURATION", 24*time.Hour),
			IPFailureThreshold: getEnvAsInt("IP_FAILURE_THRESHOLD", 20),
			IPFailureWindow:    getEnvAsDuration("IP_FAILURE_WINDOW", 30*time.Minute),
			AttemptRetention:   getEnvAsDuration("ATTEMPT_RETENTION", 30*24*time.Hour),
		},
		MFA: MFAConfig{
			Issuer:              getEnv("MFA_ISSUER", "bastion"),
			EncryptionKey:       getEnv("MFA_ENCRYPTION_KEY", ""),
			ChallengeTTL:        getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
			ChallengeMaxAttempt: getEnvAsInt("CHALLENGE_MAX_ATTEMPTS", 5),
			BackupCodeCount:     getEnvAsInt("BACKUP_CODE_COUNT", 10),
			TrustedDeviceTTL:    time.Duration(getEnvAsInt("TRUSTED_DEVICE_TTL_DAYS", 30)) * 24 * time.Hour,
		},
		Audit: AuditConfig{
			RetentionDays:   getEnvAsInt("AUDIT_RETENTION_DAYS", 90),
			AlertThreshold:  getEnvAsInt("ALERT_RISK_THRESHOLD", 70),
			DispatchBuffer:  getEnvAsInt("AUDIT_DISPATCH_BUFFER", 256),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Alert: AlertConfig{
			Enabled:     getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_EMAIL_FROM", ""),
			ToAddress:   getEnv("ALERT_EMAIL_TO", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if len(cfg.MFA.EncryptionKey) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(cfg.MFA.EncryptionKey))
	}

	if cfg.Alert.Enabled && (cfg.Alert.FromAddress == "" || cfg.Alert.ToAddress == "") {
		return nil, fmt.Errorf("ALERT_EMAIL_FROM and ALERT_EMAIL_TO are required when alert email is enabled")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
