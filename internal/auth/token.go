package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jcalloway/bastion/internal/models"
)

const rawTokenBytes = 32 // 256 bits of entropy for opaque tokens

// AccessClaims are the claims carried by short-lived access JWTs.
type AccessClaims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates access JWTs and generates the opaque
// random values used for refresh tokens and challenge session tokens.
// Opaque tokens are never persisted raw; only their SHA-256 hash is stored.
type TokenManager struct {
	secret         string
	accessLifetime time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessLifetime time.Duration) *TokenManager {
	return &TokenManager{
		secret:         secret,
		accessLifetime: accessLifetime,
	}
}

// AccessLifetime returns the configured access token lifetime.
func (tm *TokenManager) AccessLifetime() time.Duration {
	return tm.accessLifetime
}

// GenerateAccessToken creates a short-lived HS256 access token with a jti.
func (tm *TokenManager) GenerateAccessToken(accountID uuid.UUID, email string) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		AccountID: accountID.String(),
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ValidateAccessToken verifies an access token and returns its claims.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}

// GenerateOpaqueToken returns a 256-bit random token and its storage hash.
// The raw value goes to the client; only the hash touches the database.
func GenerateOpaqueToken() (raw string, hash string, err error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}

	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// HashToken returns the hex SHA-256 digest used to look up opaque tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
