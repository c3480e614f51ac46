package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted side of a refresh token. Only the SHA-256 hash
// of the raw value is ever stored; the raw token exists in transit only.
//
// A token is usable while it is unrevoked, unexpired, and under its usage
// budget. Rotation supersedes a consumed token by revoking it and linking the
// replacement through ReplacedByHash for forensic chaining.
type RefreshToken struct {
	ID             uuid.UUID  `db:"id"`
	AccountID      uuid.UUID  `db:"account_id"`
	TokenHash      string     `db:"token_hash"`
	ExpiresAt      time.Time  `db:"expires_at"`
	DeviceInfo     string     `db:"device_info"`
	IPAddress      string     `db:"ip_address"`
	UserAgent      string     `db:"user_agent"`
	LastUsedAt     *time.Time `db:"last_used_at"`
	UsageCount     int        `db:"usage_count"`
	MaxUsage       int        `db:"max_usage"`
	RevokedAt      *time.Time `db:"revoked_at"`
	ReplacedByHash *string    `db:"replaced_by_hash"`
	CreatedAt      time.Time  `db:"created_at"`
}

// Usable reports whether the token can still be presented at the given instant.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt) && t.UsageCount < t.MaxUsage
}

// Rotated reports whether the token was superseded by a replacement, which is
// the reuse-detection signal: presenting a rotated token again means the raw
// value leaked to a second party.
func (t *RefreshToken) Rotated() bool {
	return t.RevokedAt != nil && t.ReplacedByHash != nil
}

// TokenPair is the result of issuing or refreshing tokens. RefreshToken is
// empty when rotation is disabled and the presented token remains valid.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// SessionInfo describes an active refresh session without exposing the token.
type SessionInfo struct {
	ID         uuid.UUID  `json:"id"`
	DeviceInfo string     `json:"device_info"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}
