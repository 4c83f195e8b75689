package database

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MagicLinkSession records an issued magic link until it is redeemed or
// expires. Only the token digest is stored.
type MagicLinkSession struct {
	ID        uint   `gorm:"primaryKey"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	Subject   string `gorm:"index;not null"`
	ExpiresAt int64  `gorm:"index;not null"`
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s MagicLinkSession) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// HashToken returns the digest under which a token's session is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
