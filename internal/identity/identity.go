// Package identity validates and normalizes 32-byte identity keys in their
// 64 character hex form.
package identity

import (
	"strings"

	"nostr_magiclink/internal/errs"
)

// KeyLength is the length of a hex encoded identity key.
const KeyLength = 64

// Valid reports whether s is exactly 64 hex characters. Case is ignored.
func Valid(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Normalize validates s and returns its lowercase form.
func Normalize(s string) (string, error) {
	if !Valid(s) {
		return "", errs.New(errs.Validation, "identity key must be a 64-character hex string")
	}
	return strings.ToLower(s), nil
}

// CleanPrivateKey accepts the forms operators tend to paste into
// configuration (surrounding whitespace, a 0x prefix) and normalizes them.
func CleanPrivateKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return "", errs.New(errs.Configuration, "private key is required")
	}
	return Normalize(s)
}

// Redact shortens a key for logs. Keys are never logged in full.
func Redact(s string) string {
	if len(s) <= 8 {
		return "…"
	}
	return s[:8] + "…"
}
