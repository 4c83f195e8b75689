package token

import (
	"context"
	"crypto/hkdf"
	"crypto/sha256"
	"errors"
)

const keyInfo = "nostr-magiclink token v1"

var ErrEmptySecret = errors.New("token secret is empty")

// Secret is the shared signing secret: either a fixed value or a provider
// evaluated on every mint and verify, which lets the secret rotate without
// a restart. Providers must be side-effect free.
type Secret struct {
	static   []byte
	provider func(ctx context.Context) (string, error)
}

func Static(secret string) Secret {
	return Secret{static: []byte(secret)}
}

func Provider(fn func(ctx context.Context) (string, error)) Secret {
	return Secret{provider: fn}
}

func (s Secret) value(ctx context.Context) ([]byte, error) {
	if s.provider != nil {
		v, err := s.provider(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(v), nil
	}
	return s.static, nil
}

// deriveKey turns the configured secret into the HMAC key, so the same
// operator secret never signs tokens directly.
func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	prk, err := hkdf.Extract(sha256.New, secret, nil)
	if err != nil {
		return nil, err
	}
	return hkdf.Expand(sha256.New, prk, keyInfo, 32)
}
