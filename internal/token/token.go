// Package token mints and verifies the self-contained credentials embedded
// in magic links.
//
// A token is an HS256 JWT carrying sub, iat, exp and jti. Verification is
// stateless: a token is accepted while its signature matches and exp has not
// passed. Single use is layered on top by the caller.
package token

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nostr_magiclink/internal/errs"
)

const DefaultTTL = 15 * time.Minute

// Config configures an Issuer. Secret is required.
type Config struct {
	Secret Secret

	// TTL applies when Mint is called with a non-positive ttl.
	// Defaults to DefaultTTL.
	TTL time.Duration

	// Issuer, when set, is written to and required in the iss claim.
	Issuer string

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

type Issuer struct {
	cfg Config
	log *slog.Logger
}

type Claims struct {
	jwt.RegisteredClaims
}

func New(cfg Config) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Issuer{cfg: cfg, log: log}
}

// TTL returns the default lifetime of minted tokens.
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}

// resolveSecret is the only place mint and verify obtain the key.
func (i *Issuer) resolveSecret(ctx context.Context) ([]byte, error) {
	secret, err := i.cfg.Secret.value(ctx)
	if err != nil {
		return nil, err
	}
	return deriveKey(secret)
}

// Mint issues a token for subject valid for ttl (DefaultTTL when ttl <= 0).
func (i *Issuer) Mint(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errs.New(errs.Validation, "subject is required")
	}
	if ttl <= 0 {
		ttl = i.cfg.TTL
	}

	key, err := i.resolveSecret(ctx)
	if err != nil {
		return "", errs.Wrap(errs.TokenGeneration, "failed to resolve signing secret", err)
	}

	now := i.cfg.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", errs.Wrap(errs.TokenGeneration, "failed to sign token", err)
	}
	return signed, nil
}

// Verify returns the subject of a valid token. Malformed, expired and
// foreign tokens all report false; they are expected outcomes, not faults.
func (i *Issuer) Verify(ctx context.Context, token string) (subject string, ok bool) {
	claims, err := i.Parse(ctx, token)
	if err != nil {
		i.log.Debug("token rejected", "error", err)
		return "", false
	}
	return claims.Subject, true
}

// Parse validates token and returns its claims.
func (i *Issuer) Parse(ctx context.Context, token string) (claims Claims, err error) {
	defer func() {
		if r := recover(); r != nil {
			claims, err = Claims{}, jwt.ErrTokenMalformed
		}
	}()

	if token == "" {
		return Claims{}, jwt.ErrTokenMalformed
	}

	key, err := i.resolveSecret(ctx)
	if err != nil {
		return Claims{}, err
	}

	// One clock reading for every time check in this verification.
	now := i.cfg.Now()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
