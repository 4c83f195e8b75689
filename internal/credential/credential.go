// Package credential issues the session token handed out once a magic link
// has been redeemed. Tokens are ES256 JWTs; the public half of the signing
// key is published as a JWK set so other services can verify them.
package credential

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

const (
	DefaultTTL = 24 * time.Hour

	// MethodNostrDM is the amr value recorded in every credential.
	MethodNostrDM = "nostr-dm"
)

var (
	ErrNoKey        = errors.New("no verification key")
	ErrEmptySubject = errors.New("credential has no subject")
)

type Claims struct {
	jwt.Claims
	AMR []string `json:"amr,omitempty"`
}

// Verifier checks credentials against a public key.
type Verifier struct {
	key    *ecdsa.PublicKey
	issuer string
	now    func() time.Time
}

// NewVerifier trusts the first P-256 signing key in set.
func NewVerifier(set jose.JSONWebKeySet, issuer string) (*Verifier, error) {
	for _, k := range set.Keys {
		pub, err := publicKey(k)
		if err != nil {
			continue
		}
		return &Verifier{key: pub, issuer: issuer, now: time.Now}, nil
	}
	return nil, ErrNoKey
}

func publicKey(jwk jose.JSONWebKey) (*ecdsa.PublicKey, error) {
	if !jwk.Valid() {
		return nil, fmt.Errorf("invalid jwk")
	}
	switch k := jwk.Key.(type) {
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("unsupported curve: %s", k.Curve.Params().Name)
		}
		return k, nil
	case *ecdsa.PrivateKey:
		return publicKey(jose.JSONWebKey{Key: &k.PublicKey})
	default:
		return nil, fmt.Errorf("unsupported key type: %T", jwk.Key)
	}
}

// Verify checks the signature, issuer and expiry of token.
func (v *Verifier) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return Claims{}, err
	}

	var claims Claims
	if err := parsed.Claims(v.key, &claims); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: v.issuer, Time: v.now()}, 0); err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, ErrEmptySubject
	}
	return claims, nil
}

type Config struct {
	// Key is generated when nil, so credentials do not survive a restart.
	Key    *ecdsa.PrivateKey
	Issuer string
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Issuer struct {
	*Verifier
	signer jose.Signer
	keyID  string
	ttl    time.Duration
}

func NewIssuer(cfg Config) (*Issuer, error) {
	key := cfg.Key
	if key == nil {
		var err error
		if key, err = GenerateKey(); err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	thumb, err := (&jose.JSONWebKey{Key: &key.PublicKey}).Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key id: %w", err)
	}
	keyID := base64.RawURLEncoding.EncodeToString(thumb)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.ES256,
		Key:       jose.JSONWebKey{Key: key, KeyID: keyID},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &Issuer{
		Verifier: &Verifier{key: &key.PublicKey, issuer: cfg.Issuer, now: cfg.Now},
		signer:   signer,
		keyID:    keyID,
		ttl:      cfg.TTL,
	}, nil
}

func (i *Issuer) KeyID() string {
	return i.keyID
}

// Issue returns a signed credential for subject and its expiry.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, ErrEmptySubject
	}
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Claims: jwt.Claims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		AMR: []string{MethodNostrDM},
	}

	token, err := jwt.Signed(i.signer).Claims(claims).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	return token, expires, nil
}

// JWKS publishes the verification key.
func (i *Issuer) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       i.key,
		KeyID:     i.keyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}}}
}
