package identity

import (
	"nostr_magiclink/internal/crypto"
	"nostr_magiclink/internal/errs"
)

// KeyPair is a hex encoded secp256k1 identity.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// GenerateKey creates a fresh identity.
func GenerateKey() (KeyPair, error) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, errs.Wrap(errs.Configuration, "failed to generate private key", err)
	}
	pub, err := crypto.DerivePublicKey(priv)
	if err != nil {
		return KeyPair{}, errs.Wrap(errs.Configuration, "failed to derive public key", err)
	}
	return KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// PublicKey returns the x-only public key for priv.
func PublicKey(priv string) (string, error) {
	clean, err := CleanPrivateKey(priv)
	if err != nil {
		return "", err
	}
	pub, err := crypto.DerivePublicKey(clean)
	if err != nil {
		return "", errs.Wrap(errs.Validation, "invalid private key", err)
	}
	return pub, nil
}
