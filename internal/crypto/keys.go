package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var ErrInvalidKey = errors.New("invalid secp256k1 key")

func parsePrivateKey(privHex string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(privHex)
	if err != nil || len(b) != 32 {
		return nil, ErrInvalidKey
	}

	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return nil, ErrInvalidKey
	}
	return btcec.PrivKeyFromScalar(&k), nil
}

// parsePublicKey reads a BIP-340 x-only public key.
func parsePublicKey(pubHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, ErrInvalidKey
	}
	pub, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// GeneratePrivateKey returns a fresh private key as lowercase hex.
func GeneratePrivateKey() (string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(priv.Serialize()), nil
}

// DerivePublicKey returns the x-only public key for privHex.
func DerivePublicKey(privHex string) (string, error) {
	priv, err := parsePrivateKey(privHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())), nil
}
