package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Sign produces a BIP-340 signature over a 32-byte event id.
func Sign(id []byte, privHex string) (string, error) {
	priv, err := parsePrivateKey(privHex)
	if err != nil {
		return "", err
	}
	sig, err := schnorr.Sign(priv, id)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify reports whether sigHex is a valid signature of id by pubHex.
func Verify(id []byte, sigHex, pubHex string) bool {
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return false
	}
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(raw)
	if err != nil {
		return false
	}
	return sig.Verify(id, pub)
}
