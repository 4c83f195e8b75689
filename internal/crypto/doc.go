// Package crypto implements the secp256k1 primitives used by direct
// messages: BIP-340 Schnorr signatures over event ids and NIP-04
// (ECDH + AES-256-CBC) content encryption.
//
// Keys are passed as lowercase hex. Public keys are x-only (32 bytes).
//
// # Argument order
//
// Encryption always takes (message, senderPrivateKey, recipientPublicKey)
// and decryption always takes (ciphertext, recipientPrivateKey,
// senderPublicKey). Both sides derive the same shared secret.
package crypto

// Secp256k1 adapts the package functions to the capability interfaces
// consumed by the event builder.
type Secp256k1 struct{}

func (Secp256k1) Encrypt(message, senderPriv, recipientPub string) (string, error) {
	return Encrypt(message, senderPriv, recipientPub)
}

func (Secp256k1) Decrypt(content, recipientPriv, senderPub string) (string, error) {
	return Decrypt(content, recipientPriv, senderPub)
}

func (Secp256k1) PublicKey(privHex string) (string, error) {
	return DerivePublicKey(privHex)
}

func (Secp256k1) Sign(id []byte, privHex string) (string, error) {
	return Sign(id, privHex)
}

func (Secp256k1) Verify(id []byte, sigHex, pubHex string) bool {
	return Verify(id, sigHex, pubHex)
}
