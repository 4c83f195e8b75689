package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

const ivSeparator = "?iv="

var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// SharedSecret returns the x coordinate of privHex * pubHex.
func SharedSecret(privHex, pubHex string) ([]byte, error) {
	priv, err := parsePrivateKey(privHex)
	if err != nil {
		return nil, err
	}
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return nil, err
	}
	return btcec.GenerateSharedSecret(priv, pub), nil
}

// Encrypt seals message for recipientPub. The result has the form
// base64(ciphertext) + "?iv=" + base64(iv).
func Encrypt(message, senderPriv, recipientPub string) (string, error) {
	key, err := SharedSecret(senderPriv, recipientPub)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to create iv: %w", err)
	}

	padded := pkcs7Pad([]byte(message), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + ivSeparator + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt opens content produced by Encrypt. recipientPriv and senderPub
// derive the same key as the sender's pair.
func Decrypt(content, recipientPriv, senderPub string) (string, error) {
	ctB64, ivB64, ok := strings.Cut(content, ivSeparator)
	if !ok {
		return "", ErrMalformedCiphertext
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformedCiphertext
	}

	key, err := SharedSecret(recipientPriv, senderPub)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrMalformedCiphertext
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrMalformedCiphertext
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrMalformedCiphertext
		}
	}
	return data[:len(data)-n], nil
}
