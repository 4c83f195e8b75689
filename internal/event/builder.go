package event

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"nostr_magiclink/internal/crypto"
	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/identity"
)

const (
	DefaultMaxFuture = 60 * time.Second
	DefaultMaxAge    = 365 * 24 * time.Hour

	// emptyPlaintext stands in for "" so that an empty message still
	// produces ciphertext.
	emptyPlaintext = " "
)

// Cipher encrypts direct message content.
type Cipher interface {
	Encrypt(message, senderPriv, recipientPub string) (string, error)
	Decrypt(content, recipientPriv, senderPub string) (string, error)
}

// Signer derives public keys and signs or verifies event ids.
type Signer interface {
	PublicKey(privHex string) (string, error)
	Sign(id []byte, privHex string) (string, error)
	Verify(id []byte, sigHex, pubHex string) bool
}

// Config configures a Builder. A zero value is a valid configuration.
type Config struct {
	Cipher Cipher
	Signer Signer

	// Now defaults to time.Now.
	Now func() time.Time

	// MaxFuture is how far ahead of now a created_at may be.
	// Defaults to DefaultMaxFuture.
	MaxFuture time.Duration

	// MaxAge is how far behind now a created_at may be.
	// Defaults to DefaultMaxAge.
	MaxAge time.Duration

	// DisableNonce leaves content untouched instead of appending ":<nonce>".
	DisableNonce bool
}

type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	if cfg.Cipher == nil {
		cfg.Cipher = crypto.Secp256k1{}
	}
	if cfg.Signer == nil {
		cfg.Signer = crypto.Secp256k1{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxFuture <= 0 {
		cfg.MaxFuture = DefaultMaxFuture
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &Builder{cfg: cfg}
}

// EncryptFor encrypts plaintext from senderPriv to recipientPub.
func (b *Builder) EncryptFor(plaintext, senderPriv, recipientPub string) (string, error) {
	if plaintext == "" {
		plaintext = emptyPlaintext
	}
	ciphertext, err := b.cfg.Cipher.Encrypt(plaintext, senderPriv, recipientPub)
	if err != nil {
		return "", errs.Wrap(errs.EncryptionFailed, "message encryption failed", err)
	}
	return ciphertext, nil
}

// DecryptFrom reverses EncryptFor on the recipient's side.
func (b *Builder) DecryptFrom(ciphertext, recipientPriv, senderPub string) (string, error) {
	plaintext, err := b.cfg.Cipher.Decrypt(stripNonce(ciphertext), recipientPriv, senderPub)
	if err != nil {
		return "", errs.Wrap(errs.DecryptionFailed, "message decryption failed", err)
	}
	if plaintext == emptyPlaintext {
		return "", nil
	}
	return plaintext, nil
}

// BuildSignedEvent stamps, hashes and signs a new event authored by
// senderPriv.
func (b *Builder) BuildSignedEvent(content string, kind int, senderPriv string, tags Tags) (SignedEvent, error) {
	return b.build(content, kind, senderPriv, tags, !b.cfg.DisableNonce)
}

func (b *Builder) build(content string, kind int, senderPriv string, tags Tags, nonce bool) (SignedEvent, error) {
	pubkey, err := b.cfg.Signer.PublicKey(senderPriv)
	if err != nil {
		return SignedEvent{}, errs.Wrap(errs.EventCreation, "failed to derive public key", err)
	}

	if nonce {
		suffix, err := newNonce()
		if err != nil {
			return SignedEvent{}, errs.Wrap(errs.EventCreation, "failed to create nonce", err)
		}
		content = content + ":" + suffix
	}

	if tags == nil {
		tags = Tags{}
	}
	ev := Event{
		PubKey:    pubkey,
		CreatedAt: b.cfg.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}

	id := ComputeID(ev)
	idBytes, _ := hex.DecodeString(id)
	sig, err := b.cfg.Signer.Sign(idBytes, senderPriv)
	if err != nil {
		return SignedEvent{}, errs.Wrap(errs.EventCreation, "failed to sign event", err)
	}

	return SignedEvent{Event: ev, ID: id, Sig: sig}, nil
}

// DirectMessage encrypts plaintext for recipientPub and wraps it in a
// signed kind 4 event tagged with the recipient. The content is the bare
// ciphertext; its random IV already makes every event unique.
func (b *Builder) DirectMessage(plaintext, senderPriv, recipientPub string) (SignedEvent, error) {
	ciphertext, err := b.EncryptFor(plaintext, senderPriv, recipientPub)
	if err != nil {
		return SignedEvent{}, err
	}
	return b.build(ciphertext, KindDirectMessage, senderPriv, Tags{{"p", recipientPub}}, false)
}

// Verify reports whether ev is well formed, its id matches the recomputed
// hash, its signature verifies and created_at is within the configured
// window. It never panics on untrusted input.
func (b *Builder) Verify(ev SignedEvent) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if !ValidateStructure(ev) {
		return false
	}
	if ComputeID(ev.Event) != ev.ID {
		return false
	}
	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil {
		return false
	}
	if !b.cfg.Signer.Verify(idBytes, ev.Sig, ev.PubKey) {
		return false
	}

	now := b.cfg.Now()
	created := time.Unix(ev.CreatedAt, 0)
	if created.After(now.Add(b.cfg.MaxFuture)) {
		return false
	}
	if created.Before(now.Add(-b.cfg.MaxAge)) {
		return false
	}
	return true
}

// ValidateStructure checks field shapes without touching cryptography.
func ValidateStructure(ev SignedEvent) bool {
	if !isLowerHex(ev.PubKey, identity.KeyLength) || !isLowerHex(ev.ID, 64) || !isLowerHex(ev.Sig, 128) {
		return false
	}
	if ev.Kind < 0 || ev.Kind > 65535 || ev.CreatedAt <= 0 {
		return false
	}
	for _, t := range ev.Tags {
		if len(t) == 0 {
			return false
		}
	}
	return true
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func newNonce() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// stripNonce removes a ":<nonce>" suffix appended after the iv of NIP-04
// content. Base64 never contains ':'.
func stripNonce(content string) string {
	if i := strings.LastIndexByte(content, ':'); i >= 0 {
		return content[:i]
	}
	return content
}
