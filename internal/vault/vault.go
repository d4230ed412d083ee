// Package vault seals provider secrets at rest with XChaCha20-Poly1305.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidKey indicates the vault key is not chacha20poly1305.KeySize bytes.
	ErrInvalidKey = errors.New("vault: invalid key")
	// ErrEmptySecret indicates an empty plaintext.
	ErrEmptySecret = errors.New("vault: empty secret")
	// ErrDecryption hides the cause of a failed open.
	ErrDecryption = errors.New("vault: unable to open sealed secret")
)

// Vault seals and opens secrets with a single symmetric key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Vault{aead: aead}, nil
}

// DecodeKey parses a base64 (standard or raw URL) encoded key.
func DecodeKey(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		key, err := encoding.DecodeString(trimmed)
		if err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: expected base64 encoding of %d bytes", ErrInvalidKey, chacha20poly1305.KeySize)
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (vault *Vault) Seal(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", ErrEmptySecret
	}
	nonce := make([]byte, vault.aead.NonceSize(), vault.aead.NonceSize()+len(plaintext)+vault.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := vault.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Every failure is reported as ErrDecryption.
func (vault *Vault) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrDecryption
	}
	nonceSize := vault.aead.NonceSize()
	if len(raw) < nonceSize+vault.aead.Overhead() {
		return "", ErrDecryption
	}
	plaintext, err := vault.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
