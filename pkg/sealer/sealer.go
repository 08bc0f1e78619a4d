// Package sealer encrypts secrets before they are written to storage.
package sealer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const prefix = "v1:"

var (
	// ErrNoKey is returned when a sealed value is read without a key.
	ErrNoKey = errors.New("sealer: sealed value but no key configured")
	// ErrCorrupt is returned when a sealed value cannot be opened.
	ErrCorrupt = errors.New("sealer: corrupt sealed value")
)

// Sealer seals strings with XChaCha20-Poly1305. A nil *Sealer passes values
// through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// New creates a sealer from a 32 byte key.
func New(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// FromHex creates a sealer from a hex encoded key. An empty key disables
// sealing and returns nil.
func FromHex(key string) (*Sealer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: decode key: %w", err)
	}
	return New(raw)
}

// Seal encrypts plain. Empty strings stay empty.
func (s *Sealer) Seal(plain string) (string, error) {
	if s == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sealer: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned as-is.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	if s == nil {
		return "", ErrNoKey
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", ErrCorrupt
	}
	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrCorrupt
	}
	return string(plain), nil
}
