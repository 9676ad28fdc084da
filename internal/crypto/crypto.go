package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidSeal is returned when a sealed value cannot be opened.
var ErrInvalidSeal = errors.New("sealed value is invalid")

// Sealer authenticates and encrypts short values, such as cookie contents,
// with AES-256-GCM. Each value is bound to a purpose string so a value sealed
// for one cookie cannot be replayed as another.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a hex-encoded 32-byte key.
// Returns nil if key is empty (sealing disabled).
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a new random hex-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext for purpose and returns URL-safe base64 with the
// nonce prepended. A nil Sealer returns plaintext unchanged.
func (s *Sealer) Seal(purpose, plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(purpose))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It returns ErrInvalidSeal for tampered values, values
// sealed under another key, or values sealed for a different purpose. A nil
// Sealer returns sealed unchanged.
func (s *Sealer) Open(purpose, sealed string) (string, error) {
	if s == nil {
		return sealed, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidSeal
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidSeal
	}

	nonce, box := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, box, []byte(purpose))
	if err != nil {
		return "", ErrInvalidSeal
	}

	return string(plaintext), nil
}
