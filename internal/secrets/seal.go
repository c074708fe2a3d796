package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrBadKey        = errors.New("CREDENTIAL_KEY must be 32 bytes of hex")
	ErrBadCiphertext = errors.New("malformed sealed secret")
)

// Box seals and opens device credential secrets with a symmetric key.
type Box struct {
	key [32]byte
}

// NewBoxFromEnv reads the 64-hex-char CREDENTIAL_KEY environment variable.
func NewBoxFromEnv() (*Box, error) {
	raw := os.Getenv("CREDENTIAL_KEY")
	if raw == "" {
		return nil, fmt.Errorf("%w: variable not set", ErrBadKey)
	}
	return NewBox(raw)
}

func NewBox(hexKey string) (*Box, error) {
	decoded, err := hex.DecodeString(hexKey)
	if err != nil || len(decoded) != 32 {
		return nil, ErrBadKey
	}
	b := &Box{}
	copy(b.key[:], decoded)
	return b, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24 {
		return "", ErrBadCiphertext
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return "", ErrBadCiphertext
	}
	return string(plaintext), nil
}
