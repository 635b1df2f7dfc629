package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

var ErrTokenUnseal = errors.New("failed to unseal token")

// TokenSealer encrypts OAuth credentials before they are persisted
type TokenSealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// SecretboxSealer seals with NaCl secretbox (XSalsa20-Poly1305)
type SecretboxSealer struct {
	key [32]byte
}

// NewTokenSealer builds a sealer from a 32-byte raw or 64-char hex key.
// An empty key yields a passthrough sealer for local development.
func NewTokenSealer(key string) (TokenSealer, error) {
	if key == "" {
		return passthroughSealer{}, nil
	}

	var raw []byte
	switch len(key) {
	case 64:
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid hex sealing key: %w", err)
		}
		raw = decoded
	case 32:
		raw = []byte(key)
	default:
		return nil, fmt.Errorf("sealing key must be 32 raw bytes or 64 hex characters, got %d", len(key))
	}

	s := &SecretboxSealer{}
	copy(s.key[:], raw)
	return s, nil
}

func (s *SecretboxSealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open reverses Seal; values without the sealed prefix are returned unchanged
func (s *SecretboxSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return sealed, nil
	}
	box, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil || len(box) < 24+secretbox.Overhead {
		return "", ErrTokenUnseal
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrTokenUnseal
	}
	return string(plain), nil
}

type passthroughSealer struct{}

func (passthroughSealer) Seal(plain string) (string, error) { return plain, nil }

func (passthroughSealer) Open(sealed string) (string, error) {
	if strings.HasPrefix(sealed, sealedPrefix) {
		return "", ErrTokenUnseal
	}
	return sealed, nil
}
