package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrSecretCorrupted = errors.New("sealed secret is corrupted")

func secretKey() *[32]byte {
	raw := os.Getenv("CREDENTIALS_SECRET")
	if raw == "" {
		raw = string(getJwtSecret())
	}
	key := sha256.Sum256([]byte(raw))
	return &key
}

// SealSecret encrypts plain with secretbox and returns base64(nonce|box).
func SealSecret(plain string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, secretKey())
	return base64.StdEncoding.EncodeToString(out), nil
}

func OpenSecret(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSecretCorrupted
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", ErrSecretCorrupted
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, secretKey())
	if !ok {
		return "", ErrSecretCorrupted
	}
	return string(plain), nil
}
