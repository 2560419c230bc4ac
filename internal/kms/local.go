package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort reports a ciphertext shorter than the GCM nonce.
var ErrCiphertextTooShort = errors.New("kms: ciphertext too short")

// LocalDecrypter is an AES-256-GCM decrypter for development deployments
// that have no KMS access. Ciphertext layout: nonce || sealed.
type LocalDecrypter struct {
	aead cipher.AEAD
}

// NewLocalDecrypter builds a decrypter from a base64-encoded 32-byte key.
func NewLocalDecrypter(encodedKey string) (*LocalDecrypter, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("kms: decode local key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("kms: local key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: init gcm: %w", err)
	}
	return &LocalDecrypter{aead: aead}, nil
}

// Decrypt implements Decrypter.
func (d *LocalDecrypter) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	ns := d.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := d.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("kms: local decrypt: %w", err)
	}
	return plaintext, nil
}

// Encrypt seals plaintext with a fresh nonce. Exists for the development
// workflow that registers credentials without AWS access, and for tests.
func (d *LocalDecrypter) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, d.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kms: generate nonce: %w", err)
	}
	return d.aead.Seal(nonce, nonce, plaintext, nil), nil
}
