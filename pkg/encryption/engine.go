// Package encryption seals archived objects with AES-256-GCM under
// versioned keys so keys can rotate without re-encrypting old objects.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize          = 32 // AES-256
	NonceSize        = 12 // GCM standard nonce size
	TagSize          = 16 // GCM authentication tag size
	MinSaltSize      = 16
	PBKDF2Iterations = 600000 // OWASP recommended minimum
)

var (
	ErrInvalidKey           = errors.New("invalid encryption key")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
	ErrAuthenticationFailed = errors.New("authentication failed - data may be tampered")
)

// Engine provides AES-256-GCM encryption and decryption under one key.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine creates an engine for key.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Engine{aead: gcm}, nil
}

// DeriveKey stretches a passphrase into a key with PBKDF2-SHA256.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrInvalidKey
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", MinSaltSize)
	}
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New), nil
}

// GenerateKey generates a random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Encrypt returns nonce || ciphertext || tag. additional is authenticated
// but not encrypted.
func (e *Engine) Encrypt(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Decrypt reverses Encrypt. Any modification of the ciphertext or of
// additional yields ErrAuthenticationFailed.
func (e *Engine) Decrypt(ciphertext, additional []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], additional)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
