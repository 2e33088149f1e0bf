// Package secrets generates opaque credentials and protects client secrets
// at rest.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// GenerateToken returns an unguessable 256-bit credential encoded as
// base64url. Used for authorization codes, access tokens and refresh tokens.
func GenerateToken() (string, error) {
	return randomString(32)
}

// GenerateClientID returns a new opaque client identifier.
func GenerateClientID() (string, error) {
	s, err := randomString(16)
	if err != nil {
		return "", err
	}
	return "cl_" + s, nil
}

// GenerateClientSecret returns a new opaque client secret.
func GenerateClientSecret() (string, error) {
	s, err := randomString(32)
	if err != nil {
		return "", err
	}
	return "cs_" + s, nil
}

// HashToken produces the sha256-hex digest stored in place of plaintext
// credentials.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Encryptor seals client secrets with XChaCha20-Poly1305 so the owner view
// can still return them.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext and prepends the nonce.
func (e *Encryptor) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < e.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:e.aead.NonceSize()], ciphertext[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}
