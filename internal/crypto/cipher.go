// Package crypto encrypts secrets stored at rest, such as OAuth tokens.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Cipher seals values with AES-256-GCM using a key derived from a secret.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: gcm}, nil
}

// Encrypt returns nonce||ciphertext. An empty plaintext encrypts to nil.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *Cipher) Decrypt(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	n := c.aead.NonceSize()
	if len(payload) < n {
		return "", ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
